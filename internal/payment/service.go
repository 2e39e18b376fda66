package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"marketpay/internal/ledger"
	"marketpay/internal/logger"
	"marketpay/internal/metrics"
	"marketpay/internal/notification"
	"marketpay/internal/order"
)

var ErrOrdersNotFound = errors.New("some of orders were not found")

const paymentSource = "stripe"

// Notifier queues a notification for asynchronous delivery.
type Notifier interface {
	Enqueue(ctx context.Context, n notification.Notification) error
}

type Service interface {
	// PaymentSucceeded records one successful payment event covering the
	// given orders and fans out the per-order side effects. It returns the
	// created payment-history id.
	PaymentSucceeded(ctx context.Context, orderIDs []int64, payload json.RawMessage, method Method) (int64, error)
}

type service struct {
	orders         order.Repository
	ledger         ledger.Repository
	notifier       Notifier
	frontendDomain string
}

func NewService(orders order.Repository, ledgerRepo ledger.Repository, notifier Notifier, frontendDomain string) Service {
	return &service{
		orders:         orders,
		ledger:         ledgerRepo,
		notifier:       notifier,
		frontendDomain: frontendDomain,
	}
}

func (s *service) PaymentSucceeded(ctx context.Context, orderIDs []int64, payload json.RawMessage, method Method) (int64, error) {
	orders, err := s.orders.FindOrdersAnyStatus(ctx, orderIDs)
	if err != nil {
		return 0, err
	}
	if len(orders) < len(orderIDs) {
		return 0, ErrOrdersNotFound
	}

	totalAmount := decimal.Zero
	for _, o := range orders {
		totalAmount = totalAmount.Add(o.TotalAmount)
	}
	fee := Fee(totalAmount, method)

	historyID, err := s.ledger.CreatePaymentHistory(ctx, ledger.NewPaymentHistory{
		Status:        order.PaymentStatusPaid,
		Response:      payload,
		PaymentSource: paymentSource,
		Method:        string(method),
		Fee:           fee,
	}, orderIDs)
	if err != nil {
		return 0, err
	}

	// Side effects run concurrently per order. All of them are attempted as a
	// group; the first failure fails the whole invocation. Payment history is
	// already written at this point, so redelivery of the same event must be
	// caught upstream by the event dedup.
	g, gctx := errgroup.WithContext(ctx)
	for _, o := range orders {
		o := o
		g.Go(func() error {
			return s.orders.CreateShippingHistory(gctx, o.ID, order.ShipmentAwaitingShipment, "unknown")
		})
		g.Go(func() error {
			return s.sendPayOrderNotifications(gctx, o)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	metrics.RecordPayment(string(method))
	logger.Infof("Payment recorded: history %d covering %d orders", historyID, len(orders))
	return historyID, nil
}

func (s *service) sendPayOrderNotifications(ctx context.Context, o order.Order) error {
	amount := FormatAmount(o.TotalAmount)
	params := map[string]string{
		"orderId":       fmt.Sprintf("%d", o.ID),
		"paymentAmount": amount,
	}

	sellerParams := map[string]string{}
	for k, v := range params {
		sellerParams[k] = v
	}
	sellerParams["orderLink"] = fmt.Sprintf("%s/orders/%d", s.frontendDomain, o.ID)

	if err := s.notifier.Enqueue(ctx, notification.Notification{
		Alias:          notification.AliasOrderPaidSeller,
		UserID:         o.SellerID,
		Title:          "Payment confirmed",
		Message:        fmt.Sprintf("Payment of %s confirmed for order #%d", amount, o.ID),
		Status:         order.PaymentStatusPaid,
		TemplateParams: sellerParams,
		Group:          notification.GroupPaymentSeller,
	}); err != nil {
		return err
	}

	buyerParams := map[string]string{}
	for k, v := range params {
		buyerParams[k] = v
	}
	buyerParams["scheduleLink"] = fmt.Sprintf("%s/orders/%d/schedule-pickup", s.frontendDomain, o.ID)

	return s.notifier.Enqueue(ctx, notification.Notification{
		Alias:          notification.AliasOrderPaid,
		UserID:         o.UserID,
		Title:          "Payment confirmed",
		Message:        fmt.Sprintf("We have successfully processed your payment of %s for the order #%d.", amount, o.ID),
		Status:         order.PaymentStatusPaid,
		TemplateParams: buyerParams,
		Group:          notification.GroupPaymentBuyer,
	})
}
