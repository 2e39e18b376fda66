package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"marketpay/internal/api"
	"marketpay/internal/ledger"
	"marketpay/internal/logger"
	"marketpay/internal/metrics"
	"marketpay/internal/wire"
)

// Processor webhook event types handled by this service.
const (
	EventPaymentSucceeded      = "payment_intent.succeeded"
	EventTopUpSucceeded        = "topup.succeeded"
	EventTopUpFailed           = "topup.failed"
	EventTransactionsRefreshed = "financial_connections.account.refreshed_transactions"
)

const signatureHeader = "Processor-Signature"

const maxWebhookBody = 1 << 20 // 1 MiB

type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type paymentObject struct {
	PaymentMethodTypes []string          `json:"payment_method_types"`
	Metadata           map[string]string `json:"metadata"`
}

type topUpObject struct {
	FailureMessage string            `json:"failure_message"`
	Metadata       map[string]string `json:"metadata"`
}

type Handler struct {
	payments      Service
	wire          wire.Service
	ledger        ledger.Repository
	webhookSecret string
}

func NewHandler(payments Service, wireService wire.Service, ledgerRepo ledger.Repository, webhookSecret string) *Handler {
	return &Handler{
		payments:      payments,
		wire:          wireService,
		ledger:        ledgerRepo,
		webhookSecret: webhookSecret,
	}
}

// @Summary      Processor webhook
// @Description  Receives payment, top-up and transaction-refresh events from the processor
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Success      200 {object} api.MessageResponse
// @Failure      400 {object} api.ErrorResponse
// @Failure      401 {object} api.ErrorResponse
// @Failure      500 {object} api.ErrorResponse
// @Router       /webhooks/processor [post]
func (h *Handler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Failed to read request body"})
		return
	}

	if h.webhookSecret != "" && !h.verifySignature(body, c.GetHeader(signatureHeader)) {
		metrics.RecordWebhookEvent("unknown", "bad_signature")
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "Invalid webhook signature"})
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil || event.ID == "" || event.Type == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Malformed event payload"})
		return
	}

	ctx := c.Request.Context()

	// First delivery wins. A redelivered event acknowledges without work so
	// the processor stops retrying.
	first, err := h.ledger.InsertProcessorEvent(ctx, event.ID, event.Type)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "Failed to record event"})
		return
	}
	if !first {
		metrics.RecordWebhookEvent(event.Type, "duplicate")
		c.JSON(http.StatusOK, api.MessageResponse{Message: "Event already processed"})
		return
	}

	switch event.Type {
	case EventPaymentSucceeded:
		err = h.handlePaymentSucceeded(c, event)
	case EventTopUpSucceeded:
		err = h.handleTopUpSucceeded(c, event)
	case EventTopUpFailed:
		err = h.handleTopUpFailed(c, event)
	case EventTransactionsRefreshed:
		err = h.wire.SyncTransactions(ctx, event.ID)
	default:
		metrics.RecordWebhookEvent(event.Type, "rejected")
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Unhandled event type: " + event.Type})
		return
	}

	if err != nil {
		metrics.RecordWebhookEvent(event.Type, "error")
		logger.WithError(err).Error("Webhook event processing failed", "event_id", event.ID, "event_type", event.Type)
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "Event processing failed"})
		return
	}

	metrics.RecordWebhookEvent(event.Type, "processed")
	c.JSON(http.StatusOK, api.MessageResponse{Message: "Event processed"})
}

func (h *Handler) handlePaymentSucceeded(c *gin.Context, event webhookEvent) error {
	var object paymentObject
	if err := json.Unmarshal(event.Data.Object, &object); err != nil {
		return err
	}

	orderIDs, err := parseOrderIDs(object.Metadata["orderIds"])
	if err != nil {
		return err
	}

	method := MethodCard
	if len(object.PaymentMethodTypes) > 0 {
		method = Method(object.PaymentMethodTypes[0])
	}

	_, err = h.payments.PaymentSucceeded(c.Request.Context(), orderIDs, event.Data.Object, method)
	if errors.Is(err, ErrOrdersNotFound) {
		// Orders from another environment sharing the processor account.
		logger.Warn("Payment event references unknown orders", "event_id", event.ID)
		return nil
	}
	return err
}

func (h *Handler) handleTopUpSucceeded(c *gin.Context, event webhookEvent) error {
	_, userID, transactionID, err := parseTopUpObject(event.Data.Object)
	if err != nil {
		return err
	}
	return h.wire.CompleteTopUp(c.Request.Context(), userID, transactionID)
}

func (h *Handler) handleTopUpFailed(c *gin.Context, event webhookEvent) error {
	object, _, transactionID, err := parseTopUpObject(event.Data.Object)
	if err != nil {
		return err
	}
	return h.wire.FailTopUp(c.Request.Context(), transactionID, object.FailureMessage)
}

func parseTopUpObject(raw json.RawMessage) (*topUpObject, int64, int64, error) {
	var object topUpObject
	if err := json.Unmarshal(raw, &object); err != nil {
		return nil, 0, 0, err
	}

	transactionID, err := strconv.ParseInt(object.Metadata["transactionId"], 10, 64)
	if err != nil {
		return nil, 0, 0, errors.New("top-up event is missing transactionId metadata")
	}
	userID, err := strconv.ParseInt(object.Metadata["userId"], 10, 64)
	if err != nil {
		return nil, 0, 0, errors.New("top-up event is missing userId metadata")
	}

	return &object, userID, transactionID, nil
}

func parseOrderIDs(csv string) ([]int64, error) {
	if strings.TrimSpace(csv) == "" {
		return nil, errors.New("payment event is missing orderIds metadata")
	}

	parts := strings.Split(csv, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, errors.New("payment event has malformed orderIds metadata")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (h *Handler) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
