package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment and shipment statuses shared with the payment workflow.
const (
	PaymentStatusPaid        = "paid"
	ShipmentAwaitingShipment = "awaiting_shipment"
)

type Order struct {
	ID          int64           `db:"id" json:"id"`
	UserID      int64           `db:"user_id" json:"user_id"`
	SellerID    int64           `db:"seller_id" json:"seller_id"`
	TotalAmount decimal.Decimal `db:"total_amount" json:"total_amount"`
	Status      string          `db:"status" json:"status"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

type ShippingHistory struct {
	ID             int64     `db:"id" json:"id"`
	OrderID        int64     `db:"order_id" json:"order_id"`
	Status         string    `db:"status" json:"status"`
	ShippingSource string    `db:"shipping_source" json:"shipping_source"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
