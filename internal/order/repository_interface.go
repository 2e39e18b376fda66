package order

import "context"

type Repository interface {
	// FindOrdersAnyStatus resolves orders by id regardless of their current
	// payment status.
	FindOrdersAnyStatus(ctx context.Context, ids []int64) ([]Order, error)
	CreateShippingHistory(ctx context.Context, orderID int64, status, source string) error
}
