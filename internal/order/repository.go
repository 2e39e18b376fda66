package order

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindOrdersAnyStatus(ctx context.Context, ids []int64) ([]Order, error) {
	orders := []Order{}
	err := r.db.SelectContext(ctx, &orders, `
		SELECT id, user_id, seller_id, total_amount, status, created_at
		FROM orders
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) CreateShippingHistory(ctx context.Context, orderID int64, status, source string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO shipping_history (order_id, status, shipping_source)
		VALUES ($1, $2, $3)
	`, orderID, status, source)
	return err
}
