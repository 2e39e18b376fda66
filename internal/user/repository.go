package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"marketpay/internal/db"
)

var ErrUserNotFound = errors.New("user not found")

type repository struct {
	db *sqlx.DB
}

func NewRepository(database *sqlx.DB) Repository {
	return &repository{db: database}
}

func (r *repository) FindByID(ctx context.Context, id int64) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `
		SELECT id, email, full_name, business_name, role, created_at
		FROM users
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `
		SELECT id, email, password_hash, full_name, business_name, role, created_at
		FROM users
		WHERE email = $1
	`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *repository) Exists(ctx context.Context, id int64) (bool, error) {
	return db.Exists(ctx, r.db, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id)
}

var userOrderColumns = map[string]string{
	"businessName": "business_name",
	"email":        "email",
	"fullName":     "full_name",
}

func (r *repository) ListForAssignment(ctx context.Context, params ListParams) ([]User, int, error) {
	conditions := []string{"role = 'buyer'"}
	args := []interface{}{}
	argIndex := 1

	if params.Search != "" {
		conditions = append(conditions, fmt.Sprintf(
			"(email ILIKE $%d OR full_name ILIKE $%d OR business_name ILIKE $%d)",
			argIndex, argIndex, argIndex,
		))
		args = append(args, "%"+params.Search+"%")
		argIndex++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM users WHERE "+where, args...); err != nil {
		return nil, 0, err
	}

	orderColumn := "full_name"
	if col, ok := userOrderColumns[params.OrderBy]; ok {
		orderColumn = col
	}
	direction := "ASC"
	if strings.EqualFold(params.OrderType, "desc") {
		direction = "DESC"
	}

	query := fmt.Sprintf(`
		SELECT id, email, full_name, business_name, role, created_at
		FROM users
		WHERE %s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d
	`, where, orderColumn, direction, argIndex, argIndex+1)
	args = append(args, params.PerPage, (params.Page-1)*params.PerPage)

	users := []User{}
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *repository) ProcessorProfile(ctx context.Context, userID int64) (*ProcessorProfile, error) {
	var p ProcessorProfile
	err := r.db.GetContext(ctx, &p, `
		SELECT user_id, account_id, source_id
		FROM user_processor_profiles
		WHERE user_id = $1
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) SaveSourceID(ctx context.Context, userID int64, sourceID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE user_processor_profiles
		SET source_id = $1
		WHERE user_id = $2
	`, sourceID, userID)
	return err
}
