package user

import (
	"database/sql"
	"time"
)

type User struct {
	ID           int64     `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	FullName     string    `db:"full_name" json:"full_name"`
	BusinessName string    `db:"business_name" json:"business_name"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	User        User   `json:"user"`
}

// ProcessorProfile links a user to their processor-side customer account and,
// once provisioned, their ACH source.
type ProcessorProfile struct {
	UserID    int64          `db:"user_id" json:"user_id"`
	AccountID string         `db:"account_id" json:"account_id"`
	SourceID  sql.NullString `db:"source_id" json:"source_id"`
}

// ListParams drives the users-for-assignment admin listing.
type ListParams struct {
	Search    string
	OrderBy   string
	OrderType string
	Page      int
	PerPage   int
}
