package ledger

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusPosted     TransactionStatus = "posted"
	StatusProcessing TransactionStatus = "processing"
	StatusVoid       TransactionStatus = "void"
	StatusAssigned   TransactionStatus = "assigned"
)

// BankAccount is the system-level account connected to the processor.
// At most one row exists; the migration enforces it.
type BankAccount struct {
	ID                 int64          `db:"id" json:"id"`
	BankName           string         `db:"bank_name" json:"bank_name"`
	Last4              string         `db:"last4" json:"last4"`
	ExternalAccountID  string         `db:"external_account_id" json:"external_account_id"`
	TransactionRefresh sql.NullString `db:"transaction_refresh" json:"-"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// Transaction is a bank transaction mirrored from the processor feed.
// Amount is in major currency units; the feed delivers minor units and the
// reconciliation service divides by 100 before it reaches the store.
type Transaction struct {
	ID            int64             `db:"id" json:"id"`
	BankAccountID int64             `db:"bank_account_id" json:"bank_account_id"`
	Amount        decimal.Decimal   `db:"amount" json:"amount"`
	Currency      string            `db:"currency" json:"currency"`
	Description   string            `db:"description" json:"description"`
	Status        TransactionStatus `db:"status" json:"status"`
	ExternalID    string            `db:"external_id" json:"external_id"`
	ExternalTime  time.Time         `db:"external_time" json:"external_time"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
}

// NewTransaction is the insert shape used by reconciliation bulk inserts.
type NewTransaction struct {
	BankAccountID int64             `db:"bank_account_id"`
	Amount        decimal.Decimal   `db:"amount"`
	Currency      string            `db:"currency"`
	Description   string            `db:"description"`
	Status        TransactionStatus `db:"status"`
	ExternalID    string            `db:"external_id"`
	ExternalTime  time.Time         `db:"external_time"`
}

// UserTransaction is an append-only credit-ledger entry. Balance is the
// running total after this entry; the latest entry's balance is the user's
// current credit balance.
type UserTransaction struct {
	ID               int64           `db:"id" json:"id"`
	UserID           int64           `db:"user_id" json:"user_id"`
	TransactionID    *int64          `db:"transaction_id" json:"transaction_id,omitempty"`
	PaymentHistoryID *int64          `db:"payment_history_id" json:"payment_history_id,omitempty"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Balance          decimal.Decimal `db:"balance" json:"balance"`
	Currency         string          `db:"currency" json:"currency"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// PaymentHistory records one successful payment event, possibly covering
// several orders. Response keeps the raw processor payload for audit.
type PaymentHistory struct {
	ID            int64           `db:"id" json:"id"`
	Status        string          `db:"status" json:"status"`
	Response      json.RawMessage `db:"response" json:"response"`
	PaymentSource string          `db:"payment_source" json:"payment_source"`
	Method        string          `db:"method" json:"method"`
	Fee           decimal.Decimal `db:"fee" json:"fee"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// NewPaymentHistory is the insert shape for payment completion.
type NewPaymentHistory struct {
	Status        string
	Response      json.RawMessage
	PaymentSource string
	Method        string
	Fee           decimal.Decimal
}

// CreateUserTransactionParams describes one ledger credit or debit.
type CreateUserTransactionParams struct {
	UserID           int64
	TransactionID    *int64
	PaymentHistoryID *int64
	Amount           decimal.Decimal
	Currency         string
}

// TransactionListParams drives the admin transaction listing.
type TransactionListParams struct {
	Search    string
	OrderBy   string
	OrderType string
	Status    string // "assigned", "unassigned" or empty
	Page      int
	PerPage   int
}
