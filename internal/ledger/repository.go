package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrNoBankAccount            = errors.New("no connected bank account")
	ErrBankAccountExists        = errors.New("bank account already exists")
	ErrTransactionNotFound      = errors.New("transaction not found")
	ErrDuplicateUserTransaction = errors.New("transaction already assigned")
)

const pqUniqueViolation = "23505"

type repository struct {
	db *sqlx.DB
}

func NewRepository(database *sqlx.DB) Repository {
	return &repository{db: database}
}

func (r *repository) BankAccount(ctx context.Context) (*BankAccount, error) {
	var account BankAccount
	err := r.db.GetContext(ctx, &account, `
		SELECT id, bank_name, last4, external_account_id, transaction_refresh, created_at, updated_at
		FROM bank_accounts
		ORDER BY id
		LIMIT 1
	`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoBankAccount
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) BankAccounts(ctx context.Context) ([]BankAccount, error) {
	accounts := []BankAccount{}
	err := r.db.SelectContext(ctx, &accounts, `
		SELECT id, bank_name, last4, external_account_id, transaction_refresh, created_at, updated_at
		FROM bank_accounts
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *repository) CreateBankAccount(ctx context.Context, bankName, last4, externalAccountID string) (*BankAccount, error) {
	var account BankAccount
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO bank_accounts (bank_name, last4, external_account_id)
		VALUES ($1, $2, $3)
		RETURNING id, bank_name, last4, external_account_id, transaction_refresh, created_at, updated_at
	`, bankName, last4, externalAccountID).StructScan(&account)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return nil, ErrBankAccountExists
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) SetTransactionRefresh(ctx context.Context, bankAccountID int64, cursor string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bank_accounts
		SET transaction_refresh = $1, updated_at = NOW()
		WHERE id = $2
	`, cursor, bankAccountID)
	return err
}

func (r *repository) PendingTransactions(ctx context.Context, bankAccountID int64) ([]Transaction, error) {
	txs := []Transaction{}
	err := r.db.SelectContext(ctx, &txs, `
		SELECT id, bank_account_id, amount, currency, description, status, external_id, external_time, created_at, updated_at
		FROM transactions
		WHERE bank_account_id = $1 AND status = $2
	`, bankAccountID, StatusPending)
	if err != nil {
		return nil, err
	}
	return txs, nil
}

func (r *repository) UpdateTransactionStatus(ctx context.Context, id int64, status TransactionStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, updated_at = NOW()
		WHERE id = $2
	`, status, id)
	return err
}

func (r *repository) InsertTransactions(ctx context.Context, txs []NewTransaction) error {
	if len(txs) == 0 {
		return nil
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO transactions (bank_account_id, amount, currency, description, status, external_id, external_time)
		VALUES (:bank_account_id, :amount, :currency, :description, :status, :external_id, :external_time)
	`, txs)
	return err
}

func (r *repository) FindTransaction(ctx context.Context, id int64) (*Transaction, error) {
	var tx Transaction
	err := r.db.GetContext(ctx, &tx, `
		SELECT id, bank_account_id, amount, currency, description, status, external_id, external_time, created_at, updated_at
		FROM transactions
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

var transactionOrderColumns = map[string]string{
	"amount":          "t.amount",
	"currency":        "t.currency",
	"status":          "t.status",
	"description":     "t.description",
	"transactionTime": "t.external_time",
}

func (r *repository) ListTransactions(ctx context.Context, params TransactionListParams) ([]Transaction, int, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}
	argIndex := 1

	if params.Search != "" {
		conditions = append(conditions, fmt.Sprintf("t.description ILIKE $%d", argIndex))
		args = append(args, "%"+params.Search+"%")
		argIndex++
	}

	switch params.Status {
	case "assigned":
		conditions = append(conditions, "EXISTS (SELECT 1 FROM user_transactions ut WHERE ut.transaction_id = t.id)")
	case "unassigned":
		conditions = append(conditions, "NOT EXISTS (SELECT 1 FROM user_transactions ut WHERE ut.transaction_id = t.id)")
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM transactions t WHERE " + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	orderColumn := "t.external_time"
	if col, ok := transactionOrderColumns[params.OrderBy]; ok {
		orderColumn = col
	}
	direction := "DESC"
	if strings.EqualFold(params.OrderType, "asc") {
		direction = "ASC"
	}

	query := fmt.Sprintf(`
		SELECT t.id, t.bank_account_id, t.amount, t.currency, t.description, t.status, t.external_id, t.external_time, t.created_at, t.updated_at
		FROM transactions t
		WHERE %s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d
	`, where, orderColumn, direction, argIndex, argIndex+1)
	args = append(args, params.PerPage, (params.Page-1)*params.PerPage)

	txs := []Transaction{}
	if err := r.db.SelectContext(ctx, &txs, query, args...); err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

// ClaimTransaction transitions a row from one status to another only if it is
// still in the expected status. The affected-row count is the arbiter when two
// callers race for the same transaction.
func (r *repository) ClaimTransaction(ctx context.Context, id int64, from, to TransactionStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *repository) FindUserTransaction(ctx context.Context, userID, transactionID int64) (*UserTransaction, error) {
	var ut UserTransaction
	err := r.db.GetContext(ctx, &ut, `
		SELECT id, user_id, transaction_id, payment_history_id, amount, balance, currency, created_at
		FROM user_transactions
		WHERE user_id = $1 AND transaction_id = $2
	`, userID, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ut, nil
}

func (r *repository) LastUserTransaction(ctx context.Context, userID int64) (*UserTransaction, error) {
	var ut UserTransaction
	err := r.db.GetContext(ctx, &ut, `
		SELECT id, user_id, transaction_id, payment_history_id, amount, balance, currency, created_at
		FROM user_transactions
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ut, nil
}

// CreateUserTransaction appends a ledger entry with a running balance. The
// previous entry is locked for the duration so concurrent appends for one user
// serialize; the unique index on transaction_id rejects double assignment.
func (r *repository) CreateUserTransaction(ctx context.Context, params CreateUserTransactionParams) (*UserTransaction, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var last UserTransaction
	balance := params.Amount
	err = tx.QueryRowxContext(ctx, `
		SELECT id, user_id, transaction_id, payment_history_id, amount, balance, currency, created_at
		FROM user_transactions
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT 1
		FOR UPDATE
	`, params.UserID).StructScan(&last)
	if err == nil {
		balance = last.Balance.Add(params.Amount)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var ut UserTransaction
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO user_transactions (user_id, transaction_id, payment_history_id, amount, balance, currency)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, user_id, transaction_id, payment_history_id, amount, balance, currency, created_at
	`, params.UserID, params.TransactionID, params.PaymentHistoryID, params.Amount, balance, params.Currency).StructScan(&ut)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return nil, ErrDuplicateUserTransaction
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &ut, nil
}

func (r *repository) CreatePaymentHistory(ctx context.Context, ph NewPaymentHistory, orderIDs []int64) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO payment_history (status, response, payment_source, method, fee)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, ph.Status, []byte(ph.Response), ph.PaymentSource, ph.Method, ph.Fee).Scan(&id)
	if err != nil {
		return 0, err
	}

	for _, orderID := range orderIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_payment_history (order_id, payment_history_id)
			VALUES ($1, $2)
		`, orderID, id)
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// InsertProcessorEvent records a webhook event id. It returns false when the
// event was already seen, making redelivered webhooks detectable before any
// side effect runs.
func (r *repository) InsertProcessorEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO processor_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
