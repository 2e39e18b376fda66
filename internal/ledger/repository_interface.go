package ledger

import "context"

type Repository interface {
	BankAccount(ctx context.Context) (*BankAccount, error)
	BankAccounts(ctx context.Context) ([]BankAccount, error)
	CreateBankAccount(ctx context.Context, bankName, last4, externalAccountID string) (*BankAccount, error)
	SetTransactionRefresh(ctx context.Context, bankAccountID int64, cursor string) error

	PendingTransactions(ctx context.Context, bankAccountID int64) ([]Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id int64, status TransactionStatus) error
	InsertTransactions(ctx context.Context, txs []NewTransaction) error
	FindTransaction(ctx context.Context, id int64) (*Transaction, error)
	ListTransactions(ctx context.Context, params TransactionListParams) ([]Transaction, int, error)
	ClaimTransaction(ctx context.Context, id int64, from, to TransactionStatus) (bool, error)

	FindUserTransaction(ctx context.Context, userID, transactionID int64) (*UserTransaction, error)
	LastUserTransaction(ctx context.Context, userID int64) (*UserTransaction, error)
	CreateUserTransaction(ctx context.Context, params CreateUserTransactionParams) (*UserTransaction, error)

	CreatePaymentHistory(ctx context.Context, ph NewPaymentHistory, orderIDs []int64) (int64, error)

	InsertProcessorEvent(ctx context.Context, eventID, eventType string) (bool, error)
}
