package wire

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketpay/internal/ledger"
	"marketpay/internal/logger"
	"marketpay/internal/metrics"
	"marketpay/internal/processor"
	"marketpay/internal/user"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrNotPosted           = errors.New("only posted transactions can be assigned to users")
	ErrAlreadyAssigned     = errors.New("transaction is already assigned")
	ErrTopUpFailed         = errors.New("transferring funds to processor account failed")
	ErrNoAccountsConnected = errors.New("no accounts connected via financial connections")
	ErrBankAccountExists   = ledger.ErrBankAccountExists
)

var minorUnitsPerMajor = decimal.NewFromInt(100)

// Gateway is the processor surface the wire services depend on.
type Gateway interface {
	ListTransactions(ctx context.Context, accountID, after string) (*processor.TransactionList, error)
	RefreshAccount(ctx context.Context, accountID string) error
	CreateTopUp(ctx context.Context, params processor.TopUpParams) (*processor.TopUp, error)
	CreateFinancialConnectionsSession(ctx context.Context, customerID string) (*processor.Session, error)
	RetrieveFinancialConnectionsSession(ctx context.Context, sessionID string) (*processor.Session, error)
	CreateSource(ctx context.Context, ownerEmail string) (*processor.Source, error)
	RetrieveSource(ctx context.Context, sourceID string) (*processor.Source, error)
	AttachSource(ctx context.Context, customerID, sourceID string) error
}

// BankAccountSession is the financial-connections handshake handed to the
// admin frontend.
type BankAccountSession struct {
	ClientSecret string `json:"client_secret"`
	SessionID    string `json:"session_id"`
}

type Service interface {
	RefreshTransactions(ctx context.Context) error
	SyncTransactions(ctx context.Context, refreshID string) error
	ListTransactions(ctx context.Context, params ledger.TransactionListParams) ([]ledger.Transaction, int, error)

	AssignTransaction(ctx context.Context, userID, transactionID int64) error
	CompleteTopUp(ctx context.Context, userID, transactionID int64) error
	FailTopUp(ctx context.Context, transactionID int64, reason string) error
	CreditBalance(ctx context.Context, userID int64) (decimal.Decimal, error)

	BankAccounts(ctx context.Context) ([]ledger.BankAccount, error)
	BankAccountSession(ctx context.Context) (*BankAccountSession, error)
	CreateBankAccount(ctx context.Context, sessionID, bankName, last4 string) error
	UsersForAssignment(ctx context.Context, params user.ListParams) ([]user.User, int, error)
	EnsureACHSource(ctx context.Context, userID int64) (*processor.Source, error)
}

type service struct {
	ledger         ledger.Repository
	users          user.Repository
	gateway        Gateway
	systemCustomer string
	testEmail      string

	// The bank account is a singleton and its cursor is read-then-written,
	// so sync invocations must not interleave.
	syncMu sync.Mutex
}

func NewService(ledgerRepo ledger.Repository, users user.Repository, gateway Gateway, systemCustomer, testEmail string) Service {
	return &service{
		ledger:         ledgerRepo,
		users:          users,
		gateway:        gateway,
		systemCustomer: systemCustomer,
		testEmail:      testEmail,
	}
}

// RefreshTransactions asks the processor to re-poll its upstream bank feed.
// Fire-and-forget: failures are logged and the next scheduled run retries.
func (s *service) RefreshTransactions(ctx context.Context) error {
	account, err := s.ledger.BankAccount(ctx)
	if err != nil {
		if errors.Is(err, ledger.ErrNoBankAccount) {
			logger.Warn("You have no connected account")
			return nil
		}
		return err
	}

	if err := s.gateway.RefreshAccount(ctx, account.ExternalAccountID); err != nil {
		logger.WithError(err).Error("Transaction refresh request failed")
	}
	return nil
}

// SyncTransactions merges one remote batch into the local ledger. refreshID
// is the continuation token the cursor advances to once the fetch succeeds.
func (s *service) SyncTransactions(ctx context.Context, refreshID string) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	account, err := s.ledger.BankAccount(ctx)
	if err != nil {
		if errors.Is(err, ledger.ErrNoBankAccount) {
			logger.Warn("You have no connected account")
			return nil
		}
		return err
	}

	after := ""
	if account.TransactionRefresh.Valid {
		after = account.TransactionRefresh.String
	}

	list, err := s.gateway.ListTransactions(ctx, account.ExternalAccountID, after)
	if err != nil {
		// Background sync self-heals on the next invocation.
		logger.WithError(err).Error("Failed to fetch transactions from processor")
		return nil
	}

	// The cursor advances whenever the fetch itself succeeded, even if the
	// batch is empty or a later write fails.
	if refreshID != "" {
		if err := s.ledger.SetTransactionRefresh(ctx, account.ID, refreshID); err != nil {
			return err
		}
	}

	logger.Debug("Fetched remote transactions", "count", len(list.Data), "after", after)

	good := make([]processor.RemoteTransaction, 0, len(list.Data))
	for _, remote := range list.Data {
		if remote.Amount <= 0 || remote.Status == processor.StatusVoid {
			metrics.RecordSyncedTransaction("discarded")
			continue
		}
		good = append(good, remote)
	}
	if len(good) == 0 {
		return nil
	}

	pending, err := s.ledger.PendingTransactions(ctx, account.ID)
	if err != nil {
		return err
	}

	updates := map[int64]ledger.TransactionStatus{}
	inserts := []ledger.NewTransaction{}

	for _, remote := range good {
		if remote.Status != processor.StatusPending {
			if candidate := matchPending(pending, remote.ID); candidate != nil {
				updates[candidate.ID] = ledger.TransactionStatus(remote.Status)
				continue
			}
		}
		// A repeated pending sighting is a value, not a duplicate: resolved
		// statuses supersede a prior pending row only via explicit matching.
		inserts = append(inserts, newLedgerTransaction(account.ID, remote))
	}

	// Updates must land before inserts: a row inserted in this batch must not
	// be matched by an update meant for an older pending row. The two phases
	// are intentionally not wrapped in one transaction; a retried sync
	// converges because already-updated rows no longer match as pending.
	for id, status := range updates {
		if err := s.ledger.UpdateTransactionStatus(ctx, id, status); err != nil {
			logger.WithError(err).Error("Transaction updating is failed")
			return err
		}
		metrics.RecordSyncedTransaction("updated")
	}
	if len(updates) > 0 {
		logger.Info("Existing transactions are updated", "count", len(updates))
	}

	if err := s.ledger.InsertTransactions(ctx, inserts); err != nil {
		logger.WithError(err).Error("Transaction inserting is failed")
		return err
	}
	for range inserts {
		metrics.RecordSyncedTransaction("inserted")
	}
	logger.Info("Transactions are parsed", "updated", len(updates), "inserted", len(inserts))

	return nil
}

func unixTime(ts int64) time.Time {
	return time.Unix(ts, 0).UTC()
}

func matchPending(pending []ledger.Transaction, externalID string) *ledger.Transaction {
	for i := range pending {
		if pending[i].ExternalID == externalID {
			return &pending[i]
		}
	}
	return nil
}

func newLedgerTransaction(bankAccountID int64, remote processor.RemoteTransaction) ledger.NewTransaction {
	return ledger.NewTransaction{
		BankAccountID: bankAccountID,
		Amount:        decimal.NewFromInt(remote.Amount).Div(minorUnitsPerMajor),
		Currency:      remote.Currency,
		Description:   remote.Description,
		Status:        ledger.TransactionStatus(remote.Status),
		ExternalID:    remote.ID,
		ExternalTime:  unixTime(remote.TransactedAt),
	}
}

func (s *service) ListTransactions(ctx context.Context, params ledger.TransactionListParams) ([]ledger.Transaction, int, error) {
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.PerPage <= 0 {
		params.PerPage = 25
	}
	return s.ledger.ListTransactions(ctx, params)
}

// AssignTransaction converts a posted bank transaction into a pending credit
// for the user via a processor top-up. The actual ledger credit lands when
// the top-up succeeded webhook arrives (CompleteTopUp).
func (s *service) AssignTransaction(ctx context.Context, userID, transactionID int64) error {
	exists, err := s.users.Exists(ctx, userID)
	if err != nil {
		return err
	}
	if !exists {
		return user.ErrUserNotFound
	}

	transaction, err := s.ledger.FindTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return ErrTransactionNotFound
		}
		return err
	}

	if transaction.Status != ledger.StatusPosted {
		metrics.RecordAssignment("invalid_state")
		return ErrNotPosted
	}

	existing, err := s.ledger.FindUserTransaction(ctx, userID, transactionID)
	if err != nil {
		return err
	}
	if existing != nil {
		metrics.RecordAssignment("already_assigned")
		return ErrAlreadyAssigned
	}

	// Claim the row before calling out. The conditional update arbitrates
	// concurrent assignment attempts; the loser sees the row already claimed.
	claimed, err := s.ledger.ClaimTransaction(ctx, transactionID, ledger.StatusPosted, ledger.StatusProcessing)
	if err != nil {
		return err
	}
	if !claimed {
		metrics.RecordAssignment("invalid_state")
		return ErrNotPosted
	}

	topUp, err := s.gateway.CreateTopUp(ctx, processor.TopUpParams{
		Amount:      transaction.Amount.Mul(minorUnitsPerMajor).IntPart(),
		Currency:    "usd",
		Description: fmt.Sprintf("Top-up with funds collected from incoming transaction: %d", transactionID),
		Metadata: map[string]string{
			"transactionId": strconv.FormatInt(transaction.ID, 10),
			"userId":        strconv.FormatInt(userID, 10),
			"currency":      transaction.Currency,
		},
	})
	if err != nil {
		s.releaseClaim(ctx, transactionID)
		metrics.RecordAssignment("gateway_error")
		return err
	}

	if topUp.Status != processor.TopUpPending {
		logger.Error("Top-up rejected by processor", "failure_message", topUp.FailureMessage)
		s.releaseClaim(ctx, transactionID)
		metrics.RecordTopUp("failed")
		metrics.RecordAssignment("topup_failed")
		return ErrTopUpFailed
	}

	metrics.RecordTopUp("pending")
	metrics.RecordAssignment("pending")
	return nil
}

// releaseClaim reverts an unsuccessful assignment so the admin can retry.
func (s *service) releaseClaim(ctx context.Context, transactionID int64) {
	if _, err := s.ledger.ClaimTransaction(ctx, transactionID, ledger.StatusProcessing, ledger.StatusPosted); err != nil {
		logger.WithError(err).Error("Failed to release claimed transaction", "transaction_id", transactionID)
	}
}

// CompleteTopUp credits the user ledger once the processor confirms a top-up.
// The unique constraint on the source transaction makes redelivery harmless.
func (s *service) CompleteTopUp(ctx context.Context, userID, transactionID int64) error {
	transaction, err := s.ledger.FindTransaction(ctx, transactionID)
	if err != nil {
		return err
	}

	txID := transaction.ID
	_, err = s.ledger.CreateUserTransaction(ctx, ledger.CreateUserTransactionParams{
		UserID:        userID,
		TransactionID: &txID,
		Amount:        transaction.Amount,
		Currency:      transaction.Currency,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateUserTransaction) {
			logger.Warn("Top-up already credited", "transaction_id", transactionID, "user_id", userID)
			return nil
		}
		return err
	}

	if err := s.ledger.UpdateTransactionStatus(ctx, transactionID, ledger.StatusAssigned); err != nil {
		return err
	}

	metrics.RecordTopUp("succeeded")
	metrics.RecordAssignment("credited")
	logger.Info("Transaction assigned", "transaction_id", transactionID, "user_id", userID)
	return nil
}

// FailTopUp returns a claimed transaction to posted after the processor
// reports an asynchronous top-up failure.
func (s *service) FailTopUp(ctx context.Context, transactionID int64, reason string) error {
	logger.Error("Top-up failed", "transaction_id", transactionID, "reason", reason)
	metrics.RecordTopUp("failed")
	s.releaseClaim(ctx, transactionID)
	return nil
}

// CreditBalance returns the balance recorded on the user's latest ledger
// entry, or zero when no entries exist. The stored running balance is
// authoritative; it is never recomputed here.
func (s *service) CreditBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	last, err := s.ledger.LastUserTransaction(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	if last == nil {
		return decimal.Zero, nil
	}
	return last.Balance, nil
}

func (s *service) BankAccounts(ctx context.Context) ([]ledger.BankAccount, error) {
	return s.ledger.BankAccounts(ctx)
}

func (s *service) BankAccountSession(ctx context.Context) (*BankAccountSession, error) {
	session, err := s.gateway.CreateFinancialConnectionsSession(ctx, s.systemCustomer)
	if err != nil {
		return nil, err
	}
	return &BankAccountSession{
		ClientSecret: session.ClientSecret,
		SessionID:    session.ID,
	}, nil
}

func (s *service) CreateBankAccount(ctx context.Context, sessionID, bankName, last4 string) error {
	accounts, err := s.ledger.BankAccounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) > 0 {
		return ErrBankAccountExists
	}

	session, err := s.gateway.RetrieveFinancialConnectionsSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(session.Accounts.Data) == 0 {
		return ErrNoAccountsConnected
	}

	_, err = s.ledger.CreateBankAccount(ctx, bankName, last4, session.Accounts.Data[0].ID)
	return err
}

func (s *service) UsersForAssignment(ctx context.Context, params user.ListParams) ([]user.User, int, error) {
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.PerPage <= 0 {
		params.PerPage = 25
	}
	return s.users.ListForAssignment(ctx, params)
}

// EnsureACHSource returns the user's ACH credit-transfer source, provisioning
// and attaching one on first use.
func (s *service) EnsureACHSource(ctx context.Context, userID int64) (*processor.Source, error) {
	profile, err := s.users.ProcessorProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if profile.SourceID.Valid && profile.SourceID.String != "" {
		return s.gateway.RetrieveSource(ctx, profile.SourceID.String)
	}

	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	email := u.Email
	if s.testEmail != "" {
		email = s.testEmail
	}

	source, err := s.gateway.CreateSource(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := s.gateway.AttachSource(ctx, profile.AccountID, source.ID); err != nil {
		return nil, err
	}
	if err := s.users.SaveSourceID(ctx, userID, source.ID); err != nil {
		return nil, err
	}

	return source, nil
}
