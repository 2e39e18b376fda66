package wire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketpay/internal/ledger"
	"marketpay/internal/processor"
	"marketpay/internal/user"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) RefreshTransactions(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockService) SyncTransactions(ctx context.Context, refreshID string) error {
	args := m.Called(ctx, refreshID)
	return args.Error(0)
}

func (m *MockService) ListTransactions(ctx context.Context, params ledger.TransactionListParams) ([]ledger.Transaction, int, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]ledger.Transaction), args.Int(1), args.Error(2)
}

func (m *MockService) AssignTransaction(ctx context.Context, userID, transactionID int64) error {
	args := m.Called(ctx, userID, transactionID)
	return args.Error(0)
}

func (m *MockService) CompleteTopUp(ctx context.Context, userID, transactionID int64) error {
	args := m.Called(ctx, userID, transactionID)
	return args.Error(0)
}

func (m *MockService) FailTopUp(ctx context.Context, transactionID int64, reason string) error {
	args := m.Called(ctx, transactionID, reason)
	return args.Error(0)
}

func (m *MockService) CreditBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockService) BankAccounts(ctx context.Context) ([]ledger.BankAccount, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ledger.BankAccount), args.Error(1)
}

func (m *MockService) BankAccountSession(ctx context.Context) (*BankAccountSession, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*BankAccountSession), args.Error(1)
}

func (m *MockService) CreateBankAccount(ctx context.Context, sessionID, bankName, last4 string) error {
	args := m.Called(ctx, sessionID, bankName, last4)
	return args.Error(0)
}

func (m *MockService) UsersForAssignment(ctx context.Context, params user.ListParams) ([]user.User, int, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]user.User), args.Int(1), args.Error(2)
}

func (m *MockService) EnsureACHSource(ctx context.Context, userID int64) (*processor.Source, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.Source), args.Error(1)
}

func newAdminRouter(svc Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewHandler(svc)

	router := gin.New()
	admin := router.Group("/admin/wire")
	{
		admin.GET("/transactions", handler.ListTransactions)
		admin.POST("/transactions/refresh", handler.RefreshTransactions)
		admin.POST("/transactions/sync", handler.SyncTransactions)
		admin.POST("/transactions/:transactionID/assign", handler.AssignTransaction)
		admin.GET("/users", handler.ListUsers)
		admin.GET("/bank-accounts", handler.ListBankAccounts)
		admin.GET("/bank-accounts/session", handler.CreateBankAccountSession)
		admin.POST("/bank-accounts", handler.CreateBankAccount)
	}
	return router
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestListTransactionsHandler(t *testing.T) {
	svc := new(MockService)
	svc.On("ListTransactions", mock.Anything, ledger.TransactionListParams{
		Search:    "acme",
		Status:    "unassigned",
		OrderBy:   "amount",
		OrderType: "desc",
		Page:      2,
		PerPage:   10,
	}).Return([]ledger.Transaction{{ID: 7}}, 31, nil)

	w := doJSON(newAdminRouter(svc), "GET",
		"/admin/wire/transactions?search=acme&status=unassigned&order_by=amount&order_type=desc&page=2&per_page=10", "")

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Page    int `json:"page"`
		PerPage int `json:"per_page"`
		Total   int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Page)
	assert.Equal(t, 10, resp.PerPage)
	assert.Equal(t, 31, resp.Total)
	svc.AssertExpectations(t)
}

func TestListTransactionsHandler_DefaultsBadPaging(t *testing.T) {
	svc := new(MockService)
	svc.On("ListTransactions", mock.Anything, mock.MatchedBy(func(p ledger.TransactionListParams) bool {
		return p.Page == 1 && p.PerPage == 25
	})).Return([]ledger.Transaction{}, 0, nil)

	w := doJSON(newAdminRouter(svc), "GET", "/admin/wire/transactions?page=-3&per_page=abc", "")
	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestRefreshTransactionsHandler(t *testing.T) {
	svc := new(MockService)
	svc.On("RefreshTransactions", mock.Anything).Return(nil)

	w := doJSON(newAdminRouter(svc), "POST", "/admin/wire/transactions/refresh", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	svc.AssertExpectations(t)
}

func TestSyncTransactionsHandler(t *testing.T) {
	t.Run("Empty body uses stored cursor", func(t *testing.T) {
		svc := new(MockService)
		svc.On("SyncTransactions", mock.Anything, "").Return(nil)

		w := doJSON(newAdminRouter(svc), "POST", "/admin/wire/transactions/sync", "")
		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("Body supplies refresh id", func(t *testing.T) {
		svc := new(MockService)
		svc.On("SyncTransactions", mock.Anything, "rf_123").Return(nil)

		w := doJSON(newAdminRouter(svc), "POST", "/admin/wire/transactions/sync", `{"refresh_id":"rf_123"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})
}

func TestAssignTransactionHandler_StatusMapping(t *testing.T) {
	tests := []struct {
		name           string
		serviceErr     error
		expectedStatus int
	}{
		{"Success", nil, http.StatusOK},
		{"Unknown user", user.ErrUserNotFound, http.StatusNotFound},
		{"Unknown transaction", ErrTransactionNotFound, http.StatusNotFound},
		{"Not posted", ErrNotPosted, http.StatusConflict},
		{"Already assigned", ErrAlreadyAssigned, http.StatusConflict},
		{"Top-up rejected", ErrTopUpFailed, http.StatusBadGateway},
		{"Processor unreachable", &processor.TransportError{Err: fmt.Errorf("dial tcp: refused")}, http.StatusBadGateway},
		{"Unexpected failure", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			svc.On("AssignTransaction", mock.Anything, int64(100), int64(7)).Return(tt.serviceErr)

			w := doJSON(newAdminRouter(svc), "POST", "/admin/wire/transactions/7/assign", `{"user_id":100}`)
			assert.Equal(t, tt.expectedStatus, w.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestAssignTransactionHandler_BadInput(t *testing.T) {
	svc := new(MockService)
	router := newAdminRouter(svc)

	t.Run("Non-numeric transaction id", func(t *testing.T) {
		w := doJSON(router, "POST", "/admin/wire/transactions/abc/assign", `{"user_id":100}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Missing user id", func(t *testing.T) {
		w := doJSON(router, "POST", "/admin/wire/transactions/7/assign", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	svc.AssertNotCalled(t, "AssignTransaction")
}

func TestListUsersHandler(t *testing.T) {
	svc := new(MockService)
	svc.On("UsersForAssignment", mock.Anything, mock.MatchedBy(func(p user.ListParams) bool {
		return p.Search == "jordan" && p.Page == 1 && p.PerPage == 25
	})).Return([]user.User{{ID: 100}}, 1, nil)

	w := doJSON(newAdminRouter(svc), "GET", "/admin/wire/users?search=jordan", "")
	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestBankAccountHandlers(t *testing.T) {
	t.Run("List", func(t *testing.T) {
		svc := new(MockService)
		svc.On("BankAccounts", mock.Anything).Return([]ledger.BankAccount{{ID: 1, BankName: "Test Bank"}}, nil)

		w := doJSON(newAdminRouter(svc), "GET", "/admin/wire/bank-accounts", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Test Bank")
	})

	t.Run("Session", func(t *testing.T) {
		svc := new(MockService)
		svc.On("BankAccountSession", mock.Anything).Return(&BankAccountSession{ClientSecret: "fcsess_secret"}, nil)

		w := doJSON(newAdminRouter(svc), "GET", "/admin/wire/bank-accounts/session", "")
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Contains(t, w.Body.String(), "fcsess_secret")
	})

	t.Run("Create", func(t *testing.T) {
		svc := new(MockService)
		svc.On("CreateBankAccount", mock.Anything, "fcsess_1", "Test Bank", "4242").Return(nil)

		w := doJSON(newAdminRouter(svc), "POST", "/admin/wire/bank-accounts",
			`{"session_id":"fcsess_1","bank_name":"Test Bank","last4":"4242"}`)
		assert.Equal(t, http.StatusCreated, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("Create duplicate conflicts", func(t *testing.T) {
		svc := new(MockService)
		svc.On("CreateBankAccount", mock.Anything, "fcsess_1", "Test Bank", "4242").Return(ErrBankAccountExists)

		w := doJSON(newAdminRouter(svc), "POST", "/admin/wire/bank-accounts",
			`{"session_id":"fcsess_1","bank_name":"Test Bank","last4":"4242"}`)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Create with no linked accounts", func(t *testing.T) {
		svc := new(MockService)
		svc.On("CreateBankAccount", mock.Anything, "fcsess_1", "Test Bank", "4242").Return(ErrNoAccountsConnected)

		w := doJSON(newAdminRouter(svc), "POST", "/admin/wire/bank-accounts",
			`{"session_id":"fcsess_1","bank_name":"Test Bank","last4":"4242"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Create with short last4 rejected", func(t *testing.T) {
		svc := new(MockService)

		w := doJSON(newAdminRouter(svc), "POST", "/admin/wire/bank-accounts",
			`{"session_id":"fcsess_1","bank_name":"Test Bank","last4":"42"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		svc.AssertNotCalled(t, "CreateBankAccount")
	})
}

func TestGetBalanceHandler(t *testing.T) {
	svc := new(MockService)
	svc.On("CreditBalance", mock.Anything, int64(42)).Return(decimal.RequireFromString("117.50"), nil)

	gin.SetMode(gin.TestMode)
	handler := NewHandler(svc)
	router := gin.New()
	router.GET("/balance", func(c *gin.Context) {
		c.Set("user_id", 42)
		handler.GetBalance(c)
	})

	w := doJSON(router, "GET", "/balance", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "117.5")
	assert.Contains(t, w.Body.String(), "usd")
}

func TestGetACHSourceHandler(t *testing.T) {
	svc := new(MockService)
	svc.On("EnsureACHSource", mock.Anything, int64(42)).Return(&processor.Source{
		ID:   "src_1",
		Type: "ach_credit_transfer",
	}, nil)

	gin.SetMode(gin.TestMode)
	handler := NewHandler(svc)
	router := gin.New()
	router.GET("/payments/ach-source", func(c *gin.Context) {
		c.Set("user_id", 42)
		handler.GetACHSource(c)
	})

	w := doJSON(router, "GET", "/payments/ach-source", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "src_1")
}

func TestGetBalanceHandler_Unauthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewHandler(new(MockService))
	router := gin.New()
	router.GET("/balance", handler.GetBalance)

	w := doJSON(router, "GET", "/balance", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
