package wire

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"marketpay/internal/api"
	"marketpay/internal/auth"
	"marketpay/internal/ledger"
	"marketpay/internal/processor"
	"marketpay/internal/user"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{
		service: service,
	}
}

type AssignTransactionRequest struct {
	UserID int64 `json:"user_id" binding:"required,min=1"`
}

type CreateBankAccountRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	BankName  string `json:"bank_name" binding:"required"`
	Last4     string `json:"last4" binding:"required,len=4"`
}

// @Summary      List bank transactions
// @Description  Admin-only: incoming bank transactions mirrored from the processor feed
// @Tags         admin,transactions
// @Produce      json
// @Security     BearerAuth
// @Param        search      query  string  false  "Match against description and external id"
// @Param        status      query  string  false  "assigned or unassigned"
// @Param        order_by    query  string  false  "Sort column"
// @Param        order_type  query  string  false  "asc or desc"
// @Param        page        query  int     false  "Page number"
// @Param        per_page    query  int     false  "Page size"
// @Success      200 {object} api.ListResponse
// @Failure      401 {object} api.ErrorResponse
// @Failure      403 {object} api.ErrorResponse
// @Failure      500 {object} api.ErrorResponse
// @Router       /admin/wire/transactions [get]
func (h *Handler) ListTransactions(c *gin.Context) {
	params := ledger.TransactionListParams{
		Search:    c.Query("search"),
		OrderBy:   c.Query("order_by"),
		OrderType: c.Query("order_type"),
		Status:    c.Query("status"),
		Page:      intQuery(c, "page", 1),
		PerPage:   intQuery(c, "per_page", 25),
	}

	transactions, total, err := h.service.ListTransactions(c.Request.Context(), params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "Failed to fetch transactions"})
		return
	}

	c.JSON(http.StatusOK, api.ListResponse{
		Data:    transactions,
		Page:    params.Page,
		PerPage: params.PerPage,
		Total:   total,
	})
}

// @Summary      Refresh bank transactions
// @Description  Admin-only: ask the processor to re-poll the connected bank feed
// @Tags         admin,transactions
// @Produce      json
// @Security     BearerAuth
// @Success      202 {object} api.MessageResponse
// @Failure      401 {object} api.ErrorResponse
// @Failure      403 {object} api.ErrorResponse
// @Failure      500 {object} api.ErrorResponse
// @Router       /admin/wire/transactions/refresh [post]
func (h *Handler) RefreshTransactions(c *gin.Context) {
	if err := h.service.RefreshTransactions(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "Failed to request transaction refresh"})
		return
	}
	c.JSON(http.StatusAccepted, api.MessageResponse{Message: "Transaction refresh requested"})
}

type SyncTransactionsRequest struct {
	RefreshID string `json:"refresh_id"`
}

// @Summary      Run transaction reconciliation
// @Description  Admin-only: merge the current remote batch into the local ledger
// @Tags         admin,transactions
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body wire.SyncTransactionsRequest false "Optional cursor hint"
// @Success      200 {object} api.MessageResponse
// @Failure      401 {object} api.ErrorResponse
// @Failure      403 {object} api.ErrorResponse
// @Failure      500 {object} api.ErrorResponse
// @Router       /admin/wire/transactions/sync [post]
func (h *Handler) SyncTransactions(c *gin.Context) {
	var req SyncTransactionsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
			return
		}
	}

	if err := h.service.SyncTransactions(c.Request.Context(), req.RefreshID); err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "Failed to sync transactions"})
		return
	}
	c.JSON(http.StatusOK, api.MessageResponse{Message: "Transactions synced"})
}

// @Summary      Assign transaction to user
// @Description  Admin-only: assign a posted transaction to a user, moving the funds via a processor top-up
// @Tags         admin,transactions
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        transactionID  path  int                            true  "Transaction ID"
// @Param        request        body  wire.AssignTransactionRequest  true  "Assignment payload"
// @Success      200 {object} api.MessageResponse
// @Failure      400 {object} api.ErrorResponse
// @Failure      401 {object} api.ErrorResponse
// @Failure      403 {object} api.ErrorResponse
// @Failure      404 {object} api.ErrorResponse
// @Failure      409 {object} api.ErrorResponse
// @Failure      502 {object} api.ErrorResponse
// @Failure      500 {object} api.ErrorResponse
// @Router       /admin/wire/transactions/{transactionID}/assign [post]
func (h *Handler) AssignTransaction(c *gin.Context) {
	transactionID, err := strconv.ParseInt(c.Param("transactionID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid transaction ID"})
		return
	}

	var req AssignTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}

	err = h.service.AssignTransaction(c.Request.Context(), req.UserID, transactionID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, api.MessageResponse{Message: "Transaction assignment started"})
	case errors.Is(err, user.ErrUserNotFound):
		c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "User not found"})
	case errors.Is(err, ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "Transaction not found"})
	case errors.Is(err, ErrNotPosted):
		c.JSON(http.StatusConflict, api.ErrorResponse{Error: ErrNotPosted.Error()})
	case errors.Is(err, ErrAlreadyAssigned):
		c.JSON(http.StatusConflict, api.ErrorResponse{Error: ErrAlreadyAssigned.Error()})
	case errors.Is(err, ErrTopUpFailed), processor.IsTransport(err):
		c.JSON(http.StatusBadGateway, api.ErrorResponse{Error: ErrTopUpFailed.Error()})
	default:
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "Failed to assign transaction"})
	}
}

// @Summary      List users for assignment
// @Description  Admin-only: buyers that incoming transactions can be assigned to
// @Tags         admin,users
// @Produce      json
// @Security     BearerAuth
// @Param        search      query  string  false  "Match against email and names"
// @Param        order_by    query  string  false  "Sort column"
// @Param        order_type  query  string  false  "asc or desc"
// @Param        page        query  int     false  "Page number"
// @Param        per_page    query  int     false  "Page size"
// @Success      200 {object} api.ListResponse
// @Failure      401 {object} api.ErrorResponse
// @Failure      403 {object} api.ErrorResponse
// @Failure      500 {object} api.ErrorResponse
// @Router       /admin/wire/users [get]
func (h *Handler) ListUsers(c *gin.Context) {
	params := user.ListParams{
		Search:    c.Query("search"),
		OrderBy:   c.Query("order_by"),
		OrderType: c.Query("order_type"),
		Page:      intQuery(c, "page", 1),
		PerPage:   intQuery(c, "per_page", 25),
	}

	users, total, err := h.service.UsersForAssignment(c.Request.Context(), params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "Failed to fetch users"})
		return
	}

	c.JSON(http.StatusOK, api.ListResponse{
		Data:    users,
		Page:    params.Page,
		PerPage: params.PerPage,
		Total:   total,
	})
}

// @Summary      List connected bank accounts
// @Tags         admin,bank-accounts
// @Produce      json
// @Security     BearerAuth
// @Success      200 {array} ledger.BankAccount
// @Failure      401 {object} api.ErrorResponse
// @Failure      403 {object} api.ErrorResponse
// @Failure      500 {object} api.ErrorResponse
// @Router       /admin/wire/bank-accounts [get]
func (h *Handler) ListBankAccounts(c *gin.Context) {
	accounts, err := h.service.BankAccounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "Failed to fetch bank accounts"})
		return
	}
	c.JSON(http.StatusOK, accounts)
}

// @Summary      Start bank account onboarding
// @Description  Admin-only: open a financial-connections session for linking the system bank account
// @Tags         admin,bank-accounts
// @Produce      json
// @Security     BearerAuth
// @Success      201 {object} wire.BankAccountSession
// @Failure      401 {object} api.ErrorResponse
// @Failure      403 {object} api.ErrorResponse
// @Failure      502 {object} api.ErrorResponse
// @Router       /admin/wire/bank-accounts/session [get]
func (h *Handler) CreateBankAccountSession(c *gin.Context) {
	session, err := h.service.BankAccountSession(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, api.ErrorResponse{Error: "Failed to create onboarding session"})
		return
	}
	c.JSON(http.StatusCreated, session)
}

// @Summary      Finish bank account onboarding
// @Description  Admin-only: persist the bank account linked in an onboarding session
// @Tags         admin,bank-accounts
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body wire.CreateBankAccountRequest true "Onboarding result"
// @Success      201 {object} api.MessageResponse
// @Failure      400 {object} api.ErrorResponse
// @Failure      401 {object} api.ErrorResponse
// @Failure      403 {object} api.ErrorResponse
// @Failure      409 {object} api.ErrorResponse
// @Failure      500 {object} api.ErrorResponse
// @Router       /admin/wire/bank-accounts [post]
func (h *Handler) CreateBankAccount(c *gin.Context) {
	var req CreateBankAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}

	err := h.service.CreateBankAccount(c.Request.Context(), req.SessionID, req.BankName, req.Last4)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, api.MessageResponse{Message: "Bank account connected"})
	case errors.Is(err, ErrBankAccountExists):
		c.JSON(http.StatusConflict, api.ErrorResponse{Error: ErrBankAccountExists.Error()})
	case errors.Is(err, ErrNoAccountsConnected):
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: ErrNoAccountsConnected.Error()})
	default:
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "Failed to connect bank account"})
	}
}

// @Summary      Get ACH payment source
// @Description  Returns the caller's ACH credit-transfer source, creating one on first use
// @Tags         payments
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} processor.Source
// @Failure      401 {object} api.ErrorResponse
// @Failure      502 {object} api.ErrorResponse
// @Router       /payments/ach-source [get]
func (h *Handler) GetACHSource(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "User not authenticated"})
		return
	}

	source, err := h.service.EnsureACHSource(c.Request.Context(), int64(userID))
	if err != nil {
		c.JSON(http.StatusBadGateway, api.ErrorResponse{Error: "Failed to provision payment source"})
		return
	}
	c.JSON(http.StatusOK, source)
}

// @Summary      Get credit balance
// @Description  Returns the caller's current credit balance from the ledger
// @Tags         payments
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} map[string]string
// @Failure      401 {object} api.ErrorResponse
// @Failure      500 {object} api.ErrorResponse
// @Router       /balance [get]
func (h *Handler) GetBalance(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "User not authenticated"})
		return
	}

	balance, err := h.service.CreditBalance(c.Request.Context(), int64(userID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "Failed to fetch balance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance, "currency": "usd"})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	value, err := strconv.Atoi(c.Query(key))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
