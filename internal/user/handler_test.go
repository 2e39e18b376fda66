package user

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketpay/internal/auth"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *MockRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *MockRepository) Exists(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) ListForAssignment(ctx context.Context, params ListParams) ([]User, int, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]User), args.Int(1), args.Error(2)
}

func (m *MockRepository) ProcessorProfile(ctx context.Context, userID int64) (*ProcessorProfile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProcessorProfile), args.Error(1)
}

func (m *MockRepository) SaveSourceID(ctx context.Context, userID int64, sourceID string) error {
	args := m.Called(ctx, userID, sourceID)
	return args.Error(0)
}

func newLoginRouter(repo Repository) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewHandler(repo, "test-jwt-secret")

	router := gin.New()
	router.POST("/auth/login", handler.Login)
	return router
}

func postLogin(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/auth/login", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestLogin_Success(t *testing.T) {
	repo := new(MockRepository)
	hash, err := auth.HashPassword("secret123")
	require.NoError(t, err)

	repo.On("FindByEmail", mock.Anything, "buyer@example.com").Return(&User{
		ID:           100,
		Email:        "buyer@example.com",
		PasswordHash: hash,
		Role:         "buyer",
	}, nil)

	w := postLogin(newLoginRouter(repo), `{"email":"buyer@example.com","password":"secret123"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(100), resp.User.ID)

	claims, err := auth.ValidateToken(resp.AccessToken, "test-jwt-secret")
	require.NoError(t, err)
	assert.Equal(t, 100, claims.UserID)
	assert.Equal(t, "buyer", claims.Role)

	repo.AssertExpectations(t)
}

func TestLogin_WrongPassword(t *testing.T) {
	repo := new(MockRepository)
	hash, _ := auth.HashPassword("secret123")

	repo.On("FindByEmail", mock.Anything, "buyer@example.com").Return(&User{
		ID:           100,
		Email:        "buyer@example.com",
		PasswordHash: hash,
		Role:         "buyer",
	}, nil)

	w := postLogin(newLoginRouter(repo), `{"email":"buyer@example.com","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_UnknownEmail(t *testing.T) {
	repo := new(MockRepository)
	repo.On("FindByEmail", mock.Anything, "ghost@example.com").Return(nil, ErrUserNotFound)

	w := postLogin(newLoginRouter(repo), `{"email":"ghost@example.com","password":"secret123"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_InvalidPayload(t *testing.T) {
	repo := new(MockRepository)

	w := postLogin(newLoginRouter(repo), `{"email":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	repo.AssertNotCalled(t, "FindByEmail")
}

func TestGetMe(t *testing.T) {
	gin.SetMode(gin.TestMode)

	repo := new(MockRepository)
	repo.On("FindByID", mock.Anything, int64(42)).Return(&User{
		ID:    42,
		Email: "admin@marketpay.io",
		Role:  "admin",
	}, nil)

	handler := NewHandler(repo, "test-jwt-secret")
	router := gin.New()
	router.GET("/me", func(c *gin.Context) {
		c.Set("user_id", 42)
		handler.GetMe(c)
	})

	req := httptest.NewRequest("GET", "/me", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var u User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &u))
	assert.Equal(t, "admin@marketpay.io", u.Email)
}

func TestGetMe_Unauthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewHandler(new(MockRepository), "test-jwt-secret")
	router := gin.New()
	router.GET("/me", handler.GetMe)

	req := httptest.NewRequest("GET", "/me", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
