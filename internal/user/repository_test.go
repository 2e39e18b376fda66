package user

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMock(t *testing.T) (Repository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	repo := NewRepository(sqlxDB)

	closer := func() {
		sqlxDB.Close()
	}

	return repo, mock, closer
}

func userRows(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "email", "full_name", "business_name", "role", "created_at"}).
		AddRow(100, "buyer@example.com", "Jordan Buyer", "Jordan's Shop", "buyer", now)
}

func TestFindByID(t *testing.T) {
	repo, mock, close := setupMock(t)
	defer close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, full_name, business_name, role, created_at FROM users WHERE id = $1")).
		WithArgs(int64(100)).
		WillReturnRows(userRows(now))

	u, err := repo.FindByID(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.ID)
	assert.Equal(t, "buyer@example.com", u.Email)
	assert.Equal(t, "buyer", u.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByID_NotFound(t *testing.T) {
	repo, mock, close := setupMock(t)
	defer close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, full_name, business_name, role, created_at FROM users WHERE id = $1")).
		WithArgs(int64(999)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindByID(context.Background(), 999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestFindByEmail(t *testing.T) {
	repo, mock, close := setupMock(t)
	defer close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "full_name", "business_name", "role", "created_at"}).
		AddRow(100, "buyer@example.com", "$2a$10$hash", "Jordan Buyer", "Jordan's Shop", "buyer", now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, password_hash, full_name, business_name, role, created_at FROM users WHERE email = $1")).
		WithArgs("buyer@example.com").
		WillReturnRows(rows)

	u, err := repo.FindByEmail(context.Background(), "buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, "$2a$10$hash", u.PasswordHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExists(t *testing.T) {
	repo, mock, close := setupMock(t)
	defer close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)")).
		WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.Exists(context.Background(), 100)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListForAssignment(t *testing.T) {
	repo, mock, close := setupMock(t)
	defer close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE role = 'buyer'")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, full_name, business_name, role, created_at FROM users WHERE role = 'buyer' ORDER BY full_name ASC LIMIT $1 OFFSET $2")).
		WithArgs(10, 0).
		WillReturnRows(userRows(now))

	users, total, err := repo.ListForAssignment(context.Background(), ListParams{
		Page:    1,
		PerPage: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, users, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListForAssignment_SearchAndOrder(t *testing.T) {
	repo, mock, close := setupMock(t)
	defer close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE role = 'buyer' AND (email ILIKE $1 OR full_name ILIKE $1 OR business_name ILIKE $1)")).
		WithArgs("%jordan%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY email DESC LIMIT $2 OFFSET $3")).
		WithArgs("%jordan%", 25, 25).
		WillReturnRows(userRows(now))

	users, total, err := repo.ListForAssignment(context.Background(), ListParams{
		Search:    "jordan",
		OrderBy:   "email",
		OrderType: "desc",
		Page:      2,
		PerPage:   25,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, users, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListForAssignment_UnknownOrderColumnFallsBack(t *testing.T) {
	repo, mock, close := setupMock(t)
	defer close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY full_name ASC")).
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "full_name", "business_name", "role", "created_at"}))

	users, total, err := repo.ListForAssignment(context.Background(), ListParams{
		OrderBy: "id; DROP TABLE users",
		Page:    1,
		PerPage: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, users)
}

func TestProcessorProfile(t *testing.T) {
	repo, mock, close := setupMock(t)
	defer close()

	rows := sqlmock.NewRows([]string{"user_id", "account_id", "source_id"}).
		AddRow(100, "cus_100", "src_1")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id, account_id, source_id FROM user_processor_profiles WHERE user_id = $1")).
		WithArgs(int64(100)).
		WillReturnRows(rows)

	profile, err := repo.ProcessorProfile(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, "cus_100", profile.AccountID)
	assert.True(t, profile.SourceID.Valid)
	assert.Equal(t, "src_1", profile.SourceID.String)
}

func TestProcessorProfile_NotFound(t *testing.T) {
	repo, mock, close := setupMock(t)
	defer close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id, account_id, source_id FROM user_processor_profiles WHERE user_id = $1")).
		WithArgs(int64(999)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	_, err := repo.ProcessorProfile(context.Background(), 999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSaveSourceID(t *testing.T) {
	repo, mock, close := setupMock(t)
	defer close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE user_processor_profiles SET source_id = $1 WHERE user_id = $2")).
		WithArgs("src_new", int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SaveSourceID(context.Background(), 100, "src_new")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
