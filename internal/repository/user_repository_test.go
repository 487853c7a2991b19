package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-core-api/internal/models"
)

func newUserRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func userRows(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "email", "password_hash", "full_name", "role", "active", "last_login", "created_at", "updated_at"}).
		AddRow("user-1", "student@example.com", "hash", "Student One", "STUDENT", true, nil, now, now)
}

func TestUserRepositoryFindByEmail(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, password_hash, full_name, role, active, last_login, created_at, updated_at FROM users WHERE email = $1 LIMIT 1")).
		WithArgs("student@example.com").
		WillReturnRows(userRows(time.Now().UTC()))

	user, err := repo.FindByEmail(context.Background(), "student@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, models.RoleStudent, user.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryIsActive(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT active FROM users WHERE id = $1 LIMIT 1")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"active"}).AddRow(true))

	active, err := repo.IsActive(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryIsActiveUnknownUser(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT active FROM users WHERE id = $1 LIMIT 1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"active"}))

	active, err := repo.IsActive(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryRefreshTokenLifecycle(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs("tok-1", "user-1", "opaque", sqlmock.AnyArg(), sqlmock.AnyArg(), false, "127.0.0.1", "test-agent").
		WillReturnResult(sqlmock.NewResult(1, 1))

	token := &models.RefreshToken{
		ID:        "tok-1",
		UserID:    "user-1",
		Token:     "opaque",
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
		IPAddress: "127.0.0.1",
		UserAgent: "test-agent",
	}
	require.NoError(t, repo.CreateRefreshToken(context.Background(), token))

	rows := sqlmock.NewRows([]string{"id", "user_id", "token", "expires_at", "created_at", "revoked", "revoked_at", "ip_address", "user_agent"}).
		AddRow("tok-1", "user-1", "opaque", now.Add(time.Hour), now, false, nil, "127.0.0.1", "test-agent")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE token = $1 LIMIT 1")).
		WithArgs("opaque").
		WillReturnRows(rows)

	stored, err := repo.FindRefreshToken(context.Background(), "opaque")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", stored.ID)
	assert.False(t, stored.Revoked)

	mock.ExpectExec("UPDATE refresh_tokens SET revoked = TRUE").
		WithArgs("tok-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RevokeRefreshToken(context.Background(), "tok-1", now))
	assert.NoError(t, mock.ExpectationsWereMet())
}
