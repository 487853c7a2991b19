package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/lms-core-api/internal/models"
	appErrors "github.com/noah-isme/lms-core-api/pkg/errors"
)

type mockUserRepo struct {
	users   map[string]*models.User
	byEmail map[string]string
	tokens  map[string]*models.RefreshToken
	revoked []string
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if id, ok := m.byEmail[email]; ok {
		cp := *m.users[id]
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if u, ok := m.users[id]; ok {
		u.LastLogin = &ts
	}
	return nil
}

func (m *mockUserRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.tokens == nil {
		m.tokens = make(map[string]*models.RefreshToken)
	}
	cp := *token
	m.tokens[token.Token] = &cp
	return nil
}

func (m *mockUserRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if t, ok := m.tokens[token]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	m.revoked = append(m.revoked, id)
	for _, t := range m.tokens {
		if t.ID == id {
			t.Revoked = true
			t.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockUserRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	for _, t := range m.tokens {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

func newTestUserRepo(t *testing.T) *mockUserRepo {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	return &mockUserRepo{
		users: map[string]*models.User{
			"user-1": {
				ID:           "user-1",
				Email:        "student@example.com",
				PasswordHash: string(hash),
				FullName:     "Student One",
				Role:         models.RoleStudent,
				Active:       true,
			},
		},
		byEmail: map[string]string{"student@example.com": "user-1"},
	}
}

func newTestAuthService(repo *mockUserRepo) *AuthService {
	return NewAuthService(repo, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "lms-core-api",
	})
}

func TestAuthServiceLogin(t *testing.T) {
	repo := newTestUserRepo(t)
	svc := newTestAuthService(repo)

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "student@example.com",
		Password: "s3cret",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "user-1", resp.User.ID)
	assert.Equal(t, models.RoleStudent, resp.User.Role)
	require.Contains(t, repo.tokens, resp.RefreshToken)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleStudent, claims.Role)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	svc := newTestAuthService(newTestUserRepo(t))

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "student@example.com",
		Password: "wrong",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginUnknownEmail(t *testing.T) {
	svc := newTestAuthService(newTestUserRepo(t))

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "nobody@example.com",
		Password: "s3cret",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginInactiveAccount(t *testing.T) {
	repo := newTestUserRepo(t)
	repo.users["user-1"].Active = false
	svc := newTestAuthService(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "student@example.com",
		Password: "s3cret",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	repo := newTestUserRepo(t)
	svc := newTestAuthService(repo)

	login, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "student@example.com",
		Password: "s3cret",
	})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{
		RefreshToken: login.RefreshToken,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	// The used refresh token is revoked and no longer exchangeable.
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{
		RefreshToken: login.RefreshToken,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceValidateTokenRejectsTampering(t *testing.T) {
	svc := newTestAuthService(newTestUserRepo(t))

	login, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "student@example.com",
		Password: "s3cret",
	})
	require.NoError(t, err)

	_, err = svc.ValidateToken(login.AccessToken + "x")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceResolvePrincipal(t *testing.T) {
	repo := newTestUserRepo(t)
	svc := newTestAuthService(repo)

	principal, err := svc.ResolvePrincipal(context.Background(), &models.JWTClaims{UserID: "user-1"})
	require.NoError(t, err)
	require.NotNil(t, principal)
	assert.Equal(t, "user-1", principal.ID)
	assert.Equal(t, models.RoleStudent, principal.Role)
	assert.True(t, principal.Active)

	// Blocking the account is visible on the next resolution even though
	// the access token is still unexpired.
	repo.users["user-1"].Active = false
	principal, err = svc.ResolvePrincipal(context.Background(), &models.JWTClaims{UserID: "user-1"})
	require.NoError(t, err)
	assert.False(t, principal.Active)
}

func TestAuthServiceResolvePrincipalAnonymous(t *testing.T) {
	svc := newTestAuthService(newTestUserRepo(t))

	principal, err := svc.ResolvePrincipal(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, principal)
}

func TestAuthServiceResolvePrincipalDeletedUser(t *testing.T) {
	svc := newTestAuthService(newTestUserRepo(t))

	_, err := svc.ResolvePrincipal(context.Background(), &models.JWTClaims{UserID: "ghost"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
