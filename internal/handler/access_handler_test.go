package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-core-api/internal/middleware"
	"github.com/noah-isme/lms-core-api/internal/models"
	"github.com/noah-isme/lms-core-api/internal/service"
	"github.com/noah-isme/lms-core-api/pkg/response"
)

type resourceRepoStub struct {
	items map[string]*models.ResourceDescriptor
}

func (s *resourceRepoStub) FindResource(ctx context.Context, id string) (*models.ResourceDescriptor, error) {
	if r, ok := s.items[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

type principalRepoStub struct {
	users map[string]*models.User
}

func (s *principalRepoStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return nil, sql.ErrNoRows
}

func (s *principalRepoStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (s *principalRepoStub) IsActive(ctx context.Context, id string) (bool, error) {
	if u, ok := s.users[id]; ok {
		return u.Active, nil
	}
	return false, nil
}

func (s *principalRepoStub) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	return nil
}

func (s *principalRepoStub) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	return nil
}

func (s *principalRepoStub) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	return nil, sql.ErrNoRows
}

func (s *principalRepoStub) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	return nil
}

func (s *principalRepoStub) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	return nil
}

func newTestAccessHandler(resources *resourceRepoStub, principals *principalRepoStub) *AccessHandler {
	store := service.NewStreamTokenStore(service.StreamTokenStoreConfig{TokenTTL: time.Hour}, zap.NewNop())
	access := service.NewAccessService(resources, principals, store, nil, nil, zap.NewNop())
	auth := service.NewAuthService(principals, validator.New(), zap.NewNop(), service.AuthConfig{
		AccessTokenSecret: "test-secret",
		AccessTokenExpiry: time.Hour,
	})
	return NewAccessHandler(access, auth)
}

func TestAccessHandlerCanAccessAnonymousPreview(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newTestAccessHandler(&resourceRepoStub{items: map[string]*models.ResourceDescriptor{
		"res-1": {ID: "res-1", Kind: models.ResourceVideo, IsPreview: true},
	}}, &principalRepoStub{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/resources/res-1/access", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "res-1"}}

	handler.CanAccess(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	verdict := envelope.Data.(map[string]interface{})
	assert.Equal(t, true, verdict["allowed"])
}

func TestAccessHandlerCanAccessDeniedAnonymous(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newTestAccessHandler(&resourceRepoStub{items: map[string]*models.ResourceDescriptor{
		"res-1": {ID: "res-1", Kind: models.ResourceVideo, OwnerID: "teacher-1"},
	}}, &principalRepoStub{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/resources/res-1/access", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "res-1"}}

	handler.CanAccess(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	verdict := envelope.Data.(map[string]interface{})
	assert.Equal(t, false, verdict["allowed"])
	assert.Equal(t, "authentication required", verdict["reason"])
}

func TestAccessHandlerCanAccessUnknownResource(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newTestAccessHandler(&resourceRepoStub{}, &principalRepoStub{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/resources/missing/access", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	handler.CanAccess(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAccessHandlerIssueAndValidateStreamToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	principals := &principalRepoStub{users: map[string]*models.User{
		"student-1": {ID: "student-1", Role: models.RoleStudent, Active: true},
	}}
	handler := newTestAccessHandler(&resourceRepoStub{items: map[string]*models.ResourceDescriptor{
		"res-1": {ID: "res-1", Kind: models.ResourceVideo, OwnerID: "teacher-1", EnrolledIDs: []string{"student-1"}},
	}}, principals)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/resources/res-1/stream-token", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "res-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent})

	handler.IssueStreamToken(c)
	require.Equal(t, http.StatusCreated, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	data := envelope.Data.(map[string]interface{})
	token := data["token"].(string)
	require.NotEmpty(t, token)

	w2 := httptest.NewRecorder()
	c2, _ := gin.CreateTestContext(w2)
	req2, _ := http.NewRequest(http.MethodGet, "/stream/validate?token="+token, nil)
	c2.Request = req2

	handler.ValidateStreamToken(c2)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestAccessHandlerValidateStreamTokenMissing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newTestAccessHandler(&resourceRepoStub{}, &principalRepoStub{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/stream/validate", nil)
	c.Request = req

	handler.ValidateStreamToken(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
