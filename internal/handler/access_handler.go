package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-core-api/internal/service"
	appErrors "github.com/noah-isme/lms-core-api/pkg/errors"
	"github.com/noah-isme/lms-core-api/pkg/response"
)

// AccessHandler exposes entitlement checks and stream token endpoints.
type AccessHandler struct {
	access *service.AccessService
	auth   *service.AuthService
}

// NewAccessHandler constructs AccessHandler.
func NewAccessHandler(access *service.AccessService, auth *service.AuthService) *AccessHandler {
	return &AccessHandler{access: access, auth: auth}
}

// CanAccess godoc
// @Summary Check access to a resource
// @Description Evaluates the caller's entitlement to the resource. Works without authentication for preview resources.
// @Tags Access
// @Produce json
// @Param id path string true "Resource ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /resources/{id}/access [get]
func (h *AccessHandler) CanAccess(c *gin.Context) {
	principal, err := h.auth.ResolvePrincipal(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	verdict, err := h.access.CanAccess(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, verdict, nil)
}

// IssueStreamToken godoc
// @Summary Issue a stream capability token
// @Description Grants a short-lived token for streaming the resource when the caller is entitled.
// @Tags Access
// @Produce json
// @Param id path string true "Resource ID"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /resources/{id}/stream-token [post]
func (h *AccessHandler) IssueStreamToken(c *gin.Context) {
	principal, err := h.auth.ResolvePrincipal(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	grant, token, err := h.access.IssueStreamToken(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{
		"token":       token,
		"resource_id": grant.ResourceID,
		"expires_at":  grant.ExpiresAt,
	})
}

// ValidateStreamToken godoc
// @Summary Validate a stream capability token
// @Description Resolves a previously issued token. Runs outside the normal session; the token is the only credential.
// @Tags Access
// @Produce json
// @Param token query string true "Stream token"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /stream/validate [get]
func (h *AccessHandler) ValidateStreamToken(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing stream token"))
		return
	}

	grant, err := h.access.ValidateStreamToken(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grant, nil)
}
