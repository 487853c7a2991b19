package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-core-api/internal/models"
	appErrors "github.com/noah-isme/lms-core-api/pkg/errors"
)

// Denial reasons surfaced by EvaluateAccess.
const (
	ReasonAuthenticationRequired = "authentication required"
	ReasonAccountBlocked         = "account blocked"
	ReasonEnrollmentRequired     = "enrollment required"
)

// EvaluateAccess decides whether the principal may access the resource. It
// is a pure function over its inputs; every resource-kind call site
// delegates here so precedence cannot drift between content types.
//
// Precedence, first match wins:
//  1. preview resources are open to everyone, authenticated or not
//  2. no principal → denied
//  3. inactive principal → denied, overriding ownership and enrollment
//  4. admin → allowed with edit rights
//  5. teacher owning the parent course → allowed with edit rights
//  6. enrolled student → allowed, read only
//  7. otherwise → denied
func EvaluateAccess(principal *models.Principal, resource models.ResourceDescriptor) models.Verdict {
	if resource.IsPreview {
		return models.Verdict{Allowed: true}
	}
	if principal == nil {
		return models.Verdict{Reason: ReasonAuthenticationRequired}
	}
	if !principal.Active {
		return models.Verdict{Reason: ReasonAccountBlocked}
	}
	if principal.Role == models.RoleAdmin {
		return models.Verdict{Allowed: true, CanEditContent: true}
	}
	if principal.Role == models.RoleTeacher && principal.ID == resource.OwnerID {
		return models.Verdict{Allowed: true, CanEditContent: true}
	}
	if principal.Role == models.RoleStudent && resource.Enrolled(principal.ID) {
		return models.Verdict{Allowed: true}
	}
	return models.Verdict{Reason: ReasonEnrollmentRequired}
}

type resourceReader interface {
	FindResource(ctx context.Context, id string) (*models.ResourceDescriptor, error)
}

type principalChecker interface {
	IsActive(ctx context.Context, id string) (bool, error)
}

// AccessService exposes entitlement checks and stream capability tokens.
type AccessService struct {
	resources  resourceReader
	principals principalChecker
	tokens     *StreamTokenStore
	cache      *CacheService
	metrics    *MetricsService
	logger     *zap.Logger
}

// NewAccessService wires the access decision dependencies.
func NewAccessService(resources resourceReader, principals principalChecker, tokens *StreamTokenStore, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *AccessService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessService{
		resources:  resources,
		principals: principals,
		tokens:     tokens,
		cache:      cache,
		metrics:    metrics,
		logger:     logger,
	}
}

// CanAccess loads the resource descriptor and evaluates the principal
// against it.
func (s *AccessService) CanAccess(ctx context.Context, principal *models.Principal, resourceID string) (*models.Verdict, error) {
	resource, err := s.loadResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	verdict := EvaluateAccess(principal, *resource)
	if s.metrics != nil {
		s.metrics.RecordAccessDecision(string(resource.Kind), verdict.Allowed)
	}
	if !verdict.Allowed {
		s.logger.Debug("access denied",
			zap.String("resource_id", resourceID),
			zap.String("reason", verdict.Reason),
		)
	}
	return &verdict, nil
}

// IssueStreamToken grants a capability token for streaming the resource. The
// verdict gates issuance; preview resources stream without a token.
func (s *AccessService) IssueStreamToken(ctx context.Context, principal *models.Principal, resourceID string) (*models.StreamGrant, string, error) {
	resource, err := s.loadResource(ctx, resourceID)
	if err != nil {
		return nil, "", err
	}

	verdict := EvaluateAccess(principal, *resource)
	if !verdict.Allowed {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, verdict.Reason)
	}

	principalID := ""
	if principal != nil {
		principalID = principal.ID
	}
	token, grant := s.tokens.Issue(resourceID, principalID)
	if s.metrics != nil {
		s.metrics.RecordStreamToken("issued")
	}
	return &grant, token, nil
}

// ValidateStreamToken resolves a capability token back to its grant. Unknown
// and expired tokens are indistinguishable to the caller. The principal's
// active flag is re-checked so a block takes effect before natural TTL
// expiry.
func (s *AccessService) ValidateStreamToken(ctx context.Context, token string) (*models.StreamGrant, error) {
	grant, ok := s.tokens.Validate(token)
	if !ok {
		if s.metrics != nil {
			s.metrics.RecordStreamToken("denied")
		}
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid stream token")
	}

	if grant.PrincipalID != "" && s.principals != nil {
		active, err := s.principals.IsActive(ctx, grant.PrincipalID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check principal")
		}
		if !active {
			if s.metrics != nil {
				s.metrics.RecordStreamToken("denied")
			}
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid stream token")
		}
	}

	if s.metrics != nil {
		s.metrics.RecordStreamToken("validated")
	}
	return &grant, nil
}

func (s *AccessService) loadResource(ctx context.Context, resourceID string) (*models.ResourceDescriptor, error) {
	cacheKey := resourceCacheKey(resourceID)
	if s.cache.Enabled() {
		var cached models.ResourceDescriptor
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	resource, err := s.resources.FindResource(ctx, resourceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "resource not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load resource")
	}

	if s.cache.Enabled() {
		if err := s.cache.Set(ctx, cacheKey, resource, 0); err != nil {
			s.logger.Warn("failed to cache resource descriptor", zap.String("resource_id", resourceID), zap.Error(err))
		}
	}
	return resource, nil
}

func resourceCacheKey(resourceID string) string {
	return fmt.Sprintf("catalog:resource:%s", resourceID)
}
