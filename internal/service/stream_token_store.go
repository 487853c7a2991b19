package service

import (
	"crypto/rand"
	"encoding/base64"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-core-api/internal/models"
)

// StreamTokenStoreConfig governs token lifetime and eviction.
type StreamTokenStoreConfig struct {
	TokenTTL      time.Duration
	SweepInterval time.Duration
	MaxEntries    int
}

// StreamTokenStore issues and validates short-lived capability tokens for
// media streaming. Tokens prove that a principal was granted access to a
// resource at issuance time; they are not the access decision itself.
//
// The store is an in-process map guarded by a mutex. Expired entries are
// purged on lookup and by a periodic sweep; exceeding MaxEntries live
// entries triggers an extra sweep on the next issue.
type StreamTokenStore struct {
	ttl        time.Duration
	sweepEvery time.Duration
	maxEntries int
	logger     *zap.Logger

	mu     sync.RWMutex
	grants map[string]models.StreamGrant

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	started bool
}

// NewStreamTokenStore constructs the store. Call Start to run the sweep
// loop and Stop on shutdown.
func NewStreamTokenStore(cfg StreamTokenStoreConfig, logger *zap.Logger) *StreamTokenStore {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamTokenStore{
		ttl:        cfg.TokenTTL,
		sweepEvery: cfg.SweepInterval,
		maxEntries: cfg.MaxEntries,
		logger:     logger,
		grants:     make(map[string]models.StreamGrant),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Issue creates a token for the (resource, principal) pair. It always
// succeeds; the token combines 128 bits of entropy with the issuance time so
// collisions are negligible and tokens are not derivable from public data.
func (s *StreamTokenStore) Issue(resourceID, principalID string) (string, models.StreamGrant) {
	now := time.Now().UTC()
	grant := models.StreamGrant{
		ResourceID:  resourceID,
		PrincipalID: principalID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.ttl),
	}
	token := newStreamToken(now)

	s.mu.Lock()
	s.grants[token] = grant
	over := len(s.grants) > s.maxEntries
	s.mu.Unlock()

	if over {
		s.sweep(now)
	}
	return token, grant
}

// Validate resolves a token to its grant. Unknown and expired tokens are
// both reported as not ok; expired entries are purged on lookup.
func (s *StreamTokenStore) Validate(token string) (models.StreamGrant, bool) {
	s.mu.RLock()
	grant, ok := s.grants[token]
	s.mu.RUnlock()
	if !ok {
		return models.StreamGrant{}, false
	}
	if !time.Now().UTC().Before(grant.ExpiresAt) {
		s.mu.Lock()
		delete(s.grants, token)
		s.mu.Unlock()
		return models.StreamGrant{}, false
	}
	return grant, true
}

// Len returns the number of live entries, expired included until swept.
func (s *StreamTokenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.grants)
}

// Start launches the background sweep loop.
func (s *StreamTokenStore) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep(time.Now().UTC())
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for it to exit.
func (s *StreamTokenStore) Stop() {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	s.once.Do(func() {
		close(s.stop)
	})
	if started {
		<-s.done
	}
}

func (s *StreamTokenStore) sweep(now time.Time) {
	s.mu.Lock()
	removed := 0
	for token, grant := range s.grants {
		if !now.Before(grant.ExpiresAt) {
			delete(s.grants, token)
			removed++
		}
	}
	remaining := len(s.grants)
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("stream token sweep",
			zap.Int("removed", removed),
			zap.Int("remaining", remaining),
		)
	}
}

func newStreamToken(now time.Time) string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failures are not recoverable here; fall back to the
		// clock alone rather than returning an error the caller cannot act on.
		return "t-" + strconv.FormatInt(now.UnixNano(), 36)
	}
	return base64.RawURLEncoding.EncodeToString(buf) + strconv.FormatInt(now.UnixNano(), 36)
}
