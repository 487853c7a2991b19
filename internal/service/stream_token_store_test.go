package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStreamTokenStoreIssueValidate(t *testing.T) {
	store := NewStreamTokenStore(StreamTokenStoreConfig{TokenTTL: time.Hour}, zap.NewNop())

	token, grant := store.Issue("res-1", "student-1")
	require.NotEmpty(t, token)
	assert.Equal(t, "res-1", grant.ResourceID)
	assert.Equal(t, "student-1", grant.PrincipalID)
	assert.True(t, grant.ExpiresAt.After(grant.IssuedAt))

	resolved, ok := store.Validate(token)
	require.True(t, ok)
	assert.Equal(t, grant.ResourceID, resolved.ResourceID)
	assert.Equal(t, grant.PrincipalID, resolved.PrincipalID)
}

func TestStreamTokenStoreUnknownToken(t *testing.T) {
	store := NewStreamTokenStore(StreamTokenStoreConfig{TokenTTL: time.Hour}, zap.NewNop())

	_, ok := store.Validate("bogus")
	assert.False(t, ok)
}

func TestStreamTokenStoreExpiredTokenPurgedOnLookup(t *testing.T) {
	store := NewStreamTokenStore(StreamTokenStoreConfig{TokenTTL: time.Millisecond}, zap.NewNop())

	token, _ := store.Issue("res-1", "student-1")
	require.Equal(t, 1, store.Len())

	time.Sleep(5 * time.Millisecond)

	_, ok := store.Validate(token)
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())
}

func TestStreamTokenStoreTokensAreDistinct(t *testing.T) {
	store := NewStreamTokenStore(StreamTokenStoreConfig{TokenTTL: time.Hour, MaxEntries: 20000}, zap.NewNop())

	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		token, _ := store.Issue("res-1", "student-1")
		if _, dup := seen[token]; dup {
			t.Fatalf("duplicate token after %d issues", i)
		}
		seen[token] = struct{}{}
	}
}

func TestStreamTokenStoreSweepOverThreshold(t *testing.T) {
	store := NewStreamTokenStore(StreamTokenStoreConfig{TokenTTL: time.Millisecond, MaxEntries: 10}, zap.NewNop())

	for i := 0; i < 10; i++ {
		store.Issue("res-1", "student-1")
	}
	require.Equal(t, 10, store.Len())

	time.Sleep(5 * time.Millisecond)

	// The eleventh issue exceeds the threshold and triggers a sweep of the
	// expired entries.
	store.Issue("res-2", "student-2")
	assert.Equal(t, 1, store.Len())
}

func TestStreamTokenStoreBackgroundSweep(t *testing.T) {
	store := NewStreamTokenStore(StreamTokenStoreConfig{
		TokenTTL:      time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	}, zap.NewNop())
	store.Start()
	defer store.Stop()

	store.Issue("res-1", "student-1")
	store.Issue("res-2", "student-2")

	require.Eventually(t, func() bool {
		return store.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestStreamTokenStoreStopWithoutStart(t *testing.T) {
	store := NewStreamTokenStore(StreamTokenStoreConfig{}, zap.NewNop())
	store.Stop()
}

func TestStreamTokenStoreConcurrentIssueValidate(t *testing.T) {
	store := NewStreamTokenStore(StreamTokenStoreConfig{TokenTTL: time.Hour, MaxEntries: 5000}, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				token, _ := store.Issue("res-1", "student-1")
				if _, ok := store.Validate(token); !ok {
					t.Error("freshly issued token did not validate")
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1600, store.Len())
}
