package repository

import (
	"context"
	"sync"
	"testing"

	"shopify-embedded-auth/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySessionRoundTrip(t *testing.T) {
	t.Parallel()

	repo := NewMemorySessionRepository()
	ctx := context.Background()

	session := &domain.Session{
		ID:          domain.OfflineSessionID("acme.myshopify.com"),
		Shop:        "acme.myshopify.com",
		AccessToken: "token",
		AccessMode:  domain.AccessModeOffline,
	}
	require.NoError(t, repo.Save(ctx, session))
	assert.Equal(t, 1, repo.Len())

	loaded, err := repo.Load(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, session.Shop, loaded.Shop)

	// The loaded session is a copy; mutating it must not leak back.
	loaded.AccessToken = "mutated"
	again, err := repo.Load(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "token", again.AccessToken)
}

func TestMemorySessionAbsent(t *testing.T) {
	t.Parallel()

	repo := NewMemorySessionRepository()

	loaded, err := repo.Load(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, loaded)
	assert.NoError(t, repo.Delete(context.Background(), "nope"))
}

func TestMemorySessionConcurrentAccess(t *testing.T) {
	t.Parallel()

	repo := NewMemorySessionRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session := &domain.Session{
				ID:          domain.OfflineSessionID("acme.myshopify.com"),
				Shop:        "acme.myshopify.com",
				AccessToken: "token",
				AccessMode:  domain.AccessModeOffline,
			}
			_ = repo.Save(ctx, session)
			_, _ = repo.Load(ctx, session.ID)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, repo.Len())
}
