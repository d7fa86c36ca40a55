package gateway

import (
	"context"
	"testing"

	"github.com/mikey/phish-gateway/internal/adapters/store"
	"github.com/mikey/phish-gateway/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seedCase(t *testing.T, repo core.Repository, status core.CaseStatus) *core.Case {
	t.Helper()
	ctx := context.Background()
	email, _, err := repo.SaveEmail(ctx, &core.Email{
		MessageID: "<held@example.org>",
		From:      "alice@example.org",
		To:        []string{"bob@corp.example"},
	})
	require.NoError(t, err)

	c, err := repo.GetOrCreateCase(ctx, email.ID)
	require.NoError(t, err)
	for _, s := range []core.CaseStatus{core.StatusAnalyzing, status} {
		if c.Status == s {
			continue
		}
		c.Status = s
		require.NoError(t, repo.UpdateCase(ctx, c))
	}
	return c
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryStore(zap.NewNop())
	q := &fakeQuarantine{}
	relay := &fakeRelay{}
	c := seedCase(t, repo, core.StatusQuarantined)
	require.NoError(t, q.Store(ctx, c.ID, testMessage))

	resolved, err := NewReleaser(repo, q, relay, zap.NewNop()).Release(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusResolved, resolved.Status)
	assert.Equal(t, "released", resolved.Resolution)

	sent := relay.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, testMessage, sent[0].raw)
	assert.Equal(t, "alice@example.org", sent[0].sender)
	assert.Equal(t, []string{"bob@corp.example"}, sent[0].recipients)

	_, err = q.Retrieve(ctx, c.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestReleaseErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("not quarantined", func(t *testing.T) {
		repo := store.NewMemoryStore(zap.NewNop())
		c := seedCase(t, repo, core.StatusAnalyzed)
		_, err := NewReleaser(repo, &fakeQuarantine{}, &fakeRelay{}, zap.NewNop()).Release(ctx, c.ID)
		assert.ErrorIs(t, err, ErrNotQuarantined)
	})

	t.Run("unknown case", func(t *testing.T) {
		repo := store.NewMemoryStore(zap.NewNop())
		_, err := NewReleaser(repo, &fakeQuarantine{}, &fakeRelay{}, zap.NewNop()).Release(ctx, "nope")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("relay refuses", func(t *testing.T) {
		repo := store.NewMemoryStore(zap.NewNop())
		q := &fakeQuarantine{}
		c := seedCase(t, repo, core.StatusQuarantined)
		require.NoError(t, q.Store(ctx, c.ID, testMessage))

		_, err := NewReleaser(repo, q, &fakeRelay{fail: true}, zap.NewNop()).Release(ctx, c.ID)
		require.Error(t, err)

		raw, err := q.Retrieve(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, testMessage, raw)

		stored, err := repo.GetCase(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusQuarantined, stored.Status)
	})
}
