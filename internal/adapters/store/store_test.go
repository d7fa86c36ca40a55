package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mikey/phish-gateway/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func repositories(t *testing.T) map[string]core.Repository {
	t.Helper()

	sqlStore, err := NewSQLStore(SQLite, filepath.Join(t.TempDir(), "phishgate.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })

	return map[string]core.Repository{
		"memory": NewMemoryStore(zap.NewNop()),
		"sqlite": sqlStore,
	}
}

func sampleEmail(messageID string) *core.Email {
	return &core.Email{
		MessageID:       messageID,
		From:            "alice@example.org",
		FromDisplayName: "Alice",
		To:              []string{"bob@corp.example"},
		Subject:         "Quarterly numbers",
		BodyText:        "See attached.",
		Headers:         map[string][]string{"Subject": {"Quarterly numbers"}},
		URLs:            []string{"https://example.org/q3"},
		Attachments:     []core.Attachment{{Filename: "q3.xlsx", ContentType: "application/vnd.ms-excel", Size: 42}},
		AuthResults:     map[string]string{"spf": "pass"},
	}
}

func TestSaveEmailIsIdempotent(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, created, err := repo.SaveEmail(ctx, sampleEmail("<dup@example.org>"))
			require.NoError(t, err)
			assert.True(t, created)
			assert.NotEmpty(t, first.ID)

			second, created, err := repo.SaveEmail(ctx, sampleEmail("<dup@example.org>"))
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, first.ID, second.ID)

			loaded, err := repo.GetEmail(ctx, first.ID)
			require.NoError(t, err)
			assert.Equal(t, "alice@example.org", loaded.From)
			assert.Equal(t, []string{"bob@corp.example"}, loaded.To)
			assert.Equal(t, "pass", loaded.Auth("spf"))
			require.Len(t, loaded.Attachments, 1)
			assert.Equal(t, int64(42), loaded.Attachments[0].Size)
		})
	}
}

func TestGetMissingRecords(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := repo.GetEmail(ctx, "nope")
			assert.ErrorIs(t, err, core.ErrNotFound)
			_, err = repo.GetCase(ctx, "nope")
			assert.ErrorIs(t, err, core.ErrNotFound)
			_, err = repo.GetOrCreateCase(ctx, "nope")
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}

func TestCaseLifecycle(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			email, _, err := repo.SaveEmail(ctx, sampleEmail("<case@example.org>"))
			require.NoError(t, err)

			c, err := repo.GetOrCreateCase(ctx, email.ID)
			require.NoError(t, err)
			assert.Equal(t, core.StatusPending, c.Status)
			assert.Equal(t, int64(1), c.Number)

			again, err := repo.GetOrCreateCase(ctx, email.ID)
			require.NoError(t, err)
			assert.Equal(t, c.ID, again.ID)

			c.Status = core.StatusAnalyzing
			require.NoError(t, repo.UpdateCase(ctx, c))

			score := 0.72
			c.Status = core.StatusQuarantined
			c.FinalScore = &score
			c.Verdict = core.VerdictQuarantined
			c.RiskLevel = core.RiskHigh
			c.Category = core.CategoryPhishing
			require.NoError(t, repo.UpdateCase(ctx, c))

			c.Status = core.StatusPending
			assert.ErrorIs(t, repo.UpdateCase(ctx, c), core.ErrInvalidTransition)

			stored, err := repo.GetCase(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, core.StatusQuarantined, stored.Status)
			require.NotNil(t, stored.FinalScore)
			assert.InDelta(t, 0.72, *stored.FinalScore, 1e-9)
			assert.Equal(t, core.VerdictQuarantined, stored.Verdict)

			resolved, err := repo.ResolveCase(ctx, c.ID, "released by operator")
			require.NoError(t, err)
			assert.Equal(t, core.StatusResolved, resolved.Status)
			assert.Equal(t, "released by operator", resolved.Resolution)
		})
	}
}

func TestResolveUndecidedCaseFails(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			email, _, err := repo.SaveEmail(ctx, sampleEmail("<pending@example.org>"))
			require.NoError(t, err)
			c, err := repo.GetOrCreateCase(ctx, email.ID)
			require.NoError(t, err)

			_, err = repo.ResolveCase(ctx, c.ID, "too early")
			assert.ErrorIs(t, err, core.ErrInvalidTransition)
		})
	}
}

func TestCaseNumbersAreSequential(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var ids []string
			for _, mid := range []string{"<1@x>", "<2@x>", "<3@x>"} {
				email, _, err := repo.SaveEmail(ctx, sampleEmail(mid))
				require.NoError(t, err)
				ids = append(ids, email.ID)
			}

			var wg sync.WaitGroup
			numbers := make([]int64, len(ids))
			for i, id := range ids {
				wg.Add(1)
				go func(i int, id string) {
					defer wg.Done()
					c, err := repo.GetOrCreateCase(ctx, id)
					if assert.NoError(t, err) {
						numbers[i] = c.Number
					}
				}(i, id)
			}
			wg.Wait()

			assert.ElementsMatch(t, []int64{1, 2, 3}, numbers)
		})
	}
}

func TestSaveAnalysis(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			email, _, err := repo.SaveEmail(ctx, sampleEmail("<analysis@example.org>"))
			require.NoError(t, err)
			c, err := repo.GetOrCreateCase(ctx, email.ID)
			require.NoError(t, err)

			score := 0.5
			heuristic := &core.Analysis{
				CaseID:     c.ID,
				Stage:      core.StageHeuristic,
				Score:      &score,
				Confidence: 1,
				Metadata:   map[string]interface{}{"signals": 1},
				Evidence: []core.Evidence{{
					Type:        core.EvidenceSPF,
					Severity:    core.SeverityMedium,
					Description: "SPF fail",
					Data:        map[string]interface{}{"result": "fail"},
				}},
			}
			require.NoError(t, repo.SaveAnalysis(ctx, heuristic))
			assert.NotEmpty(t, heuristic.ID)
			assert.Equal(t, heuristic.ID, heuristic.Evidence[0].AnalysisID)

			dup := &core.Analysis{CaseID: c.ID, Stage: core.StageHeuristic, Score: &score}
			assert.ErrorIs(t, repo.SaveAnalysis(ctx, dup), core.ErrDuplicateAnalysis)

			require.NoError(t, repo.SaveAnalysis(ctx, &core.Analysis{CaseID: c.ID, Stage: core.StageML}))

			analyses, err := repo.ListAnalyses(ctx, c.ID)
			require.NoError(t, err)
			require.Len(t, analyses, 2)

			byStage := map[core.Stage]*core.Analysis{}
			for _, a := range analyses {
				byStage[a.Stage] = a
			}
			require.NotNil(t, byStage[core.StageHeuristic].Score)
			assert.InDelta(t, 0.5, *byStage[core.StageHeuristic].Score, 1e-9)
			require.Len(t, byStage[core.StageHeuristic].Evidence, 1)
			assert.Equal(t, core.EvidenceSPF, byStage[core.StageHeuristic].Evidence[0].Type)
			assert.Nil(t, byStage[core.StageML].Score)
		})
	}
}

func TestPolicyEntries(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, repo.AddPolicyEntry(ctx, &core.PolicyEntry{ListType: core.ListAllow, EntryType: core.EntryDomain, Value: "Partner.Example", Active: true}))
			require.NoError(t, repo.AddPolicyEntry(ctx, &core.PolicyEntry{ListType: core.ListBlock, EntryType: core.EntryDomain, Value: "evil.example", Active: true}))
			require.NoError(t, repo.AddPolicyEntry(ctx, &core.PolicyEntry{ListType: core.ListBlock, EntryType: core.EntryEmail, Value: "old@spam.example", Active: false}))

			allow, err := repo.ActiveEntries(ctx, core.ListAllow)
			require.NoError(t, err)
			assert.Equal(t, map[string]struct{}{"partner.example": {}}, allow)

			block, err := repo.ActiveEntries(ctx, core.ListBlock)
			require.NoError(t, err)
			assert.Equal(t, map[string]struct{}{"evil.example": {}}, block)

			// Re-adding an entry updates it in place.
			require.NoError(t, repo.AddPolicyEntry(ctx, &core.PolicyEntry{ListType: core.ListBlock, EntryType: core.EntryEmail, Value: "old@spam.example", Active: true}))
			block, err = repo.ActiveEntries(ctx, core.ListBlock)
			require.NoError(t, err)
			assert.Len(t, block, 2)
		})
	}
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", Postgres.rebind("a = ? AND b = ?"))
	assert.Equal(t, "a = ? AND b = ?", MySQL.rebind("a = ? AND b = ?"))
}

func TestDialectByName(t *testing.T) {
	for _, name := range []string{"sqlite", "mysql", "postgres", "postgresql"} {
		_, err := DialectByName(name)
		assert.NoError(t, err, name)
	}
	_, err := DialectByName("oracle")
	assert.Error(t, err)
}
