package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/billing/store"
)

func run(id string, started time.Time, fingerprint string) billing.Run {
	return billing.Run{
		ID:          id,
		Kind:        billing.RunInvoices,
		Fingerprint: fingerprint,
		StartedAt:   started,
		FinishedAt:  started.Add(time.Minute),
		Outcomes:    []billing.Outcome{{Unit: "Acme", Status: billing.OutcomeCreated}},
	}
}

func TestMemory_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	base := time.Date(2025, time.April, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, m.AppendRun(ctx, run("b", base.Add(time.Hour), "fp")))
	require.NoError(t, m.AppendRun(ctx, run("a", base, "fp")))
	require.NoError(t, m.AppendRun(ctx, run("c", base.Add(2*time.Hour), "other")))

	runs, err := m.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})

	limited, err := m.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	same, err := m.RunsByFingerprint(ctx, "fp")
	require.NoError(t, err)
	assert.Len(t, same, 2)

	got, err := m.LoadRun(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)
}

func TestMemory_AppendOnly(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	now := time.Now()

	require.NoError(t, m.AppendRun(ctx, run("a", now, "fp")))
	assert.Error(t, m.AppendRun(ctx, run("a", now, "fp")))

	_, err := m.LoadRun(ctx, "missing")
	assert.ErrorIs(t, err, billing.ErrRunNotFound)
}
