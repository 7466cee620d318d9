//go:build integration

package quota_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/churchcast/reelforge/internal/quota"
	"github.com/churchcast/reelforge/internal/store"
)

// These tests exercise the Ledger against a real Postgres instance (spec §8
// "For every tenant, Σ(holds) + committed_decrements ≤ weekly_credits_allotment").
// Run with `go test -tags=integration` against a DATABASE_URL with the
// migrations applied.

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	s, err := store.New(url)
	require.NoError(t, err)
	return s
}

func TestHoldCommitReleaseLifecycle(t *testing.T) {
	s := openTestStore(t)
	ledger := quota.New(s)
	ctx := context.Background()

	tenantID := uuid.New()
	require.NoError(t, ledger.EnsureTenant(ctx, tenantID, 3))

	jobA, jobB, jobC, jobD := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, ledger.Hold(ctx, tenantID, jobA))
	require.NoError(t, ledger.Hold(ctx, tenantID, jobB))
	require.NoError(t, ledger.Hold(ctx, tenantID, jobC))

	// Exactly-at-quota submission succeeds; next fails (spec §8 boundary behavior).
	err := ledger.Hold(ctx, tenantID, jobD)
	require.ErrorIs(t, err, quota.ErrQuotaExceeded)

	remaining, err := ledger.Remaining(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, 0, remaining)

	// Cancelling jobA refunds its hold (spec §8 "cancelled one is refunded").
	require.NoError(t, ledger.Release(ctx, tenantID, jobA))
	remaining, err = ledger.Remaining(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, 1, remaining)

	// A fresh submission now succeeds, replacing jobA's slot.
	require.NoError(t, ledger.Hold(ctx, tenantID, jobD))

	// jobB succeeds: hold converts to a permanent commit.
	require.NoError(t, ledger.Commit(ctx, tenantID, jobB))
	remaining, err = ledger.Remaining(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, 0, remaining)

	// Releasing an already-committed or already-released hold is a no-op.
	require.NoError(t, ledger.Release(ctx, tenantID, jobB))
	require.NoError(t, ledger.Release(ctx, tenantID, jobA))
}
