package store

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidae-ai/warden/pkg/breaker"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewMemory(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCircuitPersistence(t *testing.T) {
	t.Run("should round-trip circuit state", func(t *testing.T) {
		s := setupTestStore(t)

		want := breaker.CircuitState{
			FailureCount:   3,
			State:          breaker.StateOpen,
			LastTransition: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		}
		require.NoError(t, s.WriteCircuit("gpt-4o", want))

		got, ok, err := s.ReadCircuit("gpt-4o")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want.FailureCount, got.FailureCount)
		assert.Equal(t, want.State, got.State)
		assert.True(t, want.LastTransition.Equal(got.LastTransition))
	})

	t.Run("should report missing circuits without error", func(t *testing.T) {
		s := setupTestStore(t)

		_, ok, err := s.ReadCircuit("unknown-model")

		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("should overwrite existing state", func(t *testing.T) {
		s := setupTestStore(t)

		require.NoError(t, s.WriteCircuit("gpt-4o", breaker.CircuitState{
			FailureCount: 3, State: breaker.StateOpen, LastTransition: time.Now(),
		}))
		require.NoError(t, s.WriteCircuit("gpt-4o", breaker.CircuitState{
			FailureCount: 0, State: breaker.StateClosed, LastTransition: time.Now(),
		}))

		got, ok, err := s.ReadCircuit("gpt-4o")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, breaker.StateClosed, got.State)
		assert.Equal(t, 0, got.FailureCount)
	})
}

func TestCostLedger(t *testing.T) {
	t.Run("should accumulate total spend", func(t *testing.T) {
		s := setupTestStore(t)

		require.NoError(t, s.AppendCost(CostEntry{Model: "gpt-4o", Tier: "strong", CostUSD: 0.12}))
		require.NoError(t, s.AppendCost(CostEntry{Model: "gpt-4o-mini", Tier: "fast", CostUSD: 0.03}))

		total, err := s.TotalSpend()
		require.NoError(t, err)
		assert.InDelta(t, 0.15, total, 1e-9)
	})

	t.Run("should report zero spend on an empty ledger", func(t *testing.T) {
		s := setupTestStore(t)

		total, err := s.TotalSpend()

		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("should group spend by model", func(t *testing.T) {
		s := setupTestStore(t)

		require.NoError(t, s.AppendCost(CostEntry{Model: "gpt-4o", Tier: "strong", CostUSD: 0.10}))
		require.NoError(t, s.AppendCost(CostEntry{Model: "gpt-4o", Tier: "strong", CostUSD: 0.20}))
		require.NoError(t, s.AppendCost(CostEntry{Model: "claude-sonnet", Tier: "strong", CostUSD: 0.05}))

		totals, err := s.SpendByModel()
		require.NoError(t, err)
		assert.InDelta(t, 0.30, totals["gpt-4o"], 1e-9)
		assert.InDelta(t, 0.05, totals["claude-sonnet"], 1e-9)
	})

	t.Run("should list recent entries newest first", func(t *testing.T) {
		s := setupTestStore(t)

		base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.AppendCost(CostEntry{Model: "old", CostUSD: 0.01, RecordedAt: base}))
		require.NoError(t, s.AppendCost(CostEntry{Model: "new", CostUSD: 0.02, RecordedAt: base.Add(time.Hour)}))

		entries, err := s.RecentEntries(10)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "new", entries[0].Model)
	})
}

func TestCompact(t *testing.T) {
	t.Run("should preserve spend totals across compaction", func(t *testing.T) {
		s := setupTestStore(t)
		s.retention = 24 * time.Hour

		old := time.Now().UTC().Add(-48 * time.Hour)
		require.NoError(t, s.AppendCost(CostEntry{Model: "gpt-4o", Tier: "strong", CostUSD: 0.10, RecordedAt: old}))
		require.NoError(t, s.AppendCost(CostEntry{Model: "gpt-4o", Tier: "strong", CostUSD: 0.20, RecordedAt: old}))
		require.NoError(t, s.AppendCost(CostEntry{Model: "gpt-4o", Tier: "strong", CostUSD: 0.30}))

		rolled, err := s.Compact()
		require.NoError(t, err)
		assert.Equal(t, int64(2), rolled)

		total, err := s.TotalSpend()
		require.NoError(t, err)
		assert.InDelta(t, 0.60, total, 1e-9)
	})

	t.Run("should be a no-op on a fresh ledger", func(t *testing.T) {
		s := setupTestStore(t)

		require.NoError(t, s.AppendCost(CostEntry{Model: "gpt-4o", CostUSD: 0.10}))

		rolled, err := s.Compact()
		require.NoError(t, err)
		assert.Zero(t, rolled)
	})

	t.Run("should reject an invalid schedule", func(t *testing.T) {
		s := setupTestStore(t)

		assert.Error(t, s.StartCompaction("not a schedule"))
	})
}

func TestOpen(t *testing.T) {
	t.Run("should degrade to memory when the path is unusable", func(t *testing.T) {
		s := Open(Config{DBPath: "", Logger: zerolog.Nop()})
		defer s.Close()

		require.NoError(t, s.AppendCost(CostEntry{Model: "gpt-4o", CostUSD: 0.01}))
		total, err := s.TotalSpend()
		require.NoError(t, err)
		assert.InDelta(t, 0.01, total, 1e-9)
	})
}
