package governor

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidae-ai/warden/pkg/breaker"
	"github.com/corvidae-ai/warden/pkg/store"
)

func testCatalogue() []ModelDescriptor {
	return []ModelDescriptor{
		{ID: "opus", Provider: "anthropic", InputPrice: Price(15.0), OutputPrice: Price(75.0)},
		{ID: "gpt-4o", Provider: "openai", InputPrice: Price(2.5), OutputPrice: Price(10.0)},
		{ID: "sonnet", Provider: "anthropic", InputPrice: Price(3.0), OutputPrice: Price(15.0)},
		{ID: "gpt-4o-mini", Provider: "openai", InputPrice: Price(0.15), OutputPrice: Price(0.6)},
		{ID: "haiku", Provider: "anthropic", InputPrice: Price(0.08), OutputPrice: Price(0.3)},
	}
}

func setupTestGovernor(t *testing.T, cap float64) *Governor {
	t.Helper()
	g, err := New(Config{
		Models:    testCatalogue(),
		BudgetCap: cap,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return g
}

func TestClassifyTier(t *testing.T) {
	t.Run("should classify by input price thresholds", func(t *testing.T) {
		cases := []struct {
			price *float64
			want  Tier
		}{
			{Price(15.0), TierPremium},
			{Price(10.0), TierPremium},
			{Price(5.0), TierStrong},
			{Price(2.0), TierStrong},
			{Price(0.5), TierFast},
			{Price(0.1), TierFast},
			{Price(0.01), TierCheap},
			{nil, TierCheap},
		}
		for _, tc := range cases {
			got := ClassifyTier(ModelDescriptor{ID: "m", InputPrice: tc.price})
			assert.Equal(t, tc.want, got)
		}
	})
}

func TestTier(t *testing.T) {
	t.Run("should report strong on a full budget", func(t *testing.T) {
		g := setupTestGovernor(t, 10.0)

		assert.Equal(t, TierStrong, g.Tier())
	})

	t.Run("should degrade to fast then cheap as spend grows", func(t *testing.T) {
		g := setupTestGovernor(t, 10.0)

		_, err := g.RecordCost("opus", 400_000, 0) // 6.00 USD
		require.NoError(t, err)
		assert.Equal(t, TierFast, g.Tier())

		_, err = g.RecordCost("opus", 200_000, 0) // 3.00 USD
		require.NoError(t, err)
		assert.Equal(t, TierCheap, g.Tier())
	})
}

func TestPick(t *testing.T) {
	t.Run("should pick the first model in the tier", func(t *testing.T) {
		g := setupTestGovernor(t, 10.0)

		m, ok := g.Pick(TierStrong)

		require.True(t, ok)
		assert.Equal(t, "gpt-4o", m.ID)
	})

	t.Run("should skip models with open circuits", func(t *testing.T) {
		g := setupTestGovernor(t, 10.0)
		for i := 0; i < 3; i++ {
			g.Trip("gpt-4o")
		}

		m, ok := g.Pick(TierStrong)

		require.True(t, ok)
		assert.Equal(t, "sonnet", m.ID)
	})

	t.Run("should fall through to lower tiers", func(t *testing.T) {
		g := setupTestGovernor(t, 10.0)
		for _, id := range []string{"gpt-4o", "sonnet"} {
			for i := 0; i < 3; i++ {
				g.Trip(id)
			}
		}

		m, err := g.PickAvailable(TierStrong)

		require.NoError(t, err)
		assert.Equal(t, "gpt-4o-mini", m.ID)
	})

	t.Run("should never fall back upward to premium", func(t *testing.T) {
		g := setupTestGovernor(t, 10.0)
		for _, id := range []string{"gpt-4o", "sonnet", "gpt-4o-mini", "haiku"} {
			for i := 0; i < 3; i++ {
				g.Trip(id)
			}
		}

		_, err := g.PickAvailable(TierStrong)

		assert.ErrorIs(t, err, ErrNoModelAvailable)
		assert.True(t, g.CircuitClosed("opus"))
	})

	t.Run("should pick from a replaced catalogue", func(t *testing.T) {
		g := setupTestGovernor(t, 10.0)

		err := g.SetModels([]ModelDescriptor{
			{ID: "sonnet-next", Provider: "anthropic", InputPrice: Price(3.0), OutputPrice: Price(15.0)},
		})
		require.NoError(t, err)

		m, ok := g.Pick(TierStrong)
		require.True(t, ok)
		assert.Equal(t, "sonnet-next", m.ID)

		_, err = g.Model("gpt-4o")
		assert.Error(t, err)
	})

	t.Run("should reject an empty replacement catalogue", func(t *testing.T) {
		g := setupTestGovernor(t, 10.0)

		require.Error(t, g.SetModels(nil))

		m, ok := g.Pick(TierStrong)
		require.True(t, ok)
		assert.Equal(t, "gpt-4o", m.ID)
	})

	t.Run("should skip rate-saturated models", func(t *testing.T) {
		b := breaker.New(breaker.Config{RatePerMinute: 1, Logger: zerolog.Nop()})
		g, err := New(Config{
			Models:    testCatalogue(),
			BudgetCap: 10.0,
			Breaker:   b,
			Logger:    zerolog.Nop(),
		})
		require.NoError(t, err)

		require.True(t, g.Admit("gpt-4o"))

		m, ok := g.Pick(TierStrong)
		require.True(t, ok)
		assert.Equal(t, "sonnet", m.ID)
	})
}

func TestRecordCost(t *testing.T) {
	t.Run("should compute cost from per-token prices", func(t *testing.T) {
		g := setupTestGovernor(t, 10.0)

		cost, err := g.RecordCost("gpt-4o", 10_000, 2_000)

		require.NoError(t, err)
		assert.InDelta(t, 0.045, cost, 1e-9) // 10k*2.5/1M + 2k*10/1M
		assert.InDelta(t, 9.955, g.BudgetRemaining(), 1e-9)
	})

	t.Run("should treat missing prices as free", func(t *testing.T) {
		g, err := New(Config{
			Models:    []ModelDescriptor{{ID: "local", Provider: "openai"}},
			BudgetCap: 10.0,
			Logger:    zerolog.Nop(),
		})
		require.NoError(t, err)

		cost, err := g.RecordCost("local", 1_000_000, 1_000_000)

		require.NoError(t, err)
		assert.Zero(t, cost)
	})

	t.Run("should reject unknown models", func(t *testing.T) {
		g := setupTestGovernor(t, 10.0)

		_, err := g.RecordCost("nonexistent", 100, 100)

		assert.Error(t, err)
	})

	t.Run("should allow spend to pass the cap", func(t *testing.T) {
		g := setupTestGovernor(t, 0.01)

		_, err := g.RecordCost("opus", 100_000, 0) // 1.50 USD

		require.NoError(t, err)
		assert.Less(t, g.BudgetRemaining(), 0.0)
		assert.Equal(t, TierCheap, g.Tier())
	})
}

func TestLedgerIntegration(t *testing.T) {
	t.Run("should seed spend from the ledger", func(t *testing.T) {
		s, err := store.NewMemory(zerolog.Nop())
		require.NoError(t, err)
		defer s.Close()
		require.NoError(t, s.AppendCost(store.CostEntry{Model: "gpt-4o", CostUSD: 4.0}))

		g, err := New(Config{
			Models:    testCatalogue(),
			BudgetCap: 10.0,
			Ledger:    s,
			Logger:    zerolog.Nop(),
		})
		require.NoError(t, err)

		assert.InDelta(t, 6.0, g.BudgetRemaining(), 1e-9)
	})

	t.Run("should append charges to the ledger", func(t *testing.T) {
		s, err := store.NewMemory(zerolog.Nop())
		require.NoError(t, err)
		defer s.Close()

		g, err := New(Config{
			Models:    testCatalogue(),
			BudgetCap: 10.0,
			Ledger:    s,
			Logger:    zerolog.Nop(),
		})
		require.NoError(t, err)

		_, err = g.RecordCost("sonnet", 100_000, 10_000)
		require.NoError(t, err)

		total, err := s.TotalSpend()
		require.NoError(t, err)
		assert.InDelta(t, 0.45, total, 1e-9)
	})

	t.Run("should keep working when the ledger fails", func(t *testing.T) {
		g, err := New(Config{
			Models:    testCatalogue(),
			BudgetCap: 10.0,
			Ledger:    failingLedger{},
			Logger:    zerolog.Nop(),
		})
		require.NoError(t, err)

		cost, err := g.RecordCost("gpt-4o", 10_000, 0)

		require.NoError(t, err)
		assert.InDelta(t, 0.025, cost, 1e-9)
		assert.InDelta(t, 9.975, g.BudgetRemaining(), 1e-9)
	})
}

type failingLedger struct{}

func (failingLedger) TotalSpend() (float64, error)     { return 0, errors.New("store offline") }
func (failingLedger) AppendCost(store.CostEntry) error { return errors.New("store offline") }
