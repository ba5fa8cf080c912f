// Package governor decides which model an agent run may call and accounts
// for what each call costs. It classifies the model catalogue into price
// tiers, tracks cumulative spend against a hard cap, and consults the
// circuit breaker before handing out a model.
package governor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/corvidae-ai/warden/pkg/breaker"
	"github.com/corvidae-ai/warden/pkg/store"
)

// ErrNoModelAvailable is returned when no tier yields an eligible model.
var ErrNoModelAvailable = errors.New("no model available")

// Budget ratio thresholds for the current affordability tier.
const (
	strongBudgetRatio = 0.5
	fastBudgetRatio   = 0.2
)

// ModelDescriptor describes one model in the catalogue. Prices are USD per
// million tokens; a nil price means unknown. Immutable after load.
type ModelDescriptor struct {
	ID            string   `json:"id" mapstructure:"id"`
	Provider      string   `json:"provider" mapstructure:"provider"`
	InputPrice    *float64 `json:"input_price,omitempty" mapstructure:"input_price"`
	OutputPrice   *float64 `json:"output_price,omitempty" mapstructure:"output_price"`
	ContextWindow int      `json:"context_window,omitempty" mapstructure:"context_window"`
}

// Tier returns the model's price tier.
func (m ModelDescriptor) Tier() Tier {
	return ClassifyTier(m)
}

// Price is a convenience for building descriptor literals.
func Price(v float64) *float64 {
	return &v
}

// Ledger is the durable side of budget accounting. *store.Store satisfies
// it; the governor degrades to in-memory totals when writes fail.
type Ledger interface {
	TotalSpend() (float64, error)
	AppendCost(entry store.CostEntry) error
}

// Config holds governor configuration.
type Config struct {
	Models    []ModelDescriptor
	BudgetCap float64
	Breaker   *breaker.Breaker
	Ledger    Ledger
	Logger    zerolog.Logger
}

// Governor owns process-wide budget state and model selection.
type Governor struct {
	mu     sync.Mutex
	spend  float64
	cap    float64
	models []ModelDescriptor

	breaker *breaker.Breaker
	ledger  Ledger
	logger  zerolog.Logger
}

// New creates a governor. Cumulative spend is seeded from the ledger so
// budget enforcement survives restarts; a failing ledger seeds zero.
func New(cfg Config) (*Governor, error) {
	if cfg.BudgetCap <= 0 {
		return nil, errors.New("budget cap must be positive")
	}
	if len(cfg.Models) == 0 {
		return nil, errors.New("model catalogue is empty")
	}
	if cfg.Breaker == nil {
		cfg.Breaker = breaker.New(breaker.Config{Logger: cfg.Logger})
	}

	g := &Governor{
		cap:     cfg.BudgetCap,
		models:  append([]ModelDescriptor(nil), cfg.Models...),
		breaker: cfg.Breaker,
		ledger:  cfg.Ledger,
		logger:  cfg.Logger,
	}

	if g.ledger != nil {
		total, err := g.ledger.TotalSpend()
		if err != nil {
			g.logger.Warn().Err(err).Msg("Ledger unavailable, seeding spend at zero")
		} else {
			g.spend = total
		}
	}
	return g, nil
}

// Tier returns the current affordability tier from the remaining budget
// ratio. Premium is never the default; it must be requested explicitly.
func (g *Governor) Tier() Tier {
	g.mu.Lock()
	defer g.mu.Unlock()

	ratio := (g.cap - g.spend) / g.cap
	switch {
	case ratio > strongBudgetRatio:
		return TierStrong
	case ratio > fastBudgetRatio:
		return TierFast
	default:
		return TierCheap
	}
}

// Pick returns the first eligible model in the requested tier: catalogue
// order, skipping open circuits, saturated rate windows, and explicitly
// excluded ids (models already tried during the current call). The second
// return is false when the tier has no eligible model.
func (g *Governor) Pick(tier Tier, exclude ...string) (ModelDescriptor, bool) {
	for _, m := range g.Models() {
		if ClassifyTier(m) != tier {
			continue
		}
		if contains(exclude, m.ID) {
			continue
		}
		if !g.breaker.CircuitClosed(m.ID) {
			continue
		}
		if g.breaker.Saturated(m.ID) {
			continue
		}
		return m, true
	}
	return ModelDescriptor{}, false
}

// PickAvailable tries the requested tier and walks down one tier at a time
// until a model is found. It never walks up: an exhausted budget must not
// drift onto premium models. Returns ErrNoModelAvailable when every tier
// from the requested one down is empty.
func (g *Governor) PickAvailable(tier Tier, exclude ...string) (ModelDescriptor, error) {
	for {
		if m, ok := g.Pick(tier, exclude...); ok {
			return m, nil
		}
		below, ok := tier.Below()
		if !ok {
			return ModelDescriptor{}, ErrNoModelAvailable
		}
		tier = below
	}
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// RecordCost charges one call against the budget: cost is computed from the
// model's per-token prices, added to cumulative spend, and appended to the
// ledger. Returns the computed cost. The cap is not enforced here; it only
// informs tier selection, so a single large call may push spend past it.
func (g *Governor) RecordCost(modelID string, unitsIn, unitsOut int64) (float64, error) {
	m, err := g.Model(modelID)
	if err != nil {
		return 0, err
	}

	cost := 0.0
	if m.InputPrice != nil {
		cost += float64(unitsIn) * *m.InputPrice / 1e6
	}
	if m.OutputPrice != nil {
		cost += float64(unitsOut) * *m.OutputPrice / 1e6
	}

	g.mu.Lock()
	g.spend += cost
	remaining := g.cap - g.spend
	g.mu.Unlock()

	if g.ledger != nil {
		err := g.ledger.AppendCost(store.CostEntry{
			Model:        modelID,
			Tier:         string(ClassifyTier(m)),
			InputTokens:  unitsIn,
			OutputTokens: unitsOut,
			CostUSD:      cost,
		})
		if err != nil {
			// In-memory total stays authoritative for this process.
			g.logger.Warn().Err(err).Str("model", modelID).Msg("Ledger write failed")
		}
	}

	g.logger.Debug().
		Str("model", modelID).
		Float64("cost", cost).
		Float64("remaining", remaining).
		Msg("Recorded call cost")
	return cost, nil
}

// BudgetRemaining returns cap minus cumulative spend. May be transiently
// negative after a call whose cost exceeded the last known remainder.
func (g *Governor) BudgetRemaining() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cap - g.spend
}

// BudgetCap returns the fixed spending cap.
func (g *Governor) BudgetCap() float64 {
	return g.cap
}

// Spend returns cumulative spend.
func (g *Governor) Spend() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spend
}

// Model looks a descriptor up by id.
func (g *Governor) Model(id string) (ModelDescriptor, error) {
	for _, m := range g.Models() {
		if m.ID == id {
			return m, nil
		}
	}
	return ModelDescriptor{}, fmt.Errorf("unknown model %q", id)
}

// Models returns the catalogue in preference order.
func (g *Governor) Models() []ModelDescriptor {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ModelDescriptor(nil), g.models...)
}

// SetModels replaces the catalogue, typically after a config reload. Spend,
// circuit state, and rate windows are untouched; entries for models no
// longer listed simply stop being picked.
func (g *Governor) SetModels(models []ModelDescriptor) error {
	if len(models) == 0 {
		return errors.New("model catalogue is empty")
	}

	g.mu.Lock()
	g.models = append([]ModelDescriptor(nil), models...)
	g.mu.Unlock()

	g.logger.Info().Int("models", len(models)).Msg("Model catalogue replaced")
	return nil
}

// CircuitClosed delegates to the breaker.
func (g *Governor) CircuitClosed(modelID string) bool {
	return g.breaker.CircuitClosed(modelID)
}

// Trip delegates to the breaker.
func (g *Governor) Trip(modelID string) {
	g.breaker.Trip(modelID)
}

// Reset delegates to the breaker.
func (g *Governor) Reset(modelID string) {
	g.breaker.Reset(modelID)
}

// Admit delegates to the breaker's rate window.
func (g *Governor) Admit(modelID string) bool {
	return g.breaker.Admit(modelID)
}
