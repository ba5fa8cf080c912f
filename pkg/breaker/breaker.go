// Package breaker gates outbound model calls with a per-model circuit
// breaker and a sliding-window rate limiter. Both share the model-id key
// space. State is process-wide and mutex-protected so concurrent runs can
// share one Breaker.
package breaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/corvidae-ai/warden/internal/observability"
)

// State is the lifecycle position of one model's circuit.
type State string

const (
	StateClosed State = "closed"
	StateOpen   State = "open"
)

// Default tuning. Three strikes opens a circuit for five minutes.
const (
	DefaultTripThreshold = 3
	DefaultCooldown      = 300 * time.Second
	DefaultRatePerMinute = 30
	rateWindow           = time.Minute
)

// CircuitState is the mutable record for one model.
type CircuitState struct {
	FailureCount   int       `json:"failure_count"`
	State          State     `json:"state"`
	LastTransition time.Time `json:"last_transition"`
}

// Persister mirrors circuit transitions to durable storage. Implementations
// may fail; the breaker then degrades to in-memory state rather than
// blocking calls.
type Persister interface {
	ReadCircuit(model string) (CircuitState, bool, error)
	WriteCircuit(model string, state CircuitState) error
}

// Config tunes a Breaker.
type Config struct {
	TripThreshold int
	Cooldown      time.Duration
	RatePerMinute int
	Persister     Persister
	Logger        zerolog.Logger
}

// Breaker tracks failures and call rates per model.
type Breaker struct {
	mu       sync.Mutex
	circuits map[string]*CircuitState
	windows  map[string][]time.Time

	tripThreshold int
	cooldown      time.Duration
	ratePerMinute int
	persister     Persister
	logger        zerolog.Logger

	// now is swappable in tests.
	now func() time.Time
}

// New creates a breaker with defaults applied for zero config values.
func New(cfg Config) *Breaker {
	if cfg.TripThreshold <= 0 {
		cfg.TripThreshold = DefaultTripThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = DefaultRatePerMinute
	}

	return &Breaker{
		circuits:      make(map[string]*CircuitState),
		windows:       make(map[string][]time.Time),
		tripThreshold: cfg.TripThreshold,
		cooldown:      cfg.Cooldown,
		ratePerMinute: cfg.RatePerMinute,
		persister:     cfg.Persister,
		logger:        cfg.Logger,
		now:           time.Now,
	}
}

// Run executes call under circuit accounting. A nil error resets the model's
// failure count; a non-nil error increments it and may open the circuit. The
// call's outcome is always propagated unchanged.
func (b *Breaker) Run(model string, call func() error) error {
	err := call()
	if err != nil {
		b.Trip(model)
		return err
	}
	b.Reset(model)
	return nil
}

// CircuitClosed reports whether calls may be routed to the model. An open
// circuit whose cool-down has elapsed reads as closed so the next call can
// probe it (half-open).
func (b *Breaker) CircuitClosed(model string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.circuit(model)
	if st.State == StateClosed {
		return true
	}
	return b.now().Sub(st.LastTransition) >= b.cooldown
}

// Trip records a failure. Crossing the threshold opens the circuit; a
// failure while already open restarts the cool-down timer.
func (b *Breaker) Trip(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.circuit(model)
	st.FailureCount++

	if st.State == StateOpen {
		// Failed probe: keep the circuit open and restart the timer.
		st.LastTransition = b.now()
	} else if st.FailureCount >= b.tripThreshold {
		st.State = StateOpen
		st.LastTransition = b.now()
		observability.SetCircuitOpen(model, true)
		b.logger.Warn().
			Str("model", model).
			Int("failures", st.FailureCount).
			Msg("Circuit opened")
	}

	b.persist(model, *st)
}

// Reset closes the circuit and clears the failure count.
func (b *Breaker) Reset(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.circuit(model)
	if st.State == StateOpen {
		observability.SetCircuitOpen(model, false)
		b.logger.Info().Str("model", model).Msg("Circuit closed")
	}
	st.FailureCount = 0
	st.State = StateClosed
	st.LastTransition = b.now()

	b.persist(model, *st)
}

// FailureCount returns the model's current consecutive failure count.
func (b *Breaker) FailureCount(model string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.circuit(model).FailureCount
}

// Saturated reports whether the model's rate window is full, without
// recording a call. Used during model selection.
func (b *Breaker) Saturated(model string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneLocked(model)
	return len(b.windows[model]) >= b.ratePerMinute
}

// Admit checks the rate window and, when below the cap, records the call
// timestamp. Returns false without recording when the window is full.
func (b *Breaker) Admit(model string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneLocked(model)
	if len(b.windows[model]) >= b.ratePerMinute {
		return false
	}
	b.windows[model] = append(b.windows[model], b.now())
	return true
}

// circuit returns the model's record, creating it lazily. A persisted row
// seeds the in-memory record on first reference. Caller holds the lock.
func (b *Breaker) circuit(model string) *CircuitState {
	if st, ok := b.circuits[model]; ok {
		return st
	}

	st := &CircuitState{State: StateClosed}
	if b.persister != nil {
		stored, ok, err := b.persister.ReadCircuit(model)
		if err != nil {
			// Fail open: a broken backend must never be worse than
			// having no breaker at all.
			b.logger.Warn().Err(err).Str("model", model).Msg("Circuit store read failed, using in-memory state")
		} else if ok {
			st = &stored
		}
	}
	b.circuits[model] = st
	return st
}

// persist mirrors a transition to storage. Caller holds the lock.
func (b *Breaker) persist(model string, st CircuitState) {
	if b.persister == nil {
		return
	}
	if err := b.persister.WriteCircuit(model, st); err != nil {
		b.logger.Warn().Err(err).Str("model", model).Msg("Circuit store write failed")
	}
}

// pruneLocked drops window entries older than one minute. Caller holds the
// lock.
func (b *Breaker) pruneLocked(model string) {
	cutoff := b.now().Add(-rateWindow)
	window := b.windows[model]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.windows[model] = kept
}
