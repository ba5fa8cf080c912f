// Package store persists governance state in SQLite: circuit breaker
// transitions and the cost ledger the budget is computed from. When the
// database cannot be opened the store degrades to an in-memory database so
// runs keep working without durability.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/corvidae-ai/warden/pkg/breaker"
)

// DefaultRetention is how long individual ledger rows are kept before
// compaction rolls them up into per-model aggregates.
const DefaultRetention = 30 * 24 * time.Hour

// CostEntry is one recorded model call.
type CostEntry struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Tier         string    `json:"tier"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Config holds store configuration.
type Config struct {
	DBPath    string
	Retention time.Duration
	Logger    zerolog.Logger
}

// Store is a SQLite-backed ledger and circuit state mirror.
type Store struct {
	db        *sql.DB
	retention time.Duration
	logger    zerolog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// New opens the database at cfg.DBPath and initializes the schema.
func New(cfg Config) (*Store, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	return open(cfg.DBPath, cfg)
}

// NewMemory returns a store backed by an in-memory database. Used as the
// degraded mode when the on-disk database is unavailable, and in tests.
func NewMemory(logger zerolog.Logger) (*Store, error) {
	return open(":memory:", Config{Logger: logger})
}

// Open tries the on-disk database and degrades to memory on failure. The
// degraded store works normally but loses state on process exit.
func Open(cfg Config) *Store {
	s, err := New(cfg)
	if err == nil {
		return s
	}
	cfg.Logger.Warn().Err(err).Str("path", cfg.DBPath).
		Msg("Ledger database unavailable, degrading to in-memory store")

	s, err = NewMemory(cfg.Logger)
	if err != nil {
		// sqlite :memory: open only fails when the driver itself is
		// broken; there is no further fallback.
		panic(fmt.Sprintf("open in-memory store: %v", err))
	}
	return s
}

func open(path string, cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL improves concurrency for the on-disk case and is a no-op for
	// :memory: databases.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}

	s := &Store{
		db:        db,
		retention: retention,
		logger:    cfg.Logger,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS circuit_states (
			model TEXT PRIMARY KEY,
			failure_count INTEGER NOT NULL,
			state TEXT NOT NULL,
			last_transition TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS cost_ledger (
			id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			tier TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			cost_usd REAL NOT NULL,
			recorded_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_cost_ledger_model ON cost_ledger(model);
		CREATE INDEX IF NOT EXISTS idx_cost_ledger_recorded ON cost_ledger(recorded_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// ReadCircuit implements breaker.Persister.
func (s *Store) ReadCircuit(model string) (breaker.CircuitState, bool, error) {
	var st breaker.CircuitState
	var state string
	err := s.db.QueryRow(
		`SELECT failure_count, state, last_transition FROM circuit_states WHERE model = ?`,
		model,
	).Scan(&st.FailureCount, &state, &st.LastTransition)
	if errors.Is(err, sql.ErrNoRows) {
		return breaker.CircuitState{}, false, nil
	}
	if err != nil {
		return breaker.CircuitState{}, false, fmt.Errorf("failed to read circuit state: %w", err)
	}
	st.State = breaker.State(state)
	return st, true, nil
}

// WriteCircuit implements breaker.Persister.
func (s *Store) WriteCircuit(model string, st breaker.CircuitState) error {
	_, err := s.db.Exec(
		`INSERT INTO circuit_states (model, failure_count, state, last_transition)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(model) DO UPDATE SET
			failure_count = excluded.failure_count,
			state = excluded.state,
			last_transition = excluded.last_transition`,
		model, st.FailureCount, string(st.State), st.LastTransition,
	)
	if err != nil {
		return fmt.Errorf("failed to write circuit state: %w", err)
	}
	return nil
}

// AppendCost records one model call in the ledger. A missing ID or
// timestamp is filled in.
func (s *Store) AppendCost(entry CostEntry) error {
	if entry.ID == "" {
		entry.ID = gonanoid.Must()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT INTO cost_ledger (id, model, tier, input_tokens, output_tokens, cost_usd, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Model, entry.Tier, entry.InputTokens, entry.OutputTokens, entry.CostUSD, entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append cost entry: %w", err)
	}
	return nil
}

// TotalSpend returns the sum of all ledger entries in USD.
func (s *Store) TotalSpend() (float64, error) {
	var total float64
	err := s.db.QueryRow(`SELECT COALESCE(SUM(cost_usd), 0) FROM cost_ledger`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to read total spend: %w", err)
	}
	return total, nil
}

// SpendByModel returns per-model spend totals in USD.
func (s *Store) SpendByModel() (map[string]float64, error) {
	rows, err := s.db.Query(`SELECT model, SUM(cost_usd) FROM cost_ledger GROUP BY model`)
	if err != nil {
		return nil, fmt.Errorf("failed to read spend by model: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]float64)
	for rows.Next() {
		var model string
		var spend float64
		if err := rows.Scan(&model, &spend); err != nil {
			return nil, fmt.Errorf("failed to scan spend row: %w", err)
		}
		totals[model] = spend
	}
	return totals, rows.Err()
}

// RecentEntries returns the newest ledger entries, most recent first.
func (s *Store) RecentEntries(limit int) ([]CostEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, model, tier, input_tokens, output_tokens, cost_usd, recorded_at
		 FROM cost_ledger ORDER BY recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []CostEntry
	for rows.Next() {
		var e CostEntry
		if err := rows.Scan(&e.ID, &e.Model, &e.Tier, &e.InputTokens, &e.OutputTokens, &e.CostUSD, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Compact rolls ledger rows older than the retention window up into one
// aggregate row per model. Spend totals are preserved exactly; only
// per-call granularity is lost. Returns the number of rows rolled up.
func (s *Store) Compact() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-s.retention)

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin compaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT model, tier, SUM(input_tokens), SUM(output_tokens), SUM(cost_usd), COUNT(*)
		 FROM cost_ledger WHERE recorded_at < ? GROUP BY model, tier`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate old entries: %w", err)
	}

	type rollup struct {
		entry CostEntry
		count int64
	}
	var rollups []rollup
	for rows.Next() {
		var r rollup
		if err := rows.Scan(&r.entry.Model, &r.entry.Tier, &r.entry.InputTokens,
			&r.entry.OutputTokens, &r.entry.CostUSD, &r.count); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan aggregate row: %w", err)
		}
		rollups = append(rollups, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(rollups) == 0 {
		return 0, nil
	}

	res, err := tx.Exec(`DELETE FROM cost_ledger WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old entries: %w", err)
	}
	deleted, _ := res.RowsAffected()

	for _, r := range rollups {
		_, err := tx.Exec(
			`INSERT INTO cost_ledger (id, model, tier, input_tokens, output_tokens, cost_usd, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			gonanoid.Must(), r.entry.Model, r.entry.Tier,
			r.entry.InputTokens, r.entry.OutputTokens, r.entry.CostUSD, cutoff)
		if err != nil {
			return 0, fmt.Errorf("failed to write rollup row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit compaction: %w", err)
	}

	s.logger.Info().Int64("rows", deleted).Msg("Compacted cost ledger")
	return deleted, nil
}

// StartCompaction schedules periodic ledger compaction. The schedule uses
// standard cron syntax, e.g. "0 3 * * *" for daily at 03:00.
func (s *Store) StartCompaction(schedule string) error {
	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		return errors.New("compaction already started")
	}
	c := cron.New()
	s.cron = c
	s.mu.Unlock()

	_, err := c.AddFunc(schedule, func() {
		if _, err := s.Compact(); err != nil {
			s.logger.Error().Err(err).Msg("Ledger compaction failed")
		}
	})
	if err != nil {
		s.mu.Lock()
		s.cron = nil
		s.mu.Unlock()
		return fmt.Errorf("invalid compaction schedule %q: %w", schedule, err)
	}
	c.Start()
	return nil
}

// Close stops the compaction scheduler and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	s.mu.Unlock()
	return s.db.Close()
}
