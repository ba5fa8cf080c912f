// Package config defines the daemon configuration: the model catalogue,
// budget and rate limits, loop bounds, firewall tuning, and the ambient
// logging and storage settings.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/corvidae-ai/warden/internal/logger"
	"github.com/corvidae-ai/warden/pkg/governor"
)

// Config is the root configuration document.
type Config struct {
	Models    []governor.ModelDescriptor `json:"models" mapstructure:"models"`
	Budget    BudgetConfig               `json:"budget" mapstructure:"budget"`
	Executor  ExecutorConfig             `json:"executor" mapstructure:"executor"`
	Firewall  FirewallConfig             `json:"firewall" mapstructure:"firewall"`
	Providers ProviderConfig             `json:"providers" mapstructure:"providers"`
	Storage   StorageConfig              `json:"storage" mapstructure:"storage"`
	Metrics   MetricsConfig              `json:"metrics" mapstructure:"metrics"`
	Logging   logger.Config              `json:"logging" mapstructure:"logging"`

	// WorkspacePath is the root the file tools operate under.
	WorkspacePath string `json:"workspace_path" mapstructure:"workspace_path"`
	// DataDir holds the ledger database, traces, and logs.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// BudgetConfig bounds spend and call rates.
type BudgetConfig struct {
	CapUSD        float64 `json:"cap_usd" mapstructure:"cap_usd"`
	RatePerMinute int     `json:"rate_per_minute" mapstructure:"rate_per_minute"`
}

// ExecutorConfig bounds the reasoning loop.
type ExecutorConfig struct {
	MaxSteps         int      `json:"max_steps" mapstructure:"max_steps"`
	WallClockSeconds int      `json:"wall_clock_seconds" mapstructure:"wall_clock_seconds"`
	ProtectedPaths   []string `json:"protected_paths,omitempty" mapstructure:"protected_paths"`
	TraceDir         string   `json:"trace_dir,omitempty" mapstructure:"trace_dir"`
}

// WallClock returns the wall-clock budget as a duration.
func (e ExecutorConfig) WallClock() time.Duration {
	return time.Duration(e.WallClockSeconds) * time.Second
}

// FirewallConfig tunes the output gate.
type FirewallConfig struct {
	ExtraPatterns []string `json:"extra_patterns,omitempty" mapstructure:"extra_patterns"`
	MaxTextLen    int      `json:"max_text_len,omitempty" mapstructure:"max_text_len"`
}

// ProviderConfig holds API credentials. Normally supplied through the
// environment (WARDEN_PROVIDERS_OPENAI_API_KEY and the Anthropic
// equivalent), not the config file.
type ProviderConfig struct {
	OpenAIAPIKey    string `json:"openai_api_key,omitempty" mapstructure:"openai_api_key"`
	AnthropicAPIKey string `json:"anthropic_api_key,omitempty" mapstructure:"anthropic_api_key"`
}

// StorageConfig locates the governance ledger.
type StorageConfig struct {
	DBPath             string `json:"db_path,omitempty" mapstructure:"db_path"`
	CompactionSchedule string `json:"compaction_schedule,omitempty" mapstructure:"compaction_schedule"`
	RetentionDays      int    `json:"retention_days,omitempty" mapstructure:"retention_days"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr,omitempty" mapstructure:"addr"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Models: []governor.ModelDescriptor{
			{ID: "claude-opus-4-1", Provider: "anthropic", InputPrice: governor.Price(15.0), OutputPrice: governor.Price(75.0), ContextWindow: 200_000},
			{ID: "claude-sonnet-4-5", Provider: "anthropic", InputPrice: governor.Price(3.0), OutputPrice: governor.Price(15.0), ContextWindow: 200_000},
			{ID: "gpt-4o", Provider: "openai", InputPrice: governor.Price(2.5), OutputPrice: governor.Price(10.0), ContextWindow: 128_000},
			{ID: "gpt-4o-mini", Provider: "openai", InputPrice: governor.Price(0.15), OutputPrice: governor.Price(0.6), ContextWindow: 128_000},
			{ID: "claude-haiku-3-5", Provider: "anthropic", InputPrice: governor.Price(0.08), OutputPrice: governor.Price(0.4), ContextWindow: 200_000},
		},
		Budget: BudgetConfig{
			CapUSD:        10.0,
			RatePerMinute: 30,
		},
		Executor: ExecutorConfig{
			MaxSteps:         15,
			WallClockSeconds: 120,
		},
		Storage: StorageConfig{
			CompactionSchedule: "0 3 * * *",
			RetentionDays:      30,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
		Logging: logger.DefaultConfig(),
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return errors.New("at least one model is required")
	}
	seen := map[string]bool{}
	for _, m := range c.Models {
		if m.ID == "" {
			return errors.New("model id is required")
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate model id %q", m.ID)
		}
		seen[m.ID] = true
		switch m.Provider {
		case "openai", "anthropic":
		default:
			return fmt.Errorf("model %s has unsupported provider %q", m.ID, m.Provider)
		}
	}

	if c.Budget.CapUSD <= 0 {
		return errors.New("budget cap must be positive")
	}
	if c.Budget.RatePerMinute < 0 {
		return errors.New("rate per minute must not be negative")
	}
	if c.Executor.MaxSteps < 0 || c.Executor.WallClockSeconds < 0 {
		return errors.New("executor bounds must not be negative")
	}
	return nil
}
