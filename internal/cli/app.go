package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/corvidae-ai/warden/internal/config"
	"github.com/corvidae-ai/warden/internal/logger"
	"github.com/corvidae-ai/warden/internal/observability"
	"github.com/corvidae-ai/warden/pkg/breaker"
	"github.com/corvidae-ai/warden/pkg/executor"
	"github.com/corvidae-ai/warden/pkg/firewall"
	"github.com/corvidae-ai/warden/pkg/governor"
	"github.com/corvidae-ai/warden/pkg/llm"
	"github.com/corvidae-ai/warden/pkg/sandbox"
	"github.com/corvidae-ai/warden/pkg/store"
	"github.com/corvidae-ai/warden/pkg/toolkit"
)

// runtime holds the assembled component graph for one CLI invocation.
type runtime struct {
	cfg      *config.Config
	log      *logger.Logger
	store    *store.Store
	governor *governor.Governor
	executor *executor.Executor

	watcher    *config.Watcher
	metricsSrv *http.Server
}

// newRuntime loads configuration and wires store, breaker, governor,
// providers, firewall, tools, and executor together.
func newRuntime() (*runtime, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zl := log.Zerolog()

	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
		zl.Warn().Err(err).Msg("Audit log unavailable, events go to stderr")
	}

	st := store.Open(store.Config{
		DBPath:    cfg.Storage.DBPath,
		Retention: time.Duration(cfg.Storage.RetentionDays) * 24 * time.Hour,
		Logger:    zl,
	})
	if cfg.Storage.CompactionSchedule != "" {
		if err := st.StartCompaction(cfg.Storage.CompactionSchedule); err != nil {
			zl.Warn().Err(err).Msg("Ledger compaction disabled")
		}
	}

	brk := breaker.New(breaker.Config{
		RatePerMinute: cfg.Budget.RatePerMinute,
		Persister:     st,
		Logger:        zl,
	})

	gov, err := governor.New(governor.Config{
		Models:    cfg.Models,
		BudgetCap: cfg.Budget.CapUSD,
		Breaker:   brk,
		Ledger:    st,
		Logger:    zl,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	mux := llm.NewMux(providerClients(cfg)...)

	fw, err := firewall.New(firewall.Config{
		ExtraPatterns: cfg.Firewall.ExtraPatterns,
		MaxTextLen:    cfg.Firewall.MaxTextLen,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	registry := toolkit.NewRegistry(zl)
	sb := sandbox.New(sandbox.Config{
		AllowedPaths: []string{cfg.WorkspacePath},
		Logger:       zl,
	})
	err = toolkit.RegisterCoreTools(registry, toolkit.Options{
		WorkspaceRoot: cfg.WorkspacePath,
		Sandbox:       sb,
		Delegate:      delegateThrough(gov, mux, zl),
		Governor:      gov,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	exec, err := executor.New(gov, mux, fw, registry, executor.Config{
		MaxSteps:       cfg.Executor.MaxSteps,
		WallClock:      cfg.Executor.WallClock(),
		ProtectedPaths: cfg.Executor.ProtectedPaths,
		TraceDir:       cfg.Executor.TraceDir,
		Logger:         zl,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		log:      log,
		store:    st,
		governor: gov,
		executor: exec,
	}

	// Catalogue edits take effect mid-run; budget caps and loop bounds
	// stay fixed for the life of the process.
	rt.watcher, err = config.Watch(loader, zl, func(next *config.Config) {
		if err := gov.SetModels(next.Models); err != nil {
			zl.Warn().Err(err).Msg("Rejected reloaded model catalogue")
		}
	})
	if err != nil {
		zl.Warn().Err(err).Msg("Config watching disabled")
	}

	if cfg.Metrics.Enabled {
		rt.metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: observability.MetricsHandler()}
		go func() {
			if err := rt.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				zl.Warn().Err(err).Msg("Metrics endpoint stopped")
			}
		}()
	}

	return rt, nil
}

func (r *runtime) close() {
	if r.watcher != nil {
		r.watcher.Stop()
	}
	if r.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		r.metricsSrv.Shutdown(ctx)
		cancel()
	}
	if r.store != nil {
		r.store.Close()
	}
	if r.log != nil {
		r.log.Close()
	}
}

// providerClients builds one client per configured credential. A missing
// key simply leaves that provider out of the mux.
func providerClients(cfg *config.Config) []llm.Client {
	var clients []llm.Client
	if cfg.Providers.OpenAIAPIKey != "" {
		clients = append(clients, llm.NewOpenAIClient(cfg.Providers.OpenAIAPIKey))
	}
	if cfg.Providers.AnthropicAPIKey != "" {
		clients = append(clients, llm.NewAnthropicClient(cfg.Providers.AnthropicAPIKey))
	}
	return clients
}

// delegateThrough routes tool-initiated model calls through the governor,
// so nested calls stay inside the budget and circuit rules.
func delegateThrough(gov *governor.Governor, mux *llm.Mux, zl zerolog.Logger) toolkit.DelegateFunc {
	return func(ctx context.Context, prompt string) (string, error) {
		model, err := gov.PickAvailable(gov.Tier())
		if err != nil {
			return "", err
		}
		if !gov.Admit(model.ID) {
			return "", fmt.Errorf("model %s is rate limited", model.ID)
		}

		client, err := mux.Client(model.Provider)
		if err != nil {
			return "", err
		}

		completion, err := client.Complete(ctx, llm.Request{
			Model:    model.ID,
			Messages: []llm.Message{{Role: "user", Content: prompt}},
		})
		if err != nil {
			gov.Trip(model.ID)
			return "", err
		}
		gov.Reset(model.ID)

		if _, err := gov.RecordCost(model.ID, completion.InputTokens, completion.OutputTokens); err != nil {
			zl.Warn().Err(err).Str("model", model.ID).Msg("Cost recording failed")
		}
		return completion.Content, nil
	}
}
