// Package executor drives the bounded reasoning loop: it selects a pattern
// for each run, iterates model calls and tool dispatch inside step and
// wall-clock budgets, and routes every model call through the governor and
// every outbound text through the firewall.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/corvidae-ai/warden/internal/observability"
	"github.com/corvidae-ai/warden/pkg/convergence"
	"github.com/corvidae-ai/warden/pkg/firewall"
	"github.com/corvidae-ai/warden/pkg/governor"
	"github.com/corvidae-ai/warden/pkg/llm"
	"github.com/corvidae-ai/warden/pkg/toolkit"
)

// Loop bounds.
const (
	DefaultMaxSteps  = 15
	DefaultWallClock = 120 * time.Second

	defaultModelAttempts = 3
	maxReflexionRounds   = 3
)

// DefaultProtectedPaths are write targets the tool gate always rejects.
var DefaultProtectedPaths = []string{
	"/etc", "/usr", "/bin", "/sbin", "/boot", "/dev", "/proc", "/sys",
	".git/", ".ssh",
}

// Truncation reasons carried on a successful but cut-short result.
const (
	TruncatedSteps = "step_limit_exceeded"
	TruncatedTime  = "time_limit_exceeded"
)

// Config tunes an Executor.
type Config struct {
	MaxSteps       int
	WallClock      time.Duration
	ModelAttempts  int
	ProtectedPaths []string
	TraceDir       string
	Logger         zerolog.Logger
}

// Executor owns no per-run state; one instance serves many runs.
type Executor struct {
	governor *governor.Governor
	mux      *llm.Mux
	firewall *firewall.Firewall
	registry *toolkit.Registry
	detector *convergence.Detector
	cfg      Config
}

// Result is the outcome of a completed run.
type Result struct {
	RunID            string  `json:"run_id"`
	Answer           string  `json:"answer"`
	Steps            int     `json:"steps"`
	Pattern          Pattern `json:"pattern"`
	Cost             float64 `json:"cost"`
	Truncated        bool    `json:"truncated,omitempty"`
	TruncationReason string  `json:"truncation_reason,omitempty"`
	NeedsReview      bool    `json:"needs_review,omitempty"`
}

// RunError is a fatal run failure. It always carries the trace length and
// elapsed time so a failure is never a bare "failed".
type RunError struct {
	Reason  string
	Steps   int
	Elapsed time.Duration
	Err     error
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("run failed (%s) after %d steps in %s", e.Reason, e.Steps, e.Elapsed.Round(time.Millisecond))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RunError) Unwrap() error { return e.Err }

// New creates an executor.
func New(gov *governor.Governor, mux *llm.Mux, fw *firewall.Firewall, registry *toolkit.Registry, cfg Config) (*Executor, error) {
	if gov == nil || mux == nil || registry == nil {
		return nil, errors.New("governor, model mux, and tool registry are required")
	}
	if fw == nil {
		fw = firewall.Default()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.WallClock <= 0 {
		cfg.WallClock = DefaultWallClock
	}
	if cfg.ModelAttempts <= 0 {
		cfg.ModelAttempts = defaultModelAttempts
	}
	if cfg.ProtectedPaths == nil {
		cfg.ProtectedPaths = DefaultProtectedPaths
	}

	return &Executor{
		governor: gov,
		mux:      mux,
		firewall: fw,
		registry: registry,
		detector: convergence.NewDetector(),
		cfg:      cfg,
	}, nil
}

// Run executes one task to completion. An empty override lets the pattern
// classifier decide. The wall-clock budget is enforced both cooperatively
// at step boundaries and as a context deadline on in-flight calls, so an
// oversized model call cannot overrun the limit.
func (e *Executor) Run(ctx context.Context, task Task, override Pattern) (*Result, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if override != "" && !override.Valid() {
		return nil, fmt.Errorf("unknown pattern %q", override)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.WallClock)
	defer cancel()

	tierBefore := e.governor.Tier()
	r := &run{
		e:     e,
		task:  task,
		trace: newTrace(uuid.NewString(), ""),
	}

	pattern := e.selectPatternTracked(ctx, r, override)
	r.trace.Pattern = pattern

	e.cfg.Logger.Info().
		Str("run_id", r.trace.RunID).
		Str("pattern", string(pattern)).
		Msg("Starting run")

	var result *Result
	var err error
	switch pattern {
	case PatternDirect:
		result, err = r.runDirect(ctx)
	case PatternPreAct:
		result, err = r.runPreAct(ctx)
	case PatternRewoo:
		result, err = r.runRewoo(ctx)
	case PatternReflexion:
		result, err = r.runReflexion(ctx)
	default:
		result, err = r.runReact(ctx)
	}

	r.trace.persist(e.cfg.TraceDir, e.cfg.Logger)

	if err != nil {
		e.cfg.Logger.Error().Err(err).Str("run_id", r.trace.RunID).Msg("Run failed")
		return nil, err
	}

	result.RunID = r.trace.RunID
	result.Pattern = pattern
	result.Cost = r.cost
	if tierAfter := e.governor.Tier(); tierAfter != tierBefore {
		observability.RecordBudgetAudit(r.trace.RunID, "tier_downgrade", e.governor.BudgetRemaining())
	}
	e.cfg.Logger.Info().
		Str("run_id", r.trace.RunID).
		Int("steps", result.Steps).
		Float64("cost", result.Cost).
		Bool("truncated", result.Truncated).
		Msg("Run finished")
	return result, nil
}

// selectPatternTracked routes the classifier call through the run so its
// cost lands on the run's total.
func (e *Executor) selectPatternTracked(ctx context.Context, r *run, override Pattern) Pattern {
	if override != "" {
		return override
	}
	completion, err := r.complete(ctx, []llm.Message{
		{Role: "user", Content: classifierPrompt + r.task.Text},
	})
	if err == nil {
		candidate := Pattern(strings.ToLower(strings.TrimSpace(completion.Content)))
		if candidate.Valid() {
			return candidate
		}
	}
	return heuristicPattern(r.task.Text)
}

// run is the per-run state: the trace and the accumulated cost.
type run struct {
	e     *Executor
	task  Task
	trace *Trace
	cost  float64

	// critique carries the previous round's self-critique in reflexion
	// runs; empty otherwise.
	critique string
}

// complete makes one governed model call: pick a model in the current
// affordability tier, record the call in the rate window, invoke, and
// account the cost. Transient provider failures trip the model's circuit
// and retry on the next eligible model.
func (r *run) complete(ctx context.Context, messages []llm.Message) (*llm.Completion, error) {
	var lastErr error
	var tried []string

	for attempt := 0; attempt < r.e.cfg.ModelAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		model, err := r.e.governor.PickAvailable(r.e.governor.Tier(), tried...)
		if err != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("%w (last provider error: %v)", err, lastErr)
			}
			return nil, err
		}
		if !r.e.governor.Admit(model.ID) {
			lastErr = fmt.Errorf("model %s rate window saturated", model.ID)
			tried = append(tried, model.ID)
			continue
		}

		client, err := r.e.mux.Client(model.Provider)
		if err != nil {
			return nil, err
		}

		completion, err := client.Complete(ctx, llm.Request{Model: model.ID, Messages: messages})
		if err != nil {
			r.e.governor.Trip(model.ID)
			lastErr = err
			if llm.IsRetryable(err) {
				tried = append(tried, model.ID)
				continue
			}
			return nil, err
		}

		r.e.governor.Reset(model.ID)
		cost, err := r.e.governor.RecordCost(model.ID, completion.InputTokens, completion.OutputTokens)
		if err != nil {
			r.e.cfg.Logger.Warn().Err(err).Str("model", model.ID).Msg("Cost accounting failed")
		}
		r.cost += cost
		return completion, nil
	}

	return nil, lastErr
}

// dispatch runs one action through the tool gate, the registry, and the
// firewall, and returns the observation text. Blocks and tool errors are
// observations, never run failures.
func (r *run) dispatch(ctx context.Context, name string, args map[string]interface{}) string {
	tool, ok := r.e.registry.Get(name)
	if !ok {
		return fmt.Sprintf("unknown tool: %s", name)
	}

	if tool.SideEffects {
		if path := r.protectedPathIn(args); path != "" {
			observability.RecordFirewallBlock("protected_path")
			observability.RecordFirewallAudit(r.trace.RunID, "protected path "+path, "blocked")
			return fmt.Sprintf("blocked: protected path %s", path)
		}
		if reason := firewall.MatchDangerous(renderArgs(name, args)); reason != "" {
			observability.RecordFirewallBlock("dangerous_command")
			observability.RecordFirewallAudit(r.trace.RunID, reason, "blocked")
			return fmt.Sprintf("blocked: dangerous construct (%s)", reason)
		}
	}

	observation, err := r.e.registry.Invoke(ctx, name, args)
	outcome := r.e.firewall.Sanitize(firewall.Outcome{Text: observation, Err: err})
	if outcome.Err != nil {
		if err == nil {
			// The tool succeeded; the firewall rejected its output.
			observability.RecordFirewallBlock("tool_output")
			observability.RecordFirewallAudit(r.trace.RunID, outcome.Err.Error(), "blocked")
		}
		return fmt.Sprintf("error: %s", outcome.Err)
	}
	return outcome.Text
}

// protectedPathIn scans path-like arguments and the command line for
// protected write targets.
func (r *run) protectedPathIn(args map[string]interface{}) string {
	candidates := []string{}
	for _, key := range []string{"path", "cwd"} {
		if v, ok := args[key].(string); ok && v != "" {
			candidates = append(candidates, v)
		}
	}
	if v, ok := args["command"].(string); ok {
		candidates = append(candidates, strings.Fields(v)...)
	}

	for _, candidate := range candidates {
		for _, protected := range r.e.cfg.ProtectedPaths {
			if strings.HasPrefix(candidate, protected) || strings.Contains(candidate, protected) {
				return candidate
			}
		}
	}
	return ""
}

func renderArgs(name string, args map[string]interface{}) string {
	encoded, err := json.Marshal(args)
	if err != nil {
		return name
	}
	return name + " " + string(encoded)
}

// checkBudgets reports the truncation reason when a step budget is spent.
func (r *run) checkBudgets(ctx context.Context) string {
	if len(r.trace.Steps) >= r.e.cfg.MaxSteps {
		return TruncatedSteps
	}
	if ctx.Err() != nil || r.trace.elapsed() >= r.e.cfg.WallClock {
		return TruncatedTime
	}
	return ""
}

// truncatedResult terminates a run that ran out of budget with the best
// partial answer.
func (r *run) truncatedResult(reason string) *Result {
	return &Result{
		Answer:           r.trace.lastObservation(),
		Steps:            len(r.trace.Steps),
		Truncated:        true,
		TruncationReason: reason,
	}
}

// fatal wraps a fatal error with trace context.
func (r *run) fatal(reason string, err error) error {
	return &RunError{
		Reason:  reason,
		Steps:   len(r.trace.Steps),
		Elapsed: r.trace.elapsed(),
		Err:     err,
	}
}

// fatalReason classifies a model-path failure for the run error.
func fatalReason(err error) string {
	if errors.Is(err, governor.ErrNoModelAvailable) {
		return "model_unavailable"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "time_limit_exceeded"
	}
	return "model_error"
}
