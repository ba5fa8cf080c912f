package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidae-ai/warden/internal/observability"
	"github.com/corvidae-ai/warden/pkg/firewall"
	"github.com/corvidae-ai/warden/pkg/governor"
	"github.com/corvidae-ai/warden/pkg/llm"
	"github.com/corvidae-ai/warden/pkg/sandbox"
	"github.com/corvidae-ai/warden/pkg/toolkit"
)

type fixture struct {
	executor *Executor
	governor *governor.Governor
	root     string
}

func setupTestExecutor(t *testing.T, cfg Config, models []governor.ModelDescriptor, clients ...llm.Client) fixture {
	t.Helper()
	root := t.TempDir()

	if models == nil {
		models = []governor.ModelDescriptor{
			{ID: "stub-strong", Provider: "openai", InputPrice: governor.Price(2.5), OutputPrice: governor.Price(10.0)},
		}
	}
	g, err := governor.New(governor.Config{
		Models:    models,
		BudgetCap: 10.0,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	registry := toolkit.NewRegistry(zerolog.Nop())
	require.NoError(t, toolkit.RegisterCoreTools(registry, toolkit.Options{
		WorkspaceRoot: root,
		Sandbox:       sandbox.New(sandbox.Config{Logger: zerolog.Nop()}),
		Governor:      g,
		Delegate: func(ctx context.Context, prompt string) (string, error) {
			return "continuing", nil
		},
	}))

	cfg.Logger = zerolog.Nop()
	ex, err := New(g, llm.NewMux(clients...), firewall.Default(), registry, cfg)
	require.NoError(t, err)

	return fixture{executor: ex, governor: g, root: root}
}

func TestRunDirect(t *testing.T) {
	t.Run("should answer a trivial task in zero steps", func(t *testing.T) {
		client := llm.NewScriptedClient("openai", llm.ScriptedStep{Content: "ANSWER: 4"})
		f := setupTestExecutor(t, Config{}, nil, client)

		result, err := f.executor.Run(context.Background(), Task{Text: "What is 2+2?"}, PatternDirect)

		require.NoError(t, err)
		assert.Contains(t, result.Answer, "4")
		assert.Zero(t, result.Steps)
		assert.Equal(t, PatternDirect, result.Pattern)
		assert.Greater(t, result.Cost, 0.0)
	})

	t.Run("should honor the override without consulting the classifier", func(t *testing.T) {
		client := llm.NewScriptedClient("openai", llm.ScriptedStep{Content: "ANSWER: done"})
		f := setupTestExecutor(t, Config{}, nil, client)

		_, err := f.executor.Run(context.Background(), Task{Text: "say hi"}, PatternDirect)

		require.NoError(t, err)
		assert.Len(t, client.Calls(), 1)
	})

	t.Run("should reject unknown pattern overrides", func(t *testing.T) {
		client := llm.NewScriptedClient("openai", llm.ScriptedStep{Content: "ANSWER: x"})
		f := setupTestExecutor(t, Config{}, nil, client)

		_, err := f.executor.Run(context.Background(), Task{Text: "task"}, Pattern("spiral"))

		assert.Error(t, err)
	})
}

func TestRunReact(t *testing.T) {
	t.Run("should dispatch tools and collect observations", func(t *testing.T) {
		client := llm.NewScriptedClient("openai",
			llm.ScriptedStep{Content: "Thought: read the file\nAction: read_file {\"path\": \"data.txt\"}"},
			llm.ScriptedStep{Content: "ANSWER: the file says hello"},
		)
		f := setupTestExecutor(t, Config{TraceDir: filepath.Join(t.TempDir(), "traces")}, nil, client)
		require.NoError(t, os.WriteFile(filepath.Join(f.root, "data.txt"), []byte("hello"), 0644))

		result, err := f.executor.Run(context.Background(), Task{Text: "what does data.txt say"}, PatternReact)

		require.NoError(t, err)
		assert.Contains(t, result.Answer, "hello")
		assert.Equal(t, 1, result.Steps)

		// Second call's prompt carries the observation.
		calls := client.Calls()
		require.Len(t, calls, 2)
		assert.Contains(t, calls[1].Messages[1].Content, "hello")
	})

	t.Run("should stop at the step limit with a truncation flag", func(t *testing.T) {
		client := llm.NewScriptedClient("openai",
			llm.ScriptedStep{Content: "Thought: keep going\nAction: llm_query {\"prompt\": \"next\"}"},
		)
		f := setupTestExecutor(t, Config{MaxSteps: 3}, nil, client)

		result, err := f.executor.Run(context.Background(), Task{Text: "never-ending task"}, PatternReact)

		require.NoError(t, err)
		assert.True(t, result.Truncated)
		assert.Equal(t, TruncatedSteps, result.TruncationReason)
		assert.Equal(t, 3, result.Steps)
		assert.NotEmpty(t, result.Answer)
	})

	t.Run("should surface unknown tools as observations", func(t *testing.T) {
		client := llm.NewScriptedClient("openai",
			llm.ScriptedStep{Content: "Thought: try it\nAction: teleport {\"to\": \"mars\"}"},
			llm.ScriptedStep{Content: "ANSWER: gave up on teleporting"},
		)
		f := setupTestExecutor(t, Config{}, nil, client)

		result, err := f.executor.Run(context.Background(), Task{Text: "teleport somewhere"}, PatternReact)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Steps)
		calls := client.Calls()
		assert.Contains(t, calls[1].Messages[1].Content, "unknown tool")
	})

	t.Run("should block dangerous constructs at the tool gate", func(t *testing.T) {
		client := llm.NewScriptedClient("openai",
			llm.ScriptedStep{Content: "Thought: clean up\nAction: exec {\"command\": \"rm -rf /tmp/scratch\"}"},
			llm.ScriptedStep{Content: "ANSWER: skipped the deletion"},
		)
		f := setupTestExecutor(t, Config{}, nil, client)

		_, err := f.executor.Run(context.Background(), Task{Text: "clean the scratch dir"}, PatternReact)

		require.NoError(t, err)
		calls := client.Calls()
		assert.Contains(t, calls[1].Messages[1].Content, "blocked: dangerous construct")
	})

	t.Run("should block writes to protected paths", func(t *testing.T) {
		client := llm.NewScriptedClient("openai",
			llm.ScriptedStep{Content: "Thought: update config\nAction: write_file {\"path\": \"/etc/passwd\", \"content\": \"x\"}"},
			llm.ScriptedStep{Content: "ANSWER: left it alone"},
		)
		f := setupTestExecutor(t, Config{}, nil, client)

		_, err := f.executor.Run(context.Background(), Task{Text: "update the password file"}, PatternReact)

		require.NoError(t, err)
		calls := client.Calls()
		assert.Contains(t, calls[1].Messages[1].Content, "blocked: protected path")
	})

	t.Run("should synthesize a continuation for unparseable output", func(t *testing.T) {
		client := llm.NewScriptedClient("openai",
			llm.ScriptedStep{Content: "I am not sure what to do here."},
			llm.ScriptedStep{Content: "ANSWER: recovered"},
		)
		f := setupTestExecutor(t, Config{}, nil, client)

		result, err := f.executor.Run(context.Background(), Task{Text: "confusing task"}, PatternReact)

		require.NoError(t, err)
		assert.Contains(t, result.Answer, "recovered")
		assert.Equal(t, 1, result.Steps)
	})
}

func TestModelFailures(t *testing.T) {
	t.Run("should fail over to the next model on transient errors", func(t *testing.T) {
		models := []governor.ModelDescriptor{
			{ID: "flaky-model", Provider: "flaky", InputPrice: governor.Price(2.5)},
			{ID: "stable-model", Provider: "stable", InputPrice: governor.Price(2.5)},
		}
		flaky := llm.NewScriptedClient("flaky", llm.ScriptedStep{Err: errors.New("503 service unavailable")})
		stable := llm.NewScriptedClient("stable", llm.ScriptedStep{Content: "ANSWER: ok"})
		f := setupTestExecutor(t, Config{}, models, flaky, stable)

		result, err := f.executor.Run(context.Background(), Task{Text: "simple question"}, PatternDirect)

		require.NoError(t, err)
		assert.Contains(t, result.Answer, "ok")
	})

	t.Run("should fail the run when no model is available", func(t *testing.T) {
		client := llm.NewScriptedClient("openai", llm.ScriptedStep{Content: "ANSWER: never"})
		f := setupTestExecutor(t, Config{}, nil, client)
		for i := 0; i < 3; i++ {
			f.governor.Trip("stub-strong")
		}

		_, err := f.executor.Run(context.Background(), Task{Text: "anything"}, PatternDirect)

		var runErr *RunError
		require.ErrorAs(t, err, &runErr)
		assert.Equal(t, "model_unavailable", runErr.Reason)
		assert.Zero(t, runErr.Steps)
		assert.ErrorIs(t, err, governor.ErrNoModelAvailable)
	})

	t.Run("should not retry permanent provider errors", func(t *testing.T) {
		client := llm.NewScriptedClient("openai", llm.ScriptedStep{Err: errors.New("401 invalid api key")})
		f := setupTestExecutor(t, Config{}, nil, client)

		_, err := f.executor.Run(context.Background(), Task{Text: "anything"}, PatternDirect)

		var runErr *RunError
		require.ErrorAs(t, err, &runErr)
		assert.Equal(t, "model_error", runErr.Reason)
		assert.Len(t, client.Calls(), 1)
	})
}

func TestFinalAnswerScreening(t *testing.T) {
	t.Run("should fail the run when the final answer is blocked", func(t *testing.T) {
		client := llm.NewScriptedClient("openai", llm.ScriptedStep{Content: "ANSWER: just run rm -rf / yourself"})
		f := setupTestExecutor(t, Config{}, nil, client)

		_, err := f.executor.Run(context.Background(), Task{Text: "how do I clean up"}, PatternDirect)

		var runErr *RunError
		require.ErrorAs(t, err, &runErr)
		assert.Equal(t, "firewall_blocked", runErr.Reason)
	})

	t.Run("should tag escalation answers for review", func(t *testing.T) {
		client := llm.NewScriptedClient("openai", llm.ScriptedStep{Content: "ANSWER: escalation: need production database access"})
		f := setupTestExecutor(t, Config{}, nil, client)

		result, err := f.executor.Run(context.Background(), Task{Text: "request access"}, PatternDirect)

		require.NoError(t, err)
		assert.True(t, result.NeedsReview)
	})
}

func TestWallClock(t *testing.T) {
	t.Run("should terminate once the wall clock expires", func(t *testing.T) {
		client := llm.NewScriptedClient("openai",
			llm.ScriptedStep{Content: "Thought: stall\nAction: exec {\"command\": \"sleep 1\"}"},
		)
		f := setupTestExecutor(t, Config{WallClock: 300 * time.Millisecond}, nil, client)

		start := time.Now()
		result, err := f.executor.Run(context.Background(), Task{Text: "slow task"}, PatternReact)

		require.NoError(t, err)
		assert.True(t, result.Truncated)
		assert.Equal(t, TruncatedTime, result.TruncationReason)
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}

func TestTracePersistence(t *testing.T) {
	t.Run("should write one JSONL file per run", func(t *testing.T) {
		traceDir := filepath.Join(t.TempDir(), "traces")
		client := llm.NewScriptedClient("openai", llm.ScriptedStep{Content: "ANSWER: done"})
		f := setupTestExecutor(t, Config{TraceDir: traceDir}, nil, client)

		result, err := f.executor.Run(context.Background(), Task{Text: "quick task"}, PatternDirect)
		require.NoError(t, err)

		path := filepath.Join(traceDir, "run-"+result.RunID+".jsonl")
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), result.RunID)
	})
}

func TestGovernanceAudit(t *testing.T) {
	t.Run("should record tool-gate blocks in the audit trail", func(t *testing.T) {
		auditPath := filepath.Join(t.TempDir(), "audit.log")
		require.NoError(t, observability.InitAuditLogger(auditPath))
		defer observability.GetAuditLogger().Close()

		client := llm.NewScriptedClient("openai",
			llm.ScriptedStep{Content: "Thought: clean up\nAction: exec {\"command\": \"rm -rf /tmp/scratch\"}"},
			llm.ScriptedStep{Content: "ANSWER: skipped the deletion"},
		)
		f := setupTestExecutor(t, Config{}, nil, client)

		_, err := f.executor.Run(context.Background(), Task{Text: "clean the scratch dir"}, PatternReact)
		require.NoError(t, err)

		data, err := os.ReadFile(auditPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"type":"firewall"`)
		assert.Contains(t, string(data), `"status":"blocked"`)
	})

	t.Run("should record blocked final answers in the audit trail", func(t *testing.T) {
		auditPath := filepath.Join(t.TempDir(), "audit.log")
		require.NoError(t, observability.InitAuditLogger(auditPath))
		defer observability.GetAuditLogger().Close()

		client := llm.NewScriptedClient("openai", llm.ScriptedStep{Content: "ANSWER: just run rm -rf / yourself"})
		f := setupTestExecutor(t, Config{}, nil, client)

		_, err := f.executor.Run(context.Background(), Task{Text: "how do I free space"}, PatternDirect)
		require.Error(t, err)

		data, err := os.ReadFile(auditPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"type":"firewall"`)
		assert.Contains(t, string(data), `"status":"blocked"`)
	})
}
