package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/corvidae-ai/warden/internal/observability"
	"github.com/corvidae-ai/warden/pkg/executor"
)

var (
	runTaskFile string
	runPattern  string
	runJSON     bool
)

var runCmd = &cobra.Command{
	Use:   "run [task text]",
	Short: "Run a task through the governed executor",
	Long: `Run a task through the governed execution loop. The task is given
either as plain text arguments or as a JSON document via --file. The
reasoning pattern is normally chosen by the classifier; --pattern forces
a specific one (direct, react, pre_act, rewoo, reflexion).`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runTaskFile, "file", "f", "", "read the task as JSON from a file (- for stdin)")
	runCmd.Flags().StringVarP(&runPattern, "pattern", "p", "", "force a reasoning pattern")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full result as JSON")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	task, err := readTask(args)
	if err != nil {
		return err
	}

	override := executor.Pattern(runPattern)
	if runPattern != "" && !override.Valid() {
		return fmt.Errorf("unknown pattern %q", runPattern)
	}

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	started := time.Now()
	result, err := rt.executor.Run(cmd.Context(), task, override)
	publishRunMetrics(rt, result, err, time.Since(started))
	if err != nil {
		return err
	}

	if runJSON {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Println(result.Answer)
	if result.Truncated {
		fmt.Fprintf(os.Stderr, "note: run truncated (%s) after %d steps\n", result.TruncationReason, result.Steps)
	}
	if result.NeedsReview {
		fmt.Fprintln(os.Stderr, "note: output flagged for human review")
	}
	fmt.Fprintf(os.Stderr, "pattern=%s steps=%d cost=$%.4f remaining=$%.4f\n",
		result.Pattern, result.Steps, result.Cost, rt.governor.BudgetRemaining())
	return nil
}

func readTask(args []string) (executor.Task, error) {
	if runTaskFile != "" {
		var data []byte
		var err error
		if runTaskFile == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(runTaskFile)
		}
		if err != nil {
			return executor.Task{}, fmt.Errorf("failed to read task: %w", err)
		}
		return executor.ParseTask(data)
	}

	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return executor.Task{}, errors.New("a task is required, as arguments or via --file")
	}
	return executor.Task{Text: text}, nil
}

func publishRunMetrics(rt *runtime, result *executor.Result, err error, elapsed time.Duration) {
	pattern := "unknown"
	status := "ok"
	steps := 0
	cost := 0.0

	if result != nil {
		pattern = string(result.Pattern)
		steps = result.Steps
		cost = result.Cost
		if result.Truncated {
			status = result.TruncationReason
		}
		if result.NeedsReview {
			observability.RecordReviewFlag()
		}
	}
	if err != nil {
		status = "error"
		var runErr *executor.RunError
		if errors.As(err, &runErr) {
			status = runErr.Reason
			steps = runErr.Steps
		}
	}

	observability.RecordRun(pattern, status, elapsed, steps, cost)
	observability.SetBudgetRemaining(rt.governor.BudgetRemaining())
	if spend, serr := rt.store.SpendByModel(); serr == nil {
		for model, usd := range spend {
			observability.SetSpend(model, usd)
		}
	}
}
