package toolkit

import (
	"context"
	"fmt"
	"strings"
)

// DelegateFunc hands a sub-question back to the governed model path. The
// loop injects its own governed completion here so tool-originated calls
// still pay into the budget and respect circuits.
type DelegateFunc func(ctx context.Context, prompt string) (string, error)

// reviewPersonas is the fixed panel consulted by persona_review.
var reviewPersonas = []struct {
	name  string
	brief string
}{
	{"skeptic", "Hunt for unstated assumptions and logical gaps."},
	{"pragmatist", "Judge whether the result actually solves the stated task."},
	{"security reviewer", "Flag anything unsafe, destructive, or leaking sensitive data."},
}

func llmQueryTool(opts Options) Tool {
	return Tool{
		Name:  "llm_query",
		Usage: "Delegate a sub-question to the language model; args: prompt.",
		Parameters: []Parameter{
			{Name: "prompt", Type: "string", Description: "Sub-question to ask", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			if opts.Delegate == nil {
				return "", fmt.Errorf("model delegation is not configured")
			}
			return opts.Delegate(ctx, argString(args, "prompt"))
		},
	}
}

func summarizeTool(opts Options) Tool {
	return Tool{
		Name:  "summarize",
		Usage: "Condense long text to its essentials; args: text.",
		Parameters: []Parameter{
			{Name: "text", Type: "string", Description: "Text to summarize", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			if opts.Delegate == nil {
				return "", fmt.Errorf("model delegation is not configured")
			}
			prompt := "Summarize the following in at most five sentences, keeping every concrete fact:\n\n" +
				argString(args, "text")
			return opts.Delegate(ctx, prompt)
		},
	}
}

func personaReviewTool(opts Options) Tool {
	return Tool{
		Name:  "persona_review",
		Usage: "Request a multi-persona critique of a result; args: subject.",
		Parameters: []Parameter{
			{Name: "subject", Type: "string", Description: "Result or text to review", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			if opts.Delegate == nil {
				return "", fmt.Errorf("model delegation is not configured")
			}

			subject := argString(args, "subject")

			// One model call per persona so each critique is formed
			// independently; a failed persona degrades to a note instead
			// of losing the other critiques.
			var b strings.Builder
			failures := 0
			for _, p := range reviewPersonas {
				prompt := fmt.Sprintf(
					"You are the %s. %s Answer with one short paragraph.\n\nMaterial:\n%s",
					p.name, p.brief, subject)

				critique, err := opts.Delegate(ctx, prompt)
				if err != nil {
					failures++
					critique = fmt.Sprintf("(review unavailable: %s)", err)
				}
				fmt.Fprintf(&b, "%s: %s\n", p.name, strings.TrimSpace(critique))
			}
			if failures == len(reviewPersonas) {
				return "", fmt.Errorf("all persona reviews failed")
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	}
}

func budgetStatusTool(opts Options) Tool {
	return Tool{
		Name:  "budget_status",
		Usage: "Report remaining budget and the current affordability tier; no args.",
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			if opts.Governor == nil {
				return "", fmt.Errorf("governor is not configured")
			}
			g := opts.Governor
			return fmt.Sprintf("budget: %.4f of %.4f USD remaining, tier %s",
				g.BudgetRemaining(), g.BudgetCap(), g.Tier()), nil
		},
	}
}
