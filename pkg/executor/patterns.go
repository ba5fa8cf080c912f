package executor

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/corvidae-ai/warden/internal/observability"
	"github.com/corvidae-ai/warden/pkg/convergence"
	"github.com/corvidae-ai/warden/pkg/llm"
)

const reactSystemPrompt = `You are an agent solving a task step by step.
On each turn reply with exactly:
Thought: <your reasoning>
Action: <tool_name> <JSON arguments>
When you know the final answer, reply with a line starting with ` + AnswerSentinel + ` followed by the answer.
Available tools:
`

// runDirect is a single model call with no tool access.
func (r *run) runDirect(ctx context.Context) (*Result, error) {
	completion, err := r.complete(ctx, []llm.Message{
		{Role: "user", Content: r.task.prompt() + "\n\nAnswer directly. Prefix the final answer with " + AnswerSentinel},
	})
	if err != nil {
		return nil, r.fatal(fatalReason(err), err)
	}

	answer := completion.Content
	if p := parseStep(completion.Content); p.hasFinal {
		answer = p.answer
	}
	return r.finalResult(answer)
}

// runReact interleaves thought, action, and observation until the model
// answers or a budget runs out.
func (r *run) runReact(ctx context.Context) (*Result, error) {
	for {
		if reason := r.checkBudgets(ctx); reason != "" {
			return r.truncatedResult(reason), nil
		}

		completion, err := r.complete(ctx, r.reactMessages())
		if err != nil {
			return nil, r.fatal(fatalReason(err), err)
		}

		p := parseStep(completion.Content)
		if p.hasFinal {
			return r.finalResult(p.answer)
		}

		observation := r.dispatch(ctx, p.action, p.args)
		r.trace.append(p.thought, renderArgs(p.action, p.args), observation)
	}
}

func (r *run) reactMessages() []llm.Message {
	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(r.task.prompt())
	b.WriteString("\n\n")
	if r.critique != "" {
		b.WriteString("Critique of the previous attempt, address it:\n")
		b.WriteString(r.critique)
		b.WriteString("\n\n")
	}
	if rendered := r.trace.render(); rendered != "" {
		b.WriteString("Progress so far:\n")
		b.WriteString(rendered)
		b.WriteString("\n")
	}
	b.WriteString("What is your next Thought and Action?")

	return []llm.Message{
		{Role: "system", Content: reactSystemPrompt + r.e.registry.Catalogue()},
		{Role: "user", Content: b.String()},
	}
}

var planLineRe = regexp.MustCompile(`^\s*\d+[.)]\s*(.+)$`)

// runPreAct asks for an ordered plan first, then executes one action per
// plan item.
func (r *run) runPreAct(ctx context.Context) (*Result, error) {
	planCompletion, err := r.complete(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(
			"Write a short numbered plan (at most %d steps) for this task. One action per line, nothing else.\n\nTask: %s",
			r.e.cfg.MaxSteps-1, r.task.prompt())},
	})
	if err != nil {
		return nil, r.fatal(fatalReason(err), err)
	}

	var plan []string
	for _, line := range strings.Split(planCompletion.Content, "\n") {
		if m := planLineRe.FindStringSubmatch(line); m != nil {
			plan = append(plan, strings.TrimSpace(m[1]))
		}
	}
	if len(plan) == 0 {
		// No usable plan came back; the stepwise loop handles it.
		return r.runReact(ctx)
	}
	r.trace.append("plan: "+strings.Join(plan, "; "), "", "")

	for i, item := range plan {
		if reason := r.checkBudgets(ctx); reason != "" {
			return r.truncatedResult(reason), nil
		}

		messages := r.reactMessages()
		messages[len(messages)-1].Content += fmt.Sprintf(
			"\nExecute plan step %d of %d now: %s", i+1, len(plan), item)

		completion, err := r.complete(ctx, messages)
		if err != nil {
			return nil, r.fatal(fatalReason(err), err)
		}

		p := parseStep(completion.Content)
		if p.hasFinal {
			return r.finalResult(p.answer)
		}
		observation := r.dispatch(ctx, p.action, p.args)
		r.trace.append(p.thought, renderArgs(p.action, p.args), observation)
	}

	// Plan exhausted without a sentinel: ask for the answer explicitly.
	completion, err := r.complete(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(
			"Task: %s\n\nWork performed:\n%s\nGive the final answer, prefixed with %s",
			r.task.prompt(), r.trace.render(), AnswerSentinel)},
	})
	if err != nil {
		return nil, r.fatal(fatalReason(err), err)
	}
	answer := completion.Content
	if p := parseStep(completion.Content); p.hasFinal {
		answer = p.answer
	}
	return r.finalResult(answer)
}

// runRewoo plans every worker call up front, executes them without
// re-consulting the model, then solves from the collected evidence.
func (r *run) runRewoo(ctx context.Context) (*Result, error) {
	planCompletion, err := r.complete(ctx, []llm.Message{
		{Role: "system", Content: "Plan tool calls for the task. Emit one line per call in the form\nUSE: <tool_name> <JSON arguments>\nand nothing else. Available tools:\n" + r.e.registry.Catalogue()},
		{Role: "user", Content: r.task.prompt()},
	})
	if err != nil {
		return nil, r.fatal(fatalReason(err), err)
	}

	for _, line := range strings.Split(planCompletion.Content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "USE:") {
			continue
		}
		if reason := r.checkBudgets(ctx); reason != "" {
			return r.truncatedResult(reason), nil
		}

		name, args := parseAction(strings.TrimSpace(strings.TrimPrefix(trimmed, "USE:")))
		observation := r.dispatch(ctx, name, args)
		r.trace.append("", renderArgs(name, args), observation)
	}

	solver, err := r.complete(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(
			"Task: %s\n\nEvidence gathered:\n%s\nAnswer the task from the evidence. Prefix the answer with %s",
			r.task.prompt(), r.trace.render(), AnswerSentinel)},
	})
	if err != nil {
		return nil, r.fatal(fatalReason(err), err)
	}
	answer := solver.Content
	if p := parseStep(solver.Content); p.hasFinal {
		answer = p.answer
	}
	return r.finalResult(answer)
}

var issuesRe = regexp.MustCompile(`(?mi)^ISSUES:\s*(\d+)`)

// runReflexion executes, self-critiques, and retries with the critique as
// added context. Convergence tracking stops the loop once the critique
// reports zero issues, plateaus, or oscillates.
func (r *run) runReflexion(ctx context.Context) (*Result, error) {
	var history []convergence.Record
	var result *Result

	for round := 0; round < maxReflexionRounds; round++ {
		var err error
		result, err = r.runReact(ctx)
		if err != nil {
			return nil, err
		}
		if result.Truncated {
			return result, nil
		}

		critiqueCompletion, err := r.complete(ctx, []llm.Message{
			{Role: "user", Content: fmt.Sprintf(
				"Critique this answer strictly.\n\nTask: %s\n\nAnswer: %s\n\nList concrete problems, then finish with a line\nISSUES: <number of problems>",
				r.task.prompt(), result.Answer)},
		})
		if err != nil {
			// Critique is best effort; the answer stands.
			return result, nil
		}

		violations := 1.0
		if m := issuesRe.FindStringSubmatch(critiqueCompletion.Content); m != nil {
			if n, convErr := strconv.Atoi(m[1]); convErr == nil {
				violations = float64(n)
			}
		}

		current := convergence.Record{"violations": violations}
		report := r.e.detector.Track(history, current)
		if report.ShouldStop || report.Plateau || report.Oscillating {
			return result, nil
		}

		history = append(history, current)
		r.critique = critiqueCompletion.Content
	}
	return result, nil
}

// finalResult screens the outgoing answer and assembles the result.
func (r *run) finalResult(answer string) (*Result, error) {
	verdict := r.e.firewall.Evaluate(answer)
	if !verdict.Allow {
		observability.RecordFirewallBlock("final_answer")
		observability.RecordFirewallAudit(r.trace.RunID, verdict.Reason, "blocked")
		return nil, r.fatal("firewall_blocked", fmt.Errorf("final answer blocked: %s", verdict.Reason))
	}
	if verdict.NeedsReview {
		observability.RecordFirewallAudit(r.trace.RunID, verdict.Reason, "needs_review")
	}
	return &Result{
		Answer:      answer,
		Steps:       len(r.trace.Steps),
		NeedsReview: verdict.NeedsReview,
	}, nil
}
