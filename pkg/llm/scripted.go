package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedStep is one canned response.
type ScriptedStep struct {
	Content      string
	Err          error
	InputTokens  int64
	OutputTokens int64
}

// ScriptedClient plays back canned completions in order. The last step
// repeats once the script runs out. Safe for concurrent use. Intended for
// tests and for dry runs without provider credentials.
type ScriptedClient struct {
	mu       sync.Mutex
	provider string
	steps    []ScriptedStep
	next     int
	calls    []Request
}

// NewScriptedClient creates a scripted client for the given provider name.
func NewScriptedClient(provider string, steps ...ScriptedStep) *ScriptedClient {
	return &ScriptedClient{provider: provider, steps: steps}
}

// Provider returns the provider name.
func (c *ScriptedClient) Provider() string {
	return c.provider
}

// Complete returns the next scripted step.
func (c *ScriptedClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, req)
	if len(c.steps) == 0 {
		return nil, fmt.Errorf("scripted client %q has no steps", c.provider)
	}

	step := c.steps[c.next]
	if c.next < len(c.steps)-1 {
		c.next++
	}

	if step.Err != nil {
		return nil, step.Err
	}

	in := step.InputTokens
	if in == 0 {
		in = EstimateTokens(req.Messages)
	}
	out := step.OutputTokens
	if out == 0 {
		out = int64((len(step.Content) + 3) / 4)
	}

	return &Completion{
		Content:      step.Content,
		Model:        req.Model,
		InputTokens:  in,
		OutputTokens: out,
	}, nil
}

// Calls returns a copy of every request seen so far.
func (c *ScriptedClient) Calls() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, len(c.calls))
	copy(out, c.calls)
	return out
}
