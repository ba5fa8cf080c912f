// Package firewall classifies text leaving the agent loop before it reaches
// a tool, the user, or another component. It is stateless: every call
// computes a fresh verdict.
package firewall

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxTextLen is the hard ceiling on payload size. Anything longer is blocked
// outright regardless of content.
const MaxTextLen = 100_000

// escalationMarker tags a sensitive but legitimate request so a downstream
// human-in-the-loop gate can intercept it.
const escalationMarker = "escalation:"

// Verdict is the classification of a piece of text.
type Verdict struct {
	Allow       bool   `json:"allow"`
	Reason      string `json:"reason,omitempty"`
	NeedsReview bool   `json:"needs_review,omitempty"`
}

// Outcome wraps a text payload with an optional upstream failure. Sanitize
// converts blocked successes into failures but never rescues an upstream
// failure.
type Outcome struct {
	Text string
	Err  error
}

// Config tunes a Firewall beyond the built-in pattern tables.
type Config struct {
	// ExtraPatterns are additional block patterns compiled at construction.
	ExtraPatterns []string
	// MaxTextLen overrides the default size ceiling when > 0.
	MaxTextLen int
}

// Firewall evaluates text against the shared pattern tables.
type Firewall struct {
	extra  []Pattern
	maxLen int
}

// New creates a firewall. Invalid extra patterns are rejected.
func New(cfg Config) (*Firewall, error) {
	extra := make([]Pattern, 0, len(cfg.ExtraPatterns))
	for _, raw := range cfg.ExtraPatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid firewall pattern %q: %w", raw, err)
		}
		extra = append(extra, Pattern{Regexp: re, Reason: fmt.Sprintf("blocked pattern %s", raw)})
	}

	maxLen := cfg.MaxTextLen
	if maxLen <= 0 {
		maxLen = MaxTextLen
	}

	return &Firewall{extra: extra, maxLen: maxLen}, nil
}

// Default returns a firewall with only the built-in tables.
func Default() *Firewall {
	fw, _ := New(Config{})
	return fw
}

// Evaluate classifies text. Checks run in order: size ceiling, injection
// phrasing, destructive commands, extra configured patterns, escalation
// marker, privilege escalation. The marker only bypasses the privilege
// table: a request for sudo-class access can be waved through for human
// review, but destructive commands and injection phrasing stay blocked no
// matter how the text is framed.
func (f *Firewall) Evaluate(text string) Verdict {
	if len(text) > f.maxLen {
		return Verdict{Allow: false, Reason: fmt.Sprintf("payload exceeds %d characters", f.maxLen)}
	}

	for _, table := range [][]Pattern{injectionPatterns, dangerousPatterns, f.extra} {
		for _, p := range table {
			if p.Regexp.MatchString(text) {
				return Verdict{Allow: false, Reason: p.Reason}
			}
		}
	}

	if strings.Contains(strings.ToLower(text), escalationMarker) {
		return Verdict{Allow: true, NeedsReview: true, Reason: "explicit escalation request"}
	}

	for _, p := range privilegePatterns {
		if p.Regexp.MatchString(text) {
			return Verdict{Allow: false, Reason: p.Reason}
		}
	}

	return Verdict{Allow: true}
}

// Sanitize re-evaluates a successful outcome's payload. A block converts the
// outcome into a failure carrying the reason; failing outcomes pass through
// unchanged.
func (f *Firewall) Sanitize(outcome Outcome) Outcome {
	if outcome.Err != nil {
		return outcome
	}

	verdict := f.Evaluate(outcome.Text)
	if !verdict.Allow {
		return Outcome{Err: fmt.Errorf("firewall blocked output: %s", verdict.Reason)}
	}
	return outcome
}
