package executor

import (
	"strings"
)

// Pattern is the shape of the reasoning loop for one run.
type Pattern string

const (
	// PatternDirect is a single model call with no tool access.
	PatternDirect Pattern = "direct"
	// PatternReact interleaves thought, action, and observation.
	PatternReact Pattern = "react"
	// PatternPreAct plans the full step sequence up front, then executes it.
	PatternPreAct Pattern = "pre_act"
	// PatternRewoo plans and runs every worker call without re-consulting
	// the model between tool results.
	PatternRewoo Pattern = "rewoo"
	// PatternReflexion executes, self-critiques, and retries with the
	// critique as added context.
	PatternReflexion Pattern = "reflexion"
)

var knownPatterns = map[Pattern]bool{
	PatternDirect:    true,
	PatternReact:     true,
	PatternPreAct:    true,
	PatternRewoo:     true,
	PatternReflexion: true,
}

// Valid reports whether p names a known pattern.
func (p Pattern) Valid() bool {
	return knownPatterns[p]
}

const classifierPrompt = `Classify the task below into exactly one reasoning pattern.
Reply with a single word from this list and nothing else:
direct, react, pre_act, rewoo, reflexion.

direct: trivial or conversational, needs no tools.
react: a single fact or action, decided step by step.
pre_act: an explicit multi-step sequence to plan then execute.
rewoo: primarily explanation or reasoning, little action.
reflexion: asks for a fix or to proceed carefully with self-checks.

Task: `

// heuristicPattern is the classifier-free fallback. Ordering matters: the
// most specific signals are checked before the react default.
func heuristicPattern(text string) Pattern {
	lower := strings.ToLower(text)

	for _, greeting := range []string{"hello", "hi ", "hey", "thanks", "thank you"} {
		if strings.HasPrefix(lower, greeting) {
			return PatternDirect
		}
	}
	if len(strings.Fields(lower)) <= 3 {
		return PatternDirect
	}

	if strings.Contains(lower, "carefully") ||
		strings.Contains(lower, "fix ") || strings.HasSuffix(lower, "fix") ||
		strings.Contains(lower, "repair") || strings.Contains(lower, "correct the") {
		return PatternReflexion
	}

	sequenceSignals := 0
	for _, marker := range []string{"first", "then", "finally", "after that", "and add", "and then"} {
		if strings.Contains(lower, marker) {
			sequenceSignals++
		}
	}
	if sequenceSignals >= 2 {
		return PatternPreAct
	}

	for _, marker := range []string{"explain", "why does", "why is", "describe", "compare", "summarize the difference"} {
		if strings.Contains(lower, marker) {
			return PatternRewoo
		}
	}

	return PatternReact
}
