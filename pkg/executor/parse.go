package executor

import (
	"encoding/json"
	"strings"
)

// AnswerSentinel marks a final answer in model output. Everything after the
// sentinel on that line (and any following lines) is the answer text.
const AnswerSentinel = "ANSWER:"

// parsedStep is the structured form of one model reply.
type parsedStep struct {
	thought  string
	action   string
	args     map[string]interface{}
	answer   string
	hasFinal bool
}

// parseStep extracts a thought and an action from model output. Expected
// shape:
//
//	Thought: <free text>
//	Action: <tool_name> <json args>
//
// or a final line starting with the answer sentinel. Output matching
// neither shape synthesizes a default continuation action instead of
// failing the run.
func parseStep(content string) parsedStep {
	var p parsedStep

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)

		if idx := strings.Index(trimmed, AnswerSentinel); idx >= 0 {
			p.hasFinal = true
			p.answer = strings.TrimSpace(trimmed[idx+len(AnswerSentinel):])
			continue
		}
		if p.hasFinal {
			// Collect multi-line answers.
			if trimmed != "" {
				p.answer = strings.TrimSpace(p.answer + "\n" + trimmed)
			}
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "Thought:"):
			p.thought = strings.TrimSpace(strings.TrimPrefix(trimmed, "Thought:"))
		case strings.HasPrefix(trimmed, "Action:"):
			p.action, p.args = parseAction(strings.TrimSpace(strings.TrimPrefix(trimmed, "Action:")))
		}
	}

	if !p.hasFinal && p.action == "" {
		// Unparseable output: keep the loop moving with a default
		// continuation rather than erroring out.
		if p.thought == "" {
			p.thought = strings.TrimSpace(content)
		}
		p.action = "llm_query"
		p.args = map[string]interface{}{"prompt": "Continue working on the task. What is the next concrete step?"}
	}
	return p
}

// parseAction splits "tool_name {json args}" into its parts. Missing or
// malformed JSON yields empty args; schema validation downstream reports
// what is missing.
func parseAction(text string) (string, map[string]interface{}) {
	name := text
	args := map[string]interface{}{}

	if idx := strings.IndexAny(text, " \t{"); idx >= 0 {
		name = strings.TrimSpace(text[:idx])
		rest := strings.TrimSpace(text[idx:])
		if rest != "" && strings.HasPrefix(rest, "{") {
			_ = json.Unmarshal([]byte(rest), &args)
		}
	}
	return name, args
}
