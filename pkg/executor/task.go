package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Task is the structured request handed to a run by the upstream
// classification stage. Only Text is mandatory.
type Task struct {
	Text     string            `json:"text"`
	Intent   string            `json:"intent,omitempty"`
	Entities map[string]string `json:"entities,omitempty"`
	Axioms   []string          `json:"axioms,omitempty"`
}

// taskSchema validates task documents arriving over the CLI or an API
// boundary before they reach the loop.
const taskSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["text"],
	"properties": {
		"text": {"type": "string", "minLength": 1},
		"intent": {"type": "string"},
		"entities": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		},
		"axioms": {
			"type": "array",
			"items": {"type": "string"}
		}
	}
}`

var compiledTaskSchema = gojsonschema.NewStringLoader(taskSchema)

// ParseTask validates and decodes a JSON task document.
func ParseTask(data []byte) (Task, error) {
	result, err := gojsonschema.Validate(compiledTaskSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Task{}, fmt.Errorf("failed to validate task: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return Task{}, fmt.Errorf("invalid task: %s", strings.Join(msgs, "; "))
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return Task{}, fmt.Errorf("failed to decode task: %w", err)
	}
	return task, nil
}

// Validate checks a task built in process.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Text) == "" {
		return errors.New("task text is required")
	}
	return nil
}

// prompt renders the task for the model, folding in entities and axioms
// when the upstream stage supplied them.
func (t Task) prompt() string {
	var b strings.Builder
	b.WriteString(t.Text)

	if len(t.Axioms) > 0 {
		b.WriteString("\n\nConstraints that must hold:\n")
		for _, a := range t.Axioms {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	if len(t.Entities) > 0 {
		b.WriteString("\nKnown entities:\n")
		for k, v := range t.Entities {
			fmt.Fprintf(&b, "- %s: %s\n", k, v)
		}
	}
	return b.String()
}
