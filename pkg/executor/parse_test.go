package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStep(t *testing.T) {
	t.Run("should split thought and action", func(t *testing.T) {
		p := parseStep("Thought: need the file\nAction: read_file {\"path\": \"a.txt\"}")

		assert.Equal(t, "need the file", p.thought)
		assert.Equal(t, "read_file", p.action)
		assert.Equal(t, "a.txt", p.args["path"])
		assert.False(t, p.hasFinal)
	})

	t.Run("should detect the answer sentinel", func(t *testing.T) {
		p := parseStep("Thought: done\nANSWER: 42")

		assert.True(t, p.hasFinal)
		assert.Equal(t, "42", p.answer)
	})

	t.Run("should collect multi-line answers", func(t *testing.T) {
		p := parseStep("ANSWER: first line\nsecond line")

		assert.True(t, p.hasFinal)
		assert.Contains(t, p.answer, "first line")
		assert.Contains(t, p.answer, "second line")
	})

	t.Run("should synthesize a continuation for unstructured output", func(t *testing.T) {
		p := parseStep("just rambling text with no structure")

		assert.False(t, p.hasFinal)
		assert.Equal(t, "llm_query", p.action)
		assert.NotEmpty(t, p.args["prompt"])
	})

	t.Run("should tolerate an action without arguments", func(t *testing.T) {
		p := parseStep("Thought: check funds\nAction: budget_status")

		assert.Equal(t, "budget_status", p.action)
		assert.Empty(t, p.args)
	})
}

func TestHeuristicPattern(t *testing.T) {
	t.Run("should map task shapes to patterns", func(t *testing.T) {
		cases := map[string]Pattern{
			"hello there":                           PatternDirect,
			"ping":                                  PatternDirect,
			"first create the module, then add tests, finally wire the CLI": PatternPreAct,
			"explain how the scheduler works":                               PatternRewoo,
			"fix the failing build carefully":                               PatternReflexion,
			"look up the mtime of main.go and report it":                    PatternReact,
		}
		for text, want := range cases {
			assert.Equal(t, want, heuristicPattern(text), text)
		}
	})
}

func TestParseTask(t *testing.T) {
	t.Run("should accept a full task document", func(t *testing.T) {
		task, err := ParseTask([]byte(`{
			"text": "rename the field",
			"intent": "refactor",
			"entities": {"field": "userName"},
			"axioms": ["tests must keep passing"]
		}`))

		require.NoError(t, err)
		assert.Equal(t, "rename the field", task.Text)
		assert.Equal(t, "userName", task.Entities["field"])
	})

	t.Run("should reject a task without text", func(t *testing.T) {
		_, err := ParseTask([]byte(`{"intent": "refactor"}`))

		assert.Error(t, err)
	})

	t.Run("should reject unknown fields", func(t *testing.T) {
		_, err := ParseTask([]byte(`{"text": "x", "surprise": true}`))

		assert.Error(t, err)
	})
}
