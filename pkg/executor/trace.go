package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Step is one thought-action-observation triple in a run's trace.
type Step struct {
	Index       int       `json:"index"`
	Thought     string    `json:"thought,omitempty"`
	Action      string    `json:"action,omitempty"`
	Observation string    `json:"observation,omitempty"`
	At          time.Time `json:"at"`
}

// Trace is the ordered record of one run. Owned by a single run; no
// synchronization needed.
type Trace struct {
	RunID   string    `json:"run_id"`
	Pattern Pattern   `json:"pattern"`
	Started time.Time `json:"started"`
	Steps   []Step    `json:"steps"`
}

func newTrace(runID string, pattern Pattern) *Trace {
	return &Trace{
		RunID:   runID,
		Pattern: pattern,
		Started: time.Now(),
	}
}

func (t *Trace) append(thought, action, observation string) {
	t.Steps = append(t.Steps, Step{
		Index:       len(t.Steps),
		Thought:     thought,
		Action:      action,
		Observation: observation,
		At:          time.Now(),
	})
}

func (t *Trace) elapsed() time.Duration {
	return time.Since(t.Started)
}

// render flattens the trace into prompt text for the next model call.
func (t *Trace) render() string {
	out := ""
	for _, s := range t.Steps {
		if s.Thought != "" {
			out += fmt.Sprintf("Thought: %s\n", s.Thought)
		}
		if s.Action != "" {
			out += fmt.Sprintf("Action: %s\n", s.Action)
		}
		if s.Observation != "" {
			out += fmt.Sprintf("Observation: %s\n", s.Observation)
		}
	}
	return out
}

// lastObservation returns the most recent observation, used as the best
// partial answer when a run truncates.
func (t *Trace) lastObservation() string {
	for i := len(t.Steps) - 1; i >= 0; i-- {
		if t.Steps[i].Observation != "" {
			return t.Steps[i].Observation
		}
		if t.Steps[i].Thought != "" {
			return t.Steps[i].Thought
		}
	}
	return ""
}

// persist writes the trace as JSONL, one step per line after a header
// line, so runs can be replayed or inspected offline.
func (t *Trace) persist(dir string, logger zerolog.Logger) {
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Warn().Err(err).Msg("Failed to create trace directory")
		return
	}

	path := filepath.Join(dir, fmt.Sprintf("run-%s.jsonl", t.RunID))
	f, err := os.Create(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Failed to create trace file")
		return
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	header := struct {
		RunID   string    `json:"run_id"`
		Pattern Pattern   `json:"pattern"`
		Started time.Time `json:"started"`
		Steps   int       `json:"steps"`
	}{t.RunID, t.Pattern, t.Started, len(t.Steps)}
	if err := enc.Encode(header); err != nil {
		logger.Warn().Err(err).Msg("Failed to write trace header")
		return
	}
	for _, step := range t.Steps {
		if err := enc.Encode(step); err != nil {
			logger.Warn().Err(err).Msg("Failed to write trace step")
			return
		}
	}
}
