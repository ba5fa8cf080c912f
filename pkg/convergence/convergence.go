// Package convergence decides when an iterative refinement loop should stop.
//
// Callers feed it the history of per-round metrics plus the newest round and
// get back a verdict. The detector never stops a loop itself; the caller must
// honor ShouldStop.
package convergence

import (
	"fmt"
	"sort"
)

// Record holds the named numeric metrics for one refinement round.
type Record map[string]float64

// Report is the verdict for one tracked iteration.
type Report struct {
	Iteration   int    `json:"iteration"`
	ShouldStop  bool   `json:"should_stop"`
	Reason      string `json:"reason,omitempty"`
	Plateau     bool   `json:"plateau"`
	Oscillating bool   `json:"oscillating"`
}

// Stop reasons reported by Track.
const (
	ReasonConverged = "converged"
)

// Detector tracks convergence over a chosen metric.
type Detector struct {
	// Metric is the record key examined for plateau and oscillation
	// detection. When empty, the detector prefers "violations", then
	// "score", then the lexicographically first key present.
	Metric string

	// PlateauWindow is how many consecutive identical rounds (including
	// the current one) count as a plateau. Values below 3 are raised to 3.
	PlateauWindow int
}

// NewDetector creates a detector with default settings.
func NewDetector() *Detector {
	return &Detector{PlateauWindow: 3}
}

// Track evaluates the current round against history. Neither input is
// mutated.
func (d *Detector) Track(history []Record, current Record) Report {
	report := Report{
		Iteration: len(history) + 1,
	}

	if violations, ok := current["violations"]; ok && violations == 0 {
		report.ShouldStop = true
		report.Reason = ReasonConverged
	}

	metric := d.resolveMetric(history, current)
	if metric == "" {
		return report
	}

	values := metricSeries(history, current, metric)
	report.Plateau = d.isPlateau(values)
	report.Oscillating = isOscillating(values)

	return report
}

// Summary renders a human-readable progression over the recorded history.
// Improvement is measured first-to-last on the tracked metric; a regression
// yields a negative percentage rather than being clamped.
func (d *Detector) Summary(history []Record) string {
	if len(history) == 0 {
		return "no iterations recorded"
	}

	metric := d.resolveMetric(history[:len(history)-1], history[len(history)-1])
	if metric == "" {
		return fmt.Sprintf("%d iterations recorded", len(history))
	}

	first, firstOK := history[0][metric]
	last, lastOK := history[len(history)-1][metric]
	if !firstOK || !lastOK || first == 0 {
		return fmt.Sprintf("%d iterations recorded", len(history))
	}

	improvement := (first - last) / first * 100
	return fmt.Sprintf("%d iterations, %s %.1f → %.1f (%.1f%% improvement)",
		len(history), metric, first, last, improvement)
}

// resolveMetric picks the metric key to track.
func (d *Detector) resolveMetric(history []Record, current Record) string {
	if d.Metric != "" {
		return d.Metric
	}
	if _, ok := current["violations"]; ok {
		return "violations"
	}
	if _, ok := current["score"]; ok {
		return "score"
	}

	keys := make([]string, 0, len(current))
	for k := range current {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		// Fall back to whatever the history tracks.
		for _, rec := range history {
			for k := range rec {
				keys = append(keys, k)
			}
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return keys[0]
}

// metricSeries extracts the metric values across history plus current,
// skipping rounds that never reported the metric.
func metricSeries(history []Record, current Record, metric string) []float64 {
	values := make([]float64, 0, len(history)+1)
	for _, rec := range history {
		if v, ok := rec[metric]; ok {
			values = append(values, v)
		}
	}
	if v, ok := current[metric]; ok {
		values = append(values, v)
	}
	return values
}

// isPlateau reports whether the trailing window of values is flat.
func (d *Detector) isPlateau(values []float64) bool {
	window := d.PlateauWindow
	if window < 3 {
		window = 3
	}
	if len(values) < window {
		return false
	}

	tail := values[len(values)-window:]
	for _, v := range tail[1:] {
		if v != tail[0] {
			return false
		}
	}
	return true
}

// isOscillating reports whether the sign of the delta between consecutive
// rounds has alternated for at least the last three transitions.
func isOscillating(values []float64) bool {
	if len(values) < 4 {
		return false
	}

	deltas := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		deltas = append(deltas, values[i]-values[i-1])
	}

	alternations := 0
	for i := 1; i < len(deltas); i++ {
		if deltas[i] == 0 || deltas[i-1] == 0 {
			alternations = 0
			continue
		}
		if (deltas[i] > 0) != (deltas[i-1] > 0) {
			alternations++
		} else {
			alternations = 0
		}
	}

	// Three deltas with two sign flips covers the minimum
	// improve/regress/improve shape.
	return alternations >= 2
}
