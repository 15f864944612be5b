// Package gate implements the severity threshold gate that decides whether a
// scanned image may be published.
package gate

import (
	"errors"
	"fmt"
	"strings"
)

// ErrThresholdExceeded is returned when at least one severity count is over
// its configured limit.
var ErrThresholdExceeded = errors.New("severity threshold exceeded")

// Severity is a normalized finding severity level.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	// SeverityOther collects everything scanners report outside the four
	// standard levels (informational, negligible, unknown, undefined, ...).
	SeverityOther Severity = "other"
)

// SeverityOrder is the display and evaluation order for severity levels.
var SeverityOrder = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityOther,
}

// NormalizeSeverity maps a scanner-reported severity string to one of the
// five gate levels. Matching is case-insensitive; unrecognized values map to
// SeverityOther, never to a pass.
func NormalizeSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium":
		return SeverityMedium
	case "low":
		return SeverityLow
	default:
		return SeverityOther
	}
}

// Thresholds is the maximum allowed finding count per severity level.
// A zero means zero tolerance: a single finding at that level fails the gate.
type Thresholds struct {
	Critical int `yaml:"critical" json:"critical"`
	High     int `yaml:"high" json:"high"`
	Medium   int `yaml:"medium" json:"medium"`
	Low      int `yaml:"low" json:"low"`
	Other    int `yaml:"other" json:"other"`
}

// Validate rejects negative limits. Called at pipeline load so malformed
// configuration fails before any stage runs.
func (t Thresholds) Validate() error {
	for _, sev := range SeverityOrder {
		if t.Limit(sev) < 0 {
			return fmt.Errorf("threshold for %s must be a non-negative integer, got %d", sev, t.Limit(sev))
		}
	}
	return nil
}

// Limit returns the allowed count for a severity level.
func (t Thresholds) Limit(sev Severity) int {
	switch sev {
	case SeverityCritical:
		return t.Critical
	case SeverityHigh:
		return t.High
	case SeverityMedium:
		return t.Medium
	case SeverityLow:
		return t.Low
	default:
		return t.Other
	}
}

// Report holds observed finding counts per severity level for one image.
type Report struct {
	counts map[Severity]int
}

// NewReport returns an empty report (all counts zero).
func NewReport() *Report {
	return &Report{counts: make(map[Severity]int)}
}

// Add records n findings at the given raw severity, normalizing the level.
func (r *Report) Add(rawSeverity string, n int) {
	if r.counts == nil {
		r.counts = make(map[Severity]int)
	}
	r.counts[NormalizeSeverity(rawSeverity)] += n
}

// Count returns the observed count for a level. A level that was never
// recorded counts as zero, never as unknown.
func (r *Report) Count(sev Severity) int {
	if r == nil || r.counts == nil {
		return 0
	}
	return r.counts[sev]
}

// Counts returns a copy of the counts with every gate level present.
func (r *Report) Counts() map[Severity]int {
	out := make(map[Severity]int, len(SeverityOrder))
	for _, sev := range SeverityOrder {
		out[sev] = r.Count(sev)
	}
	return out
}

// Total returns the total number of findings across all levels.
func (r *Report) Total() int {
	total := 0
	for _, sev := range SeverityOrder {
		total += r.Count(sev)
	}
	return total
}

// Violation records one severity level whose observed count is over its limit.
type Violation struct {
	Severity Severity `json:"severity"`
	Observed int      `json:"observed"`
	Allowed  int      `json:"allowed"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s (%d found > %d allowed)", v.Severity, v.Observed, v.Allowed)
}

// Decision is the gate outcome: passed, or exceeded with the specific
// violations so callers can both branch and report.
type Decision struct {
	Violations []Violation `json:"violations,omitempty"`
}

// Passed reports whether the image may be published.
func (d Decision) Passed() bool {
	return len(d.Violations) == 0
}

// Exceeded reports whether any severity level was over its limit.
func (d Decision) Exceeded() bool {
	return !d.Passed()
}

// Err returns nil when the gate passed, otherwise ErrThresholdExceeded
// wrapped with the violation details.
func (d Decision) Err() error {
	if d.Passed() {
		return nil
	}
	parts := make([]string, 0, len(d.Violations))
	for _, v := range d.Violations {
		parts = append(parts, v.String())
	}
	return fmt.Errorf("%w: %s", ErrThresholdExceeded, strings.Join(parts, ", "))
}

// Evaluate compares a report against thresholds. The gate is a logical OR
// across levels: one violation fails the whole decision, with no weighting
// or aggregation between levels.
func Evaluate(report *Report, thresholds Thresholds) Decision {
	var decision Decision
	for _, sev := range SeverityOrder {
		observed := report.Count(sev)
		allowed := thresholds.Limit(sev)
		if observed > allowed {
			decision.Violations = append(decision.Violations, Violation{
				Severity: sev,
				Observed: observed,
				Allowed:  allowed,
			})
		}
	}
	return decision
}
