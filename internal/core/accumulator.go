package core

import "fmt"

// MaxWarningsPerTable caps how many warnings an ImportResult carries.
// Further warnings are counted but not kept.
const MaxWarningsPerTable = 100

// ErrorAccumulator collects error counts and warnings for one table import.
// It is owned by a single table loop and never shared.
type ErrorAccumulator struct {
	counts      map[ErrorCategory]int
	total       int
	warnings    []string
	maxWarnings int
	dropped     int
}

// NewErrorAccumulator creates an accumulator keeping at most maxWarnings
// warnings (<= 0 means MaxWarningsPerTable).
func NewErrorAccumulator(maxWarnings int) *ErrorAccumulator {
	if maxWarnings <= 0 {
		maxWarnings = MaxWarningsPerTable
	}
	return &ErrorAccumulator{
		counts:      make(map[ErrorCategory]int),
		maxWarnings: maxWarnings,
	}
}

// Add classifies and counts an error, returning its category.
func (a *ErrorAccumulator) Add(err error) ErrorCategory {
	cat := Classify(err)
	if cat == "" {
		return cat
	}
	a.counts[cat]++
	a.total++
	return cat
}

// Warn records a warning.
func (a *ErrorAccumulator) Warn(msg string) {
	if len(a.warnings) >= a.maxWarnings {
		a.dropped++
		return
	}
	a.warnings = append(a.warnings, msg)
}

// Total returns the number of errors counted.
func (a *ErrorAccumulator) Total() int { return a.total }

// Counts returns a copy of the per-category counts, or nil if empty.
func (a *ErrorAccumulator) Counts() map[ErrorCategory]int {
	if len(a.counts) == 0 {
		return nil
	}
	out := make(map[ErrorCategory]int, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}
	return out
}

// Warnings returns the kept warnings, with a final note when some were
// dropped.
func (a *ErrorAccumulator) Warnings() []string {
	if a.dropped == 0 {
		return a.warnings
	}
	out := make([]string, len(a.warnings), len(a.warnings)+1)
	copy(out, a.warnings)
	return append(out, fmt.Sprintf("... and %d more warnings", a.dropped))
}
