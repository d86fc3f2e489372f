// Package achievement evaluates badges as a pure function of a child's metrics
// and detects newly earned badges by diffing two snapshots.
package achievement

import (
	"context"
	"time"
)

// Metric names a quantity a badge is measured against.
type Metric string

const (
	MetricBalance      Metric = "balance"
	MetricStreakDays   Metric = "streak_days"
	MetricExplorations Metric = "explorations"
)

// Metrics is the evaluator input.
type Metrics struct {
	Balance      int64 `json:"balance"`
	StreakDays   int   `json:"streak_days"`
	Explorations int   `json:"explorations"`
}

// Value returns the metric's current value.
func (m Metrics) Value(metric Metric) int64 {
	switch metric {
	case MetricBalance:
		return m.Balance
	case MetricStreakDays:
		return int64(m.StreakDays)
	case MetricExplorations:
		return int64(m.Explorations)
	default:
		return 0
	}
}

// Definition is a threshold badge over one metric.
type Definition struct {
	ID          string
	Label       string
	Description string
	Emoji       string
	Metric      Metric
	Threshold   int64
}

// Earned is the badge predicate.
func (d Definition) Earned(m Metrics) bool {
	return d.Threshold > 0 && m.Value(d.Metric) >= d.Threshold
}

// Numerator returns min(metric, threshold), floored at zero.
func (d Definition) Numerator(m Metrics) int64 {
	v := m.Value(d.Metric)
	if v < 0 {
		return 0
	}
	if v > d.Threshold {
		return d.Threshold
	}
	return v
}

// Progress returns min(metric, threshold) / threshold.
func (d Definition) Progress(m Metrics) float64 {
	if d.Threshold <= 0 {
		return 0
	}
	return float64(d.Numerator(m)) / float64(d.Threshold)
}

// DefaultDefinitions is the badge catalogue.
func DefaultDefinitions() []Definition {
	return []Definition{
		{"first_sparks", "First Sparks", "Earn your first 10 sparks", "✨", MetricBalance, 10},
		{"spark_collector", "Spark Collector", "Save up 100 sparks", "🔥", MetricBalance, 100},
		{"spark_champion", "Spark Champion", "Save up 500 sparks", "🏆", MetricBalance, 500},
		{"streak_3", "Three in a Row", "Learn 3 days in a row", "📅", MetricStreakDays, 3},
		{"streak_7", "Week of Wonder", "Learn 7 days in a row", "🌈", MetricStreakDays, 7},
		{"streak_30", "Unstoppable", "Learn 30 days in a row", "🚀", MetricStreakDays, 30},
		{"explorer_1", "Curious Mind", "Start your first topic", "🔍", MetricExplorations, 1},
		{"explorer_5", "Explorer", "Explore 5 topics", "🧭", MetricExplorations, 5},
		{"explorer_10", "Encyclopedia", "Explore 10 topics", "📚", MetricExplorations, 10},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATION
// ══════════════════════════════════════════════════════════════════════════════

// Status is one badge in an evaluated set.
type Status struct {
	ID          string  `json:"id"`
	Label       string  `json:"label"`
	Emoji       string  `json:"emoji"`
	Earned      bool    `json:"earned"`
	Progress    float64 `json:"progress"`
	Numerator   int64   `json:"numerator"`
	Denominator int64   `json:"denominator"`
}

// Set is an immutable evaluation snapshot, in catalogue order.
type Set []Status

// IsEarned reports whether id is earned in the set. Absent means not earned.
func (s Set) IsEarned(id string) bool {
	for _, st := range s {
		if st.ID == id {
			return st.Earned
		}
	}
	return false
}

// EarnedIDs lists the earned badge IDs.
func (s Set) EarnedIDs() []string {
	ids := make([]string, 0, len(s))
	for _, st := range s {
		if st.Earned {
			ids = append(ids, st.ID)
		}
	}
	return ids
}

// EarnedSet builds a previous-snapshot set from stored badge IDs.
func EarnedSet(ids ...string) Set {
	s := make(Set, 0, len(ids))
	for _, id := range ids {
		s = append(s, Status{ID: id, Earned: true})
	}
	return s
}

// Evaluation is the result of Evaluate.
type Evaluation struct {
	All         Set
	NewlyEarned []Status
}

// Evaluator holds the badge catalogue.
type Evaluator struct {
	defs []Definition
}

// NewEvaluator uses DefaultDefinitions when defs is empty.
func NewEvaluator(defs ...Definition) *Evaluator {
	if len(defs) == 0 {
		defs = DefaultDefinitions()
	}
	return &Evaluator{defs: defs}
}

// Definitions returns the catalogue.
func (e *Evaluator) Definitions() []Definition {
	return e.defs
}

// Evaluate computes every badge for m and reports the badges earned now but
// not in previous. Evaluating twice with the same metrics and feeding the
// first result back yields no newly earned badges.
func (e *Evaluator) Evaluate(previous Set, m Metrics) Evaluation {
	all := make(Set, 0, len(e.defs))
	var newly []Status

	for _, d := range e.defs {
		st := Status{
			ID:          d.ID,
			Label:       d.Label,
			Emoji:       d.Emoji,
			Earned:      d.Earned(m),
			Progress:    d.Progress(m),
			Numerator:   d.Numerator(m),
			Denominator: d.Threshold,
		}
		all = append(all, st)
		if st.Earned && !previous.IsEarned(d.ID) {
			newly = append(newly, st)
		}
	}

	return Evaluation{All: all, NewlyEarned: newly}
}

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotStore persists every badge a child has earned. The stored set only
// grows: a streak badge stays earned after the streak breaks, so earning it
// again is not a new edge.
type SnapshotStore interface {
	// EarnedIDs returns the stored earned badge IDs.
	EarnedIDs(ctx context.Context, childID string) ([]string, error)

	// MarkEarned stores ids put-if-absent and returns only the ones this call
	// inserted, so concurrent sessions report each badge once.
	MarkEarned(ctx context.Context, childID string, ids []string, at time.Time) ([]string, error)
}
