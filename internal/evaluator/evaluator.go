// Package evaluator decides whether a rule's conditions hold against
// fetched metrics. It is pure: no I/O, no clock, no errors.
package evaluator

import (
	"math"

	"ad-automation-engine/internal/models"
)

// Result is the outcome of evaluating one rule's condition list.
// MatchedValues holds the current value of every condition metric when
// the rule fired, for the audit record.
type Result struct {
	Fired         bool
	MatchedValues map[models.Metric]float64
}

// Evaluate checks every condition against the snapshot history (oldest
// first, last element is the current snapshot). Conditions combine with
// logical AND.
//
// A condition with lookback N requires its comparator to hold for all
// of the last N snapshots. With fewer than N snapshots recorded the
// condition is not yet evaluable and the rule does not fire; a freshly
// created rule never false-positives on its first checks.
func Evaluate(conditions []models.Condition, history []models.ScopedSnapshot) Result {
	if len(conditions) == 0 || len(history) == 0 {
		return Result{}
	}

	current := history[len(history)-1]
	matched := make(map[models.Metric]float64, len(conditions))

	for _, cond := range conditions {
		n := cond.Lookback
		if n < 1 {
			n = 1
		}
		if len(history) < n {
			return Result{}
		}
		for _, snap := range history[len(history)-n:] {
			if !compare(snap.Totals.Value(cond.Metric), cond.Comparator, cond.Threshold) {
				return Result{}
			}
		}
		matched[cond.Metric] = current.Totals.Value(cond.Metric)
	}

	return Result{Fired: true, MatchedValues: matched}
}

func compare(value float64, cmp models.Comparator, threshold float64) bool {
	switch cmp {
	case models.CmpGT:
		return value > threshold
	case models.CmpGTE:
		return value >= threshold
	case models.CmpLT:
		return value < threshold
	case models.CmpLTE:
		return value <= threshold
	case models.CmpEQ:
		return math.Abs(value-threshold) < 1e-9
	default:
		return false
	}
}
