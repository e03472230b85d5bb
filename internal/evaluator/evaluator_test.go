package evaluator

import (
	"testing"
	"time"

	"ad-automation-engine/internal/models"
)

func snap(spend int64, ctr float64) models.ScopedSnapshot {
	return models.ScopedSnapshot{
		TakenAt: time.Now(),
		Totals:  models.MetricTotals{Spend: spend, CTR: ctr},
	}
}

func TestEvaluateSingleCondition(t *testing.T) {
	conds := []models.Condition{
		{Metric: models.MetricSpend, Comparator: models.CmpGT, Threshold: 500000, Lookback: 1},
	}

	res := Evaluate(conds, []models.ScopedSnapshot{snap(600000, 0)})
	if !res.Fired {
		t.Fatalf("expected fire for spend 600000 > 500000")
	}
	if got := res.MatchedValues[models.MetricSpend]; got != 600000 {
		t.Fatalf("expected matched spend 600000, got %v", got)
	}

	res = Evaluate(conds, []models.ScopedSnapshot{snap(400000, 0)})
	if res.Fired {
		t.Fatalf("expected no fire for spend 400000")
	}
}

func TestEvaluateComparators(t *testing.T) {
	cases := []struct {
		cmp       models.Comparator
		value     int64
		threshold float64
		want      bool
	}{
		{models.CmpGT, 11, 10, true},
		{models.CmpGT, 10, 10, false},
		{models.CmpGTE, 10, 10, true},
		{models.CmpLT, 9, 10, true},
		{models.CmpLT, 10, 10, false},
		{models.CmpLTE, 10, 10, true},
		{models.CmpEQ, 10, 10, true},
		{models.CmpEQ, 9, 10, false},
	}
	for _, tc := range cases {
		conds := []models.Condition{
			{Metric: models.MetricSpend, Comparator: tc.cmp, Threshold: tc.threshold, Lookback: 1},
		}
		res := Evaluate(conds, []models.ScopedSnapshot{snap(tc.value, 0)})
		if res.Fired != tc.want {
			t.Errorf("spend %d %s %v: fired=%v want %v", tc.value, tc.cmp, tc.threshold, res.Fired, tc.want)
		}
	}
}

func TestEvaluateAndSemantics(t *testing.T) {
	conds := []models.Condition{
		{Metric: models.MetricSpend, Comparator: models.CmpGT, Threshold: 100, Lookback: 1},
		{Metric: models.MetricCTR, Comparator: models.CmpLT, Threshold: 1.0, Lookback: 1},
	}

	res := Evaluate(conds, []models.ScopedSnapshot{snap(200, 0.5)})
	if !res.Fired {
		t.Fatalf("expected fire when both conditions hold")
	}
	if len(res.MatchedValues) != 2 {
		t.Fatalf("expected both matched values recorded, got %v", res.MatchedValues)
	}

	res = Evaluate(conds, []models.ScopedSnapshot{snap(200, 2.0)})
	if res.Fired {
		t.Fatalf("expected no fire when one condition fails")
	}
}

func TestLookbackNeverFiresBeforeNSnapshots(t *testing.T) {
	conds := []models.Condition{
		{Metric: models.MetricCTR, Comparator: models.CmpLT, Threshold: 1.0, Lookback: 3},
	}

	history := []models.ScopedSnapshot{snap(0, 0.5)}
	if Evaluate(conds, history).Fired {
		t.Fatalf("fired with 1 of 3 snapshots")
	}
	history = append(history, snap(0, 0.4))
	if Evaluate(conds, history).Fired {
		t.Fatalf("fired with 2 of 3 snapshots")
	}
	history = append(history, snap(0, 0.3))
	if !Evaluate(conds, history).Fired {
		t.Fatalf("expected fire once 3 matching snapshots recorded")
	}
}

func TestLookbackBrokenStreak(t *testing.T) {
	conds := []models.Condition{
		{Metric: models.MetricCTR, Comparator: models.CmpLT, Threshold: 1.0, Lookback: 3},
	}
	history := []models.ScopedSnapshot{snap(0, 0.5), snap(0, 1.5), snap(0, 0.5)}
	if Evaluate(conds, history).Fired {
		t.Fatalf("fired although the middle snapshot broke the streak")
	}
}

func TestEvaluateEmptyInputs(t *testing.T) {
	if Evaluate(nil, []models.ScopedSnapshot{snap(1, 1)}).Fired {
		t.Fatalf("fired with no conditions")
	}
	conds := []models.Condition{{Metric: models.MetricSpend, Comparator: models.CmpGT, Threshold: 0, Lookback: 1}}
	if Evaluate(conds, nil).Fired {
		t.Fatalf("fired with no snapshots")
	}
}

func TestHistoryBounded(t *testing.T) {
	h := NewHistory(3)
	for i := int64(1); i <= 5; i++ {
		h.Push(snap(i, 0))
	}
	got := h.Snapshots()
	if len(got) != 3 {
		t.Fatalf("expected 3 retained snapshots, got %d", len(got))
	}
	if got[0].Totals.Spend != 3 || got[2].Totals.Spend != 5 {
		t.Fatalf("expected oldest=3 newest=5, got oldest=%d newest=%d", got[0].Totals.Spend, got[2].Totals.Spend)
	}
}

func TestHistoryResizeKeepsNewest(t *testing.T) {
	h := NewHistory(4)
	for i := int64(1); i <= 4; i++ {
		h.Push(snap(i, 0))
	}
	h.Resize(2)
	got := h.Snapshots()
	if len(got) != 2 || got[0].Totals.Spend != 3 || got[1].Totals.Spend != 4 {
		t.Fatalf("resize kept wrong snapshots: %+v", got)
	}
}
