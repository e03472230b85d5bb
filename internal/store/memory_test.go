package store

import (
	"context"
	"testing"
	"time"

	"ad-automation-engine/internal/models"
)

func seedRule(t *testing.T, s *MemoryStore, status string, next time.Time) models.Rule {
	t.Helper()
	rule := &models.Rule{
		OwnerID:    "seller-1",
		Name:       "r",
		Status:     status,
		AccountIDs: []string{"acc-1"},
		Conditions: []models.Condition{{Metric: models.MetricSpend, Comparator: models.CmpGT, Threshold: 1, Lookback: 1}},
		Actions:    []models.Action{{Kind: models.ActionPause}},
		NextCheck:  next,
	}
	if err := s.CreateRule(context.Background(), rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return *rule
}

func TestDueRulesFiltersStatusAndTime(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()

	due := seedRule(t, s, models.StatusActive, now.Add(-time.Minute))
	seedRule(t, s, models.StatusActive, now.Add(time.Hour))
	seedRule(t, s, models.StatusPaused, now.Add(-time.Minute))
	seedRule(t, s, models.StatusError, now.Add(-time.Minute))

	got, err := s.DueRules(context.Background(), now)
	if err != nil {
		t.Fatalf("due rules: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Fatalf("expected only the past-due active rule, got %+v", got)
	}
}

func TestCommitEvaluationWritesRecordWithBookkeeping(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	rule := seedRule(t, s, models.StatusActive, time.Now())

	fired := time.Now().UTC()
	err := s.CommitEvaluation(ctx, CommitEvaluationParams{
		RuleID:      rule.ID,
		Status:      models.StatusActive,
		LastCheck:   fired,
		LastRun:     &fired,
		NextCheck:   fired.Add(time.Minute),
		Triggers:    1,
		SuccessRate: 100,
		Record: &models.ExecutionRecord{
			ID: "rec-1", RuleID: rule.ID, At: fired, Outcome: models.OutcomeSuccess,
		},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, _ := s.GetRule(ctx, rule.ID)
	if got.Triggers != 1 || got.SuccessRate != 100 || got.LastRun == nil {
		t.Fatalf("bookkeeping not applied: %+v", got)
	}
	records, _ := s.ListExecutions(ctx, rule.ID, 10)
	if len(records) != 1 || records[0].ID != "rec-1" {
		t.Fatalf("expected the record persisted with the rule update, got %+v", records)
	}
}

func TestCommitEvaluationUnknownRule(t *testing.T) {
	s := NewMemoryStore()
	err := s.CommitEvaluation(context.Background(), CommitEvaluationParams{RuleID: "gone"})
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetDesiredRunningCAS(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if running, _ := s.DesiredRunning(ctx); running {
		t.Fatalf("expected stopped initially")
	}
	swapped, err := s.SetDesiredRunning(ctx, false, true)
	if err != nil || !swapped {
		t.Fatalf("expected swap false->true, got swapped=%v err=%v", swapped, err)
	}
	swapped, _ = s.SetDesiredRunning(ctx, false, true)
	if swapped {
		t.Fatalf("expected CAS to fail when state is already true")
	}
	if running, _ := s.DesiredRunning(ctx); !running {
		t.Fatalf("expected running after swap")
	}
}

func TestExecutionsBeforeAndDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	rule := seedRule(t, s, models.StatusActive, time.Now())

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()
	for i, at := range []time.Time{old, recent} {
		err := s.CommitEvaluation(ctx, CommitEvaluationParams{
			RuleID:    rule.ID,
			Status:    rule.Status,
			LastCheck: at,
			NextCheck: at.Add(time.Minute),
			Record:    &models.ExecutionRecord{ID: []string{"rec-old", "rec-new"}[i], RuleID: rule.ID, At: at},
		})
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	expired, err := s.ExecutionsBefore(ctx, time.Now().Add(-24*time.Hour), 100)
	if err != nil {
		t.Fatalf("executions before: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "rec-old" {
		t.Fatalf("expected only the old record, got %+v", expired)
	}

	if err := s.DeleteExecutions(ctx, []string{"rec-old"}); err != nil {
		t.Fatalf("delete executions: %v", err)
	}
	remaining, _ := s.ListExecutions(ctx, rule.ID, 10)
	if len(remaining) != 1 || remaining[0].ID != "rec-new" {
		t.Fatalf("expected only the recent record to remain, got %+v", remaining)
	}
}
