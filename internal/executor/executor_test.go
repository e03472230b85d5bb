package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"ad-automation-engine/internal/models"
	"ad-automation-engine/internal/platform"
)

type massCall struct {
	accountID string
	op        platform.CampaignOp
	campaigns []string
}

type budgetCall struct {
	accountID string
	changes   []platform.BudgetChange
}

// fakeGateway scripts per-call errors and records everything issued.
type fakeGateway struct {
	massCalls   []massCall
	budgetCalls []budgetCall
	massErrs    []error // consumed in order; nil means success
}

func (g *fakeGateway) MassAction(_ context.Context, accountID string, op platform.CampaignOp, campaignIDs []string) ([]platform.ItemResult, error) {
	g.massCalls = append(g.massCalls, massCall{accountID, op, campaignIDs})
	if len(g.massErrs) > 0 {
		err := g.massErrs[0]
		g.massErrs = g.massErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	items := make([]platform.ItemResult, len(campaignIDs))
	for i, id := range campaignIDs {
		items[i] = platform.ItemResult{CampaignID: id, OK: true}
	}
	return items, nil
}

func (g *fakeGateway) ChangeBudget(_ context.Context, accountID string, changes []platform.BudgetChange) ([]platform.ItemResult, error) {
	g.budgetCalls = append(g.budgetCalls, budgetCall{accountID, changes})
	items := make([]platform.ItemResult, len(changes))
	for i, c := range changes {
		items[i] = platform.ItemResult{CampaignID: c.CampaignID, OK: true}
	}
	return items, nil
}

type fakeNotifier struct {
	calls []string
	err   error
}

func (n *fakeNotifier) Notify(_ context.Context, channel, _, _ string) error {
	n.calls = append(n.calls, channel)
	return n.err
}

func testRule(actions ...models.Action) models.Rule {
	return models.Rule{
		ID:         "rule-1",
		OwnerID:    "seller-1",
		Name:       "test rule",
		Status:     models.StatusActive,
		AccountIDs: []string{"acc-1"},
		Conditions: []models.Condition{{Metric: models.MetricSpend, Comparator: models.CmpGT, Threshold: 1, Lookback: 1}},
		Actions:    actions,
	}
}

func testSnapshot() models.ScopedSnapshot {
	return models.ScopedSnapshot{
		TakenAt: time.Now(),
		Totals:  models.MetricTotals{Spend: 600000},
		Accounts: []models.AccountMetrics{{
			AccountID: "acc-1",
			Campaigns: []models.CampaignMetrics{
				{CampaignID: "cmp-1", Status: "active", Budget: 100000},
				{CampaignID: "cmp-2", Status: "paused", Budget: 50000},
			},
		}},
	}
}

func TestPauseBatchesPerAccount(t *testing.T) {
	gw := &fakeGateway{}
	exec := New(gw, nil, time.Millisecond)

	rule := testRule(models.Action{Kind: models.ActionPause})
	rule.AccountIDs = []string{"acc-1", "acc-2"}
	snap := testSnapshot()
	snap.Accounts = append(snap.Accounts, models.AccountMetrics{
		AccountID: "acc-2",
		Campaigns: []models.CampaignMetrics{{CampaignID: "cmp-3", Budget: 10000}},
	})

	rec := exec.Execute(context.Background(), rule, snap, nil)
	if len(gw.massCalls) != 2 {
		t.Fatalf("expected one mass call per account, got %d", len(gw.massCalls))
	}
	if len(gw.massCalls[0].campaigns) != 2 {
		t.Fatalf("expected acc-1 batch of 2 campaigns, got %v", gw.massCalls[0].campaigns)
	}
	if rec.Outcome != models.OutcomeSuccess {
		t.Fatalf("expected overall success, got %s", rec.Outcome)
	}
}

func TestPauseAlreadyPausedIsSuccess(t *testing.T) {
	// The platform reports a no-op transition as an OK item; the firing
	// must record success, not an error.
	gw := &fakeGateway{}
	exec := New(gw, nil, time.Millisecond)

	rule := testRule(models.Action{Kind: models.ActionPause})
	rule.CampaignIDs = []string{"cmp-2"} // already paused in the snapshot

	rec := exec.Execute(context.Background(), rule, testSnapshot(), nil)
	if rec.Outcome != models.OutcomeSuccess {
		t.Fatalf("expected success for redundant pause, got %s", rec.Outcome)
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	gw := &fakeGateway{massErrs: []error{
		&platform.Error{Class: platform.ClassTransient, AccountID: "acc-1", Err: errors.New("boom")},
	}}
	notifier := &fakeNotifier{}
	exec := New(gw, notifier, time.Millisecond)

	rule := testRule(
		models.Action{Kind: models.ActionPause},
		models.Action{Kind: models.ActionNotify, Channel: "slack"},
	)

	rec := exec.Execute(context.Background(), rule, testSnapshot(), nil)
	if rec.Outcome != models.OutcomePartial {
		t.Fatalf("expected partial outcome, got %s", rec.Outcome)
	}
	if len(rec.Actions) != 2 {
		t.Fatalf("expected 2 action outcomes, got %d", len(rec.Actions))
	}
	if rec.Actions[0].Success || rec.Actions[0].Reason != models.ReasonPlatformError {
		t.Fatalf("expected pause failure with platform_error, got %+v", rec.Actions[0])
	}
	if !rec.Actions[1].Success {
		t.Fatalf("expected notify to succeed despite pause failure, got %+v", rec.Actions[1])
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != "slack" {
		t.Fatalf("expected one slack notification, got %v", notifier.calls)
	}
}

func TestBudgetDecreaseBelowZeroRejectedLocally(t *testing.T) {
	gw := &fakeGateway{}
	exec := New(gw, nil, time.Millisecond)

	rule := testRule(models.Action{Kind: models.ActionDecreaseBudget, Percent: 150})

	rec := exec.Execute(context.Background(), rule, testSnapshot(), nil)
	if len(gw.budgetCalls) != 0 {
		t.Fatalf("expected zero platform calls for invalid budget, got %d", len(gw.budgetCalls))
	}
	if rec.Outcome != models.OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", rec.Outcome)
	}
	if rec.Actions[0].Reason != models.ReasonInvalidBudget {
		t.Fatalf("expected invalid_budget reason, got %s", rec.Actions[0].Reason)
	}
}

func TestBudgetIncreasePercentComputesAbsolute(t *testing.T) {
	gw := &fakeGateway{}
	exec := New(gw, nil, time.Millisecond)

	rule := testRule(models.Action{Kind: models.ActionIncreaseBudget, Percent: 20})
	rule.CampaignIDs = []string{"cmp-1"}

	rec := exec.Execute(context.Background(), rule, testSnapshot(), nil)
	if rec.Outcome != models.OutcomeSuccess {
		t.Fatalf("expected success, got %s", rec.Outcome)
	}
	if len(gw.budgetCalls) != 1 || len(gw.budgetCalls[0].changes) != 1 {
		t.Fatalf("expected one budget change, got %+v", gw.budgetCalls)
	}
	if got := gw.budgetCalls[0].changes[0].Budget; got != 120000 {
		t.Fatalf("expected budget 120000 after +20%%, got %d", got)
	}
}

func TestRateLimitedRetriesOnce(t *testing.T) {
	limitErr := &platform.Error{Class: platform.ClassRateLimited, AccountID: "acc-1", Err: errors.New("throttled")}

	gw := &fakeGateway{massErrs: []error{limitErr}}
	exec := New(gw, nil, time.Millisecond)
	rule := testRule(models.Action{Kind: models.ActionPause})

	rec := exec.Execute(context.Background(), rule, testSnapshot(), nil)
	if len(gw.massCalls) != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", len(gw.massCalls))
	}
	if rec.Outcome != models.OutcomeSuccess {
		t.Fatalf("expected success after retry, got %s", rec.Outcome)
	}

	// Still rate-limited on the retry: exactly two calls, then failure.
	gw = &fakeGateway{massErrs: []error{limitErr, limitErr}}
	exec = New(gw, nil, time.Millisecond)
	rec = exec.Execute(context.Background(), rule, testSnapshot(), nil)
	if len(gw.massCalls) != 2 {
		t.Fatalf("expected retry to be bounded at one, got %d calls", len(gw.massCalls))
	}
	if rec.Actions[0].Reason != models.ReasonRateLimited {
		t.Fatalf("expected rate_limited reason, got %s", rec.Actions[0].Reason)
	}
}

func TestNoTargets(t *testing.T) {
	gw := &fakeGateway{}
	exec := New(gw, nil, time.Millisecond)

	rule := testRule(models.Action{Kind: models.ActionPause})
	rule.CampaignIDs = []string{"cmp-missing"}

	rec := exec.Execute(context.Background(), rule, testSnapshot(), nil)
	if len(gw.massCalls) != 0 {
		t.Fatalf("expected no platform calls without targets")
	}
	if rec.Actions[0].Reason != models.ReasonNoTargets {
		t.Fatalf("expected no_targets reason, got %s", rec.Actions[0].Reason)
	}
}

func TestNotifyUnknownChannel(t *testing.T) {
	gw := &fakeGateway{}
	exec := New(gw, nil, time.Millisecond) // nil notifier

	rule := testRule(models.Action{Kind: models.ActionNotify, Channel: "slack"})
	rec := exec.Execute(context.Background(), rule, testSnapshot(), nil)
	if rec.Actions[0].Success || rec.Actions[0].Reason != models.ReasonNoTargets {
		t.Fatalf("expected no_targets for missing notifier, got %+v", rec.Actions[0])
	}
}

func TestAuthInvalidSurfacedDistinctly(t *testing.T) {
	gw := &fakeGateway{massErrs: []error{
		&platform.Error{Class: platform.ClassAuthInvalid, AccountID: "acc-1", Err: errors.New("session expired")},
	}}
	exec := New(gw, nil, time.Millisecond)

	rule := testRule(models.Action{Kind: models.ActionPause})
	rec := exec.Execute(context.Background(), rule, testSnapshot(), nil)
	if len(gw.massCalls) != 1 {
		t.Fatalf("auth errors must not be retried, got %d calls", len(gw.massCalls))
	}
	if rec.Actions[0].Reason != models.ReasonAuthInvalid {
		t.Fatalf("expected auth_invalid reason, got %s", rec.Actions[0].Reason)
	}
}
