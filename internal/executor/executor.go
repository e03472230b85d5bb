// Package executor turns fired rules into platform-side effects and
// folds the per-action outcomes into an execution record.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"ad-automation-engine/internal/models"
	"ad-automation-engine/internal/notify"
	"ad-automation-engine/internal/platform"
	"ad-automation-engine/internal/telemetry"
)

// ActionGateway is the slice of the platform adapter the executor needs.
type ActionGateway interface {
	MassAction(ctx context.Context, accountID string, op platform.CampaignOp, campaignIDs []string) ([]platform.ItemResult, error)
	ChangeBudget(ctx context.Context, accountID string, changes []platform.BudgetChange) ([]platform.ItemResult, error)
}

// Executor executes a fired rule's action list in order. Actions are
// independent: one failing never blocks the rest of the firing.
type Executor struct {
	gateway    ActionGateway
	notifier   notify.Notifier
	retryDelay time.Duration
}

// New constructs an executor. retryDelay is the pause before the single
// bounded retry of a rate-limited action.
func New(gateway ActionGateway, notifier notify.Notifier, retryDelay time.Duration) *Executor {
	if retryDelay == 0 {
		retryDelay = 2 * time.Second
	}
	return &Executor{gateway: gateway, notifier: notifier, retryDelay: retryDelay}
}

// Execute runs every action of a fired rule against the snapshot's
// targets and returns the append-only audit record for the firing.
func (e *Executor) Execute(ctx context.Context, rule models.Rule, snap models.ScopedSnapshot, matched map[models.Metric]float64) models.ExecutionRecord {
	ctx = platform.WithRuleID(ctx, rule.ID)

	var outcomes []models.ActionOutcome
	for _, action := range rule.Actions {
		switch action.Kind {
		case models.ActionPause, models.ActionResume, models.ActionStop:
			outcomes = append(outcomes, e.runMassAction(ctx, rule, snap, action)...)
		case models.ActionSetBudget, models.ActionIncreaseBudget, models.ActionDecreaseBudget:
			outcomes = append(outcomes, e.runBudgetAction(ctx, rule, snap, action)...)
		case models.ActionNotify:
			outcomes = append(outcomes, e.runNotify(ctx, rule, action, matched))
		}
	}

	for _, o := range outcomes {
		if !o.Success {
			telemetry.ActionFailures.Inc()
		}
	}

	return models.ExecutionRecord{
		ID:            uuid.New().String(),
		RuleID:        rule.ID,
		At:            time.Now().UTC(),
		MatchedValues: matched,
		Actions:       outcomes,
		Outcome:       models.FoldOutcome(outcomes),
	}
}

// runMassAction batches all target campaigns of each account into one
// platform call per account.
func (e *Executor) runMassAction(ctx context.Context, rule models.Rule, snap models.ScopedSnapshot, action models.Action) []models.ActionOutcome {
	op := map[models.ActionKind]platform.CampaignOp{
		models.ActionPause:  platform.OpPause,
		models.ActionResume: platform.OpResume,
		models.ActionStop:   platform.OpStop,
	}[action.Kind]

	var outcomes []models.ActionOutcome
	for _, account := range snap.Accounts {
		targets := targetCampaigns(rule, account)
		outcome := models.ActionOutcome{Kind: action.Kind, AccountID: account.AccountID, Targets: len(targets)}
		if len(targets) == 0 {
			outcome.Reason = models.ReasonNoTargets
			outcomes = append(outcomes, outcome)
			continue
		}

		items, err := e.withRateLimitRetry(ctx, func() ([]platform.ItemResult, error) {
			return e.gateway.MassAction(ctx, account.AccountID, op, targets)
		})
		outcomes = append(outcomes, foldItems(outcome, items, err))
	}
	return outcomes
}

// runBudgetAction computes the resulting absolute budget per campaign
// and issues one change-budget call per account. A computed budget that
// is not a positive amount rejects the whole account batch locally,
// with no platform call.
func (e *Executor) runBudgetAction(ctx context.Context, rule models.Rule, snap models.ScopedSnapshot, action models.Action) []models.ActionOutcome {
	var outcomes []models.ActionOutcome
	for _, account := range snap.Accounts {
		targetSet := make(map[string]struct{})
		for _, id := range targetCampaigns(rule, account) {
			targetSet[id] = struct{}{}
		}

		outcome := models.ActionOutcome{Kind: action.Kind, AccountID: account.AccountID, Targets: len(targetSet)}
		if len(targetSet) == 0 {
			outcome.Reason = models.ReasonNoTargets
			outcomes = append(outcomes, outcome)
			continue
		}

		changes := make([]platform.BudgetChange, 0, len(targetSet))
		invalid := false
		for _, cm := range account.Campaigns {
			if _, ok := targetSet[cm.CampaignID]; !ok {
				continue
			}
			next := computeBudget(action, cm.Budget)
			if next <= 0 {
				invalid = true
				break
			}
			changes = append(changes, platform.BudgetChange{CampaignID: cm.CampaignID, Budget: next})
		}
		if invalid {
			outcome.Reason = models.ReasonInvalidBudget
			outcome.Detail = "computed budget is not a positive amount"
			outcomes = append(outcomes, outcome)
			continue
		}

		items, err := e.withRateLimitRetry(ctx, func() ([]platform.ItemResult, error) {
			return e.gateway.ChangeBudget(ctx, account.AccountID, changes)
		})
		outcomes = append(outcomes, foldItems(outcome, items, err))
	}
	return outcomes
}

func (e *Executor) runNotify(ctx context.Context, rule models.Rule, action models.Action, matched map[models.Metric]float64) models.ActionOutcome {
	outcome := models.ActionOutcome{Kind: models.ActionNotify, Targets: 1}
	if e.notifier == nil {
		outcome.Reason = models.ReasonNoTargets
		outcome.Detail = "no notifier configured"
		return outcome
	}

	subject := fmt.Sprintf("Automation rule %q fired", rule.Name)
	err := e.notifier.Notify(ctx, action.Channel, subject, matchedSummary(matched))
	if err != nil {
		var unknown *notify.ErrUnknownChannel
		if errors.As(err, &unknown) {
			outcome.Reason = models.ReasonNoTargets
		} else {
			outcome.Reason = models.ReasonPlatformError
		}
		outcome.Detail = err.Error()
		return outcome
	}
	outcome.Success = true
	return outcome
}

// withRateLimitRetry re-attempts a rate-limited call exactly once after
// a short pause. All other failures pass straight through.
func (e *Executor) withRateLimitRetry(ctx context.Context, call func() ([]platform.ItemResult, error)) ([]platform.ItemResult, error) {
	items, err := call()
	if err == nil || platform.ClassOf(err) != platform.ClassRateLimited {
		return items, err
	}
	select {
	case <-ctx.Done():
		return nil, err
	case <-time.After(e.retryDelay):
	}
	return call()
}

// foldItems merges a gateway call's result into the outcome. The call
// succeeds only when the platform accepted every item.
func foldItems(outcome models.ActionOutcome, items []platform.ItemResult, err error) models.ActionOutcome {
	if err != nil {
		outcome.Reason = reasonFor(err)
		outcome.Detail = errDetail(err)
		return outcome
	}
	failed := 0
	code := ""
	for _, item := range items {
		if !item.OK {
			failed++
			if code == "" {
				code = item.Code
			}
		}
	}
	if failed > 0 {
		outcome.Reason = models.ReasonPlatformError
		outcome.Detail = fmt.Sprintf("%d of %d items rejected (first code %s)", failed, len(items), code)
		return outcome
	}
	outcome.Success = true
	return outcome
}

func reasonFor(err error) models.FailureReason {
	switch platform.ClassOf(err) {
	case platform.ClassRateLimited:
		return models.ReasonRateLimited
	case platform.ClassAuthInvalid:
		return models.ReasonAuthInvalid
	default:
		return models.ReasonPlatformError
	}
}

func errDetail(err error) string {
	var pe *platform.Error
	if errors.As(err, &pe) && pe.Code != "" {
		return pe.Code
	}
	return err.Error()
}

// targetCampaigns resolves the concrete campaign set for one account:
// the rule's campaign scope when set, otherwise every campaign in the
// snapshot for that account.
func targetCampaigns(rule models.Rule, account models.AccountMetrics) []string {
	if len(rule.CampaignIDs) == 0 {
		ids := make([]string, 0, len(account.Campaigns))
		for _, cm := range account.Campaigns {
			ids = append(ids, cm.CampaignID)
		}
		return ids
	}
	scoped := make(map[string]struct{}, len(rule.CampaignIDs))
	for _, id := range rule.CampaignIDs {
		scoped[id] = struct{}{}
	}
	var ids []string
	for _, cm := range account.Campaigns {
		if _, ok := scoped[cm.CampaignID]; ok {
			ids = append(ids, cm.CampaignID)
		}
	}
	return ids
}

func computeBudget(action models.Action, current int64) int64 {
	switch action.Kind {
	case models.ActionSetBudget:
		return action.Amount
	case models.ActionIncreaseBudget:
		if action.Amount > 0 {
			return current + action.Amount
		}
		return int64(math.Round(float64(current) * (1 + action.Percent/100)))
	case models.ActionDecreaseBudget:
		if action.Amount > 0 {
			return current - action.Amount
		}
		return int64(math.Round(float64(current) * (1 - action.Percent/100)))
	default:
		return 0
	}
}

func matchedSummary(matched map[models.Metric]float64) string {
	keys := make([]string, 0, len(matched))
	for m := range matched {
		keys = append(keys, string(m))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%g", k, matched[models.Metric(k)]))
	}
	return "matched: " + strings.Join(parts, ", ")
}
