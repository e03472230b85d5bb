package models

import (
	"fmt"
	"time"
)

// Rule lifecycle states persisted in Postgres. A rule leaves StatusError
// only through explicit re-activation by a human.
const (
	StatusDraft  = "draft"
	StatusActive = "active"
	StatusPaused = "paused"
	StatusError  = "error"
)

// Rule categories shown in the seller portal.
const (
	CategoryBudget       = "budget"
	CategoryPerformance  = "performance"
	CategoryNotification = "notification"
)

// Metric identifies a normalized performance metric. Money metrics
// (spend, cpc, budget) are in integer minor currency units; ctr and roas
// are percentages. Normalization is the MetricsGateway's job.
type Metric string

const (
	MetricSpend       Metric = "spend"
	MetricImpressions Metric = "impressions"
	MetricClicks      Metric = "clicks"
	MetricCTR         Metric = "ctr"
	MetricConversions Metric = "conversions"
	MetricCPC         Metric = "cpc"
	MetricROAS        Metric = "roas"
	MetricBudget      Metric = "budget"
)

// Comparator is the comparison operator of a condition.
type Comparator string

const (
	CmpGT  Comparator = ">"
	CmpGTE Comparator = ">="
	CmpLT  Comparator = "<"
	CmpLTE Comparator = "<="
	CmpEQ  Comparator = "=="
)

// Condition is one metric check of a rule. All conditions on a rule
// combine with logical AND. Lookback > 1 means the comparator must hold
// for that many consecutive evaluation snapshots before the condition
// is satisfied.
type Condition struct {
	Metric     Metric     `json:"metric"`
	Comparator Comparator `json:"comparator"`
	Threshold  float64    `json:"threshold"`
	Lookback   int        `json:"lookback"`
}

// Validate checks that the condition references known enum values.
func (c Condition) Validate() error {
	switch c.Metric {
	case MetricSpend, MetricImpressions, MetricClicks, MetricCTR,
		MetricConversions, MetricCPC, MetricROAS, MetricBudget:
	default:
		return fmt.Errorf("unknown metric %q", c.Metric)
	}
	switch c.Comparator {
	case CmpGT, CmpGTE, CmpLT, CmpLTE, CmpEQ:
	default:
		return fmt.Errorf("unknown comparator %q", c.Comparator)
	}
	if c.Lookback < 1 {
		return fmt.Errorf("lookback must be >= 1, got %d", c.Lookback)
	}
	return nil
}

// ActionKind enumerates the closed set of actions a rule may declare.
type ActionKind string

const (
	ActionPause          ActionKind = "pause"
	ActionResume         ActionKind = "resume"
	ActionStop           ActionKind = "stop"
	ActionSetBudget      ActionKind = "set_budget"
	ActionIncreaseBudget ActionKind = "increase_budget"
	ActionDecreaseBudget ActionKind = "decrease_budget"
	ActionNotify         ActionKind = "notify"
)

// Action is one typed step in a rule's action list. Exactly one of the
// parameter fields is meaningful depending on Kind: Amount (minor
// currency units) for absolute budget changes, Percent for relative
// ones, Channel for notify. Pause/resume/stop carry no parameters.
type Action struct {
	Kind    ActionKind `json:"kind"`
	Amount  int64      `json:"amount,omitempty"`
	Percent float64    `json:"percent,omitempty"`
	Channel string     `json:"channel,omitempty"`
}

// Validate checks kind-specific parameter requirements.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionPause, ActionResume, ActionStop:
		return nil
	case ActionSetBudget:
		if a.Amount <= 0 {
			return fmt.Errorf("set_budget requires a positive amount, got %d", a.Amount)
		}
	case ActionIncreaseBudget, ActionDecreaseBudget:
		if a.Amount <= 0 && a.Percent <= 0 {
			return fmt.Errorf("%s requires an amount or a percent", a.Kind)
		}
	case ActionNotify:
		if a.Channel == "" {
			return fmt.Errorf("notify requires a channel")
		}
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

// Rule is a seller-owned automation definition evaluated by the engine.
// An empty CampaignIDs set scopes the rule to all campaigns under its
// accounts.
type Rule struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"owner_id"`
	Name        string      `json:"name"`
	Category    string      `json:"category"`
	Status      string      `json:"status"`
	AccountIDs  []string    `json:"account_ids"`
	CampaignIDs []string    `json:"campaign_ids,omitempty"`
	Conditions  []Condition `json:"conditions"`
	Actions     []Action    `json:"actions"`

	// Scheduling bookkeeping, owned by the engine.
	LastCheck   *time.Time `json:"last_check,omitempty"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextCheck   time.Time  `json:"next_check"`
	ErrorCount  int        `json:"error_count"`
	Triggers    int64      `json:"triggers"`
	SuccessRate float64    `json:"success_rate"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks structural integrity of a rule definition.
func (r *Rule) Validate() error {
	if r.OwnerID == "" {
		return fmt.Errorf("rule owner is required")
	}
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if len(r.AccountIDs) == 0 {
		return fmt.Errorf("rule must scope at least one account")
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("rule must declare at least one condition")
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule must declare at least one action")
	}
	for i, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	for i, a := range r.Actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

// MaxLookback returns the longest lookback across the rule's conditions.
// It bounds the snapshot history the scheduler keeps for the rule.
func (r *Rule) MaxLookback() int {
	max := 1
	for _, c := range r.Conditions {
		if c.Lookback > max {
			max = c.Lookback
		}
	}
	return max
}
