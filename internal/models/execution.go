package models

import "time"

// Overall outcome of one firing.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// FailureReason distinguishes why an individual action failed.
type FailureReason string

const (
	ReasonPlatformError FailureReason = "platform_error"
	ReasonInvalidBudget FailureReason = "invalid_budget"
	ReasonNoTargets     FailureReason = "no_targets"
	ReasonRateLimited   FailureReason = "rate_limited"
	ReasonAuthInvalid   FailureReason = "auth_invalid"
)

// ActionOutcome reports one action batch against one account. Notify
// actions are not account-scoped and leave AccountID empty.
type ActionOutcome struct {
	Kind      ActionKind    `json:"kind"`
	AccountID string        `json:"account_id,omitempty"`
	Targets   int           `json:"targets"`
	Success   bool          `json:"success"`
	Reason    FailureReason `json:"reason,omitempty"`
	Detail    string        `json:"detail,omitempty"`
}

// ExecutionRecord is the append-only audit entry for one firing attempt.
// Never mutated after insertion; success_rate is derived from these rows.
type ExecutionRecord struct {
	ID            string             `json:"id"`
	RuleID        string             `json:"rule_id"`
	At            time.Time          `json:"at"`
	MatchedValues map[Metric]float64 `json:"matched_values"`
	Actions       []ActionOutcome    `json:"actions"`
	Outcome       string             `json:"outcome"`
}

// FoldOutcome reduces per-action outcomes into the overall result.
func FoldOutcome(actions []ActionOutcome) string {
	if len(actions) == 0 {
		return OutcomeFailed
	}
	succeeded := 0
	for _, a := range actions {
		if a.Success {
			succeeded++
		}
	}
	switch succeeded {
	case len(actions):
		return OutcomeSuccess
	case 0:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}
