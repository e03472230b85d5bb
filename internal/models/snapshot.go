package models

import "time"

// CampaignMetrics carries normalized metrics for a single campaign.
// Money fields are integer minor currency units.
type CampaignMetrics struct {
	CampaignID  string  `json:"campaign_id"`
	Status      string  `json:"status"`
	Spend       int64   `json:"spend"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	CPC         int64   `json:"cpc"`
	Budget      int64   `json:"budget"`
	CTR         float64 `json:"ctr"`
	ROAS        float64 `json:"roas"`
}

// AccountMetrics groups campaign metrics for one scoped account.
type AccountMetrics struct {
	AccountID string            `json:"account_id"`
	Campaigns []CampaignMetrics `json:"campaigns"`
}

// MetricTotals is the scope-wide aggregate a rule's conditions are
// evaluated against.
type MetricTotals struct {
	Spend       int64   `json:"spend"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	CPC         int64   `json:"cpc"`
	Budget      int64   `json:"budget"`
	CTR         float64 `json:"ctr"`
	ROAS        float64 `json:"roas"`
}

// Value returns the total for a named metric.
func (t MetricTotals) Value(m Metric) float64 {
	switch m {
	case MetricSpend:
		return float64(t.Spend)
	case MetricImpressions:
		return float64(t.Impressions)
	case MetricClicks:
		return float64(t.Clicks)
	case MetricConversions:
		return float64(t.Conversions)
	case MetricCPC:
		return float64(t.CPC)
	case MetricBudget:
		return float64(t.Budget)
	case MetricCTR:
		return t.CTR
	case MetricROAS:
		return t.ROAS
	default:
		return 0
	}
}

// ScopedSnapshot is the result of one metrics fetch for one rule's scope
// at one evaluation instant. It lives only for the evaluation (plus a
// small per-rule ring buffer for lookback conditions) and is never
// persisted.
type ScopedSnapshot struct {
	TakenAt  time.Time        `json:"taken_at"`
	Totals   MetricTotals     `json:"totals"`
	Accounts []AccountMetrics `json:"accounts"`
}
