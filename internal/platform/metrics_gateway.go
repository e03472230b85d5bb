package platform

import (
	"context"
	"fmt"
	"time"

	"ad-automation-engine/internal/models"
)

// MetricsGateway fetches current performance metrics for a rule's scope
// and normalizes them: money in integer minor units, ctr/roas as
// percentages. The evaluator never re-derives units.
type MetricsGateway struct {
	client *Client
}

func NewMetricsGateway(client *Client) *MetricsGateway {
	return &MetricsGateway{client: client}
}

type metricsQueryRequest struct {
	CampaignIDs []string `json:"campaign_ids,omitempty"`
	TimeRange   string   `json:"time_range"`
}

type metricsQueryResponse struct {
	Items []struct {
		CampaignID  string `json:"campaign_id"`
		Status      string `json:"status"`
		Spend       int64  `json:"spend"`
		Impressions int64  `json:"impressions"`
		Clicks      int64  `json:"clicks"`
		Conversions int64  `json:"conversions"`
		Revenue     int64  `json:"revenue"`
		Budget      int64  `json:"budget"`
	} `json:"items"`
}

// FetchSnapshot queries every scoped account and folds the results into
// one snapshot. An empty campaignIDs set means all campaigns under the
// scoped accounts.
func (g *MetricsGateway) FetchSnapshot(ctx context.Context, accountIDs, campaignIDs []string) (models.ScopedSnapshot, error) {
	snap := models.ScopedSnapshot{TakenAt: time.Now().UTC()}
	var revenue int64

	for _, accountID := range accountIDs {
		var resp metricsQueryResponse
		err := g.client.post(ctx, accountID, "/metrics/query", metricsQueryRequest{
			CampaignIDs: campaignIDs,
			TimeRange:   "today",
		}, &resp)
		if err != nil {
			return models.ScopedSnapshot{}, fmt.Errorf("fetch metrics for account %s: %w", accountID, err)
		}

		account := models.AccountMetrics{AccountID: accountID}
		for _, item := range resp.Items {
			cm := models.CampaignMetrics{
				CampaignID:  item.CampaignID,
				Status:      item.Status,
				Spend:       item.Spend,
				Impressions: item.Impressions,
				Clicks:      item.Clicks,
				Conversions: item.Conversions,
				Budget:      item.Budget,
			}
			if item.Impressions > 0 {
				cm.CTR = float64(item.Clicks) / float64(item.Impressions) * 100
			}
			if item.Clicks > 0 {
				cm.CPC = item.Spend / item.Clicks
			}
			if item.Spend > 0 {
				cm.ROAS = float64(item.Revenue) / float64(item.Spend) * 100
			}
			account.Campaigns = append(account.Campaigns, cm)

			snap.Totals.Spend += item.Spend
			snap.Totals.Impressions += item.Impressions
			snap.Totals.Clicks += item.Clicks
			snap.Totals.Conversions += item.Conversions
			snap.Totals.Budget += item.Budget
			revenue += item.Revenue
		}
		snap.Accounts = append(snap.Accounts, account)
	}

	if snap.Totals.Impressions > 0 {
		snap.Totals.CTR = float64(snap.Totals.Clicks) / float64(snap.Totals.Impressions) * 100
	}
	if snap.Totals.Clicks > 0 {
		snap.Totals.CPC = snap.Totals.Spend / snap.Totals.Clicks
	}
	if snap.Totals.Spend > 0 {
		snap.Totals.ROAS = float64(revenue) / float64(snap.Totals.Spend) * 100
	}
	return snap, nil
}
