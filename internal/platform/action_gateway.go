package platform

import (
	"context"
)

// CampaignOp is a mass state operation supported by the platform.
type CampaignOp string

const (
	OpPause  CampaignOp = "pause"
	OpResume CampaignOp = "resume"
	OpStop   CampaignOp = "stop"
)

// BudgetChange sets one campaign's daily budget, in minor currency units.
type BudgetChange struct {
	CampaignID string `json:"campaign_id"`
	Budget     int64  `json:"budget"`
}

// ItemResult is the platform's per-campaign verdict within a mass call.
type ItemResult struct {
	CampaignID string `json:"campaign_id"`
	OK         bool   `json:"ok"`
	Code       string `json:"code,omitempty"`
}

// ActionGateway issues mutating mass operations to the platform, one
// call per account. The platform treats redundant transitions (pausing
// an already-paused campaign) as no-op successes.
type ActionGateway struct {
	client *Client
}

func NewActionGateway(client *Client) *ActionGateway {
	return &ActionGateway{client: client}
}

type massActionRequest struct {
	Op          CampaignOp `json:"op"`
	CampaignIDs []string   `json:"campaign_ids"`
}

type massActionResponse struct {
	Items []ItemResult `json:"items"`
}

// MassAction applies op to every listed campaign under one account.
func (g *ActionGateway) MassAction(ctx context.Context, accountID string, op CampaignOp, campaignIDs []string) ([]ItemResult, error) {
	var resp massActionResponse
	err := g.client.post(ctx, accountID, "/campaigns/mass-action", massActionRequest{
		Op:          op,
		CampaignIDs: campaignIDs,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

type changeBudgetRequest struct {
	Changes []BudgetChange `json:"changes"`
}

// ChangeBudget applies absolute budget values to campaigns under one
// account. Budgets must be validated positive by the caller before the
// call is issued.
func (g *ActionGateway) ChangeBudget(ctx context.Context, accountID string, changes []BudgetChange) ([]ItemResult, error) {
	var resp massActionResponse
	err := g.client.post(ctx, accountID, "/campaigns/change-budget", changeBudgetRequest{Changes: changes}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}
