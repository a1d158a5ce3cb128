package meta

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/adpilot-hq/adpilot-backend/pkg/enums"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
)

const adListFields = "id,name,effective_status,adset{id,daily_budget},campaign{id,daily_budget}"

// Ad is one deliverable ad with its budget location resolved. DailyBudget
// lives on the ad set normally, or on the campaign when the campaign manages
// budget across its ad sets.
type Ad struct {
	ID          string
	Name        string
	Status      enums.DeliveryStatus
	AdSetID     string
	CampaignID  string
	DailyBudget decimal.Decimal
	BudgetLevel enums.BudgetLevel
}

type adListWire struct {
	Data []struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		EffectiveStatus string `json:"effective_status"`
		AdSet           struct {
			ID          string `json:"id"`
			DailyBudget string `json:"daily_budget"`
		} `json:"adset"`
		Campaign struct {
			ID          string `json:"id"`
			DailyBudget string `json:"daily_budget"`
		} `json:"campaign"`
	} `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// ListActiveAds returns every currently-delivering ad under the account,
// following Graph pagination.
func (c *Client) ListActiveAds(ctx context.Context, accountID string) ([]Ad, error) {
	account := strings.TrimSpace(accountID)
	if account == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if !strings.HasPrefix(account, "act_") {
		account = "act_" + account
	}

	c.log(ctx, "request", "list_ads", map[string]any{"account_id": account})

	query := url.Values{}
	query.Set("fields", adListFields)
	query.Set("limit", "100")

	var ads []Ad
	path := fmt.Sprintf("%s/ads", account)

	for {
		var page adListWire
		if err := c.doGet(ctx, path, query, &page); err != nil {
			c.log(ctx, "error", "list_ads", map[string]any{"error": err.Error()})
			return nil, err
		}

		for _, raw := range page.Data {
			if raw.EffectiveStatus != string(enums.DeliveryActive) {
				continue
			}
			ad, err := adFromWire(raw.ID, raw.Name, raw.AdSet.ID, raw.AdSet.DailyBudget, raw.Campaign.ID, raw.Campaign.DailyBudget)
			if err != nil {
				return nil, err
			}
			ads = append(ads, ad)
		}

		if page.Paging.Next == "" {
			break
		}
		next, err := url.Parse(page.Paging.Next)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "parsing graph paging url")
		}
		query = next.Query()
		query.Del("access_token")
	}

	c.log(ctx, "response", "list_ads", map[string]any{"account_id": account, "count": len(ads)})
	return ads, nil
}

func adFromWire(id, name, adSetID, adSetBudget, campaignID, campaignBudget string) (Ad, error) {
	ad := Ad{
		ID:         id,
		Name:       name,
		Status:     enums.DeliveryActive,
		AdSetID:    adSetID,
		CampaignID: campaignID,
	}

	switch {
	case strings.TrimSpace(campaignBudget) != "":
		budget, err := decimal.NewFromString(campaignBudget)
		if err != nil {
			return Ad{}, pkgerrors.Wrap(pkgerrors.CodeDataQuality, err,
				fmt.Sprintf("ad %s campaign budget %q is not numeric", id, campaignBudget))
		}
		ad.DailyBudget = budget
		ad.BudgetLevel = enums.BudgetLevelCampaign
	case strings.TrimSpace(adSetBudget) != "":
		budget, err := decimal.NewFromString(adSetBudget)
		if err != nil {
			return Ad{}, pkgerrors.Wrap(pkgerrors.CodeDataQuality, err,
				fmt.Sprintf("ad %s adset budget %q is not numeric", id, adSetBudget))
		}
		ad.DailyBudget = budget
		ad.BudgetLevel = enums.BudgetLevelAdSet
	default:
		return Ad{}, pkgerrors.New(pkgerrors.CodeDataQuality,
			fmt.Sprintf("ad %s carries no daily budget at either level", id))
	}

	return ad, nil
}
