package meta

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
)

// Date presets understood by the insights edge.
const (
	PresetToday  = "today"
	PresetLast7d = "last_7d"
)

// Insights holds the delivery metrics for one entity over one preset window.
// Conversions are deliberately absent; those come from the advertiser's
// ledger, not the platform pixel.
type Insights struct {
	Spend       decimal.Decimal
	Impressions int64
	Clicks      int64
}

type insightsWire struct {
	Data []struct {
		Spend       string `json:"spend"`
		Impressions string `json:"impressions"`
		Clicks      string `json:"clicks"`
	} `json:"data"`
}

// GetInsights fetches spend and impressions for the entity over the preset
// window. An empty data array means no delivery yet and decodes to zeros.
func (c *Client) GetInsights(ctx context.Context, entityID, preset string) (Insights, error) {
	id := strings.TrimSpace(entityID)
	if id == "" {
		return Insights{}, pkgerrors.New(pkgerrors.CodeValidation, "entity id is required")
	}
	if preset != PresetToday && preset != PresetLast7d {
		return Insights{}, pkgerrors.New(pkgerrors.CodeValidation, "unsupported date preset "+preset)
	}

	c.log(ctx, "request", "get_insights", map[string]any{"entity_id": id, "preset": preset})

	query := url.Values{}
	query.Set("fields", "spend,impressions,clicks")
	query.Set("date_preset", preset)

	var wire insightsWire
	if err := c.doGet(ctx, id+"/insights", query, &wire); err != nil {
		c.log(ctx, "error", "get_insights", map[string]any{"error": err.Error()})
		return Insights{}, err
	}

	if len(wire.Data) == 0 {
		return Insights{}, nil
	}

	row := wire.Data[0]
	out := Insights{}

	if strings.TrimSpace(row.Spend) != "" {
		spend, err := decimal.NewFromString(row.Spend)
		if err != nil {
			return Insights{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insights spend is not numeric")
		}
		out.Spend = spend
	}
	if strings.TrimSpace(row.Impressions) != "" {
		impressions, err := strconv.ParseInt(row.Impressions, 10, 64)
		if err != nil {
			return Insights{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insights impressions is not numeric")
		}
		out.Impressions = impressions
	}
	if strings.TrimSpace(row.Clicks) != "" {
		clicks, err := strconv.ParseInt(row.Clicks, 10, 64)
		if err != nil {
			return Insights{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insights clicks is not numeric")
		}
		out.Clicks = clicks
	}

	c.log(ctx, "response", "get_insights", map[string]any{
		"entity_id":   id,
		"preset":      preset,
		"spend":       out.Spend.String(),
		"impressions": out.Impressions,
	})
	return out, nil
}
