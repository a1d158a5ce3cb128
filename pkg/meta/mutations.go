package meta

import (
	"context"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/adpilot-hq/adpilot-backend/pkg/enums"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
)

// UpdateDailyBudget sets the daily budget on an ad set or campaign. Which
// entity to target is the caller's resolution; budgets are posted in the
// account currency's minor unit.
func (c *Client) UpdateDailyBudget(ctx context.Context, entityID string, level enums.BudgetLevel, budget decimal.Decimal) error {
	id := strings.TrimSpace(entityID)
	if id == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "entity id is required")
	}
	if !level.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid budget level "+string(level))
	}
	if budget.LessThanOrEqual(decimal.Zero) {
		return pkgerrors.New(pkgerrors.CodeValidation, "budget must be positive")
	}

	c.log(ctx, "request", "update_daily_budget", map[string]any{
		"entity_id": id,
		"level":     string(level),
		"budget":    budget.String(),
	})

	form := url.Values{}
	form.Set("daily_budget", budget.String())

	if err := c.doPostForm(ctx, id, form); err != nil {
		c.log(ctx, "error", "update_daily_budget", map[string]any{"error": err.Error()})
		return err
	}

	c.log(ctx, "response", "update_daily_budget", map[string]any{"entity_id": id})
	return nil
}

// UpdateAdStatus enables or pauses delivery of a single ad.
func (c *Client) UpdateAdStatus(ctx context.Context, adID string, directive enums.StatusDirective) error {
	id := strings.TrimSpace(adID)
	if id == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "ad id is required")
	}
	if !directive.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid status directive "+string(directive))
	}

	status := string(enums.DeliveryActive)
	if directive == enums.DirectiveDisable {
		status = string(enums.DeliveryPaused)
	}

	c.log(ctx, "request", "update_ad_status", map[string]any{"ad_id": id, "status": status})

	form := url.Values{}
	form.Set("status", status)

	if err := c.doPostForm(ctx, id, form); err != nil {
		c.log(ctx, "error", "update_ad_status", map[string]any{"error": err.Error()})
		return err
	}

	c.log(ctx, "response", "update_ad_status", map[string]any{"ad_id": id, "status": status})
	return nil
}
