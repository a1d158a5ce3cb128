package enums

import "fmt"

// DeliveryStatus mirrors the platform's effective delivery state for an ad.
type DeliveryStatus string

const (
	DeliveryActive DeliveryStatus = "ACTIVE"
	DeliveryPaused DeliveryStatus = "PAUSED"
)

// IsValid reports whether the value is a recognized delivery status.
func (d DeliveryStatus) IsValid() bool {
	return d == DeliveryActive || d == DeliveryPaused
}

// StatusDirective is the value sent on delivery-status mutations.
type StatusDirective string

const (
	DirectiveEnable  StatusDirective = "ENABLE"
	DirectiveDisable StatusDirective = "DISABLE"
)

// IsValid reports whether the value is a recognized status directive.
func (s StatusDirective) IsValid() bool {
	return s == DirectiveEnable || s == DirectiveDisable
}

// BudgetLevel identifies where an ad's daily budget is set. Pooled budgets live
// on the campaign and are shared by every ad set underneath it.
type BudgetLevel string

const (
	BudgetLevelAdSet    BudgetLevel = "adset"
	BudgetLevelCampaign BudgetLevel = "campaign"
)

var validBudgetLevels = []BudgetLevel{BudgetLevelAdSet, BudgetLevelCampaign}

// IsValid reports whether the value matches the canonical budget_level enum.
func (b BudgetLevel) IsValid() bool {
	for _, candidate := range validBudgetLevels {
		if candidate == b {
			return true
		}
	}
	return false
}

// ParseBudgetLevel converts raw input into BudgetLevel.
func ParseBudgetLevel(value string) (BudgetLevel, error) {
	for _, candidate := range validBudgetLevels {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid budget level %q", value)
}
