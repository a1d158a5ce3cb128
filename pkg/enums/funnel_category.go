package enums

import (
	"fmt"
	"strings"
)

// frontOfferToken marks funnel categories that sell a paid low-ticket offer
// right after the lead conversion. Categories carrying the token are judged on
// front-offer CPO first; the rest are judged on lead CPA only.
const frontOfferToken = "front-offer"

// FunnelCategory maps to the funnel_category enum in Postgres.
type FunnelCategory string

const (
	FunnelWebinarFrontOffer FunnelCategory = "webinar-front-offer"
	FunnelVSLFrontOffer     FunnelCategory = "vsl-front-offer"
	FunnelLeadGen           FunnelCategory = "lead-gen"
)

var validFunnelCategories = []FunnelCategory{
	FunnelWebinarFrontOffer,
	FunnelVSLFrontOffer,
	FunnelLeadGen,
}

// IsValid reports whether the value matches the canonical funnel_category enum.
func (f FunnelCategory) IsValid() bool {
	for _, candidate := range validFunnelCategories {
		if candidate == f {
			return true
		}
	}
	return false
}

// HasFrontOffer reports whether the category name carries the front-offer token.
func (f FunnelCategory) HasFrontOffer() bool {
	return strings.Contains(string(f), frontOfferToken)
}

// ParseFunnelCategory converts raw input into FunnelCategory.
func ParseFunnelCategory(value string) (FunnelCategory, error) {
	for _, candidate := range validFunnelCategories {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid funnel category %q", value)
}
