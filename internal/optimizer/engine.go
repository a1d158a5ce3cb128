package optimizer

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/adpilot-hq/adpilot-backend/internal/insights"
	"github.com/adpilot-hq/adpilot-backend/pkg/config"
	"github.com/adpilot-hq/adpilot-backend/pkg/db/models"
	"github.com/adpilot-hq/adpilot-backend/pkg/enums"
	"github.com/adpilot-hq/adpilot-backend/pkg/meta"
)

// Policy carries the tier bounds and factors the engine compares against.
// Decimal throughout: a budget of exactly 20000 and one of 20000.01 must land
// in different tiers.
type Policy struct {
	BaseTierCeiling        decimal.Decimal
	MidTierCeiling         decimal.Decimal
	HardCeiling            decimal.Decimal
	IncreaseFactor         decimal.Decimal
	ReduceFactor           decimal.Decimal
	MinDailyBudget         decimal.Decimal
	NewCreativeImpressions int64
}

// PolicyFromConfig converts the configured tunables into decimal policy values.
func PolicyFromConfig(cfg config.OptimizerConfig) Policy {
	return Policy{
		BaseTierCeiling:        decimal.NewFromFloat(cfg.BaseTierCeiling),
		MidTierCeiling:         decimal.NewFromFloat(cfg.MidTierCeiling),
		HardCeiling:            decimal.NewFromFloat(cfg.HardCeiling),
		IncreaseFactor:         decimal.NewFromFloat(cfg.IncreaseFactor),
		ReduceFactor:           decimal.NewFromFloat(cfg.ReduceFactor),
		MinDailyBudget:         decimal.NewFromFloat(cfg.MinDailyBudget),
		NewCreativeImpressions: cfg.NewCreativeImpressions,
	}
}

// Targets is the slice of an advertiser's profile the engine reads.
type Targets struct {
	FunnelCategory enums.FunnelCategory
	TargetCPA      decimal.Decimal
	AllowableCPA   decimal.Decimal
	TargetCPO      *decimal.Decimal
	AllowableCPO   *decimal.Decimal
}

// TargetsFromProfile extracts the decision targets from a profile row.
func TargetsFromProfile(profile *models.TargetProfile) Targets {
	if profile == nil {
		return Targets{}
	}
	return Targets{
		FunnelCategory: profile.FunnelCategory,
		TargetCPA:      profile.TargetCPA,
		AllowableCPA:   profile.AllowableCPA,
		TargetCPO:      profile.TargetCPO,
		AllowableCPO:   profile.AllowableCPO,
	}
}

// Engine evaluates decision rules. It is pure: no clocks, no IO, no
// collaborator calls. Eligibility filtering and cap resolution belong to the
// runner.
type Engine struct {
	policy Policy
}

func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// EvaluateBudget applies the tiered increase rules to one ad with at least
// one conversion today. Proposed increases are already clamped to the hard
// ceiling; override caps are the resolver's business.
func (e *Engine) EvaluateBudget(ad meta.Ad, today insights.TodayMetrics, targets Targets) BudgetDecision {
	decision := BudgetDecision{
		AdID:             ad.ID,
		AdName:           ad.Name,
		CurrentBudget:    ad.DailyBudget,
		TodaySpend:       today.Spend,
		TodayConversions: today.Conversions,
	}

	if today.Conversions < 1 {
		decision.Action = enums.ActionSkip
		decision.Reason = "no conversions today"
		return decision
	}

	cpa := today.Spend.Div(decimal.NewFromInt(today.Conversions))
	decision.TodayCPA = &cpa

	if cpa.GreaterThan(targets.TargetCPA) {
		decision.Action = enums.ActionContinue
		decision.Reason = "above target, no change"
		return decision
	}

	budget := ad.DailyBudget
	switch {
	case budget.LessThan(e.policy.BaseTierCeiling):
		return e.increase(decision, budget, cpa, targets)
	case budget.LessThanOrEqual(e.policy.MidTierCeiling):
		if today.Conversions >= 2 {
			return e.increase(decision, budget, cpa, targets)
		}
		decision.Action = enums.ActionContinue
		decision.Reason = "mid tier requires 2 conversions today"
		return decision
	case budget.LessThanOrEqual(e.policy.HardCeiling):
		if today.Conversions >= 3 {
			return e.increase(decision, budget, cpa, targets)
		}
		decision.Action = enums.ActionContinue
		decision.Reason = "upper tier requires 3 conversions today"
		return decision
	default:
		decision.Action = enums.ActionContinue
		decision.Reason = "hard ceiling reached"
		return decision
	}
}

func (e *Engine) increase(decision BudgetDecision, budget, cpa decimal.Decimal, targets Targets) BudgetDecision {
	proposed := budget.Mul(e.policy.IncreaseFactor)
	if proposed.GreaterThan(e.policy.HardCeiling) {
		proposed = e.policy.HardCeiling
	}
	// A budget already at the ceiling clamps to itself; that is a hold, not
	// an increase.
	if proposed.LessThanOrEqual(budget) {
		decision.Action = enums.ActionContinue
		decision.Reason = "hard ceiling reached"
		return decision
	}
	decision.Action = enums.ActionIncrease
	decision.NewBudget = &proposed
	decision.Reason = fmt.Sprintf("today CPA %s within target %s", cpa.StringFixed(2), targets.TargetCPA.StringFixed(2))
	return decision
}

// EvaluatePause applies the first-round rules to one active ad, regardless of
// today's conversions. Order matters: the new-creative guards run first, pause
// verdicts beat reductions, and a pause is terminal.
func (e *Engine) EvaluatePause(ad meta.Ad, week insights.SevenDayMetrics, targets Targets) PauseDecision {
	decision := PauseDecision{
		AdID:                ad.ID,
		AdName:              ad.Name,
		CurrentBudget:       ad.DailyBudget,
		SevenDaySpend:       week.Spend,
		SevenDayImpressions: week.Impressions,
		SevenDayConversions: week.Conversions,
		SevenDayFrontSales:  week.FrontSales,
	}

	spentEnough := week.Spend.GreaterThanOrEqual(targets.AllowableCPA)
	seenEnough := week.Impressions >= e.policy.NewCreativeImpressions
	if !spentEnough && !seenEnough {
		decision.Action = enums.ActionSkipNewCreative
		decision.Reason = "insufficient 7-day spend and impressions"
		return decision
	}

	if targets.FunnelCategory.HasFrontOffer() {
		return e.evaluateFrontOffer(decision, week, targets)
	}
	return e.evaluateLeadOnly(decision, week, targets)
}

func (e *Engine) evaluateFrontOffer(decision PauseDecision, week insights.SevenDayMetrics, targets Targets) PauseDecision {
	if week.FrontSales >= 1 {
		cpo := week.Spend.Div(decimal.NewFromInt(week.FrontSales))
		decision.CPO = &cpo

		if targets.AllowableCPO == nil {
			decision.Action = enums.ActionSkip
			decision.Reason = "front-offer targets not configured"
			return decision
		}
		if cpo.GreaterThan(*targets.AllowableCPO) {
			decision.Action = enums.ActionPause
			decision.Reason = fmt.Sprintf("front-offer CPO %s above allowable %s", cpo.StringFixed(2), targets.AllowableCPO.StringFixed(2))
			return decision
		}
		if targets.TargetCPO != nil && cpo.GreaterThan(*targets.TargetCPO) {
			return e.reduce(decision, fmt.Sprintf("front-offer CPO %s above target %s", cpo.StringFixed(2), targets.TargetCPO.StringFixed(2)))
		}
		decision.Action = enums.ActionContinue
		decision.Reason = "front-offer CPO within target"
		return decision
	}

	if week.Conversions == 0 {
		decision.Action = enums.ActionPause
		decision.Reason = "zero conversions in trailing 7 days"
		return decision
	}
	return e.judgeByCPA(decision, week, targets)
}

func (e *Engine) evaluateLeadOnly(decision PauseDecision, week insights.SevenDayMetrics, targets Targets) PauseDecision {
	if week.Conversions == 0 {
		decision.Action = enums.ActionPause
		decision.Reason = "zero conversions in trailing 7 days"
		return decision
	}
	return e.judgeByCPA(decision, week, targets)
}

func (e *Engine) judgeByCPA(decision PauseDecision, week insights.SevenDayMetrics, targets Targets) PauseDecision {
	cpa := week.Spend.Div(decimal.NewFromInt(week.Conversions))
	decision.CPA = &cpa

	if cpa.GreaterThan(targets.AllowableCPA) {
		decision.Action = enums.ActionPause
		decision.Reason = fmt.Sprintf("7-day CPA %s above allowable %s", cpa.StringFixed(2), targets.AllowableCPA.StringFixed(2))
		return decision
	}
	if cpa.GreaterThan(targets.TargetCPA) {
		return e.reduce(decision, fmt.Sprintf("7-day CPA %s above target %s", cpa.StringFixed(2), targets.TargetCPA.StringFixed(2)))
	}
	decision.Action = enums.ActionContinue
	decision.Reason = "7-day CPA within target"
	return decision
}

// reduce downgrades spend on an ad performing between target and allowable.
// Budgets at or under the base tier are held instead of reduced.
func (e *Engine) reduce(decision PauseDecision, reason string) PauseDecision {
	if decision.CurrentBudget.LessThanOrEqual(e.policy.BaseTierCeiling) {
		decision.Action = enums.ActionContinue
		decision.Reason = reason + ", base tier budget held"
		return decision
	}
	reduced := decision.CurrentBudget.Mul(e.policy.ReduceFactor)
	if reduced.LessThan(e.policy.MinDailyBudget) {
		reduced = e.policy.MinDailyBudget
	}
	decision.Action = enums.ActionReduceBudget
	decision.NewBudget = &reduced
	decision.Reason = reason
	return decision
}
