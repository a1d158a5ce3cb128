package optimizer

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adpilot-hq/adpilot-backend/pkg/enums"
)

// BudgetDecision is the hourly pass's verdict for one ad. NewBudget is only
// set on an increase, after cap resolution. Failed marks a decision whose
// platform mutation did not go through; the run continues past it.
type BudgetDecision struct {
	AdID             string               `json:"ad_id"`
	AdName           string               `json:"ad_name"`
	Action           enums.DecisionAction `json:"action"`
	Reason           string               `json:"reason"`
	CurrentBudget    decimal.Decimal      `json:"current_budget"`
	NewBudget        *decimal.Decimal     `json:"new_budget,omitempty"`
	TodaySpend       decimal.Decimal      `json:"today_spend"`
	TodayConversions int64                `json:"today_conversions"`
	TodayCPA         *decimal.Decimal     `json:"today_cpa,omitempty"`
	CapApplied       bool                 `json:"cap_applied,omitempty"`
	CapReached       bool                 `json:"cap_reached,omitempty"`
	Failed           bool                 `json:"failed,omitempty"`
}

// PauseDecision is the first-round pass's verdict for one ad. CPA and CPO are
// trailing-7-day rates; whichever governed the verdict is set. NewBudget is
// only set on a budget reduction.
type PauseDecision struct {
	AdID                string               `json:"ad_id"`
	AdName              string               `json:"ad_name"`
	Action              enums.DecisionAction `json:"action"`
	Reason              string               `json:"reason"`
	CurrentBudget       decimal.Decimal      `json:"current_budget"`
	NewBudget           *decimal.Decimal     `json:"new_budget,omitempty"`
	SevenDaySpend       decimal.Decimal      `json:"seven_day_spend"`
	SevenDayImpressions int64                `json:"seven_day_impressions"`
	SevenDayConversions int64                `json:"seven_day_conversions"`
	SevenDayFrontSales  int64                `json:"seven_day_front_sales"`
	CPA                 *decimal.Decimal     `json:"cpa,omitempty"`
	CPO                 *decimal.Decimal     `json:"cpo,omitempty"`
	Failed              bool                 `json:"failed,omitempty"`
}

// RunCounts aggregates one run's outcomes at decision granularity. A failed
// decision counts in Failed only, never in its action bucket, so Processed
// plus Failed always equals Total.
type RunCounts struct {
	Increased int `json:"increased"`
	Continued int `json:"continued"`
	Paused    int `json:"paused"`
	Reduced   int `json:"reduced"`
	Skipped   int `json:"skipped"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// RunResult is one advertiser's hourly outcome. OutsideWindow marks the
// scheduled no-op case: the advertiser's local hour sits outside the operating
// window, nothing was fetched or decided.
type RunResult struct {
	RunID               uuid.UUID        `json:"run_id"`
	AdvertiserAccountID string           `json:"advertiser_account_id"`
	ExecutionTime       time.Time        `json:"execution_time"`
	FirstRound          bool             `json:"first_round"`
	DryRun              bool             `json:"dry_run"`
	OutsideWindow       bool             `json:"outside_window,omitempty"`
	BudgetDecisions     []BudgetDecision `json:"budget_decisions"`
	PauseDecisions      []PauseDecision  `json:"pause_decisions,omitempty"`
	Counts              RunCounts        `json:"counts"`
}

func (r *RunResult) addBudgetDecision(decision BudgetDecision) {
	r.BudgetDecisions = append(r.BudgetDecisions, decision)
	r.Counts.Total++
	if decision.Failed {
		r.Counts.Failed++
		return
	}
	r.Counts.Processed++
	switch decision.Action {
	case enums.ActionIncrease:
		r.Counts.Increased++
	case enums.ActionContinue:
		r.Counts.Continued++
	default:
		r.Counts.Skipped++
	}
}

func (r *RunResult) addPauseDecision(decision PauseDecision) {
	r.PauseDecisions = append(r.PauseDecisions, decision)
	r.Counts.Total++
	if decision.Failed {
		r.Counts.Failed++
		return
	}
	r.Counts.Processed++
	switch decision.Action {
	case enums.ActionPause:
		r.Counts.Paused++
	case enums.ActionReduceBudget:
		r.Counts.Reduced++
	case enums.ActionContinue:
		r.Counts.Continued++
	default:
		r.Counts.Skipped++
	}
}
