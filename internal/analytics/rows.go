package analytics

import (
	"encoding/json"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/shopspring/decimal"

	"github.com/adpilot-hq/adpilot-backend/internal/optimizer"
)

const (
	StageBudget = "budget"
	StagePause  = "pause"
)

// DecisionRow mirrors the budget_decisions BigQuery schema: one row per
// decision, budget and pause passes interleaved under the same run id. Spend
// and conversions are today's numbers for budget rows and trailing-7-day
// numbers for pause rows.
type DecisionRow struct {
	RunID               string             `bigquery:"run_id"`
	AdvertiserAccountID string             `bigquery:"advertiser_account_id"`
	ExecutionTime       time.Time          `bigquery:"execution_time"`
	Stage               string             `bigquery:"stage"`
	FirstRound          bool               `bigquery:"first_round"`
	AdID                string             `bigquery:"ad_id"`
	AdName              string             `bigquery:"ad_name"`
	Action              string             `bigquery:"action"`
	Reason              string             `bigquery:"reason"`
	CurrentBudget       float64            `bigquery:"current_budget"`
	NewBudget           *float64           `bigquery:"new_budget"`
	Spend               float64            `bigquery:"spend"`
	Conversions         int64              `bigquery:"conversions"`
	Impressions         *int64             `bigquery:"impressions"`
	FrontSales          *int64             `bigquery:"front_sales"`
	CPA                 *float64           `bigquery:"cpa"`
	CPO                 *float64           `bigquery:"cpo"`
	CapApplied          bool               `bigquery:"cap_applied"`
	CapReached          bool               `bigquery:"cap_reached"`
	Failed              bool               `bigquery:"failed"`
	Payload             cbigquery.NullJSON `bigquery:"payload"`
}

// RowsFromRun flattens one run into its decision rows.
func RowsFromRun(result optimizer.RunResult) []DecisionRow {
	rows := make([]DecisionRow, 0, len(result.BudgetDecisions)+len(result.PauseDecisions))
	for _, decision := range result.BudgetDecisions {
		rows = append(rows, budgetRow(result, decision))
	}
	for _, decision := range result.PauseDecisions {
		rows = append(rows, pauseRow(result, decision))
	}
	return rows
}

func budgetRow(result optimizer.RunResult, decision optimizer.BudgetDecision) DecisionRow {
	return DecisionRow{
		RunID:               result.RunID.String(),
		AdvertiserAccountID: result.AdvertiserAccountID,
		ExecutionTime:       result.ExecutionTime,
		Stage:               StageBudget,
		FirstRound:          result.FirstRound,
		AdID:                decision.AdID,
		AdName:              decision.AdName,
		Action:              string(decision.Action),
		Reason:              decision.Reason,
		CurrentBudget:       decision.CurrentBudget.InexactFloat64(),
		NewBudget:           floatFrom(decision.NewBudget),
		Spend:               decision.TodaySpend.InexactFloat64(),
		Conversions:         decision.TodayConversions,
		CPA:                 floatFrom(decision.TodayCPA),
		CapApplied:          decision.CapApplied,
		CapReached:          decision.CapReached,
		Failed:              decision.Failed,
		Payload:             encodePayload(decision),
	}
}

func pauseRow(result optimizer.RunResult, decision optimizer.PauseDecision) DecisionRow {
	impressions := decision.SevenDayImpressions
	frontSales := decision.SevenDayFrontSales
	return DecisionRow{
		RunID:               result.RunID.String(),
		AdvertiserAccountID: result.AdvertiserAccountID,
		ExecutionTime:       result.ExecutionTime,
		Stage:               StagePause,
		FirstRound:          result.FirstRound,
		AdID:                decision.AdID,
		AdName:              decision.AdName,
		Action:              string(decision.Action),
		Reason:              decision.Reason,
		CurrentBudget:       decision.CurrentBudget.InexactFloat64(),
		NewBudget:           floatFrom(decision.NewBudget),
		Spend:               decision.SevenDaySpend.InexactFloat64(),
		Conversions:         decision.SevenDayConversions,
		Impressions:         &impressions,
		FrontSales:          &frontSales,
		CPA:                 floatFrom(decision.CPA),
		CPO:                 floatFrom(decision.CPO),
		Failed:              decision.Failed,
		Payload:             encodePayload(decision),
	}
}

func floatFrom(value *decimal.Decimal) *float64 {
	if value == nil {
		return nil
	}
	f := value.InexactFloat64()
	return &f
}

func encodePayload(payload any) cbigquery.NullJSON {
	marshaled, err := json.Marshal(payload)
	if err != nil || len(marshaled) == 0 {
		return cbigquery.NullJSON{}
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(marshaled)}
}
