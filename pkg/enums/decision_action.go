package enums

import "fmt"

// DecisionAction maps to the decision_action enum in Postgres. It covers both
// evaluation passes: the hourly budget pass emits increase/continue/skip, the
// first-round pause pass emits pause/continue/skip_new_creative/reduce_budget.
type DecisionAction string

const (
	ActionIncrease        DecisionAction = "increase"
	ActionContinue        DecisionAction = "continue"
	ActionSkip            DecisionAction = "skip"
	ActionPause           DecisionAction = "pause"
	ActionSkipNewCreative DecisionAction = "skip_new_creative"
	ActionReduceBudget    DecisionAction = "reduce_budget"
)

var validDecisionActions = []DecisionAction{
	ActionIncrease,
	ActionContinue,
	ActionSkip,
	ActionPause,
	ActionSkipNewCreative,
	ActionReduceBudget,
}

// IsValid reports whether the value matches the canonical decision_action enum.
func (a DecisionAction) IsValid() bool {
	for _, candidate := range validDecisionActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// Mutates reports whether the action results in a platform mutation call.
func (a DecisionAction) Mutates() bool {
	switch a {
	case ActionIncrease, ActionPause, ActionReduceBudget:
		return true
	default:
		return false
	}
}

// ParseDecisionAction converts raw input into DecisionAction.
func ParseDecisionAction(value string) (DecisionAction, error) {
	for _, candidate := range validDecisionActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid decision action %q", value)
}
