package applier

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adpilot-hq/adpilot-backend/internal/audit"
	"github.com/adpilot-hq/adpilot-backend/internal/notify"
	"github.com/adpilot-hq/adpilot-backend/pkg/enums"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
	"github.com/adpilot-hq/adpilot-backend/pkg/logger"
	"github.com/adpilot-hq/adpilot-backend/pkg/metrics"
	"github.com/adpilot-hq/adpilot-backend/pkg/retry"
)

// Mutator is the slice of the Graph client the applier calls. One decision
// maps to at most one mutation.
type Mutator interface {
	UpdateDailyBudget(ctx context.Context, entityID string, level enums.BudgetLevel, budget decimal.Decimal) error
	UpdateAdStatus(ctx context.Context, adID string, directive enums.StatusDirective) error
}

// Execution is one finalized decision ready for side effects. NewBudget is
// the post-cap amount for budget actions and ignored otherwise.
type Execution struct {
	RunID               uuid.UUID
	AdvertiserAccountID string
	AdID                string
	AdName              string
	AdSetID             string
	CampaignID          string
	BudgetLevel         enums.BudgetLevel
	Action              enums.DecisionAction
	CurrentBudget       decimal.Decimal
	NewBudget           decimal.Decimal
	Reason              string
	CapApplied          bool
	CapReached          bool
}

// budgetEntityID resolves which platform entity carries the daily budget.
func (e Execution) budgetEntityID() string {
	if e.BudgetLevel == enums.BudgetLevelCampaign {
		return e.CampaignID
	}
	return e.AdSetID
}

// Applier executes decisions against the platform and records the paper
// trail. Mutation failures surface to the caller; audit and notification
// failures are logged and swallowed so one flaky dependency cannot undo an
// applied change.
type Applier struct {
	audit   audit.Recorder
	sink    notify.Sink
	metrics *metrics.OptimizerMetrics
	logg    *logger.Logger
	policy  retry.Policy
}

// Params wires applier dependencies. Sink and Metrics are optional.
type Params struct {
	Audit   audit.Recorder
	Sink    notify.Sink
	Metrics *metrics.OptimizerMetrics
	Logger  *logger.Logger
	Policy  retry.Policy
}

func New(params Params) (*Applier, error) {
	if params.Audit == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "audit recorder required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &Applier{
		audit:   params.Audit,
		sink:    params.Sink,
		metrics: params.Metrics,
		logg:    params.Logger,
		policy:  params.Policy,
	}, nil
}

// Apply performs the platform mutation for the decision, then the audit entry
// and any operator notification. Non-mutating actions only emit the
// cap-reached notification when the resolver flagged one.
func (a *Applier) Apply(ctx context.Context, mutator Mutator, exec Execution) error {
	ctx = a.logg.WithAdID(ctx, exec.AdID)

	if !exec.Action.Mutates() {
		if exec.CapReached {
			a.notify(ctx, exec, enums.NotificationBudgetCapReached, enums.SeverityInfo,
				fmt.Sprintf("daily budget cap reached for %s", adLabel(exec)))
		}
		return nil
	}

	if mutator == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "platform mutator required")
	}

	if err := a.mutate(ctx, mutator, exec); err != nil {
		a.metrics.IncMutationFailure(string(exec.Action))
		a.logg.Error(a.logg.WithField(ctx, "action", string(exec.Action)), "platform mutation failed", err)
		return err
	}

	a.recordAudit(ctx, exec)

	switch exec.Action {
	case enums.ActionPause:
		a.notify(ctx, exec, enums.NotificationAdPaused, enums.SeverityWarning,
			fmt.Sprintf("paused %s: %s", adLabel(exec), exec.Reason))
	case enums.ActionReduceBudget:
		a.notify(ctx, exec, enums.NotificationBudgetReduced, enums.SeverityInfo,
			fmt.Sprintf("reduced daily budget for %s to %s", adLabel(exec), exec.NewBudget.String()))
	case enums.ActionIncrease:
		if exec.CapApplied {
			a.notify(ctx, exec, enums.NotificationBudgetCapApplied, enums.SeverityInfo,
				fmt.Sprintf("budget increase for %s clamped to %s", adLabel(exec), exec.NewBudget.String()))
		}
	}
	return nil
}

func (a *Applier) mutate(ctx context.Context, mutator Mutator, exec Execution) error {
	switch exec.Action {
	case enums.ActionIncrease, enums.ActionReduceBudget:
		entityID := exec.budgetEntityID()
		if entityID == "" {
			return pkgerrors.New(pkgerrors.CodeDataQuality, "no budget entity resolved for ad "+exec.AdID)
		}
		return retry.Transient(ctx, a.policy, func(ctx context.Context) error {
			return mutator.UpdateDailyBudget(ctx, entityID, exec.BudgetLevel, exec.NewBudget)
		})
	case enums.ActionPause:
		return retry.Transient(ctx, a.policy, func(ctx context.Context) error {
			return mutator.UpdateAdStatus(ctx, exec.AdID, enums.DirectiveDisable)
		})
	default:
		return pkgerrors.New(pkgerrors.CodeInternal, "non-mutating action reached mutate: "+string(exec.Action))
	}
}

func (a *Applier) recordAudit(ctx context.Context, exec Execution) {
	entry := audit.Entry{
		Source: enums.AuditSourceBudgetOptimization,
		Reason: exec.Reason,
	}
	if exec.RunID != uuid.Nil {
		runID := exec.RunID
		entry.RunID = &runID
	}

	switch exec.Action {
	case enums.ActionPause:
		entry.EntityType = "ad"
		entry.EntityID = exec.AdID
		entry.Action = enums.AuditActionStatusUpdated
		entry.Before = map[string]string{"status": string(enums.DeliveryActive)}
		entry.After = map[string]string{"status": string(enums.DeliveryPaused)}
	default:
		entry.EntityType = string(exec.BudgetLevel)
		entry.EntityID = exec.budgetEntityID()
		entry.Action = enums.AuditActionBudgetUpdated
		entry.Before = map[string]string{"daily_budget": exec.CurrentBudget.String()}
		entry.After = map[string]string{"daily_budget": exec.NewBudget.String()}
	}

	if err := a.audit.Record(ctx, entry); err != nil {
		a.logg.Error(a.logg.WithField(ctx, "entity_id", entry.EntityID), "audit write failed", err)
	}
}

func (a *Applier) notify(ctx context.Context, exec Execution, typ enums.NotificationType, severity enums.Severity, message string) {
	if a.sink == nil {
		return
	}
	event := notify.Event{
		Type:                typ,
		Severity:            severity,
		AdvertiserAccountID: exec.AdvertiserAccountID,
		EntityID:            exec.AdID,
		Message:             message,
		Metadata: map[string]any{
			"run_id":         exec.RunID.String(),
			"action":         string(exec.Action),
			"current_budget": exec.CurrentBudget.String(),
		},
	}
	if exec.Action.Mutates() && exec.Action != enums.ActionPause {
		event.Metadata["new_budget"] = exec.NewBudget.String()
	}
	if err := a.sink.Notify(ctx, event); err != nil {
		a.logg.Warn(a.logg.WithField(ctx, "notification_type", string(typ)), "notification publish failed")
	}
}

func adLabel(exec Execution) string {
	if exec.AdName != "" {
		return fmt.Sprintf("ad %s (%s)", exec.AdID, exec.AdName)
	}
	return "ad " + exec.AdID
}
