package applier

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adpilot-hq/adpilot-backend/internal/audit"
	"github.com/adpilot-hq/adpilot-backend/internal/notify"
	"github.com/adpilot-hq/adpilot-backend/pkg/enums"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
	"github.com/adpilot-hq/adpilot-backend/pkg/logger"
	"github.com/adpilot-hq/adpilot-backend/pkg/retry"
)

func TestApplyIncreaseTargetsAdSetBudget(t *testing.T) {
	mutator := &fakeMutator{}
	recorder := &fakeRecorder{}
	sink := &fakeSink{}
	subject := newTestApplier(t, recorder, sink)

	exec := Execution{
		RunID:               uuid.New(),
		AdvertiserAccountID: "act_1",
		AdID:                "ad_1",
		AdSetID:             "as_1",
		CampaignID:          "c_1",
		BudgetLevel:         enums.BudgetLevelAdSet,
		Action:              enums.ActionIncrease,
		CurrentBudget:       decimal.NewFromInt(5000),
		NewBudget:           decimal.NewFromInt(6500),
		Reason:              "CPA under target",
	}
	if err := subject.Apply(context.Background(), mutator, exec); err != nil {
		t.Fatalf("apply returned error: %v", err)
	}

	if got := len(mutator.budgetCalls); got != 1 {
		t.Fatalf("expected 1 budget call, got %d", got)
	}
	call := mutator.budgetCalls[0]
	if call.entityID != "as_1" {
		t.Fatalf("budget call targeted %q, want ad set", call.entityID)
	}
	if call.level != enums.BudgetLevelAdSet {
		t.Fatalf("budget call level %q", call.level)
	}
	if !call.budget.Equal(decimal.NewFromInt(6500)) {
		t.Fatalf("budget call amount %s", call.budget)
	}
	if len(mutator.statusCalls) != 0 {
		t.Fatalf("unexpected status mutation")
	}

	if got := len(recorder.entries); got != 1 {
		t.Fatalf("expected 1 audit entry, got %d", got)
	}
	entry := recorder.entries[0]
	if entry.Action != enums.AuditActionBudgetUpdated {
		t.Fatalf("audit action %q", entry.Action)
	}
	if entry.EntityType != "adset" || entry.EntityID != "as_1" {
		t.Fatalf("audit entity %s/%s", entry.EntityType, entry.EntityID)
	}
	if entry.RunID == nil || *entry.RunID != exec.RunID {
		t.Fatalf("audit run id not carried")
	}

	if len(sink.events) != 0 {
		t.Fatalf("plain increase should not notify, got %d events", len(sink.events))
	}
}

func TestApplyIncreaseTargetsCampaignWhenPooled(t *testing.T) {
	mutator := &fakeMutator{}
	recorder := &fakeRecorder{}
	subject := newTestApplier(t, recorder, nil)

	exec := Execution{
		AdID:          "ad_1",
		AdSetID:       "as_1",
		CampaignID:    "c_1",
		BudgetLevel:   enums.BudgetLevelCampaign,
		Action:        enums.ActionIncrease,
		CurrentBudget: decimal.NewFromInt(10000),
		NewBudget:     decimal.NewFromInt(13000),
		Reason:        "CPA under target",
	}
	if err := subject.Apply(context.Background(), mutator, exec); err != nil {
		t.Fatalf("apply returned error: %v", err)
	}
	if mutator.budgetCalls[0].entityID != "c_1" {
		t.Fatalf("pooled budget should target campaign, got %q", mutator.budgetCalls[0].entityID)
	}
	if recorder.entries[0].EntityType != "campaign" {
		t.Fatalf("audit entity type %q", recorder.entries[0].EntityType)
	}
}

func TestApplyPausePausesAdAndNotifies(t *testing.T) {
	mutator := &fakeMutator{}
	recorder := &fakeRecorder{}
	sink := &fakeSink{}
	subject := newTestApplier(t, recorder, sink)

	exec := Execution{
		AdvertiserAccountID: "act_1",
		AdID:                "ad_9",
		AdName:              "US/general/buy/v1/launch",
		Action:              enums.ActionPause,
		CurrentBudget:       decimal.NewFromInt(12000),
		Reason:              "CPA above allowable",
	}
	if err := subject.Apply(context.Background(), mutator, exec); err != nil {
		t.Fatalf("apply returned error: %v", err)
	}

	if got := len(mutator.statusCalls); got != 1 {
		t.Fatalf("expected 1 status call, got %d", got)
	}
	if mutator.statusCalls[0].adID != "ad_9" || mutator.statusCalls[0].directive != enums.DirectiveDisable {
		t.Fatalf("unexpected status call %+v", mutator.statusCalls[0])
	}
	if len(mutator.budgetCalls) != 0 {
		t.Fatalf("pause must not touch budgets")
	}

	entry := recorder.entries[0]
	if entry.Action != enums.AuditActionStatusUpdated || entry.EntityType != "ad" {
		t.Fatalf("unexpected audit entry %+v", entry)
	}

	if got := len(sink.events); got != 1 {
		t.Fatalf("expected pause notification, got %d", got)
	}
	if sink.events[0].Type != enums.NotificationAdPaused {
		t.Fatalf("notification type %q", sink.events[0].Type)
	}
	if sink.events[0].Severity != enums.SeverityWarning {
		t.Fatalf("notification severity %q", sink.events[0].Severity)
	}
}

func TestApplyReduceNotifies(t *testing.T) {
	mutator := &fakeMutator{}
	recorder := &fakeRecorder{}
	sink := &fakeSink{}
	subject := newTestApplier(t, recorder, sink)

	exec := Execution{
		AdID:          "ad_2",
		AdSetID:       "as_2",
		BudgetLevel:   enums.BudgetLevelAdSet,
		Action:        enums.ActionReduceBudget,
		CurrentBudget: decimal.NewFromInt(10000),
		NewBudget:     decimal.NewFromInt(7000),
		Reason:        "CPA above target",
	}
	if err := subject.Apply(context.Background(), mutator, exec); err != nil {
		t.Fatalf("apply returned error: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].Type != enums.NotificationBudgetReduced {
		t.Fatalf("expected budget_reduced notification, got %+v", sink.events)
	}
	if sink.events[0].Metadata["new_budget"] != "7000" {
		t.Fatalf("notification metadata new_budget = %v", sink.events[0].Metadata["new_budget"])
	}
}

func TestApplyCapAppliedNotifiesAfterIncrease(t *testing.T) {
	mutator := &fakeMutator{}
	recorder := &fakeRecorder{}
	sink := &fakeSink{}
	subject := newTestApplier(t, recorder, sink)

	exec := Execution{
		AdID:          "ad_3",
		AdSetID:       "as_3",
		BudgetLevel:   enums.BudgetLevelAdSet,
		Action:        enums.ActionIncrease,
		CurrentBudget: decimal.NewFromInt(9000),
		NewBudget:     decimal.NewFromInt(10000),
		Reason:        "CPA under target",
		CapApplied:    true,
	}
	if err := subject.Apply(context.Background(), mutator, exec); err != nil {
		t.Fatalf("apply returned error: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].Type != enums.NotificationBudgetCapApplied {
		t.Fatalf("expected cap_applied notification, got %+v", sink.events)
	}
}

func TestApplyCapReachedSkipsMutationButNotifies(t *testing.T) {
	mutator := &fakeMutator{}
	recorder := &fakeRecorder{}
	sink := &fakeSink{}
	subject := newTestApplier(t, recorder, sink)

	exec := Execution{
		AdID:          "ad_4",
		AdSetID:       "as_4",
		BudgetLevel:   enums.BudgetLevelAdSet,
		Action:        enums.ActionContinue,
		CurrentBudget: decimal.NewFromInt(15000),
		Reason:        "budget cap reached",
		CapReached:    true,
	}
	if err := subject.Apply(context.Background(), mutator, exec); err != nil {
		t.Fatalf("apply returned error: %v", err)
	}
	if len(mutator.budgetCalls) != 0 || len(mutator.statusCalls) != 0 {
		t.Fatalf("cap-reached continue must not mutate")
	}
	if len(recorder.entries) != 0 {
		t.Fatalf("no mutation means no audit entry")
	}
	if len(sink.events) != 1 || sink.events[0].Type != enums.NotificationBudgetCapReached {
		t.Fatalf("expected cap_reached notification, got %+v", sink.events)
	}
}

func TestApplyContinueIsNoOp(t *testing.T) {
	mutator := &fakeMutator{}
	recorder := &fakeRecorder{}
	sink := &fakeSink{}
	subject := newTestApplier(t, recorder, sink)

	exec := Execution{
		AdID:   "ad_5",
		Action: enums.ActionContinue,
		Reason: "holding steady",
	}
	if err := subject.Apply(context.Background(), mutator, exec); err != nil {
		t.Fatalf("apply returned error: %v", err)
	}
	if len(mutator.budgetCalls)+len(mutator.statusCalls)+len(recorder.entries)+len(sink.events) != 0 {
		t.Fatalf("continue without cap flags must be a no-op")
	}
}

func TestApplyRetriesTransientMutationFailure(t *testing.T) {
	mutator := &fakeMutator{
		budgetErrs: []error{
			pkgerrors.New(pkgerrors.CodeDependency, "graph api unreachable"),
			nil,
		},
	}
	recorder := &fakeRecorder{}
	subject := newTestApplier(t, recorder, nil)

	exec := Execution{
		AdID:          "ad_6",
		AdSetID:       "as_6",
		BudgetLevel:   enums.BudgetLevelAdSet,
		Action:        enums.ActionIncrease,
		CurrentBudget: decimal.NewFromInt(4000),
		NewBudget:     decimal.NewFromInt(5200),
		Reason:        "CPA under target",
	}
	if err := subject.Apply(context.Background(), mutator, exec); err != nil {
		t.Fatalf("apply returned error after retry: %v", err)
	}
	if got := len(mutator.budgetCalls); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
	if len(recorder.entries) != 1 {
		t.Fatalf("expected audit entry after eventual success")
	}
}

func TestApplyDoesNotRetryPlatformRejection(t *testing.T) {
	mutator := &fakeMutator{
		budgetErrs: []error{
			pkgerrors.New(pkgerrors.CodePlatform, "invalid budget"),
		},
	}
	recorder := &fakeRecorder{}
	sink := &fakeSink{}
	subject := newTestApplier(t, recorder, sink)

	exec := Execution{
		AdID:          "ad_7",
		AdSetID:       "as_7",
		BudgetLevel:   enums.BudgetLevelAdSet,
		Action:        enums.ActionIncrease,
		CurrentBudget: decimal.NewFromInt(4000),
		NewBudget:     decimal.NewFromInt(5200),
		Reason:        "CPA under target",
	}
	err := subject.Apply(context.Background(), mutator, exec)
	if !pkgerrors.IsCode(err, pkgerrors.CodePlatform) {
		t.Fatalf("expected platform error, got %v", err)
	}
	if got := len(mutator.budgetCalls); got != 1 {
		t.Fatalf("platform rejection must not retry, got %d attempts", got)
	}
	if len(recorder.entries) != 0 {
		t.Fatalf("failed mutation must not write audit")
	}
	if len(sink.events) != 0 {
		t.Fatalf("failed mutation must not notify")
	}
}

func TestApplySwallowsAuditFailure(t *testing.T) {
	mutator := &fakeMutator{}
	recorder := &fakeRecorder{err: errors.New("insert failed")}
	subject := newTestApplier(t, recorder, nil)

	exec := Execution{
		AdID:          "ad_8",
		AdSetID:       "as_8",
		BudgetLevel:   enums.BudgetLevelAdSet,
		Action:        enums.ActionIncrease,
		CurrentBudget: decimal.NewFromInt(4000),
		NewBudget:     decimal.NewFromInt(5200),
		Reason:        "CPA under target",
	}
	if err := subject.Apply(context.Background(), mutator, exec); err != nil {
		t.Fatalf("audit failure must not fail the decision: %v", err)
	}
}

func TestApplyMissingBudgetEntityFails(t *testing.T) {
	mutator := &fakeMutator{}
	subject := newTestApplier(t, &fakeRecorder{}, nil)

	exec := Execution{
		AdID:          "ad_10",
		BudgetLevel:   enums.BudgetLevelAdSet,
		Action:        enums.ActionIncrease,
		CurrentBudget: decimal.NewFromInt(4000),
		NewBudget:     decimal.NewFromInt(5200),
		Reason:        "CPA under target",
	}
	err := subject.Apply(context.Background(), mutator, exec)
	if !pkgerrors.IsCode(err, pkgerrors.CodeDataQuality) {
		t.Fatalf("expected data quality error, got %v", err)
	}
	if len(mutator.budgetCalls) != 0 {
		t.Fatalf("must not call platform without an entity id")
	}
}

func newTestApplier(t *testing.T, recorder audit.Recorder, sink notify.Sink) *Applier {
	t.Helper()
	logg := logger.New(logger.Options{
		ServiceName: "applier-test",
		Output:      io.Discard,
	})
	subject, err := New(Params{
		Audit:  recorder,
		Sink:   sink,
		Logger: logg,
		Policy: retry.Policy{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaximumBackoff: 2 * time.Millisecond,
		},
	})
	if err != nil {
		t.Fatalf("failed to construct applier: %v", err)
	}
	return subject
}

type budgetCall struct {
	entityID string
	level    enums.BudgetLevel
	budget   decimal.Decimal
}

type statusCall struct {
	adID      string
	directive enums.StatusDirective
}

type fakeMutator struct {
	budgetCalls []budgetCall
	statusCalls []statusCall
	budgetErrs  []error
	statusErrs  []error
}

func (f *fakeMutator) UpdateDailyBudget(_ context.Context, entityID string, level enums.BudgetLevel, budget decimal.Decimal) error {
	f.budgetCalls = append(f.budgetCalls, budgetCall{entityID: entityID, level: level, budget: budget})
	if len(f.budgetErrs) == 0 {
		return nil
	}
	err := f.budgetErrs[0]
	f.budgetErrs = f.budgetErrs[1:]
	return err
}

func (f *fakeMutator) UpdateAdStatus(_ context.Context, adID string, directive enums.StatusDirective) error {
	f.statusCalls = append(f.statusCalls, statusCall{adID: adID, directive: directive})
	if len(f.statusErrs) == 0 {
		return nil
	}
	err := f.statusErrs[0]
	f.statusErrs = f.statusErrs[1:]
	return err
}

type fakeRecorder struct {
	entries []audit.Entry
	err     error
}

func (f *fakeRecorder) Record(_ context.Context, entry audit.Entry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

type fakeSink struct {
	events []notify.Event
	err    error
}

func (f *fakeSink) Notify(_ context.Context, event notify.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}
