package optimizer

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adpilot-hq/adpilot-backend/internal/applier"
	"github.com/adpilot-hq/adpilot-backend/internal/caps"
	"github.com/adpilot-hq/adpilot-backend/internal/insights"
	"github.com/adpilot-hq/adpilot-backend/internal/notify"
	"github.com/adpilot-hq/adpilot-backend/pkg/config"
	"github.com/adpilot-hq/adpilot-backend/pkg/db/models"
	"github.com/adpilot-hq/adpilot-backend/pkg/enums"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
	"github.com/adpilot-hq/adpilot-backend/pkg/logger"
	"github.com/adpilot-hq/adpilot-backend/pkg/meta"
	"github.com/adpilot-hq/adpilot-backend/pkg/retry"
)

// Tokyo-local reference instants for a profile in the default timezone.
var (
	firstRoundNow = time.Date(2025, 6, 2, 16, 30, 0, 0, time.UTC) // 01:30 in Tokyo
	laterRoundNow = time.Date(2025, 6, 2, 5, 30, 0, 0, time.UTC)  // 14:30 in Tokyo
	nightNow      = time.Date(2025, 6, 2, 12, 30, 0, 0, time.UTC) // 21:30 in Tokyo
)

type fakeDirectory struct {
	advertisers map[string]*models.Advertiser
	active      []models.Advertiser
	listErr     error
}

func (f *fakeDirectory) GetByAccountID(_ context.Context, accountID string) (*models.Advertiser, error) {
	if advertiser, ok := f.advertisers[accountID]; ok {
		return advertiser, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "advertiser not found")
}

func (f *fakeDirectory) ListActive(context.Context) ([]models.Advertiser, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.active, nil
}

type fakeSnapshotStore struct {
	mu          sync.Mutex
	priors      map[string]*models.AdSnapshot
	priorErr    error
	latestCalls int
	generations [][]models.AdSnapshot
	recordErr   error
	recordCalls int
}

func (f *fakeSnapshotStore) RecordGeneration(_ context.Context, snapshots []models.AdSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordCalls++
	if f.recordErr != nil {
		return f.recordErr
	}
	f.generations = append(f.generations, snapshots)
	return nil
}

func (f *fakeSnapshotStore) LatestBefore(_ context.Context, _, adID string, _ time.Time) (*models.AdSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latestCalls++
	if f.priorErr != nil {
		return nil, f.priorErr
	}
	return f.priors[adID], nil
}

type fakeCapResolver struct {
	mu          sync.Mutex
	inputs      []caps.ResolveInput
	resolutions map[string]caps.Resolution
	err         error
}

func (f *fakeCapResolver) Resolve(_ context.Context, in caps.ResolveInput) (caps.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return caps.Resolution{}, f.err
	}
	if resolution, ok := f.resolutions[in.AdID]; ok {
		return resolution, nil
	}
	return caps.Resolution{FinalBudget: in.Proposed}, nil
}

type fakeDecisionApplier struct {
	mu         sync.Mutex
	executions []applier.Execution
	errs       map[string]error
}

func (f *fakeDecisionApplier) Apply(_ context.Context, _ applier.Mutator, exec applier.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executions = append(f.executions, exec)
	return f.errs[exec.AdID]
}

type fakeAdLister struct {
	mu    sync.Mutex
	ads   []meta.Ad
	err   error
	calls int
	hook  func()
}

func (f *fakeAdLister) ListActiveAds(context.Context, string) ([]meta.Ad, error) {
	f.mu.Lock()
	f.calls++
	ads, err, hook := f.ads, f.err, f.hook
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return ads, nil
}

type fakeGateway struct {
	mu         sync.Mutex
	today      map[string]insights.TodayMetrics
	todayErrs  map[string]error
	todayCalls map[string]int
	week       map[string]insights.SevenDayMetrics
	weekErrs   map[string]error
	weekCalls  map[string]int
}

func (f *fakeGateway) FetchToday(_ context.Context, _ *models.TargetProfile, ad meta.Ad) (insights.TodayMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.todayCalls[ad.ID]++
	if err := f.todayErrs[ad.ID]; err != nil {
		return insights.TodayMetrics{}, err
	}
	return f.today[ad.ID], nil
}

func (f *fakeGateway) FetchSevenDay(_ context.Context, _ *models.TargetProfile, ad meta.Ad) (insights.SevenDayMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weekCalls[ad.ID]++
	if err := f.weekErrs[ad.ID]; err != nil {
		return insights.SevenDayMetrics{}, err
	}
	return f.week[ad.ID], nil
}

type fakeExporter struct {
	mu      sync.Mutex
	results []RunResult
}

func (f *fakeExporter) ExportRun(_ context.Context, result RunResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
}

type fakeNotifySink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (f *fakeNotifySink) Notify(_ context.Context, event notify.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

type runnerHarness struct {
	runner    *Runner
	directory *fakeDirectory
	snapshots *fakeSnapshotStore
	caps      *fakeCapResolver
	applier   *fakeDecisionApplier
	lister    *fakeAdLister
	gateway   *fakeGateway
	exporter  *fakeExporter
	sink      *fakeNotifySink
	locker    *MemoryLocker
}

func testConfig() config.OptimizerConfig {
	return config.OptimizerConfig{
		Schedule:               "0 1-19 * * *",
		FirstRoundHour:         1,
		BaseTierCeiling:        8000,
		MidTierCeiling:         20000,
		HardCeiling:            40000,
		IncreaseFactor:         1.3,
		ReduceFactor:           0.7,
		MinDailyBudget:         100,
		NewCreativeImpressions: 5000,
		LockTTL:                20 * time.Minute,
		SweepConcurrency:       2,
	}
}

func testAdvertiser() *models.Advertiser {
	return &models.Advertiser{
		AccountID: "act_123",
		Name:      "Acme Studio",
		Timezone:  "Asia/Tokyo",
		Active:    true,
		Profile: &models.TargetProfile{
			FunnelCategory: enums.FunnelLeadGen,
			TargetCPA:      decimal.NewFromInt(3000),
			AllowableCPA:   decimal.NewFromInt(5000),
		},
	}
}

func namedAd(id, budget string) meta.Ad {
	ad := adWithBudget(budget)
	ad.ID = id
	ad.AdSetID = "adset_" + id
	return ad
}

func newRunnerHarness(t *testing.T, now time.Time) *runnerHarness {
	t.Helper()

	h := &runnerHarness{
		directory: &fakeDirectory{advertisers: map[string]*models.Advertiser{"act_123": testAdvertiser()}},
		snapshots: &fakeSnapshotStore{priors: map[string]*models.AdSnapshot{}},
		caps:      &fakeCapResolver{resolutions: map[string]caps.Resolution{}},
		applier:   &fakeDecisionApplier{errs: map[string]error{}},
		lister:    &fakeAdLister{},
		gateway: &fakeGateway{
			today:      map[string]insights.TodayMetrics{},
			todayErrs:  map[string]error{},
			todayCalls: map[string]int{},
			week:       map[string]insights.SevenDayMetrics{},
			weekErrs:   map[string]error{},
			weekCalls:  map[string]int{},
		},
		exporter: &fakeExporter{},
		sink:     &fakeNotifySink{},
		locker:   NewMemoryLocker(time.Minute),
	}

	runner, err := NewRunner(RunnerParams{
		Config:      testConfig(),
		Logger:      logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Advertisers: h.directory,
		Snapshots:   h.snapshots,
		Caps:        h.caps,
		Applier:     h.applier,
		Clients: func(context.Context, *models.Advertiser) (Clients, error) {
			return Clients{Lister: h.lister, Gateway: h.gateway}, nil
		},
		Locker:   h.locker,
		Exporter: h.exporter,
		Notifier: h.sink,
		Retry:    retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaximumBackoff: 2 * time.Millisecond},
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("build runner: %v", err)
	}
	h.runner = runner
	return h
}

func (h *runnerHarness) run(t *testing.T) *RunResult {
	t.Helper()
	result, err := h.runner.RunAdvertiser(context.Background(), RunOptions{AccountID: "act_123"})
	if err != nil {
		t.Fatalf("run advertiser: %v", err)
	}
	return result
}

func TestRunFirstRoundRunsBothStages(t *testing.T) {
	h := newRunnerHarness(t, firstRoundNow)
	h.lister.ads = []meta.Ad{namedAd("ad_1", "5000")}
	h.gateway.today["ad_1"] = todayMetrics("2000", 1)
	h.gateway.week["ad_1"] = weekMetrics("6000", 9000, 2, 0)

	result := h.run(t)

	if !result.FirstRound {
		t.Fatal("expected a first-round run")
	}
	if result.RunID == uuid.Nil {
		t.Fatal("expected a run id")
	}
	wantExecution := time.Date(2025, 6, 2, 16, 0, 0, 0, time.UTC)
	if !result.ExecutionTime.Equal(wantExecution) {
		t.Fatalf("expected execution time %s, got %s", wantExecution, result.ExecutionTime)
	}

	if len(result.BudgetDecisions) != 1 {
		t.Fatalf("expected 1 budget decision, got %d", len(result.BudgetDecisions))
	}
	budget := result.BudgetDecisions[0]
	if budget.Action != enums.ActionIncrease {
		t.Fatalf("expected increase, got %s (%s)", budget.Action, budget.Reason)
	}
	assertNewBudget(t, budget.NewBudget, "6500")

	if len(result.PauseDecisions) != 1 {
		t.Fatalf("expected 1 pause decision, got %d", len(result.PauseDecisions))
	}
	if result.PauseDecisions[0].Action != enums.ActionContinue {
		t.Fatalf("expected continue, got %s (%s)", result.PauseDecisions[0].Action, result.PauseDecisions[0].Reason)
	}

	if len(h.applier.executions) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(h.applier.executions))
	}
	if h.applier.executions[0].Action != enums.ActionIncrease {
		t.Fatalf("expected increase execution, got %s", h.applier.executions[0].Action)
	}

	if len(h.snapshots.generations) != 1 || len(h.snapshots.generations[0]) != 1 {
		t.Fatalf("expected one generation with one row, got %#v", h.snapshots.generations)
	}
	row := h.snapshots.generations[0][0]
	if row.RunID != result.RunID {
		t.Fatalf("expected snapshot run id %s, got %s", result.RunID, row.RunID)
	}
	if !row.ExecutionTime.Equal(wantExecution) {
		t.Fatalf("expected snapshot execution time %s, got %s", wantExecution, row.ExecutionTime)
	}
	if row.Action != enums.ActionIncrease {
		t.Fatalf("expected snapshot action increase, got %s", row.Action)
	}
	if row.Conversions != 1 {
		t.Fatalf("expected snapshot conversions 1, got %d", row.Conversions)
	}
	assertNewBudget(t, row.NewBudget, "6500")

	if len(h.exporter.results) != 1 {
		t.Fatalf("expected 1 exported run, got %d", len(h.exporter.results))
	}
	counts := result.Counts
	if counts.Total != 2 || counts.Processed != 2 || counts.Increased != 1 || counts.Continued != 1 || counts.Failed != 0 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestRunFirstRoundSkipsPriorLookup(t *testing.T) {
	h := newRunnerHarness(t, firstRoundNow)
	h.lister.ads = []meta.Ad{namedAd("ad_1", "5000")}
	h.gateway.today["ad_1"] = todayMetrics("2000", 1)
	h.gateway.week["ad_1"] = weekMetrics("6000", 9000, 2, 0)

	h.run(t)

	if h.snapshots.latestCalls != 0 {
		t.Fatalf("expected no prior lookups on the first round, got %d", h.snapshots.latestCalls)
	}
}

func TestRunSubsequentRoundSkipsPausePass(t *testing.T) {
	h := newRunnerHarness(t, laterRoundNow)
	h.lister.ads = []meta.Ad{namedAd("ad_1", "5000")}
	h.gateway.today["ad_1"] = todayMetrics("4000", 2)
	h.snapshots.priors["ad_1"] = &models.AdSnapshot{
		AdID:          "ad_1",
		ExecutionTime: time.Date(2025, 6, 2, 4, 0, 0, 0, time.UTC),
		Conversions:   1,
	}

	result := h.run(t)

	if result.FirstRound {
		t.Fatal("expected a subsequent round")
	}
	if len(result.PauseDecisions) != 0 {
		t.Fatalf("expected no pause decisions, got %d", len(result.PauseDecisions))
	}
	if h.gateway.weekCalls["ad_1"] != 0 {
		t.Fatalf("expected no 7-day fetches, got %d", h.gateway.weekCalls["ad_1"])
	}
	if result.BudgetDecisions[0].Action != enums.ActionIncrease {
		t.Fatalf("expected increase, got %s (%s)", result.BudgetDecisions[0].Action, result.BudgetDecisions[0].Reason)
	}
}

func TestRunSubsequentRoundRequiresNewConversions(t *testing.T) {
	h := newRunnerHarness(t, laterRoundNow)
	h.lister.ads = []meta.Ad{namedAd("ad_1", "5000"), namedAd("ad_2", "5000")}
	h.gateway.today["ad_1"] = todayMetrics("4000", 2)
	h.gateway.today["ad_2"] = todayMetrics("6000", 3)
	samedayPrior := time.Date(2025, 6, 2, 4, 0, 0, 0, time.UTC)
	h.snapshots.priors["ad_1"] = &models.AdSnapshot{AdID: "ad_1", ExecutionTime: samedayPrior, Conversions: 2}
	h.snapshots.priors["ad_2"] = &models.AdSnapshot{AdID: "ad_2", ExecutionTime: samedayPrior, Conversions: 2}

	result := h.run(t)

	first := result.BudgetDecisions[0]
	if first.Action != enums.ActionSkip || first.Reason != "no new conversions since last run" {
		t.Fatalf("expected stalled ad to skip, got %s (%s)", first.Action, first.Reason)
	}
	second := result.BudgetDecisions[1]
	if second.Action != enums.ActionIncrease {
		t.Fatalf("expected progressing ad to increase, got %s (%s)", second.Action, second.Reason)
	}

	if len(h.applier.executions) != 1 || h.applier.executions[0].AdID != "ad_2" {
		t.Fatalf("expected only ad_2 to mutate, got %#v", h.applier.executions)
	}

	// The stalled ad still gets a snapshot row so the next delta is exact.
	rows := h.snapshots.generations[0]
	if len(rows) != 2 {
		t.Fatalf("expected 2 snapshot rows, got %d", len(rows))
	}
	if rows[0].AdID != "ad_1" || rows[0].Action != enums.ActionSkip || rows[0].Conversions != 2 {
		t.Fatalf("unexpected stalled-ad snapshot: %+v", rows[0])
	}
}

func TestRunTreatsMissingPriorAsEligible(t *testing.T) {
	h := newRunnerHarness(t, laterRoundNow)
	h.lister.ads = []meta.Ad{namedAd("ad_1", "5000")}
	h.gateway.today["ad_1"] = todayMetrics("2000", 1)

	result := h.run(t)

	if result.BudgetDecisions[0].Action != enums.ActionIncrease {
		t.Fatalf("expected increase without a prior snapshot, got %s (%s)", result.BudgetDecisions[0].Action, result.BudgetDecisions[0].Reason)
	}
}

func TestRunIgnoresPriorFromEarlierDay(t *testing.T) {
	h := newRunnerHarness(t, laterRoundNow)
	h.lister.ads = []meta.Ad{namedAd("ad_1", "5000")}
	h.gateway.today["ad_1"] = todayMetrics("2000", 1)
	h.snapshots.priors["ad_1"] = &models.AdSnapshot{
		AdID:          "ad_1",
		ExecutionTime: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		Conversions:   5,
	}

	result := h.run(t)

	if result.BudgetDecisions[0].Action != enums.ActionIncrease {
		t.Fatalf("expected yesterday's snapshot to be ignored, got %s (%s)", result.BudgetDecisions[0].Action, result.BudgetDecisions[0].Reason)
	}
}

func TestRunOutsideWindowDoesNothing(t *testing.T) {
	h := newRunnerHarness(t, nightNow)
	h.lister.ads = []meta.Ad{namedAd("ad_1", "5000")}

	result := h.run(t)

	if !result.OutsideWindow {
		t.Fatal("expected an outside-window result")
	}
	if h.lister.calls != 0 {
		t.Fatalf("expected no ad listing, got %d calls", h.lister.calls)
	}
	if len(h.exporter.results) != 0 {
		t.Fatal("expected no analytics export")
	}

	// The lock was never taken.
	if _, acquired, _ := h.locker.Acquire(context.Background(), "act_123"); !acquired {
		t.Fatal("expected lock to be free")
	}
}

func TestRunLockHeldReturnsError(t *testing.T) {
	h := newRunnerHarness(t, laterRoundNow)
	if _, acquired, err := h.locker.Acquire(context.Background(), "act_123"); err != nil || !acquired {
		t.Fatalf("pre-acquire lock: acquired=%v err=%v", acquired, err)
	}

	result, err := h.runner.RunAdvertiser(context.Background(), RunOptions{AccountID: "act_123"})

	if result != nil {
		t.Fatal("expected no result while the lock is held")
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeLockHeld) {
		t.Fatalf("expected LOCK_HELD, got %v", err)
	}
	if h.lister.calls != 0 {
		t.Fatal("expected no platform calls while the lock is held")
	}
}

func TestRunReleasesLockAfterRun(t *testing.T) {
	h := newRunnerHarness(t, laterRoundNow)
	h.lister.ads = []meta.Ad{namedAd("ad_1", "5000")}
	h.gateway.today["ad_1"] = todayMetrics("2000", 1)

	h.run(t)

	if _, acquired, _ := h.locker.Acquire(context.Background(), "act_123"); !acquired {
		t.Fatal("expected lock to be released after the run")
	}
}

func TestRunDryRunSkipsSideEffects(t *testing.T) {
	h := newRunnerHarness(t, firstRoundNow)
	h.lister.ads = []meta.Ad{namedAd("ad_1", "5000")}
	h.gateway.today["ad_1"] = todayMetrics("2000", 1)
	h.gateway.week["ad_1"] = weekMetrics("6000", 9000, 0, 0)

	result, err := h.runner.RunAdvertiser(context.Background(), RunOptions{AccountID: "act_123", DryRun: true})
	if err != nil {
		t.Fatalf("run advertiser: %v", err)
	}

	if !result.DryRun {
		t.Fatal("expected a dry-run result")
	}
	if result.BudgetDecisions[0].Action != enums.ActionIncrease {
		t.Fatalf("expected the dry run to still decide, got %s", result.BudgetDecisions[0].Action)
	}
	if result.PauseDecisions[0].Action != enums.ActionPause {
		t.Fatalf("expected the dry run to still judge pauses, got %s", result.PauseDecisions[0].Action)
	}
	if len(h.applier.executions) != 0 {
		t.Fatalf("expected no executions, got %d", len(h.applier.executions))
	}
	if h.snapshots.recordCalls != 0 {
		t.Fatal("expected no snapshot writes")
	}
	if len(h.exporter.results) != 0 {
		t.Fatal("expected no analytics export")
	}
}

func TestRunForceDryRunOverridesRequest(t *testing.T) {
	h := newRunnerHarness(t, laterRoundNow)
	h.lister.ads = []meta.Ad{namedAd("ad_1", "5000")}
	h.gateway.today["ad_1"] = todayMetrics("2000", 1)

	forced, err := NewRunner(RunnerParams{
		Config:      testConfig(),
		ForceDryRun: true,
		Logger:      logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Advertisers: h.directory,
		Snapshots:   h.snapshots,
		Caps:        h.caps,
		Applier:     h.applier,
		Clients: func(context.Context, *models.Advertiser) (Clients, error) {
			return Clients{Lister: h.lister, Gateway: h.gateway}, nil
		},
		Locker: h.locker,
		Now:    func() time.Time { return laterRoundNow },
	})
	if err != nil {
		t.Fatalf("build runner: %v", err)
	}

	result, err := forced.RunAdvertiser(context.Background(), RunOptions{AccountID: "act_123"})
	if err != nil {
		t.Fatalf("run advertiser: %v", err)
	}
	if !result.DryRun {
		t.Fatal("expected the forced dry run to mark the result")
	}
	if len(h.applier.executions) != 0 {
		t.Fatal("expected no executions under forced dry run")
	}
}

func TestRunCapClampsIncrease(t *testing.T) {
	h := newRunnerHarness(t, laterRoundNow)
	h.lister.ads = []meta.Ad{namedAd("ad_1", "5000")}
	h.gateway.today["ad_1"] = todayMetrics("2000", 1)
	cap := decimal.NewFromInt(6000)
	h.caps.resolutions["ad_1"] = caps.Resolution{FinalBudget: cap, Cap: &cap, CapApplied: true}

	result := h.run(t)

	decision := result.BudgetDecisions[0]
	if decision.Action != enums.ActionIncrease || !decision.CapApplied {
		t.Fatalf("expected a cap-applied increase, got %+v", decision)
	}
	assertNewBudget(t, decision.NewBudget, "6000")

	if len(h.caps.inputs) != 1 {
		t.Fatalf("expected 1 cap resolution, got %d", len(h.caps.inputs))
	}
	input := h.caps.inputs[0]
	if !input.Current.Equal(decimal.NewFromInt(5000)) || !input.Proposed.Equal(decimal.NewFromInt(6500)) {
		t.Fatalf("unexpected cap input: %+v", input)
	}

	exec := h.applier.executions[0]
	if !exec.NewBudget.Equal(cap) || !exec.CapApplied {
		t.Fatalf("expected the clamped budget to be applied, got %+v", exec)
	}
	assertNewBudget(t, h.snapshots.generations[0][0].NewBudget, "6000")
}

func TestRunCapReachedHoldsBudget(t *testing.T) {
	h := newRunnerHarness(t, laterRoundNow)
	h.lister.ads = []meta.Ad{namedAd("ad_1", "5000")}
	h.gateway.today["ad_1"] = todayMetrics("2000", 1)
	h.caps.resolutions["ad_1"] = caps.Resolution{FinalBudget: decimal.NewFromInt(5000), CapReached: true}

	result := h.run(t)

	decision := result.BudgetDecisions[0]
	if decision.Action != enums.ActionContinue || !decision.CapReached {
		t.Fatalf("expected a cap-reached hold, got %+v", decision)
	}
	if decision.Reason != "budget cap reached" {
		t.Fatalf("unexpected reason %q", decision.Reason)
	}
	if decision.NewBudget != nil {
		t.Fatal("expected no new budget on a cap-reached hold")
	}

	// The applier still sees it, for the operator notification.
	if len(h.applier.executions) != 1 || !h.applier.executions[0].CapReached {
		t.Fatalf("expected a cap-reached execution, got %#v", h.applier.executions)
	}
	if result.Counts.Continued != 1 || result.Counts.Increased != 0 {
		t.Fatalf("unexpected counts: %+v", result.Counts)
	}
}

func TestRunPooledBudgetPassesPoolToResolver(t *testing.T) {
	h := newRunnerHarness(t, laterRoundNow)
	pooled1 := namedAd("ad_1", "5000")
	pooled1.BudgetLevel = enums.BudgetLevelCampaign
	pooled1.CampaignID = "camp_9"
	pooled2 := namedAd("ad_2", "4000")
	pooled2.BudgetLevel = enums.BudgetLevelCampaign
	pooled2.CampaignID = "camp_9"
	h.lister.ads = []meta.Ad{pooled1, pooled2}
	h.gateway.today["ad_1"] = todayMetrics("2000", 1)
	h.gateway.today["ad_2"] = todayMetrics("9000", 1)

	h.run(t)

	if len(h.caps.inputs) != 1 {
		t.Fatalf("expected 1 cap resolution, got %d", len(h.caps.inputs))
	}
	pool := h.caps.inputs[0].PoolAdIDs
	if len(pool) != 2 || pool[0] != "ad_1" || pool[1] != "ad_2" {
		t.Fatalf("expected the campaign pool, got %v", pool)
	}
}

func TestRunCapResolutionFailureSkipsAd(t *testing.T) {
	h := newRunnerHarness(t, laterRoundNow)
	h.lister.ads = []meta.Ad{namedAd("ad_1", "5000")}
	h.gateway.today["ad_1"] = todayMetrics("2000", 1)
	h.caps.err = pkgerrors.New(pkgerrors.CodeDependency, "cap store unavailable")

	result := h.run(t)

	decision := result.BudgetDecisions[0]
	if decision.Action != enums.ActionSkip || decision.Reason != "budget caps unavailable" {
		t.Fatalf("expected a caps-unavailable skip, got %s (%s)", decision.Action, decision.Reason)
	}
	if len(h.applier.executions) != 0 {
		t.Fatal("expected no execution after cap failure")
	}
}

func TestRunMutationFailureMarksDecisionFailed(t *testing.T) {
	h := newRunnerHarness(t, laterRoundNow)
	h.lister.ads = []meta.Ad{namedAd("ad_1", "5000"), namedAd("ad_2", "5000")}
	h.gateway.today["ad_1"] = todayMetrics("2000", 1)
	h.gateway.today["ad_2"] = todayMetrics("2000", 1)
	h.applier.errs["ad_1"] = pkgerrors.New(pkgerrors.CodePlatform, "budget update rejected")

	result := h.run(t)

	first := result.BudgetDecisions[0]
	if !first.Failed || first.Action != enums.ActionIncrease {
		t.Fatalf("expected a failed increase, got %+v", first)
	}
	second := result.BudgetDecisions[1]
	if second.Failed {
		t.Fatal("expected the second ad to be unaffected")
	}

	counts := result.Counts
	if counts.Failed != 1 || counts.Increased != 1 || counts.Processed != 1 || counts.Total != 2 {
		t.Fatalf("unexpected counts: %+v", counts)
	}

	rows := h.snapshots.generations[0]
	if rows[0].Action != enums.ActionSkip || rows[0].Reason != "platform mutation failed" {
		t.Fatalf("expected the failed ad's snapshot to record a skip, got %+v", rows[0])
	}
	if rows[0].NewBudget != nil {
		t.Fatal("expected no new budget on the failed ad's snapshot")
	}
	if rows[1].Action != enums.ActionIncrease {
		t.Fatalf("expected the healthy ad's snapshot to record the increase, got %+v", rows[1])
	}
}

func TestRunRetriesTransientMetricsFailure(t *testing.T) {
	h := newRunnerHarness(t, laterRoundNow)
	h.lister.ads = []meta.Ad{namedAd("ad_1", "5000")}
	h.gateway.todayErrs["ad_1"] = pkgerrors.New(pkgerrors.CodeDependency, "insights timeout")

	result := h.run(t)

	if h.gateway.todayCalls["ad_1"] != 3 {
		t.Fatalf("expected 3 attempts, got %d", h.gateway.todayCalls["ad_1"])
	}
	decision := result.BudgetDecisions[0]
	if decision.Action != enums.ActionSkip || decision.Reason != "insights timeout" {
		t.Fatalf("expected a skip after retry exhaustion, got %s (%s)", decision.Action, decision.Reason)
	}
	if h.snapshots.recordCalls != 0 {
		t.Fatal("expected no snapshot rows for unfetched ads")
	}
}

func TestRunDoesNotRetryDataQualityFailure(t *testing.T) {
	h := newRunnerHarness(t, laterRoundNow)
	h.lister.ads = []meta.Ad{namedAd("ad_1", "5000")}
	h.gateway.todayErrs["ad_1"] = pkgerrors.New(pkgerrors.CodeDataQuality, "spend missing for ad")

	result := h.run(t)

	if h.gateway.todayCalls["ad_1"] != 1 {
		t.Fatalf("expected a single attempt, got %d", h.gateway.todayCalls["ad_1"])
	}
	decision := result.BudgetDecisions[0]
	if decision.Action != enums.ActionSkip || decision.Reason != "spend missing for ad" {
		t.Fatalf("expected a data-quality skip, got %s (%s)", decision.Action, decision.Reason)
	}
}

func TestRunStageTwoSeesStageOneBudget(t *testing.T) {
	h := newRunnerHarness(t, firstRoundNow)
	h.lister.ads = []meta.Ad{namedAd("ad_1", "9000")}
	h.gateway.today["ad_1"] = todayMetrics("5000", 2)
	h.gateway.week["ad_1"] = weekMetrics("32000", 9000, 8, 0)

	result := h.run(t)

	if result.BudgetDecisions[0].Action != enums.ActionIncrease {
		t.Fatalf("expected a stage-1 increase, got %s (%s)", result.BudgetDecisions[0].Action, result.BudgetDecisions[0].Reason)
	}
	assertNewBudget(t, result.BudgetDecisions[0].NewBudget, "11700")

	pause := result.PauseDecisions[0]
	if pause.Action != enums.ActionReduceBudget {
		t.Fatalf("expected a stage-2 reduction, got %s (%s)", pause.Action, pause.Reason)
	}
	if !pause.CurrentBudget.Equal(decimal.NewFromInt(11700)) {
		t.Fatalf("expected the reduction to start from the increased budget, got %s", pause.CurrentBudget)
	}
	assertNewBudget(t, pause.NewBudget, "8190")

	execs := h.applier.executions
	if len(execs) != 2 || execs[1].Action != enums.ActionReduceBudget {
		t.Fatalf("expected increase then reduce, got %#v", execs)
	}
	if !execs[1].CurrentBudget.Equal(decimal.NewFromInt(11700)) {
		t.Fatalf("expected the reduce execution to carry the live budget, got %s", execs[1].CurrentBudget)
	}

	// Stage 2 overrides the snapshot verdict; the observed budget stays the
	// stage-1 input.
	row := h.snapshots.generations[0][0]
	if row.Action != enums.ActionReduceBudget {
		t.Fatalf("expected the snapshot to carry the reduction, got %s", row.Action)
	}
	assertNewBudget(t, row.NewBudget, "8190")
	if !row.DailyBudget.Equal(decimal.NewFromInt(9000)) {
		t.Fatalf("expected the snapshot budget to stay 9000, got %s", row.DailyBudget)
	}
}

func TestRunStageTwoFetchFailureLeavesStageOneVerdict(t *testing.T) {
	h := newRunnerHarness(t, firstRoundNow)
	h.lister.ads = []meta.Ad{namedAd("ad_1", "5000")}
	h.gateway.today["ad_1"] = todayMetrics("2000", 1)
	h.gateway.weekErrs["ad_1"] = pkgerrors.New(pkgerrors.CodeDataQuality, "impressions missing for ad")

	result := h.run(t)

	pause := result.PauseDecisions[0]
	if pause.Action != enums.ActionSkip || pause.Reason != "impressions missing for ad" {
		t.Fatalf("expected a stage-2 skip, got %s (%s)", pause.Action, pause.Reason)
	}
	row := h.snapshots.generations[0][0]
	if row.Action != enums.ActionIncrease {
		t.Fatalf("expected the stage-1 verdict to stand, got %s", row.Action)
	}
}

func TestRunFailedStageTwoMutationKeepsStageOneSnapshot(t *testing.T) {
	h := newRunnerHarness(t, firstRoundNow)
	h.lister.ads = []meta.Ad{namedAd("ad_1", "10000")}
	h.gateway.today["ad_1"] = todayMetrics("4000", 1)
	h.gateway.week["ad_1"] = weekMetrics("6000", 9000, 0, 0)
	h.applier.errs["ad_1"] = pkgerrors.New(pkgerrors.CodePlatform, "status update rejected")

	result := h.run(t)

	if result.BudgetDecisions[0].Action != enums.ActionContinue {
		t.Fatalf("expected a stage-1 hold, got %s", result.BudgetDecisions[0].Action)
	}
	pause := result.PauseDecisions[0]
	if pause.Action != enums.ActionPause || !pause.Failed {
		t.Fatalf("expected a failed pause, got %+v", pause)
	}

	row := h.snapshots.generations[0][0]
	if row.Action != enums.ActionContinue {
		t.Fatalf("expected the snapshot to keep the stage-1 hold, got %s", row.Action)
	}
	if result.Counts.Failed != 1 || result.Counts.Paused != 0 {
		t.Fatalf("unexpected counts: %+v", result.Counts)
	}
}

func TestRunPersistFailureReturnsResultAndError(t *testing.T) {
	h := newRunnerHarness(t, laterRoundNow)
	h.lister.ads = []meta.Ad{namedAd("ad_1", "5000")}
	h.gateway.today["ad_1"] = todayMetrics("2000", 1)
	h.snapshots.recordErr = pkgerrors.New(pkgerrors.CodeDependency, "database unavailable")

	result, err := h.runner.RunAdvertiser(context.Background(), RunOptions{AccountID: "act_123"})

	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected a dependency error, got %v", err)
	}
	if result == nil || len(result.BudgetDecisions) != 1 {
		t.Fatalf("expected the partial result to survive, got %+v", result)
	}
	if h.snapshots.recordCalls != 3 {
		t.Fatalf("expected 3 persistence attempts, got %d", h.snapshots.recordCalls)
	}
	if len(h.exporter.results) != 0 {
		t.Fatal("expected no analytics export after a failed persist")
	}
}

func TestRunRejectsUnusableAdvertisers(t *testing.T) {
	inactive := testAdvertiser()
	inactive.AccountID = "act_inactive"
	inactive.Active = false
	unprofiled := testAdvertiser()
	unprofiled.AccountID = "act_unprofiled"
	unprofiled.Profile = nil

	h := newRunnerHarness(t, laterRoundNow)
	h.directory.advertisers["act_inactive"] = inactive
	h.directory.advertisers["act_unprofiled"] = unprofiled

	tests := []struct {
		name      string
		accountID string
		wantCode  pkgerrors.Code
	}{
		{name: "unknown account", accountID: "act_missing", wantCode: pkgerrors.CodeNotFound},
		{name: "inactive account", accountID: "act_inactive", wantCode: pkgerrors.CodeValidation},
		{name: "missing profile", accountID: "act_unprofiled", wantCode: pkgerrors.CodeValidation},
		{name: "blank account", accountID: "  ", wantCode: pkgerrors.CodeValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.runner.RunAdvertiser(context.Background(), RunOptions{AccountID: tc.accountID})
			if !pkgerrors.IsCode(err, tc.wantCode) {
				t.Fatalf("expected %s, got %v", tc.wantCode, err)
			}
		})
	}
}

func TestRunWithNoActiveAds(t *testing.T) {
	h := newRunnerHarness(t, laterRoundNow)

	result := h.run(t)

	if result.Counts.Total != 0 {
		t.Fatalf("expected an empty run, got %+v", result.Counts)
	}
	if h.snapshots.recordCalls != 0 {
		t.Fatal("expected no snapshot writes for an empty run")
	}
	if len(h.exporter.results) != 1 {
		t.Fatal("expected the empty run to still export")
	}
}
