package optimizer

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
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
	"github.com/adpilot-hq/adpilot-backend/pkg/metrics"
	"github.com/adpilot-hq/adpilot-backend/pkg/retry"
)

// AdLister lists the deliverable ads under one account.
type AdLister interface {
	ListActiveAds(ctx context.Context, accountID string) ([]meta.Ad, error)
}

// MetricsGateway is the two-query reporting surface for one advertiser.
type MetricsGateway interface {
	FetchToday(ctx context.Context, profile *models.TargetProfile, ad meta.Ad) (insights.TodayMetrics, error)
	FetchSevenDay(ctx context.Context, profile *models.TargetProfile, ad meta.Ad) (insights.SevenDayMetrics, error)
}

// Clients bundles the per-advertiser collaborators, bound to that
// advertiser's access token.
type Clients struct {
	Lister  AdLister
	Gateway MetricsGateway
	Mutator applier.Mutator
}

// ClientsFactory builds the client bundle for one advertiser at run start.
type ClientsFactory func(ctx context.Context, advertiser *models.Advertiser) (Clients, error)

// DecisionApplier carries out one finalized decision's side effects.
type DecisionApplier interface {
	Apply(ctx context.Context, mutator applier.Mutator, exec applier.Execution) error
}

// AdvertiserDirectory is the slice of advertiser configuration the runner reads.
type AdvertiserDirectory interface {
	GetByAccountID(ctx context.Context, accountID string) (*models.Advertiser, error)
	ListActive(ctx context.Context) ([]models.Advertiser, error)
}

// SnapshotStore persists run generations and serves the prior-round lookup.
type SnapshotStore interface {
	RecordGeneration(ctx context.Context, snapshots []models.AdSnapshot) error
	LatestBefore(ctx context.Context, accountID, adID string, before time.Time) (*models.AdSnapshot, error)
}

// RunExporter streams a completed run to the analytics store, best effort.
type RunExporter interface {
	ExportRun(ctx context.Context, result RunResult)
}

// RunnerParams wires the orchestrator. Exporter, Notifier and Metrics are
// optional; everything else is required.
type RunnerParams struct {
	Config      config.OptimizerConfig
	ForceDryRun bool
	Logger      *logger.Logger
	Advertisers AdvertiserDirectory
	Snapshots   SnapshotStore
	Caps        caps.Resolver
	Applier     DecisionApplier
	Clients     ClientsFactory
	Locker      Locker
	Exporter    RunExporter
	Notifier    notify.Sink
	Metrics     *metrics.OptimizerMetrics
	Retry       retry.Policy
	Now         func() time.Time
}

// Runner orchestrates one advertiser's hourly evaluation: lock, fetch,
// stage-1 budget pass, stage-2 pause pass on the first round, snapshot
// persistence, release.
type Runner struct {
	cfg         config.OptimizerConfig
	forceDryRun bool
	logg        *logger.Logger
	advertisers AdvertiserDirectory
	snapshots   SnapshotStore
	caps        caps.Resolver
	applier     DecisionApplier
	clients     ClientsFactory
	locker      Locker
	exporter    RunExporter
	notifier    notify.Sink
	metrics     *metrics.OptimizerMetrics
	engine      *Engine
	schedule    cron.Schedule
	retryPolicy retry.Policy
	now         func() time.Time
}

func NewRunner(params RunnerParams) (*Runner, error) {
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	if params.Advertisers == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "advertiser directory required")
	}
	if params.Snapshots == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "snapshot store required")
	}
	if params.Caps == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "cap resolver required")
	}
	if params.Applier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "decision applier required")
	}
	if params.Clients == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "clients factory required")
	}
	if params.Locker == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "locker required")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(params.Config.Schedule)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse optimizer schedule")
	}

	now := params.Now
	if now == nil {
		now = time.Now
	}

	return &Runner{
		cfg:         params.Config,
		forceDryRun: params.ForceDryRun,
		logg:        params.Logger,
		advertisers: params.Advertisers,
		snapshots:   params.Snapshots,
		caps:        params.Caps,
		applier:     params.Applier,
		clients:     params.Clients,
		locker:      params.Locker,
		exporter:    params.Exporter,
		notifier:    params.Notifier,
		metrics:     params.Metrics,
		engine:      NewEngine(PolicyFromConfig(params.Config)),
		schedule:    schedule,
		retryPolicy: params.Retry,
		now:         now,
	}, nil
}

// RunOptions selects the target and mode for one orchestration.
type RunOptions struct {
	AccountID string
	DryRun    bool
}

// RunAdvertiser executes one advertiser's hourly pass. A lock already held
// surfaces as a LOCK_HELD error; outside the operating window the returned
// result carries OutsideWindow and nothing was evaluated. When snapshot
// persistence fails after mutations were applied, both the partial result and
// the error are returned.
func (r *Runner) RunAdvertiser(ctx context.Context, opts RunOptions) (*RunResult, error) {
	accountID := strings.TrimSpace(opts.AccountID)
	if accountID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "advertiser account id required")
	}
	ctx = r.logg.WithAdvertiserID(ctx, accountID)

	advertiser, err := r.advertisers.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !advertiser.Active {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "advertiser is not active")
	}
	if advertiser.Profile == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "advertiser has no target profile")
	}

	loc := r.locationFor(ctx, advertiser)
	now := r.now()
	local := now.In(loc)
	dryRun := opts.DryRun || r.forceDryRun

	result := &RunResult{
		RunID:               uuid.New(),
		AdvertiserAccountID: accountID,
		ExecutionTime:       now.UTC().Truncate(time.Hour),
		FirstRound:          local.Hour() == r.cfg.FirstRoundHour,
		DryRun:              dryRun,
		BudgetDecisions:     []BudgetDecision{},
	}

	if !r.inOperatingWindow(local) {
		result.OutsideWindow = true
		r.logg.Info(ctx, "outside operating window, run skipped")
		return result, nil
	}

	lease, acquired, err := r.locker.Acquire(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, pkgerrors.New(pkgerrors.CodeLockHeld, "optimization already running for advertiser")
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			r.logg.Error(ctx, "release advertiser lock failed", err)
		}
	}()

	ctx = r.logg.WithRunID(ctx, result.RunID.String())
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"first_round": result.FirstRound,
		"dry_run":     dryRun,
	}), "optimization run started")

	clients, err := r.clients(ctx, advertiser)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build advertiser clients")
	}

	ads, err := r.listAds(ctx, clients.Lister, accountID)
	if err != nil {
		return nil, err
	}
	r.metrics.AddAdsEvaluated(len(ads))

	targets := TargetsFromProfile(advertiser.Profile)
	pools := buildBudgetPools(ads)

	// Budgets applied in stage 1, so stage 2 reduces from what is actually
	// live, not the pre-increase value.
	effective := make(map[string]decimal.Decimal, len(ads))
	drafts := make(map[string]*models.AdSnapshot, len(ads))

	for _, ad := range ads {
		if err := ctx.Err(); err != nil {
			return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "run interrupted")
		}
		adCtx := r.logg.WithAdID(ctx, ad.ID)

		today, err := r.fetchToday(adCtx, clients.Gateway, advertiser.Profile, ad)
		if err != nil {
			r.logg.Warn(adCtx, "today metrics unavailable, ad skipped")
			decision := BudgetDecision{
				AdID:          ad.ID,
				AdName:        ad.Name,
				Action:        enums.ActionSkip,
				Reason:        skipReason(err),
				CurrentBudget: ad.DailyBudget,
			}
			r.metrics.IncDecision(string(decision.Action))
			result.addBudgetDecision(decision)
			continue
		}
		effective[ad.ID] = ad.DailyBudget

		var decision BudgetDecision
		if eligible, reason := r.stage1Eligible(adCtx, accountID, ad.ID, today, result, loc); !eligible {
			decision = BudgetDecision{
				AdID:             ad.ID,
				AdName:           ad.Name,
				Action:           enums.ActionSkip,
				Reason:           reason,
				CurrentBudget:    ad.DailyBudget,
				TodaySpend:       today.Spend,
				TodayConversions: today.Conversions,
			}
		} else {
			decision = r.engine.EvaluateBudget(ad, today, targets)
			if decision.Action == enums.ActionIncrease {
				decision = r.resolveCap(adCtx, ad, decision, pools, now)
			}
		}

		if !dryRun && (decision.Action.Mutates() || decision.CapReached) {
			exec := executionFromBudget(result.RunID, accountID, ad, decision)
			if err := r.applier.Apply(adCtx, clients.Mutator, exec); err != nil {
				decision.Failed = true
			} else if decision.Action == enums.ActionIncrease && decision.NewBudget != nil {
				effective[ad.ID] = *decision.NewBudget
			}
		}

		r.metrics.IncDecision(string(decision.Action))
		result.addBudgetDecision(decision)
		drafts[ad.ID] = snapshotDraft(result, ad, today, decision)
	}

	if result.FirstRound {
		for _, ad := range ads {
			if err := ctx.Err(); err != nil {
				return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "run interrupted")
			}
			adCtx := r.logg.WithAdID(ctx, ad.ID)

			evalAd := ad
			if budget, ok := effective[ad.ID]; ok {
				evalAd.DailyBudget = budget
			}

			week, err := r.fetchSevenDay(adCtx, clients.Gateway, advertiser.Profile, ad)
			if err != nil {
				r.logg.Warn(adCtx, "7-day metrics unavailable, ad skipped")
				decision := PauseDecision{
					AdID:          ad.ID,
					AdName:        ad.Name,
					Action:        enums.ActionSkip,
					Reason:        skipReason(err),
					CurrentBudget: evalAd.DailyBudget,
				}
				r.metrics.IncDecision(string(decision.Action))
				result.addPauseDecision(decision)
				continue
			}

			decision := r.engine.EvaluatePause(evalAd, week, targets)

			if !dryRun && decision.Action.Mutates() {
				exec := executionFromPause(result.RunID, accountID, evalAd, decision)
				if err := r.applier.Apply(adCtx, clients.Mutator, exec); err != nil {
					decision.Failed = true
				}
			}

			r.metrics.IncDecision(string(decision.Action))
			result.addPauseDecision(decision)

			if draft, ok := drafts[ad.ID]; ok {
				foldPauseIntoDraft(draft, decision)
			}
		}
	}

	if !dryRun && len(drafts) > 0 {
		rows := make([]models.AdSnapshot, 0, len(drafts))
		for _, ad := range ads {
			if draft, ok := drafts[ad.ID]; ok {
				rows = append(rows, *draft)
			}
		}
		err := retry.Transient(ctx, r.retryPolicy, func(ctx context.Context) error {
			return r.snapshots.RecordGeneration(ctx, rows)
		})
		if err != nil {
			r.logg.Error(ctx, "snapshot persistence failed", err)
			return result, err
		}
	}

	if !dryRun && r.exporter != nil {
		r.exporter.ExportRun(ctx, *result)
	}

	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"processed": result.Counts.Processed,
		"failed":    result.Counts.Failed,
		"total":     result.Counts.Total,
	}), "optimization run finished")
	return result, nil
}

// stage1Eligible decides whether the budget pass evaluates this ad at all.
// Subsequent rounds require a conversion gained since the prior snapshot; a
// missing prior, or one from an earlier local day, counts as eligible.
func (r *Runner) stage1Eligible(ctx context.Context, accountID, adID string, today insights.TodayMetrics, result *RunResult, loc *time.Location) (bool, string) {
	if today.Conversions < 1 {
		return false, "no conversions today"
	}
	if result.FirstRound {
		return true, ""
	}

	var prior *models.AdSnapshot
	err := retry.Transient(ctx, r.retryPolicy, func(ctx context.Context) error {
		var err error
		prior, err = r.snapshots.LatestBefore(ctx, accountID, adID, result.ExecutionTime)
		return err
	})
	if err != nil {
		r.logg.Error(ctx, "prior snapshot lookup failed", err)
		return false, "prior snapshot unavailable"
	}
	if prior == nil {
		return true, ""
	}
	if !sameLocalDay(prior.ExecutionTime, result.ExecutionTime, loc) {
		return true, ""
	}
	if today.Conversions > prior.Conversions {
		return true, ""
	}
	return false, "no new conversions since last run"
}

func sameLocalDay(a, b time.Time, loc *time.Location) bool {
	al, bl := a.In(loc), b.In(loc)
	return al.Year() == bl.Year() && al.Month() == bl.Month() && al.Day() == bl.Day()
}

func (r *Runner) resolveCap(ctx context.Context, ad meta.Ad, decision BudgetDecision, pools map[string][]string, now time.Time) BudgetDecision {
	input := caps.ResolveInput{
		AdID:     ad.ID,
		Current:  ad.DailyBudget,
		Proposed: *decision.NewBudget,
		Now:      now,
	}
	if ad.BudgetLevel == enums.BudgetLevelCampaign {
		input.PoolAdIDs = pools[ad.CampaignID]
	}

	var resolution caps.Resolution
	err := retry.Transient(ctx, r.retryPolicy, func(ctx context.Context) error {
		var err error
		resolution, err = r.caps.Resolve(ctx, input)
		return err
	})
	if err != nil {
		r.logg.Error(ctx, "budget cap resolution failed", err)
		decision.Action = enums.ActionSkip
		decision.Reason = "budget caps unavailable"
		decision.NewBudget = nil
		return decision
	}

	if resolution.CapReached {
		decision.Action = enums.ActionContinue
		decision.Reason = "budget cap reached"
		decision.NewBudget = nil
		decision.CapReached = true
		return decision
	}
	if resolution.CapApplied {
		final := resolution.FinalBudget
		decision.NewBudget = &final
		decision.CapApplied = true
	}
	return decision
}

func (r *Runner) listAds(ctx context.Context, lister AdLister, accountID string) ([]meta.Ad, error) {
	var ads []meta.Ad
	err := retry.Transient(ctx, r.retryPolicy, func(ctx context.Context) error {
		var err error
		ads, err = lister.ListActiveAds(ctx, accountID)
		return err
	})
	return ads, err
}

func (r *Runner) fetchToday(ctx context.Context, gateway MetricsGateway, profile *models.TargetProfile, ad meta.Ad) (insights.TodayMetrics, error) {
	var out insights.TodayMetrics
	err := retry.Transient(ctx, r.retryPolicy, func(ctx context.Context) error {
		var err error
		out, err = gateway.FetchToday(ctx, profile, ad)
		return err
	})
	return out, err
}

func (r *Runner) fetchSevenDay(ctx context.Context, gateway MetricsGateway, profile *models.TargetProfile, ad meta.Ad) (insights.SevenDayMetrics, error) {
	var out insights.SevenDayMetrics
	err := retry.Transient(ctx, r.retryPolicy, func(ctx context.Context) error {
		var err error
		out, err = gateway.FetchSevenDay(ctx, profile, ad)
		return err
	})
	return out, err
}

func (r *Runner) locationFor(ctx context.Context, advertiser *models.Advertiser) *time.Location {
	loc, err := time.LoadLocation(advertiser.Timezone)
	if err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "timezone", advertiser.Timezone), "unknown advertiser timezone, using UTC")
		return time.UTC
	}
	return loc
}

// inOperatingWindow reports whether the schedule fires at the top of the
// current local hour.
func (r *Runner) inOperatingWindow(local time.Time) bool {
	hourStart := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, local.Location())
	return r.schedule.Next(hourStart.Add(-time.Second)).Equal(hourStart)
}

func buildBudgetPools(ads []meta.Ad) map[string][]string {
	pools := make(map[string][]string)
	for _, ad := range ads {
		if ad.BudgetLevel == enums.BudgetLevelCampaign && ad.CampaignID != "" {
			pools[ad.CampaignID] = append(pools[ad.CampaignID], ad.ID)
		}
	}
	return pools
}

func executionFromBudget(runID uuid.UUID, accountID string, ad meta.Ad, decision BudgetDecision) applier.Execution {
	exec := applier.Execution{
		RunID:               runID,
		AdvertiserAccountID: accountID,
		AdID:                ad.ID,
		AdName:              ad.Name,
		AdSetID:             ad.AdSetID,
		CampaignID:          ad.CampaignID,
		BudgetLevel:         ad.BudgetLevel,
		Action:              decision.Action,
		CurrentBudget:       ad.DailyBudget,
		Reason:              decision.Reason,
		CapApplied:          decision.CapApplied,
		CapReached:          decision.CapReached,
	}
	if decision.NewBudget != nil {
		exec.NewBudget = *decision.NewBudget
	}
	return exec
}

func executionFromPause(runID uuid.UUID, accountID string, ad meta.Ad, decision PauseDecision) applier.Execution {
	exec := applier.Execution{
		RunID:               runID,
		AdvertiserAccountID: accountID,
		AdID:                ad.ID,
		AdName:              ad.Name,
		AdSetID:             ad.AdSetID,
		CampaignID:          ad.CampaignID,
		BudgetLevel:         ad.BudgetLevel,
		Action:              decision.Action,
		CurrentBudget:       ad.DailyBudget,
		Reason:              decision.Reason,
	}
	if decision.NewBudget != nil {
		exec.NewBudget = *decision.NewBudget
	}
	return exec
}

func snapshotDraft(result *RunResult, ad meta.Ad, today insights.TodayMetrics, decision BudgetDecision) *models.AdSnapshot {
	snap := &models.AdSnapshot{
		AdvertiserAccountID: result.AdvertiserAccountID,
		AdID:                ad.ID,
		AdName:              ad.Name,
		ExecutionTime:       result.ExecutionTime,
		RunID:               result.RunID,
		Conversions:         today.Conversions,
		Spend:               today.Spend,
		CPA:                 decision.TodayCPA,
		DailyBudget:         ad.DailyBudget,
		Action:              decision.Action,
		Reason:              decision.Reason,
		NewBudget:           decision.NewBudget,
	}
	if decision.Failed {
		snap.Action = enums.ActionSkip
		snap.Reason = "platform mutation failed"
		snap.NewBudget = nil
	}
	return snap
}

// foldPauseIntoDraft overrides the stage-1 action when stage 2 applied a
// terminal or budget-reducing verdict. A failed stage-2 mutation leaves the
// stage-1 record standing.
func foldPauseIntoDraft(draft *models.AdSnapshot, decision PauseDecision) {
	if decision.Failed {
		return
	}
	switch decision.Action {
	case enums.ActionPause:
		draft.Action = decision.Action
		draft.Reason = decision.Reason
		draft.NewBudget = nil
	case enums.ActionReduceBudget:
		draft.Action = decision.Action
		draft.Reason = decision.Reason
		draft.NewBudget = decision.NewBudget
	}
}

func skipReason(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Message()
	}
	return "evaluation failed"
}
