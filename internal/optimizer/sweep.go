package optimizer

import (
	"context"
	"sync"
	"time"

	"github.com/adpilot-hq/adpilot-backend/internal/notify"
	"github.com/adpilot-hq/adpilot-backend/pkg/enums"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
)

// SweepOutcome is one advertiser's slice of a sweep.
type SweepOutcome struct {
	AdvertiserAccountID string     `json:"advertiser_account_id"`
	Result              *RunResult `json:"result,omitempty"`
	Error               string     `json:"error,omitempty"`
	LockHeld            bool       `json:"lock_held,omitempty"`
}

// SweepResult summarizes a fleet pass. Skipped covers held locks and
// advertisers outside their operating window; Failed covers runs that
// returned an error.
type SweepResult struct {
	StartedAt time.Time      `json:"started_at"`
	DryRun    bool           `json:"dry_run"`
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Outcomes  []SweepOutcome `json:"outcomes"`
}

// Sweep runs every active advertiser with bounded parallelism. One
// advertiser's failure never stops the others; each outcome lands in the
// slot matching the directory's ordering.
func (r *Runner) Sweep(ctx context.Context, dryRun bool) (*SweepResult, error) {
	advertisers, err := r.advertisers.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{
		StartedAt: r.now().UTC(),
		DryRun:    dryRun || r.forceDryRun,
		Total:     len(advertisers),
		Outcomes:  make([]SweepOutcome, len(advertisers)),
	}
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"advertisers": result.Total,
		"dry_run":     result.DryRun,
	}), "optimization sweep started")

	concurrency := r.cfg.SweepConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	dispatched := 0
dispatch:
	for i := range advertisers {
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}
		dispatched++

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			accountID := advertisers[i].AccountID
			runResult, err := r.RunAdvertiser(ctx, RunOptions{AccountID: accountID, DryRun: dryRun})
			result.Outcomes[i] = SweepOutcome{
				AdvertiserAccountID: accountID,
				Result:              runResult,
			}
			if err != nil {
				result.Outcomes[i].Error = err.Error()
				result.Outcomes[i].LockHeld = pkgerrors.IsCode(err, pkgerrors.CodeLockHeld)
			}
		}(i)
	}
	wg.Wait()

	for i := dispatched; i < len(advertisers); i++ {
		result.Outcomes[i] = SweepOutcome{
			AdvertiserAccountID: advertisers[i].AccountID,
			Error:               "sweep canceled",
		}
	}

	for i := range result.Outcomes {
		outcome := &result.Outcomes[i]
		switch {
		case outcome.LockHeld:
			result.Skipped++
		case outcome.Error != "":
			result.Failed++
			r.notifyRunFailure(ctx, outcome.AdvertiserAccountID, outcome.Error)
		case outcome.Result != nil && outcome.Result.OutsideWindow:
			result.Skipped++
		default:
			result.Succeeded++
		}
	}

	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"succeeded": result.Succeeded,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
	}), "optimization sweep finished")
	return result, nil
}

func (r *Runner) notifyRunFailure(ctx context.Context, accountID, runErr string) {
	if r.notifier == nil {
		return
	}
	event := notify.Event{
		Type:                enums.NotificationRunFailed,
		Severity:            enums.SeverityCritical,
		AdvertiserAccountID: accountID,
		EntityID:            accountID,
		Message:             "budget optimization run failed",
		Metadata:            map[string]any{"error": runErr},
	}
	if err := r.notifier.Notify(ctx, event); err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "advertiser_account_id", accountID), "run failure notification not delivered")
	}
}
