package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/adpilot-hq/adpilot-backend/api/responses"
	"github.com/adpilot-hq/adpilot-backend/internal/optimizer"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
	"github.com/adpilot-hq/adpilot-backend/pkg/logger"
)

// OptimizerService runs optimization passes on demand.
type OptimizerService interface {
	RunAdvertiser(ctx context.Context, opts optimizer.RunOptions) (*optimizer.RunResult, error)
	Sweep(ctx context.Context, dryRun bool) (*optimizer.SweepResult, error)
}

// TriggerAdvertiserRun executes one advertiser's pass immediately. A run
// already in flight for the advertiser surfaces as a conflict.
func TriggerAdvertiserRun(svc OptimizerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "optimizer service unavailable"))
			return
		}

		accountID := strings.TrimSpace(chi.URLParam(r, "accountId"))
		if accountID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "advertiser account id required"))
			return
		}

		dryRun, err := parseDryRun(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.RunAdvertiser(r.Context(), optimizer.RunOptions{AccountID: accountID, DryRun: dryRun})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// TriggerSweep runs every active advertiser. Per-advertiser failures stay in
// the outcome list; only a fleet-level failure turns into an error response.
func TriggerSweep(svc OptimizerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "optimizer service unavailable"))
			return
		}

		dryRun, err := parseDryRun(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Sweep(r.Context(), dryRun)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func parseDryRun(r *http.Request) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("dry_run"))
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid dry_run value")
	}
	return value, nil
}
