package controllers

import (
	"context"
	"net/http"

	"github.com/adpilot-hq/adpilot-backend/api/responses"
	"github.com/adpilot-hq/adpilot-backend/api/validators"
	"github.com/adpilot-hq/adpilot-backend/internal/snapshots"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
	"github.com/adpilot-hq/adpilot-backend/pkg/logger"
)

const (
	maxSnapshotPageSize = 200
	maxQueryParamLen    = 128
)

// SnapshotsService lists persisted decision snapshots.
type SnapshotsService interface {
	List(ctx context.Context, params snapshots.ListParams) (*snapshots.ListResult, error)
}

// ListSnapshots returns cursor-paginated snapshots for one advertiser,
// optionally narrowed to a single ad or decision date.
func ListSnapshots(svc SnapshotsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "snapshots service unavailable"))
			return
		}

		params := snapshots.ListParams{
			AdvertiserAccountID: validators.SanitizeString(r.URL.Query().Get("account_id"), maxQueryParamLen),
			AdID:                validators.SanitizeString(r.URL.Query().Get("ad_id"), maxQueryParamLen),
			Date:                validators.SanitizeString(r.URL.Query().Get("date"), maxQueryParamLen),
			Cursor:              validators.SanitizeString(r.URL.Query().Get("cursor"), maxQueryParamLen),
		}
		if params.AdvertiserAccountID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "account_id is required"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 0, 1, maxSnapshotPageSize)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params.Limit = limit

		result, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
