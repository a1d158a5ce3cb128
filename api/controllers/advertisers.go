package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/adpilot-hq/adpilot-backend/api/responses"
	"github.com/adpilot-hq/adpilot-backend/internal/advertisers"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
	"github.com/adpilot-hq/adpilot-backend/pkg/logger"
	"github.com/adpilot-hq/adpilot-backend/pkg/types"
)

// AdvertisersService exposes the advertiser directory without credentials.
type AdvertisersService interface {
	List(ctx context.Context, activeOnly bool) ([]advertisers.AdvertiserDTO, error)
}

// ListAdvertisers returns the configured advertisers. Pass active=true to
// restrict the listing to advertisers included in sweeps.
func ListAdvertisers(svc AdvertisersService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "advertisers service unavailable"))
			return
		}

		activeOnly := false
		if raw := strings.TrimSpace(r.URL.Query().Get("active")); raw != "" {
			value, err := strconv.ParseBool(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid active value"))
				return
			}
			activeOnly = value
		}

		items, err := svc.List(r.Context(), activeOnly)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, types.Collection{Items: items})
	}
}
