package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adpilot-hq/adpilot-backend/api/responses"
	"github.com/adpilot-hq/adpilot-backend/api/validators"
	"github.com/adpilot-hq/adpilot-backend/internal/caps"
	"github.com/adpilot-hq/adpilot-backend/pkg/db/models"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
	"github.com/adpilot-hq/adpilot-backend/pkg/logger"
)

// CapsService manages operator budget caps.
type CapsService interface {
	Set(ctx context.Context, params caps.SetParams) (*models.BudgetCap, error)
	Clear(ctx context.Context, adID string) error
}

type capUpsertRequest struct {
	Cap      decimal.Decimal `json:"cap" validate:"required"`
	StartsAt *time.Time      `json:"starts_at,omitempty"`
	EndsAt   *time.Time      `json:"ends_at,omitempty"`
	Note     *string         `json:"note,omitempty" validate:"omitempty,max=500"`
}

func (r capUpsertRequest) toParams(accountID, adID string) caps.SetParams {
	return caps.SetParams{
		AdvertiserAccountID: accountID,
		AdID:                adID,
		Cap:                 r.Cap,
		StartsAt:            r.StartsAt,
		EndsAt:              r.EndsAt,
		Note:                r.Note,
	}
}

type capResponse struct {
	ID                  uuid.UUID       `json:"id"`
	AdvertiserAccountID string          `json:"advertiser_account_id"`
	AdID                string          `json:"ad_id"`
	Cap                 decimal.Decimal `json:"cap"`
	StartsAt            *time.Time      `json:"starts_at,omitempty"`
	EndsAt              *time.Time      `json:"ends_at,omitempty"`
	Note                *string         `json:"note,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func capResponseFromModel(m *models.BudgetCap) capResponse {
	return capResponse{
		ID:                  m.ID,
		AdvertiserAccountID: m.AdvertiserAccountID,
		AdID:                m.AdID,
		Cap:                 m.Cap,
		StartsAt:            m.StartsAt,
		EndsAt:              m.EndsAt,
		Note:                m.Note,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

// UpsertBudgetCap sets or replaces the cap for one ad. The new ceiling binds
// on the next optimization round.
func UpsertBudgetCap(svc CapsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "caps service unavailable"))
			return
		}

		accountID := strings.TrimSpace(chi.URLParam(r, "accountId"))
		if accountID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "advertiser account id required"))
			return
		}
		adID := strings.TrimSpace(chi.URLParam(r, "adId"))
		if adID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "ad id required"))
			return
		}

		var payload capUpsertRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		row, err := svc.Set(r.Context(), payload.toParams(accountID, adID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, capResponseFromModel(row))
	}
}

// DeleteBudgetCap removes the operator cap for one ad; increases fall back
// to the advertiser's hard ceiling alone.
func DeleteBudgetCap(svc CapsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "caps service unavailable"))
			return
		}

		adID := strings.TrimSpace(chi.URLParam(r, "adId"))
		if adID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "ad id required"))
			return
		}

		if err := svc.Clear(r.Context(), adID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}
