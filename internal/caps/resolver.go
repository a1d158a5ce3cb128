package caps

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
)

// ResolveInput carries one proposed budget increase through cap resolution.
// PoolAdIDs lists every ad sharing the budget pool, including the ad itself,
// when the budget is set at the campaign level; leave it empty for ad-set
// budgets so only the ad's own cap binds.
type ResolveInput struct {
	AdID      string
	PoolAdIDs []string
	Current   decimal.Decimal
	Proposed  decimal.Decimal
	Now       time.Time
}

// Resolution reports the clamp outcome. CapReached means the current budget
// already meets or exceeds the cap and the increase must be skipped outright;
// CapApplied means the proposal was reduced but still moves the budget up.
type Resolution struct {
	FinalBudget decimal.Decimal
	Cap         *decimal.Decimal
	CapApplied  bool
	CapReached  bool
}

// Resolver clamps proposed budgets against operator-configured caps.
type Resolver interface {
	Resolve(ctx context.Context, in ResolveInput) (Resolution, error)
}

type resolver struct {
	repo Repository
}

// NewResolver wires cap resolution dependencies.
func NewResolver(repo Repository) (Resolver, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "caps repository required")
	}
	return &resolver{repo: repo}, nil
}

func (r *resolver) Resolve(ctx context.Context, in ResolveInput) (Resolution, error) {
	if in.AdID == "" {
		return Resolution{}, pkgerrors.New(pkgerrors.CodeValidation, "ad id required")
	}

	ids := in.PoolAdIDs
	if len(ids) == 0 {
		ids = []string{in.AdID}
	}

	rows, err := r.repo.ListForAds(ctx, ids)
	if err != nil {
		return Resolution{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load budget caps")
	}

	var applicable *decimal.Decimal
	for i := range rows {
		if !rows[i].ActiveAt(in.Now) {
			continue
		}
		value := rows[i].Cap
		if applicable == nil || value.LessThan(*applicable) {
			applicable = &value
		}
	}

	resolution := Resolution{FinalBudget: in.Proposed, Cap: applicable}
	if applicable == nil {
		return resolution, nil
	}

	if in.Current.GreaterThanOrEqual(*applicable) {
		resolution.CapReached = true
		resolution.FinalBudget = in.Current
		return resolution, nil
	}
	if in.Proposed.GreaterThan(*applicable) {
		resolution.FinalBudget = *applicable
		resolution.CapApplied = true
	}
	return resolution, nil
}
