package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/adpilot-hq/adpilot-backend/pkg/db/models"
	"github.com/adpilot-hq/adpilot-backend/pkg/enums"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
)

// SystemActor identifies automated budget mutations in the audit trail.
const SystemActor = "system:budget-optimizer"

// Entry describes one applied mutation. Before and After are marshaled to
// JSON as-is; keep them small value objects, not full models.
type Entry struct {
	EntityType string
	EntityID   string
	Action     enums.AuditAction
	Source     enums.AuditSource
	Actor      string
	RunID      *uuid.UUID
	Before     any
	After      any
	Reason     string
}

// Recorder persists audit entries for applied mutations.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Pruner trims audit entries past the retention window.
type Pruner interface {
	Prune(ctx context.Context, retentionDays int, now time.Time) (int64, error)
}

type recorder struct {
	repo Repository
}

// NewRecorder wires audit dependencies.
func NewRecorder(repo Repository) (Recorder, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "audit repository required")
	}
	return &recorder{repo: repo}, nil
}

// NewPruner wires the retention side of the audit trail.
func NewPruner(repo Repository) (Pruner, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "audit repository required")
	}
	return &pruner{repo: repo}, nil
}

type pruner struct {
	repo Repository
}

func (p *pruner) Prune(ctx context.Context, retentionDays int, now time.Time) (int64, error) {
	if retentionDays <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "retention days must be positive")
	}
	cutoff := now.AddDate(0, 0, -retentionDays)
	pruned, err := p.repo.PruneOlderThan(ctx, cutoff)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "prune audit entries")
	}
	return pruned, nil
}

func (r *recorder) Record(ctx context.Context, entry Entry) error {
	if entry.EntityType == "" || entry.EntityID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "audit entity required")
	}
	if !entry.Action.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "audit action required")
	}
	if !entry.Source.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "audit source required")
	}
	if entry.Reason == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "audit reason required")
	}

	actor := entry.Actor
	if actor == "" {
		actor = SystemActor
	}

	row := &models.AuditLog{
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		Source:     entry.Source,
		Actor:      actor,
		RunID:      entry.RunID,
		Reason:     entry.Reason,
	}

	var err error
	if row.Before, err = marshalPayload(entry.Before); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal audit before payload")
	}
	if row.After, err = marshalPayload(entry.After); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal audit after payload")
	}

	if err := r.repo.Create(ctx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write audit entry")
	}
	return nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
