package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/adpilot-hq/adpilot-backend/pkg/enums"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
	"github.com/adpilot-hq/adpilot-backend/pkg/logger"
	"github.com/adpilot-hq/adpilot-backend/pkg/redis"
)

const (
	defaultPublishTimeout = 15 * time.Second
	// dedupTTL keeps suppression keys a little past the calendar day they
	// guard, so late-evening events cannot re-alert after midnight UTC skew.
	dedupTTL = 36 * time.Hour
)

// Event is one operator-facing notification. EntityID is the platform entity
// the event concerns (an ad id for pauses and caps, an account id for run
// failures).
type Event struct {
	Type                enums.NotificationType `json:"type"`
	Severity            enums.Severity         `json:"severity"`
	AdvertiserAccountID string                 `json:"advertiser_account_id"`
	EntityID            string                 `json:"entity_id"`
	Message             string                 `json:"message"`
	Metadata            map[string]any         `json:"metadata,omitempty"`
	OccurredAt          time.Time              `json:"occurred_at"`
}

// Sink accepts fire-and-forget notifications. Suppression of repeats for the
// same type, entity and day happens here, not at the call sites.
type Sink interface {
	Notify(ctx context.Context, event Event) error
}

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type dedupStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
}

// PubSubSink publishes notification events to the configured topic. A nil
// dedup store disables suppression (useful in dev).
type PubSubSink struct {
	pub            publisher
	dedup          dedupStore
	logg           *logger.Logger
	publishTimeout time.Duration
	now            func() time.Time
}

// SinkParams configures the pub/sub notification sink.
type SinkParams struct {
	Publisher      *gcppubsub.Publisher
	Dedup          dedupStore
	Logger         *logger.Logger
	PublishTimeout time.Duration
	Now            func() time.Time
}

// NewPubSubSink wires the production sink.
func NewPubSubSink(params SinkParams) (*PubSubSink, error) {
	if params.Publisher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notification publisher required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	timeout := params.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &PubSubSink{
		pub:            &gcpPublisher{Publisher: params.Publisher},
		dedup:          params.Dedup,
		logg:           params.Logger,
		publishTimeout: timeout,
		now:            now,
	}, nil
}

// Notify publishes the event unless the same type+entity already alerted
// today. Suppressed events return nil; callers never distinguish them from
// delivered ones.
func (s *PubSubSink) Notify(ctx context.Context, event Event) error {
	if !event.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid notification type")
	}
	if !event.Severity.IsValid() {
		event.Severity = enums.SeverityInfo
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}

	if s.dedup != nil {
		key := redis.NotificationDedupKey(string(event.Type), event.EntityID, event.OccurredAt)
		first, err := s.dedup.SetNX(ctx, key, "1", dedupTTL)
		if err != nil {
			// Dedup unavailable: prefer a duplicate alert over a lost one.
			s.logg.Warn(s.logg.WithField(ctx, "dedup_key", key), "notification dedup check failed")
		} else if !first {
			return nil
		}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal notification event")
	}

	msg := &gcppubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"type":                  string(event.Type),
			"severity":              string(event.Severity),
			"advertiser_account_id": event.AdvertiserAccountID,
			"entity_id":             event.EntityID,
			"occurred_at":           event.OccurredAt.Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()

	result := s.pub.Publish(publishCtx, msg)
	if result == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "notification publisher returned no result")
	}
	if _, err := result.Get(publishCtx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish notification event")
	}
	return nil
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
