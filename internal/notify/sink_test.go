package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/adpilot-hq/adpilot-backend/pkg/enums"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
	"github.com/adpilot-hq/adpilot-backend/pkg/logger"
)

func TestNotifyPublishesEvent(t *testing.T) {
	pub := &fakePublisher{}
	dedup := &fakeDedup{}
	sink := newTestSink(pub, dedup)

	event := Event{
		Type:                enums.NotificationAdPaused,
		Severity:            enums.SeverityWarning,
		AdvertiserAccountID: "act_1001",
		EntityID:            "ad_42",
		Message:             "ad paused after CPA breach",
		Metadata:            map[string]any{"cpa": 91.5},
	}
	if err := sink.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify returned error: %v", err)
	}

	if got := len(pub.messages); got != 1 {
		t.Fatalf("expected 1 published message, got %d", got)
	}
	msg := pub.messages[0]
	if msg.Attributes["type"] != string(enums.NotificationAdPaused) {
		t.Fatalf("unexpected type attribute %q", msg.Attributes["type"])
	}
	if msg.Attributes["severity"] != string(enums.SeverityWarning) {
		t.Fatalf("unexpected severity attribute %q", msg.Attributes["severity"])
	}
	if msg.Attributes["advertiser_account_id"] != "act_1001" {
		t.Fatalf("unexpected account attribute %q", msg.Attributes["advertiser_account_id"])
	}
	if msg.Attributes["entity_id"] != "ad_42" {
		t.Fatalf("unexpected entity attribute %q", msg.Attributes["entity_id"])
	}

	var decoded Event
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.Message != event.Message {
		t.Fatalf("payload message mismatch: %q", decoded.Message)
	}
	if decoded.OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be stamped")
	}

	if got := len(dedup.keys); got != 1 {
		t.Fatalf("expected 1 dedup key write, got %d", got)
	}
	want := "ap:dedup:ad_paused:ad_42:2025-06-02"
	if dedup.keys[0] != want {
		t.Fatalf("dedup key = %q, want %q", dedup.keys[0], want)
	}
}

func TestNotifySuppressesSameDayRepeat(t *testing.T) {
	pub := &fakePublisher{}
	dedup := &fakeDedup{replies: []bool{true, false}}
	sink := newTestSink(pub, dedup)

	event := Event{
		Type:                enums.NotificationBudgetCapReached,
		Severity:            enums.SeverityInfo,
		AdvertiserAccountID: "act_1001",
		EntityID:            "ad_42",
		Message:             "cap reached",
	}
	if err := sink.Notify(context.Background(), event); err != nil {
		t.Fatalf("first notify returned error: %v", err)
	}
	if err := sink.Notify(context.Background(), event); err != nil {
		t.Fatalf("second notify returned error: %v", err)
	}

	if got := len(pub.messages); got != 1 {
		t.Fatalf("expected repeat to be suppressed, published %d messages", got)
	}
}

func TestNotifyPublishesWhenDedupUnavailable(t *testing.T) {
	pub := &fakePublisher{}
	dedup := &fakeDedup{err: errors.New("connection refused")}
	sink := newTestSink(pub, dedup)

	event := Event{
		Type:     enums.NotificationRunFailed,
		Severity: enums.SeverityCritical,
		EntityID: "act_7",
		Message:  "sweep run failed",
	}
	if err := sink.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify returned error: %v", err)
	}
	if got := len(pub.messages); got != 1 {
		t.Fatalf("expected publish despite dedup outage, got %d messages", got)
	}
}

func TestNotifyRejectsUnknownType(t *testing.T) {
	pub := &fakePublisher{}
	sink := newTestSink(pub, nil)

	err := sink.Notify(context.Background(), Event{Type: "made_up", EntityID: "x"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(pub.messages) != 0 {
		t.Fatalf("expected no publish for invalid event")
	}
}

func TestNotifyReturnsDependencyErrorOnPublishFailure(t *testing.T) {
	pub := &fakePublisher{results: []publishResult{fakePublishResult{err: errors.New("deadline exceeded")}}}
	sink := newTestSink(pub, nil)

	event := Event{
		Type:     enums.NotificationBudgetReduced,
		Severity: enums.SeverityInfo,
		EntityID: "ad_9",
		Message:  "budget reduced",
	}
	err := sink.Notify(context.Background(), event)
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestNotifyDefaultsSeverityAndTimestamp(t *testing.T) {
	pub := &fakePublisher{}
	sink := newTestSink(pub, nil)

	event := Event{
		Type:     enums.NotificationBudgetCapApplied,
		EntityID: "ad_3",
		Message:  "cap applied",
	}
	if err := sink.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify returned error: %v", err)
	}
	msg := pub.messages[0]
	if msg.Attributes["severity"] != string(enums.SeverityInfo) {
		t.Fatalf("expected severity to default to info, got %q", msg.Attributes["severity"])
	}
	if msg.Attributes["occurred_at"] == "" {
		t.Fatalf("expected occurred_at attribute to be stamped")
	}
}

func newTestSink(pub publisher, dedup dedupStore) *PubSubSink {
	logg := logger.New(logger.Options{
		ServiceName: "notify-test",
		Output:      io.Discard,
	})
	return &PubSubSink{
		pub:            pub,
		dedup:          dedup,
		logg:           logg,
		publishTimeout: time.Second,
		now: func() time.Time {
			return time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
		},
	}
}

type fakePublisher struct {
	messages []*gcppubsub.Message
	results  []publishResult
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return fakePublishResult{}
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "", f.err
}

type fakeDedup struct {
	keys    []string
	replies []bool
	err     error
}

func (f *fakeDedup) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return false, f.err
	}
	if len(f.replies) == 0 {
		return true, nil
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}
