package publisher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/carebridge/dispatch/internal/domain"
	"github.com/carebridge/dispatch/internal/store"
)

type fakeSubs struct {
	subs []domain.Subscription
}

func (f *fakeSubs) FindActiveSubscriptions(_ context.Context, eventType domain.EventType) ([]domain.Subscription, error) {
	var active []domain.Subscription
	for _, s := range f.subs {
		if s.IsActive && s.EventType == eventType {
			active = append(active, s)
		}
	}
	return active, nil
}

type fakeRecords struct {
	created []store.NewEventRecord
	failOn  string // subscription id that triggers an insert error
}

func (f *fakeRecords) CreateEventRecord(_ context.Context, rec store.NewEventRecord) (*domain.EventRecord, error) {
	if rec.SubscriptionID == f.failOn {
		return nil, errors.New("insert failed")
	}
	f.created = append(f.created, rec)
	return &domain.EventRecord{
		ID:             "rec-" + rec.SubscriptionID,
		EventType:      rec.EventType,
		ReferenceID:    rec.ReferenceID,
		SubscriptionID: rec.SubscriptionID,
		Channel:        rec.Channel,
		Target:         rec.Target,
		Secret:         rec.Secret,
		Status:         domain.StatusPending,
	}, nil
}

type fakeQueue struct {
	msgs []*domain.DeliveryMessage
	err  error
}

func (f *fakeQueue) Enqueue(_ context.Context, msg *domain.DeliveryMessage) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPublish_FanOutSkipsInactive(t *testing.T) {
	subs := &fakeSubs{subs: []domain.Subscription{
		{ID: "sub-1", EventType: domain.EventPaymentVerified, Channel: domain.ChannelWebhook, Target: "http://a.example/hook", Secret: "s1", IsActive: true},
		{ID: "sub-2", EventType: domain.EventPaymentVerified, Channel: domain.ChannelPush, Target: "device-token-2", Secret: "s2", IsActive: true},
		{ID: "sub-3", EventType: domain.EventPaymentVerified, Channel: domain.ChannelWebhook, Target: "http://c.example/hook", Secret: "s3", IsActive: false},
	}}
	records := &fakeRecords{}
	webhookQ := &fakeQueue{}
	pushQ := &fakeQueue{}

	p := New(subs, records, webhookQ, pushQ, testLogger())

	queued, err := p.Publish(context.Background(), domain.EventPaymentVerified, "pay-001", nil)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if queued != 2 {
		t.Errorf("queued = %d, want 2", queued)
	}
	if len(records.created) != 2 {
		t.Errorf("records created = %d, want 2 (none for the inactive subscription)", len(records.created))
	}
	if len(webhookQ.msgs) != 1 || len(pushQ.msgs) != 1 {
		t.Errorf("messages: webhook=%d push=%d, want 1 each", len(webhookQ.msgs), len(pushQ.msgs))
	}

	msg := webhookQ.msgs[0]
	if msg.Attempt != 1 {
		t.Errorf("first message attempt = %d, want 1", msg.Attempt)
	}
	if msg.RecordID != "rec-sub-1" {
		t.Errorf("message should point at its record, got %q", msg.RecordID)
	}
	if msg.ReferenceID != "pay-001" {
		t.Errorf("reference id = %q", msg.ReferenceID)
	}
}

func TestPublish_NoSubscriptionsIsNoOp(t *testing.T) {
	p := New(&fakeSubs{}, &fakeRecords{}, &fakeQueue{}, &fakeQueue{}, testLogger())

	queued, err := p.Publish(context.Background(), domain.EventUserApproved, "usr-1", nil)
	if err != nil {
		t.Fatalf("no subscriptions should not be an error, got %v", err)
	}
	if queued != 0 {
		t.Errorf("queued = %d, want 0", queued)
	}
}

func TestPublish_InvalidEventTypeRejected(t *testing.T) {
	p := New(&fakeSubs{}, &fakeRecords{}, &fakeQueue{}, &fakeQueue{}, testLogger())

	if _, err := p.Publish(context.Background(), domain.EventType("PATIENT_WEIGHED"), "x", nil); err == nil {
		t.Error("event types outside the closed enumeration must be rejected")
	}
}

func TestPublish_PersistenceFailureSurfacedOthersProceed(t *testing.T) {
	subs := &fakeSubs{subs: []domain.Subscription{
		{ID: "sub-bad", EventType: domain.EventUserApproved, Channel: domain.ChannelWebhook, Target: "http://a.example", Secret: "s", IsActive: true},
		{ID: "sub-ok", EventType: domain.EventUserApproved, Channel: domain.ChannelWebhook, Target: "http://b.example", Secret: "s", IsActive: true},
	}}
	records := &fakeRecords{failOn: "sub-bad"}
	webhookQ := &fakeQueue{}

	p := New(subs, records, webhookQ, &fakeQueue{}, testLogger())

	queued, err := p.Publish(context.Background(), domain.EventUserApproved, "usr-9", nil)
	if err == nil {
		t.Error("persistence failure must be reported to the caller")
	}
	if queued != 1 {
		t.Errorf("healthy subscription should still be queued, got %d", queued)
	}
}

func TestPublish_EnqueueFailureLeavesRecordPending(t *testing.T) {
	subs := &fakeSubs{subs: []domain.Subscription{
		{ID: "sub-1", EventType: domain.EventAppointmentCreated, Channel: domain.ChannelWebhook, Target: "http://a.example", Secret: "s", IsActive: true},
	}}
	records := &fakeRecords{}
	webhookQ := &fakeQueue{err: errors.New("broker down")}

	p := New(subs, records, webhookQ, &fakeQueue{}, testLogger())

	queued, err := p.Publish(context.Background(), domain.EventAppointmentCreated, "apt-5", nil)
	if err != nil {
		t.Fatalf("enqueue failure is handled by reconciliation, not surfaced: %v", err)
	}
	if queued != 0 {
		t.Errorf("queued = %d, want 0", queued)
	}
	// The record was still written first
	if len(records.created) != 1 {
		t.Errorf("record should exist without its message, created = %d", len(records.created))
	}
}

func TestPublish_PayloadWhitelisted(t *testing.T) {
	subs := &fakeSubs{subs: []domain.Subscription{
		{ID: "sub-1", EventType: domain.EventAppointmentCreated, Channel: domain.ChannelWebhook, Target: "http://a.example", Secret: "s", IsActive: true},
	}}
	webhookQ := &fakeQueue{}
	p := New(subs, &fakeRecords{}, webhookQ, &fakeQueue{}, testLogger())

	payload := map[string]string{
		"appointment_id": "apt-5",
		"status":         "confirmed",
		"patient_name":   "Jane Doe",
		"diagnosis":      "hypertension",
	}
	if _, err := p.Publish(context.Background(), domain.EventAppointmentCreated, "apt-5", payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := webhookQ.msgs[0].Payload
	if _, leaked := got["patient_name"]; leaked {
		t.Error("patient_name must be stripped from outbound payloads")
	}
	if _, leaked := got["diagnosis"]; leaked {
		t.Error("diagnosis must be stripped from outbound payloads")
	}
	if got["appointment_id"] != "apt-5" || got["status"] != "confirmed" {
		t.Errorf("whitelisted keys should survive, got %v", got)
	}
}
