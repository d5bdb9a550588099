package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lmonteiro/warden/internal/db"
	"github.com/lmonteiro/warden/internal/safety"
	"github.com/lmonteiro/warden/internal/transport"
)

type recordedOutcome struct {
	id       uuid.UUID
	status   string
	sentAt   time.Time
	provider *string
	errorMsg *string
}

// fakeStore backs both the worker repository and the safety controller's
// message log.
type fakeStore struct {
	due      []*db.Message
	attempts []time.Time
	countErr error
	cfg      *db.SenderConfig

	outcomes    []recordedOutcome
	reschedules []time.Time
}

func (f *fakeStore) GetDueMessages(ctx context.Context, limit int) ([]*db.Message, error) {
	if len(f.due) > limit {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeStore) RecordOutcome(ctx context.Context, id uuid.UUID, status string, sentAt time.Time, providerResult, errorMsg *string) error {
	f.outcomes = append(f.outcomes, recordedOutcome{id, status, sentAt, providerResult, errorMsg})
	return nil
}

func (f *fakeStore) RescheduleMessage(ctx context.Context, id uuid.UUID, scheduledAt time.Time) error {
	f.reschedules = append(f.reschedules, scheduledAt)
	return nil
}

func (f *fakeStore) GetSenderConfig(ctx context.Context, senderID uuid.UUID) (*db.SenderConfig, error) {
	return f.cfg, nil
}

func (f *fakeStore) CountSince(ctx context.Context, senderID uuid.UUID, from, to time.Time) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	count := 0
	for _, at := range f.attempts {
		if !at.Before(from) && !at.After(to) {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) MostRecentSendAt(ctx context.Context, senderID uuid.UUID) (*time.Time, error) {
	if f.countErr != nil {
		return nil, f.countErr
	}
	var latest *time.Time
	for i := range f.attempts {
		at := f.attempts[i]
		if latest == nil || at.After(*latest) {
			latest = &at
		}
	}
	return latest, nil
}

type fakeSender struct {
	calls  int
	err    error
	result *transport.Result
}

func (f *fakeSender) Send(ctx context.Context, channel, recipient, text string) (*transport.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakePublisher struct {
	published []*db.Message
}

func (f *fakePublisher) PublishOutcome(ctx context.Context, msg *db.Message) (string, error) {
	f.published = append(f.published, msg)
	return "sqs-1", nil
}

func dueMessage() *db.Message {
	return &db.Message{
		ID:          uuid.New(),
		SenderID:    uuid.New(),
		Channel:     db.ChannelWhatsApp,
		Recipient:   "5511999990000",
		Body:        "Hi Ana, please answer our survey",
		Status:      db.StatusPending,
		ScheduledAt: time.Now().Add(-time.Second),
		CreatedAt:   time.Now().Add(-3 * time.Minute),
	}
}

func setupWorker(t *testing.T, store *fakeStore, sender Sender, publisher OutcomePublisher) *Worker {
	t.Helper()
	logger := zap.NewNop()
	ctrl := safety.NewController(store, logger)
	return New(store, ctrl, sender, publisher, Config{}, logger)
}

func TestWorker_DeliversDueMessage(t *testing.T) {
	store := &fakeStore{due: []*db.Message{dueMessage()}}
	sender := &fakeSender{result: &transport.Result{ProviderMessageID: "WAMID-1"}}
	worker := setupWorker(t, store, sender, nil)

	worker.processBatch(context.Background())

	if sender.calls != 1 {
		t.Fatalf("expected 1 send, got %d", sender.calls)
	}
	if len(store.outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(store.outcomes))
	}
	outcome := store.outcomes[0]
	if outcome.status != db.StatusSent {
		t.Errorf("expected status sent, got %s", outcome.status)
	}
	if outcome.provider == nil || *outcome.provider != "WAMID-1" {
		t.Errorf("expected provider result WAMID-1, got %v", outcome.provider)
	}
	if outcome.sentAt.IsZero() {
		t.Error("expected sent_at stamped")
	}
}

func TestWorker_ReschedulesOnHourlyCap(t *testing.T) {
	msg := dueMessage()
	store := &fakeStore{due: []*db.Message{msg}}

	// Fill the trailing hour to the default cap.
	now := time.Now()
	for i := 0; i < safety.DefaultConfig().MaxPerHour; i++ {
		store.attempts = append(store.attempts, now.Add(-time.Duration(i+1)*time.Minute))
	}
	// Warming off so the daily cap (50) is not the blocker.
	cfg := safety.DefaultConfig()
	cfg.WarmingMode = false
	store.cfg = cfg.Record(msg.SenderID)

	sender := &fakeSender{}
	worker := setupWorker(t, store, sender, nil)

	worker.processBatch(context.Background())

	if sender.calls != 0 {
		t.Fatalf("blocked message must not be sent, got %d sends", sender.calls)
	}
	if len(store.outcomes) != 0 {
		t.Fatal("blocked message must not record an outcome")
	}
	if len(store.reschedules) != 1 {
		t.Fatalf("expected 1 reschedule, got %d", len(store.reschedules))
	}
	next := store.reschedules[0]
	if next.Before(now.Add(59*time.Minute)) || next.After(now.Add(61*time.Minute)) {
		t.Errorf("expected reschedule about an hour out, got %v", next)
	}
}

func TestWorker_ReschedulesToNextMidnightOnDailyCap(t *testing.T) {
	msg := dueMessage()
	store := &fakeStore{due: []*db.Message{msg}}

	// Warming mode: ten attempts today exhaust the warming cap.
	now := time.Now()
	todayStart := safety.StartOfDay(now)
	for i := 0; i < safety.DefaultConfig().WarmingDailyCap; i++ {
		at := todayStart.Add(time.Duration(i+1) * time.Minute)
		if at.After(now) {
			at = now.Add(-time.Duration(i) * time.Second)
		}
		store.attempts = append(store.attempts, at)
	}

	sender := &fakeSender{}
	worker := setupWorker(t, store, sender, nil)

	worker.processBatch(context.Background())

	if sender.calls != 0 {
		t.Fatal("daily-capped message must not be sent")
	}
	if len(store.reschedules) != 1 {
		t.Fatalf("expected 1 reschedule, got %d", len(store.reschedules))
	}
	wantMidnight := todayStart.Add(24 * time.Hour)
	if !store.reschedules[0].Equal(wantMidnight) {
		t.Errorf("expected reschedule to next midnight %v, got %v", wantMidnight, store.reschedules[0])
	}
}

func TestWorker_FailedSendRecordsFailure(t *testing.T) {
	store := &fakeStore{due: []*db.Message{dueMessage()}}
	sender := &fakeSender{err: errors.New("gateway returned status 502")}
	worker := setupWorker(t, store, sender, nil)

	worker.processBatch(context.Background())

	if len(store.outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(store.outcomes))
	}
	outcome := store.outcomes[0]
	if outcome.status != db.StatusFailed {
		t.Errorf("expected status failed, got %s", outcome.status)
	}
	if outcome.errorMsg == nil || *outcome.errorMsg == "" {
		t.Error("expected error message recorded")
	}
	// Failed attempts still consume a rate slot: sent_at must be stamped.
	if outcome.sentAt.IsZero() {
		t.Error("expected sent_at stamped on failure")
	}
}

func TestWorker_StoreErrorLeavesMessageQueued(t *testing.T) {
	store := &fakeStore{
		due:      []*db.Message{dueMessage()},
		countErr: errors.New("connection refused"),
	}
	sender := &fakeSender{}
	worker := setupWorker(t, store, sender, nil)

	worker.processBatch(context.Background())

	if sender.calls != 0 {
		t.Fatal("must not send when safety state is unreadable")
	}
	if len(store.outcomes) != 0 || len(store.reschedules) != 0 {
		t.Fatal("message must be left untouched for the next poll")
	}
}

func TestWorker_PublishesOutcome(t *testing.T) {
	msg := dueMessage()
	store := &fakeStore{due: []*db.Message{msg}}
	sender := &fakeSender{result: &transport.Result{ProviderMessageID: "WAMID-2"}}
	publisher := &fakePublisher{}
	worker := setupWorker(t, store, sender, publisher)

	worker.processBatch(context.Background())

	if len(publisher.published) != 1 {
		t.Fatalf("expected 1 published outcome, got %d", len(publisher.published))
	}
	if publisher.published[0].Status != db.StatusSent {
		t.Errorf("expected published status sent, got %s", publisher.published[0].Status)
	}
}
