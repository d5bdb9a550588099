// Package dispatch drains the pending-message queue. Messages are stored
// with a randomized scheduled_at; the worker picks up due rows,
// re-checks the sender's safety status at the moment of transmission and
// either delivers or pushes the row forward.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lmonteiro/warden/internal/db"
	"github.com/lmonteiro/warden/internal/metrics"
	"github.com/lmonteiro/warden/internal/safety"
	"github.com/lmonteiro/warden/internal/transport"
)

type Repository interface {
	GetDueMessages(ctx context.Context, limit int) ([]*db.Message, error)
	RecordOutcome(ctx context.Context, id uuid.UUID, status string, sentAt time.Time, providerResult, errorMsg *string) error
	RescheduleMessage(ctx context.Context, id uuid.UUID, scheduledAt time.Time) error
	GetSenderConfig(ctx context.Context, senderID uuid.UUID) (*db.SenderConfig, error)
}

// Sender delivers rendered text; transport.Router satisfies this.
type Sender interface {
	Send(ctx context.Context, channel, recipient, text string) (*transport.Result, error)
}

// OutcomePublisher forwards dispatch results to the reporting queue.
// Optional; nil disables publishing.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, msg *db.Message) (string, error)
}

type Worker struct {
	repo      Repository
	ctrl      *safety.Controller
	sender    Sender
	publisher OutcomePublisher
	config    Config
	logger    *zap.Logger
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

func New(repo Repository, ctrl *safety.Controller, sender Sender, publisher OutcomePublisher, cfg Config, logger *zap.Logger) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}

	return &Worker{
		repo:      repo,
		ctrl:      ctrl,
		sender:    sender,
		publisher: publisher,
		config:    cfg,
		logger:    logger,
	}
}

func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("dispatch worker stopping")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	messages, err := w.repo.GetDueMessages(ctx, w.config.BatchSize)
	if err != nil {
		w.logger.Error("failed to get due messages", zap.Error(err))
		return
	}

	for _, msg := range messages {
		w.processMessage(ctx, msg)
	}
}

// processMessage re-evaluates the sender's safety status right before
// transmission. The status may have changed since the message was
// scheduled: other messages went out, the operator tightened the limits.
func (w *Worker) processMessage(ctx context.Context, msg *db.Message) {
	now := time.Now()

	cfg, err := w.senderConfig(ctx, msg.SenderID)
	if err != nil {
		w.logger.Error("failed to load sender config, leaving message queued",
			zap.Error(err),
			zap.String("message_id", msg.ID.String()),
		)
		return
	}

	status, err := w.ctrl.EvaluateStatus(ctx, msg.SenderID, cfg, now)
	if err != nil {
		// Fail safe: without readable counts nothing goes out. The row
		// stays due and the next poll retries.
		w.logger.Error("safety evaluation failed, leaving message queued",
			zap.Error(err),
			zap.String("message_id", msg.ID.String()),
		)
		return
	}

	if !status.CanSend {
		w.reschedule(ctx, msg, status, now)
		return
	}

	w.deliver(ctx, msg, now)
}

func (w *Worker) senderConfig(ctx context.Context, senderID uuid.UUID) (safety.Config, error) {
	rec, err := w.repo.GetSenderConfig(ctx, senderID)
	if err != nil {
		return safety.Config{}, err
	}
	return safety.FromRecord(rec), nil
}

// reschedule pushes a blocked message forward: to the status's next
// eligible time, or to the next local midnight when the daily cap is the
// blocker and no sooner slot exists.
func (w *Worker) reschedule(ctx context.Context, msg *db.Message, status safety.Status, now time.Time) {
	var next time.Time
	var reason string

	switch {
	case status.NextEligibleAt == nil:
		next = safety.StartOfDay(now).Add(24 * time.Hour)
		reason = "daily_cap"
	case status.Level == safety.LevelBlocked:
		next = *status.NextEligibleAt
		reason = "hourly_cap"
	default:
		next = *status.NextEligibleAt
		reason = "min_delay"
	}

	metrics.RecordSendBlocked(reason)

	if err := w.repo.RescheduleMessage(ctx, msg.ID, next); err != nil {
		w.logger.Error("failed to reschedule message",
			zap.Error(err),
			zap.String("message_id", msg.ID.String()),
		)
		return
	}

	w.logger.Info("message rescheduled",
		zap.String("message_id", msg.ID.String()),
		zap.String("sender_id", msg.SenderID.String()),
		zap.String("reason", reason),
		zap.Time("next_attempt", next),
	)
}

func (w *Worker) deliver(ctx context.Context, msg *db.Message, now time.Time) {
	result, sendErr := w.sender.Send(ctx, msg.Channel, msg.Recipient, msg.Body)

	status := db.StatusSent
	var providerResult, errorMsg *string
	if sendErr != nil {
		status = db.StatusFailed
		s := sendErr.Error()
		errorMsg = &s
		w.logger.Error("message delivery failed",
			zap.Error(sendErr),
			zap.String("message_id", msg.ID.String()),
			zap.String("channel", msg.Channel),
		)
	} else {
		if result != nil && result.ProviderMessageID != "" {
			providerResult = &result.ProviderMessageID
		}
		w.logger.Info("message delivered",
			zap.String("message_id", msg.ID.String()),
			zap.String("channel", msg.Channel),
		)
	}

	// A failed attempt still consumes a rate-window slot; both outcomes
	// stamp sent_at.
	if err := w.repo.RecordOutcome(ctx, msg.ID, status, now, providerResult, errorMsg); err != nil {
		w.logger.Error("failed to record message outcome",
			zap.Error(err),
			zap.String("message_id", msg.ID.String()),
		)
		return
	}

	metrics.RecordMessageDispatched(status, msg.Channel)
	metrics.ObserveDispatchDelay(now.Sub(msg.CreatedAt))

	if w.publisher != nil {
		msg.Status = status
		msg.ErrorMessage = errorMsg
		if _, err := w.publisher.PublishOutcome(ctx, msg); err != nil {
			w.logger.Warn("failed to publish outcome event",
				zap.Error(err),
				zap.String("message_id", msg.ID.String()),
			)
		}
	}
}
