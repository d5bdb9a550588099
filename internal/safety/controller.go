package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MessageLog is the slice of the message store the controller reads. Counts
// must include failed attempts: a failed send still consumed a slot, and
// retries go through the same throttle.
type MessageLog interface {
	CountSince(ctx context.Context, senderID uuid.UUID, from, to time.Time) (int, error)
	MostRecentSendAt(ctx context.Context, senderID uuid.UUID) (*time.Time, error)
}

// Controller answers "can sender X send right now, and under what terms".
// It holds no state of its own; every evaluation is derived from the log.
// Safe for concurrent use.
type Controller struct {
	log    MessageLog
	logger *zap.Logger
}

// NewController creates a safety controller over the given message log.
func NewController(log MessageLog, logger *zap.Logger) *Controller {
	return &Controller{
		log:    log,
		logger: logger,
	}
}

// EvaluateStatus computes the current eligibility for a sender. If the log
// cannot be read the returned status is blocked: without counts we must not
// claim sending is safe.
func (c *Controller) EvaluateStatus(ctx context.Context, senderID uuid.UUID, cfg Config, now time.Time) (Status, error) {
	hourCount, err := c.log.CountSince(ctx, senderID, now.Add(-time.Hour), now)
	if err != nil {
		return unavailableStatus(), fmt.Errorf("count hourly window: %w", err)
	}

	dayCount, err := c.log.CountSince(ctx, senderID, StartOfDay(now), now)
	if err != nil {
		return unavailableStatus(), fmt.Errorf("count daily window: %w", err)
	}

	lastSentAt, err := c.log.MostRecentSendAt(ctx, senderID)
	if err != nil {
		return unavailableStatus(), fmt.Errorf("query last send: %w", err)
	}

	status := Evaluate(cfg, hourCount, dayCount, lastSentAt, now)

	c.logger.Debug("safety status evaluated",
		zap.String("sender_id", senderID.String()),
		zap.Bool("can_send", status.CanSend),
		zap.String("level", string(status.Level)),
		zap.Int("count_hour", status.CountThisHour),
		zap.Int("count_day", status.CountThisDay),
	)

	return status, nil
}

func unavailableStatus() Status {
	return Status{
		CanSend: false,
		Level:   LevelBlocked,
		Message: "message history unavailable, sending paused",
	}
}
