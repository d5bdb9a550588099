package safety

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lmonteiro/warden/internal/db"
	"github.com/lmonteiro/warden/internal/metrics"
)

// ConfigSource is the slice of the store the monitor needs to enumerate
// senders and load their policies.
type ConfigSource interface {
	ListSenderIDs(ctx context.Context) ([]uuid.UUID, error)
	GetSenderConfig(ctx context.Context, senderID uuid.UUID) (*db.SenderConfig, error)
}

// Monitor periodically re-evaluates every known sender and publishes the
// result as Prometheus gauges, so dashboards track live eligibility without
// the UI having to poll the API.
type Monitor struct {
	ctrl     *Controller
	configs  ConfigSource
	interval time.Duration
	logger   *zap.Logger
}

// NewMonitor creates a monitor with the given refresh cadence. A zero
// interval defaults to 30 seconds.
func NewMonitor(ctrl *Controller, configs ConfigSource, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval == 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		ctrl:     ctrl,
		configs:  configs,
		interval: interval,
		logger:   logger,
	}
}

// Start runs the refresh loop until the context is canceled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("safety monitor stopping")
			return
		case <-ticker.C:
			m.refresh(ctx)
		}
	}
}

func (m *Monitor) refresh(ctx context.Context) {
	senderIDs, err := m.configs.ListSenderIDs(ctx)
	if err != nil {
		m.logger.Warn("failed to list senders for status refresh", zap.Error(err))
		return
	}

	now := time.Now()
	for _, senderID := range senderIDs {
		cfg := DefaultConfig()
		if rec, err := m.configs.GetSenderConfig(ctx, senderID); err != nil {
			m.logger.Warn("failed to load sender config",
				zap.Error(err),
				zap.String("sender_id", senderID.String()),
			)
			continue
		} else if rec != nil {
			cfg = FromRecord(rec)
		}

		status, err := m.ctrl.EvaluateStatus(ctx, senderID, cfg, now)
		if err != nil {
			m.logger.Warn("status refresh failed",
				zap.Error(err),
				zap.String("sender_id", senderID.String()),
			)
			continue
		}

		metrics.SetSenderStatus(senderID.String(), status.CanSend, status.CountThisHour, status.CountThisDay)
	}
}
