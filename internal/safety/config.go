// Package safety implements the outbound-message throttle: per-sender rate
// caps over sliding-hour and calendar-day windows, warm-up caps for new
// sending identities, randomized inter-message delays and least-usage
// template rotation. The throttle is advisory: it protects the sending
// identity's reputation, it is not a hard correctness barrier.
package safety

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lmonteiro/warden/internal/db"
)

// ErrInvalidConfig is returned when a config update fails validation. No
// partial update is applied.
var ErrInvalidConfig = errors.New("invalid safety config")

// Config is the safety policy for one sending identity.
type Config struct {
	MaxPerHour      int  `json:"max_per_hour"`
	MaxPerDay       int  `json:"max_per_day"`
	MinDelaySeconds int  `json:"min_delay_seconds"`
	MaxDelaySeconds int  `json:"max_delay_seconds"`
	WarmingMode     bool `json:"warming_mode"`
	WarmingDailyCap int  `json:"warming_daily_cap"`
}

// DefaultConfig is the policy applied to a sender the first time it is seen:
// conservative caps with warm-up enabled.
func DefaultConfig() Config {
	return Config{
		MaxPerHour:      20,
		MaxPerDay:       50,
		MinDelaySeconds: 120,
		MaxDelaySeconds: 300,
		WarmingMode:     true,
		WarmingDailyCap: 10,
	}
}

// EffectiveDailyCap is the daily limit actually enforced: the warm-up cap
// while warming, the normal cap otherwise.
func (c Config) EffectiveDailyCap() int {
	if c.WarmingMode {
		return c.WarmingDailyCap
	}
	return c.MaxPerDay
}

// Validate checks field-level constraints.
func (c Config) Validate() error {
	if c.MaxPerHour <= 0 {
		return fmt.Errorf("%w: max_per_hour must be positive, got %d", ErrInvalidConfig, c.MaxPerHour)
	}
	if c.MaxPerDay <= 0 {
		return fmt.Errorf("%w: max_per_day must be positive, got %d", ErrInvalidConfig, c.MaxPerDay)
	}
	if c.WarmingDailyCap <= 0 {
		return fmt.Errorf("%w: warming_daily_cap must be positive, got %d", ErrInvalidConfig, c.WarmingDailyCap)
	}
	if c.MinDelaySeconds < 0 {
		return fmt.Errorf("%w: min_delay_seconds must not be negative, got %d", ErrInvalidConfig, c.MinDelaySeconds)
	}
	if c.MaxDelaySeconds < c.MinDelaySeconds {
		return fmt.Errorf("%w: max_delay_seconds (%d) must be >= min_delay_seconds (%d)",
			ErrInvalidConfig, c.MaxDelaySeconds, c.MinDelaySeconds)
	}
	return nil
}

// Patch is a partial config update; nil fields keep their stored value.
type Patch struct {
	MaxPerHour      *int  `json:"max_per_hour,omitempty"`
	MaxPerDay       *int  `json:"max_per_day,omitempty"`
	MinDelaySeconds *int  `json:"min_delay_seconds,omitempty"`
	MaxDelaySeconds *int  `json:"max_delay_seconds,omitempty"`
	WarmingMode     *bool `json:"warming_mode,omitempty"`
	WarmingDailyCap *int  `json:"warming_daily_cap,omitempty"`
}

// Merge applies a patch over the receiver and validates the result. On
// validation failure the receiver is returned unchanged alongside the error.
func (c Config) Merge(p Patch) (Config, error) {
	merged := c
	if p.MaxPerHour != nil {
		merged.MaxPerHour = *p.MaxPerHour
	}
	if p.MaxPerDay != nil {
		merged.MaxPerDay = *p.MaxPerDay
	}
	if p.MinDelaySeconds != nil {
		merged.MinDelaySeconds = *p.MinDelaySeconds
	}
	if p.MaxDelaySeconds != nil {
		merged.MaxDelaySeconds = *p.MaxDelaySeconds
	}
	if p.WarmingMode != nil {
		merged.WarmingMode = *p.WarmingMode
	}
	if p.WarmingDailyCap != nil {
		merged.WarmingDailyCap = *p.WarmingDailyCap
	}

	if err := merged.Validate(); err != nil {
		return c, err
	}

	return merged, nil
}

// FromRecord converts a stored row into a policy value. A nil row means
// the sender has never been configured and gets the defaults.
func FromRecord(rec *db.SenderConfig) Config {
	if rec == nil {
		return DefaultConfig()
	}
	return Config{
		MaxPerHour:      rec.MaxPerHour,
		MaxPerDay:       rec.MaxPerDay,
		MinDelaySeconds: rec.MinDelaySeconds,
		MaxDelaySeconds: rec.MaxDelaySeconds,
		WarmingMode:     rec.WarmingMode,
		WarmingDailyCap: rec.WarmingDailyCap,
	}
}

// Record converts the policy into a row for persistence.
func (c Config) Record(senderID uuid.UUID) *db.SenderConfig {
	return &db.SenderConfig{
		SenderID:        senderID,
		MaxPerHour:      c.MaxPerHour,
		MaxPerDay:       c.MaxPerDay,
		MinDelaySeconds: c.MinDelaySeconds,
		MaxDelaySeconds: c.MaxDelaySeconds,
		WarmingMode:     c.WarmingMode,
		WarmingDailyCap: c.WarmingDailyCap,
	}
}
