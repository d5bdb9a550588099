package safety

import (
	"fmt"
	"time"
)

// Level classifies the current eligibility for the operator dashboard.
type Level string

const (
	LevelSafe    Level = "safe"
	LevelWarning Level = "warning"
	LevelBlocked Level = "blocked"
)

// Status is the derived sending eligibility for one sender at one instant.
// It is recomputed on every evaluation and never persisted.
type Status struct {
	CanSend        bool       `json:"can_send"`
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty"`
	CountThisHour  int        `json:"count_this_hour"`
	CountThisDay   int        `json:"count_this_day"`
	Message        string     `json:"message"`
	Level          Level      `json:"level"`
}

// warnThreshold is the fraction of a cap at which a proactive slow-down
// warning is raised while sending is still allowed.
const warnThreshold = 0.8

// Evaluate derives the sending eligibility from the rate-window counts and
// the last attempt time. Rule order is observable behavior — it decides
// which message the operator sees — and must stay: daily cap, then hourly
// cap, then minimum delay.
func Evaluate(cfg Config, hourCount, dayCount int, lastSentAt *time.Time, now time.Time) Status {
	status := Status{
		CanSend:       true,
		CountThisHour: hourCount,
		CountThisDay:  dayCount,
		Message:       "safe to send",
		Level:         LevelSafe,
	}

	dailyCap := cfg.EffectiveDailyCap()

	switch {
	case dayCount >= dailyCap:
		// No next-eligible time: the operator has to wait for the next
		// calendar day.
		status.CanSend = false
		status.Level = LevelBlocked
		status.Message = fmt.Sprintf("daily limit reached (%d/%d)", dayCount, dailyCap)

	case hourCount >= cfg.MaxPerHour:
		next := now.Add(time.Hour)
		status.CanSend = false
		status.Level = LevelBlocked
		status.NextEligibleAt = &next
		status.Message = fmt.Sprintf("hourly limit reached (%d/%d), next send at %s",
			hourCount, cfg.MaxPerHour, next.Format("15:04:05"))

	case lastSentAt != nil && now.Before(lastSentAt.Add(time.Duration(cfg.MinDelaySeconds)*time.Second)):
		next := lastSentAt.Add(time.Duration(cfg.MinDelaySeconds) * time.Second)
		remaining := int((next.Sub(now) + time.Second - 1) / time.Second)
		status.CanSend = false
		status.Level = LevelWarning
		status.NextEligibleAt = &next
		status.Message = fmt.Sprintf("wait %02dm%02ds for a safe send", remaining/60, remaining%60)

	default:
		if float64(hourCount) >= warnThreshold*float64(cfg.MaxPerHour) {
			status.Level = LevelWarning
			status.Message = fmt.Sprintf("%d/%d messages this hour, slow down", hourCount, cfg.MaxPerHour)
		} else if float64(dayCount) >= warnThreshold*float64(dailyCap) {
			status.Level = LevelWarning
			status.Message = fmt.Sprintf("%d/%d messages today, daily limit is close", dayCount, dailyCap)
		}
	}

	return status
}

// StartOfDay returns local midnight for the given instant. The daily window
// is calendar-aligned, not a trailing 24 hours.
func StartOfDay(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
