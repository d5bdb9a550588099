package db

import (
	"time"

	"github.com/google/uuid"
)

// Message is one scheduled or attempted outbound survey message.
// Once an attempt is recorded the row is never mutated again; the log is the
// source of truth for the per-sender rate windows.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	SenderID       uuid.UUID  `json:"sender_id"`
	Channel        string     `json:"channel"`
	Recipient      string     `json:"recipient"`
	RecipientName  string     `json:"recipient_name"`
	Body           string     `json:"body"`
	TemplateID     *uuid.UUID `json:"template_id,omitempty"`
	Status         string     `json:"status"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	DelaySeconds   int        `json:"delay_seconds"`
	ProviderResult *string    `json:"provider_result,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Status constants
const (
	StatusPending  = "pending"
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
)

// Channel constants
const (
	ChannelWhatsApp = "whatsapp"
	ChannelSMS      = "sms"
	ChannelEmail    = "email"
)

// Template is a rotating message body with {name} and {survey_url}
// placeholders. UsageCount only ever grows.
type Template struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Body       string    `json:"body"`
	UsageCount int       `json:"usage_count"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SenderConfig is the persisted safety policy for one sending identity.
type SenderConfig struct {
	SenderID        uuid.UUID `json:"sender_id"`
	MaxPerHour      int       `json:"max_per_hour"`
	MaxPerDay       int       `json:"max_per_day"`
	MinDelaySeconds int       `json:"min_delay_seconds"`
	MaxDelaySeconds int       `json:"max_delay_seconds"`
	WarmingMode     bool      `json:"warming_mode"`
	WarmingDailyCap int       `json:"warming_daily_cap"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
