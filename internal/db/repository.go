package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles database operations for messages, templates and
// per-sender safety configuration.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const messageColumns = `
	id, sender_id, channel, recipient, recipient_name, body, template_id,
	status, scheduled_at, sent_at, delay_seconds, provider_result,
	error_message, created_at, updated_at
`

func scanMessage(row pgx.Row) (*Message, error) {
	var msg Message
	err := row.Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.Channel,
		&msg.Recipient,
		&msg.RecipientName,
		&msg.Body,
		&msg.TemplateID,
		&msg.Status,
		&msg.ScheduledAt,
		&msg.SentAt,
		&msg.DelaySeconds,
		&msg.ProviderResult,
		&msg.ErrorMessage,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// CreateMessage inserts a scheduled message into the log.
func (r *Repository) CreateMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (
			id, sender_id, channel, recipient, recipient_name, body,
			template_id, status, scheduled_at, delay_seconds
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		msg.ID,
		msg.SenderID,
		msg.Channel,
		msg.Recipient,
		msg.RecipientName,
		msg.Body,
		msg.TemplateID,
		msg.Status,
		msg.ScheduledAt,
		msg.DelaySeconds,
	).Scan(&msg.CreatedAt, &msg.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create message",
			zap.Error(err),
			zap.String("message_id", msg.ID.String()),
		)
		return fmt.Errorf("insert message: %w", err)
	}

	r.logger.Info("message scheduled",
		zap.String("message_id", msg.ID.String()),
		zap.String("sender_id", msg.SenderID.String()),
		zap.String("channel", msg.Channel),
		zap.Time("scheduled_at", msg.ScheduledAt),
	)

	return nil
}

// GetMessage retrieves a message by ID
func (r *Repository) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	msg, err := scanMessage(r.db.Pool().QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("message not found: %s", id)
	}
	if err != nil {
		r.logger.Error("failed to get message",
			zap.Error(err),
			zap.String("message_id", id.String()),
		)
		return nil, fmt.Errorf("query message: %w", err)
	}

	return msg, nil
}

// ListMessagesBySender retrieves messages for a sender with pagination,
// newest first.
func (r *Repository) ListMessagesBySender(ctx context.Context, senderID uuid.UUID, limit, offset int) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE sender_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, senderID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return messages, nil
}

// GetDueMessages returns pending messages whose scheduled time has passed,
// oldest first.
func (r *Repository) GetDueMessages(ctx context.Context, limit int) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE status = 'pending' AND scheduled_at <= NOW()
		ORDER BY scheduled_at ASC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query due messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// RecordOutcome finalizes an attempt: sets sent_at and the terminal status.
// Failed attempts still occupy a rate-window slot, so both outcomes stamp
// sent_at.
func (r *Repository) RecordOutcome(ctx context.Context, id uuid.UUID, status string, sentAt time.Time, providerResult, errorMsg *string) error {
	query := `
		UPDATE messages
		SET status = $1, sent_at = $2, provider_result = $3, error_message = $4, updated_at = NOW()
		WHERE id = $5 AND status = 'pending'
	`

	result, err := r.db.Pool().Exec(ctx, query, status, sentAt, providerResult, errorMsg, id)
	if err != nil {
		r.logger.Error("failed to record message outcome",
			zap.Error(err),
			zap.String("message_id", id.String()),
		)
		return fmt.Errorf("record outcome: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("message not pending: %s", id)
	}

	return nil
}

// RescheduleMessage pushes a pending message's dispatch time forward.
func (r *Repository) RescheduleMessage(ctx context.Context, id uuid.UUID, scheduledAt time.Time) error {
	query := `
		UPDATE messages
		SET scheduled_at = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'pending'
	`

	result, err := r.db.Pool().Exec(ctx, query, scheduledAt, id)
	if err != nil {
		return fmt.Errorf("reschedule message: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("message not pending: %s", id)
	}

	return nil
}

// CancelMessage cancels a message that has not been dispatched yet.
func (r *Repository) CancelMessage(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE messages
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	result, err := r.db.Pool().Exec(ctx, query, StatusCanceled, id, StatusPending)
	if err != nil {
		return fmt.Errorf("cancel message: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("message not found or already dispatched")
	}

	r.logger.Info("message canceled", zap.String("message_id", id.String()))

	return nil
}

// CountSince counts attempts for a sender with sent_at in [from, to].
// Sent and failed rows both count; canceled and still-pending rows do not.
func (r *Repository) CountSince(ctx context.Context, senderID uuid.UUID, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE sender_id = $1 AND sent_at >= $2 AND sent_at <= $3
	`

	var count int
	err := r.db.Pool().QueryRow(ctx, query, senderID, from, to).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}

	return count, nil
}

// MostRecentSendAt returns the latest attempt time for a sender, or nil if
// the sender has never attempted a send.
func (r *Repository) MostRecentSendAt(ctx context.Context, senderID uuid.UUID) (*time.Time, error) {
	query := `
		SELECT sent_at
		FROM messages
		WHERE sender_id = $1 AND sent_at IS NOT NULL
		ORDER BY sent_at DESC
		LIMIT 1
	`

	var sentAt time.Time
	err := r.db.Pool().QueryRow(ctx, query, senderID).Scan(&sentAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query most recent send: %w", err)
	}

	return &sentAt, nil
}

// ListActiveTemplates returns active templates in insertion order.
func (r *Repository) ListActiveTemplates(ctx context.Context) ([]*Template, error) {
	query := `
		SELECT id, name, body, usage_count, active, created_at, updated_at
		FROM message_templates
		WHERE active = TRUE
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		var tmpl Template
		err := rows.Scan(
			&tmpl.ID,
			&tmpl.Name,
			&tmpl.Body,
			&tmpl.UsageCount,
			&tmpl.Active,
			&tmpl.CreatedAt,
			&tmpl.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, &tmpl)
	}

	return templates, rows.Err()
}

// ListTemplates returns all templates, active or not.
func (r *Repository) ListTemplates(ctx context.Context) ([]*Template, error) {
	query := `
		SELECT id, name, body, usage_count, active, created_at, updated_at
		FROM message_templates
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		var tmpl Template
		err := rows.Scan(
			&tmpl.ID,
			&tmpl.Name,
			&tmpl.Body,
			&tmpl.UsageCount,
			&tmpl.Active,
			&tmpl.CreatedAt,
			&tmpl.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, &tmpl)
	}

	return templates, rows.Err()
}

// CreateTemplate inserts a new message template.
func (r *Repository) CreateTemplate(ctx context.Context, tmpl *Template) error {
	query := `
		INSERT INTO message_templates (id, name, body, usage_count, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		tmpl.ID,
		tmpl.Name,
		tmpl.Body,
		tmpl.UsageCount,
		tmpl.Active,
	).Scan(&tmpl.CreatedAt, &tmpl.UpdatedAt)

	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}

	r.logger.Info("template created",
		zap.String("template_id", tmpl.ID.String()),
		zap.String("name", tmpl.Name),
	)

	return nil
}

// SetTemplateActive toggles a template's active flag.
func (r *Repository) SetTemplateActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `
		UPDATE message_templates
		SET active = $1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := r.db.Pool().Exec(ctx, query, active, id)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("template not found: %s", id)
	}

	return nil
}

// IncrementTemplateUsage bumps a template's usage counter by one. The
// increment runs server-side so concurrent selectors cannot lose updates.
func (r *Repository) IncrementTemplateUsage(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE message_templates
		SET usage_count = usage_count + 1, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("increment template usage: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("template not found: %s", id)
	}

	return nil
}

// GetSenderConfig returns the stored safety config for a sender, or nil if
// none exists yet.
func (r *Repository) GetSenderConfig(ctx context.Context, senderID uuid.UUID) (*SenderConfig, error) {
	query := `
		SELECT sender_id, max_per_hour, max_per_day, min_delay_seconds,
		       max_delay_seconds, warming_mode, warming_daily_cap,
		       created_at, updated_at
		FROM sender_safety_config
		WHERE sender_id = $1
	`

	var cfg SenderConfig
	err := r.db.Pool().QueryRow(ctx, query, senderID).Scan(
		&cfg.SenderID,
		&cfg.MaxPerHour,
		&cfg.MaxPerDay,
		&cfg.MinDelaySeconds,
		&cfg.MaxDelaySeconds,
		&cfg.WarmingMode,
		&cfg.WarmingDailyCap,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sender config: %w", err)
	}

	return &cfg, nil
}

// UpsertSenderConfig writes a sender's safety config, last writer wins.
func (r *Repository) UpsertSenderConfig(ctx context.Context, cfg *SenderConfig) error {
	query := `
		INSERT INTO sender_safety_config (
			sender_id, max_per_hour, max_per_day, min_delay_seconds,
			max_delay_seconds, warming_mode, warming_daily_cap
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sender_id) DO UPDATE SET
			max_per_hour = EXCLUDED.max_per_hour,
			max_per_day = EXCLUDED.max_per_day,
			min_delay_seconds = EXCLUDED.min_delay_seconds,
			max_delay_seconds = EXCLUDED.max_delay_seconds,
			warming_mode = EXCLUDED.warming_mode,
			warming_daily_cap = EXCLUDED.warming_daily_cap,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		cfg.SenderID,
		cfg.MaxPerHour,
		cfg.MaxPerDay,
		cfg.MinDelaySeconds,
		cfg.MaxDelaySeconds,
		cfg.WarmingMode,
		cfg.WarmingDailyCap,
	).Scan(&cfg.CreatedAt, &cfg.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to upsert sender config",
			zap.Error(err),
			zap.String("sender_id", cfg.SenderID.String()),
		)
		return fmt.Errorf("upsert sender config: %w", err)
	}

	r.logger.Info("sender config saved",
		zap.String("sender_id", cfg.SenderID.String()),
		zap.Int("max_per_hour", cfg.MaxPerHour),
		zap.Int("max_per_day", cfg.MaxPerDay),
		zap.Bool("warming_mode", cfg.WarmingMode),
	)

	return nil
}

// ListSenderIDs returns every sender that has a stored safety config.
func (r *Repository) ListSenderIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT sender_id FROM sender_safety_config ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query sender ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan sender id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
