package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lmonteiro/warden/internal/db"
	"github.com/lmonteiro/warden/internal/dispatch"
	"github.com/lmonteiro/warden/internal/metrics"
	"github.com/lmonteiro/warden/internal/redis"
	"github.com/lmonteiro/warden/internal/safety"
)

// Repository defines the database operations the API needs.
type Repository interface {
	CreateMessage(ctx context.Context, msg *db.Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*db.Message, error)
	ListMessagesBySender(ctx context.Context, senderID uuid.UUID, limit, offset int) ([]*db.Message, error)
	CancelMessage(ctx context.Context, id uuid.UUID) error

	ListActiveTemplates(ctx context.Context) ([]*db.Template, error)
	ListTemplates(ctx context.Context) ([]*db.Template, error)
	CreateTemplate(ctx context.Context, tmpl *db.Template) error
	SetTemplateActive(ctx context.Context, id uuid.UUID, active bool) error
	IncrementTemplateUsage(ctx context.Context, id uuid.UUID) error

	GetSenderConfig(ctx context.Context, senderID uuid.UUID) (*db.SenderConfig, error)
	UpsertSenderConfig(ctx context.Context, cfg *db.SenderConfig) error
}

// ScheduleRequest is the incoming body for POST /v1/messages.
type ScheduleRequest struct {
	SenderID      string `json:"sender_id"`
	Channel       string `json:"channel"`
	Recipient     string `json:"recipient"`
	RecipientName string `json:"recipient_name"`
	TemplateID    string `json:"template_id,omitempty"`
	Body          string `json:"body,omitempty"`
}

// ScheduleResponse is returned after scheduling a message.
type ScheduleResponse struct {
	ID           string        `json:"id"`
	Status       string        `json:"status"`
	ScheduledAt  time.Time     `json:"scheduled_at"`
	DelaySeconds int           `json:"delay_seconds"`
	Safety       safety.Status `json:"safety"`
}

// ErrorResponse represents an error in problem+json format.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Options carries rendering settings for scheduled messages.
type Options struct {
	SurveyURL          string
	DefaultCountryCode string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	logger *zap.Logger
	repo   Repository
	ctrl   *safety.Controller
	dedupe *redis.DedupeService // nil if Redis not configured
	opts   Options
}

// NewHandler creates a new API handler. dedupe may be nil.
func NewHandler(logger *zap.Logger, repo Repository, ctrl *safety.Controller, dedupe *redis.DedupeService, opts Options) *Handler {
	return &Handler{
		logger: logger,
		repo:   repo,
		ctrl:   ctrl,
		dedupe: dedupe,
		opts:   opts,
	}
}

// ScheduleMessage handles POST /v1/messages.
//
// The message is not transmitted inline: the handler evaluates the
// sender's safety status, picks a template, and stores a pending row
// with a randomized dispatch time. Hard-blocked senders get 429.
func (h *Handler) ScheduleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.SenderID == "" || req.Recipient == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "sender_id and recipient are required")
		return
	}

	senderID, err := uuid.Parse(req.SenderID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid sender_id", "sender_id must be a valid UUID")
		return
	}

	channel := req.Channel
	if channel == "" {
		channel = db.ChannelWhatsApp
	}
	if channel != db.ChannelWhatsApp && channel != db.ChannelSMS && channel != db.ChannelEmail {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel", "channel must be whatsapp, sms, or email")
		return
	}

	recipient := req.Recipient
	if channel != db.ChannelEmail {
		recipient = dispatch.NormalizePhone(req.Recipient, h.opts.DefaultCountryCode)
		if recipient == "" {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid recipient", "recipient must contain a phone number")
			return
		}
	}

	// Dedupe: explicit Idempotency-Key, or a content key derived from the
	// request so a double submit of the same patient is absorbed.
	dedupeKey := r.Header.Get("Idempotency-Key")
	dedupeTTL := redis.DedupeTTLExact
	if dedupeKey == "" {
		dedupeKey = contentKey(channel, recipient)
		dedupeTTL = redis.DedupeTTL
	}

	if h.dedupe != nil {
		cached, err := h.dedupe.CheckOrReserve(ctx, req.SenderID, dedupeKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				metrics.RecordDedupeHit()
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request for this recipient is in progress")
				return
			}
			h.logger.Warn("dedupe check failed, proceeding", zap.Error(err))
		} else if cached != nil {
			metrics.RecordDedupeHit()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": cached.MessageID})
			return
		}
	}

	cfg, err := h.senderConfig(ctx, senderID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load sender config", "")
		return
	}

	now := time.Now()
	status, err := h.ctrl.EvaluateStatus(ctx, senderID, cfg, now)
	if err != nil {
		h.logger.Error("safety evaluation failed", zap.Error(err), zap.String("sender_id", req.SenderID))
		h.writeError(w, http.StatusServiceUnavailable, "safety_unavailable",
			"Sending paused", "message history unavailable, sending paused")
		return
	}

	// Hard caps reject the request outright. The min-delay warning does
	// not: the randomized dispatch time already spaces consecutive sends.
	if !status.CanSend && status.Level == safety.LevelBlocked {
		metrics.RecordRateLimitRejection(req.SenderID)
		if status.NextEligibleAt != nil {
			retryAfter := int(time.Until(*status.NextEligibleAt).Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
		}
		h.writeError(w, http.StatusTooManyRequests, "send_limit_reached", "Send limit reached", status.Message)
		return
	}

	body := req.Body
	var templateID *uuid.UUID
	if body == "" {
		tmpl, err := h.pickTemplate(ctx, req.TemplateID)
		if err != nil {
			if errors.Is(err, safety.ErrNoTemplates) {
				h.writeError(w, http.StatusUnprocessableEntity, "no_templates",
					"No active templates", "create or activate a message template first")
				return
			}
			h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to select template", "")
			return
		}
		body = dispatch.RenderTemplate(tmpl.Body, req.RecipientName, h.opts.SurveyURL)
		templateID = &tmpl.ID

		if err := h.repo.IncrementTemplateUsage(ctx, tmpl.ID); err != nil {
			h.logger.Warn("failed to increment template usage", zap.Error(err), zap.String("template_id", tmpl.ID.String()))
		}
		metrics.RecordTemplateSelection(tmpl.Name)
	} else {
		body = dispatch.RenderTemplate(body, req.RecipientName, h.opts.SurveyURL)
	}

	delay := safety.ComputeDelay(cfg)
	msg := &db.Message{
		ID:            uuid.New(),
		SenderID:      senderID,
		Channel:       channel,
		Recipient:     recipient,
		RecipientName: req.RecipientName,
		Body:          body,
		TemplateID:    templateID,
		Status:        db.StatusPending,
		ScheduledAt:   now.Add(delay),
		DelaySeconds:  int(delay.Seconds()),
	}

	if err := h.repo.CreateMessage(ctx, msg); err != nil {
		h.logger.Error("failed to create message",
			zap.Error(err),
			zap.String("sender_id", req.SenderID),
			zap.String("channel", channel),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to schedule message", "")
		return
	}

	metrics.RecordMessageScheduled(channel)

	if h.dedupe != nil {
		result := &redis.DedupeResult{
			MessageID:  msg.ID.String(),
			StatusCode: http.StatusAccepted,
		}
		if err := h.dedupe.Store(ctx, req.SenderID, dedupeKey, result, dedupeTTL); err != nil {
			h.logger.Warn("failed to store dedupe result", zap.Error(err))
		}
	}

	resp := ScheduleResponse{
		ID:           msg.ID.String(),
		Status:       msg.Status,
		ScheduledAt:  msg.ScheduledAt,
		DelaySeconds: msg.DelaySeconds,
		Safety:       status,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(resp)
}

// pickTemplate returns the requested template, or the least-used active
// one when no explicit ID was given.
func (h *Handler) pickTemplate(ctx context.Context, templateIDStr string) (*db.Template, error) {
	templates, err := h.repo.ListActiveTemplates(ctx)
	if err != nil {
		return nil, err
	}

	if templateIDStr != "" {
		id, err := uuid.Parse(templateIDStr)
		if err != nil {
			return nil, fmt.Errorf("invalid template_id: %w", err)
		}
		for _, tmpl := range templates {
			if tmpl.ID == id {
				return tmpl, nil
			}
		}
		return nil, safety.ErrNoTemplates
	}

	return safety.SelectTemplate(templates)
}

func (h *Handler) senderConfig(ctx context.Context, senderID uuid.UUID) (safety.Config, error) {
	rec, err := h.repo.GetSenderConfig(ctx, senderID)
	if err != nil {
		return safety.Config{}, err
	}
	return safety.FromRecord(rec), nil
}

// GetMessage handles GET /v1/messages/{id}.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	msgID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid message ID", "ID must be a valid UUID")
		return
	}

	msg, err := h.repo.GetMessage(ctx, msgID)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Message not found", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(msg)
}

// ListMessages handles GET /v1/messages?sender_id=xxx&limit=20&offset=0.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	senderIDStr := r.URL.Query().Get("sender_id")
	if senderIDStr == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing sender_id", "sender_id query parameter is required")
		return
	}

	senderID, err := uuid.Parse(senderIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid sender_id", "sender_id must be a valid UUID")
		return
	}

	limit := 20
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	messages, err := h.repo.ListMessagesBySender(ctx, senderID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err), zap.String("sender_id", senderIDStr))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list messages", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   messages,
		"limit":  limit,
		"offset": offset,
		"count":  len(messages),
	})
}

// CancelMessage handles DELETE /v1/messages/{id}. Only pending messages
// can be canceled; a dispatched message is gone.
func (h *Handler) CancelMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	msgID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid message ID", "ID must be a valid UUID")
		return
	}

	if err := h.repo.CancelMessage(ctx, msgID); err != nil {
		h.writeError(w, http.StatusConflict, "not_cancelable", "Message cannot be canceled", "message was not found or has already been dispatched")
		return
	}

	h.logger.Info("message canceled", zap.String("message_id", idStr))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":     idStr,
		"status": db.StatusCanceled,
	})
}

// GetSafetyStatus handles GET /v1/safety/status?sender_id=xxx.
func (h *Handler) GetSafetyStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	senderID, ok := h.senderIDParam(w, r)
	if !ok {
		return
	}

	cfg, err := h.senderConfig(ctx, senderID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load sender config", "")
		return
	}

	status, err := h.ctrl.EvaluateStatus(ctx, senderID, cfg, time.Now())
	if err != nil {
		// Fail-safe status still describes the situation; report it with
		// the service-level error code.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(status)
}

// GetSafetyConfig handles GET /v1/safety/config?sender_id=xxx.
func (h *Handler) GetSafetyConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	senderID, ok := h.senderIDParam(w, r)
	if !ok {
		return
	}

	cfg, err := h.senderConfig(ctx, senderID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load sender config", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(cfg)
}

// UpdateSafetyConfig handles PUT /v1/safety/config?sender_id=xxx.
// The body is a partial update; omitted fields keep their current value.
func (h *Handler) UpdateSafetyConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	senderID, ok := h.senderIDParam(w, r)
	if !ok {
		return
	}

	var patch safety.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	current, err := h.senderConfig(ctx, senderID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load sender config", "")
		return
	}

	merged, err := current.Merge(patch)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "invalid_config", "Invalid safety config", err.Error())
		return
	}

	if err := h.repo.UpsertSenderConfig(ctx, merged.Record(senderID)); err != nil {
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to save sender config", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(merged)
}

// ListTemplates handles GET /v1/templates.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.repo.ListTemplates(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list templates", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  templates,
		"count": len(templates),
	})
}

// CreateTemplate handles POST /v1/templates.
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Name string `json:"name"`
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Name == "" || req.Body == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "name and body are required")
		return
	}

	tmpl := &db.Template{
		ID:     uuid.New(),
		Name:   req.Name,
		Body:   req.Body,
		Active: true,
	}

	if err := h.repo.CreateTemplate(ctx, tmpl); err != nil {
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create template", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(tmpl)
}

// UpdateTemplate handles PATCH /v1/templates/{id}; toggles the active flag.
func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	tmplID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid template ID", "ID must be a valid UUID")
		return
	}

	var req struct {
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.Active == nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing active field", "active is required")
		return
	}

	if err := h.repo.SetTemplateActive(ctx, tmplID, *req.Active); err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Template not found", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"id":     idStr,
		"active": *req.Active,
	})
}

func (h *Handler) senderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	senderIDStr := r.URL.Query().Get("sender_id")
	if senderIDStr == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing sender_id", "sender_id query parameter is required")
		return uuid.Nil, false
	}

	senderID, err := uuid.Parse(senderIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid sender_id", "sender_id must be a valid UUID")
		return uuid.Nil, false
	}

	return senderID, true
}

func contentKey(channel, recipient string) string {
	sum := sha256.Sum256([]byte(channel + ":" + recipient))
	return hex.EncodeToString(sum[:16])
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
