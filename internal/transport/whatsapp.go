package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lmonteiro/warden/internal/db"
)

// WhatsAppTransport delivers text messages through an Evolution-style
// WhatsApp gateway: POST {base}/api/message/sendText/{instance} with a
// bearer token.
type WhatsAppTransport struct {
	client   *http.Client
	baseURL  string
	instance string
	token    string
	logger   *zap.Logger
}

type WhatsAppConfig struct {
	BaseURL  string
	Instance string
	Token    string
	Timeout  time.Duration
}

type whatsAppRequest struct {
	Number      string `json:"number"`
	TextMessage struct {
		Text string `json:"text"`
	} `json:"textMessage"`
}

type whatsAppResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	Status string `json:"status"`
}

func NewWhatsAppTransport(cfg WhatsAppConfig, logger *zap.Logger) *WhatsAppTransport {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &WhatsAppTransport{
		client:   &http.Client{Timeout: timeout},
		baseURL:  cfg.BaseURL,
		instance: cfg.Instance,
		token:    cfg.Token,
		logger:   logger,
	}
}

func (t *WhatsAppTransport) Name() string { return "whatsapp" }

func (t *WhatsAppTransport) SupportsChannel(channel string) bool {
	return channel == db.ChannelWhatsApp
}

// Send posts the text to the gateway. The recipient must already be a
// normalized phone number (digits with country code).
func (t *WhatsAppTransport) Send(ctx context.Context, recipient, text string) (*Result, error) {
	var payload whatsAppRequest
	payload.Number = recipient
	payload.TextMessage.Text = text

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode whatsapp payload: %w", err)
	}

	url := fmt.Sprintf("%s/api/message/sendText/%s", t.baseURL, t.instance)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.token)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("whatsapp gateway returned status %d: %s", resp.StatusCode, string(respBytes))
	}

	var parsed whatsAppResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		// Some gateway builds return non-JSON bodies on success; the send
		// still happened, so don't fail the message over it.
		t.logger.Warn("whatsapp gateway returned unparseable body",
			zap.Int("status_code", resp.StatusCode),
		)
	}

	t.logger.Info("whatsapp message delivered",
		zap.String("recipient", recipient),
		zap.String("provider_message_id", parsed.Key.ID),
		zap.Int("status_code", resp.StatusCode),
	)

	return &Result{ProviderMessageID: parsed.Key.ID}, nil
}
