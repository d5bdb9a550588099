package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/lmonteiro/warden/internal/db"
)

type stubTransport struct {
	name    string
	channel string
	sent    int
	err     error
}

func (s *stubTransport) Name() string                        { return s.name }
func (s *stubTransport) SupportsChannel(channel string) bool { return channel == s.channel }
func (s *stubTransport) Send(ctx context.Context, recipient, text string) (*Result, error) {
	s.sent++
	if s.err != nil {
		return nil, s.err
	}
	return &Result{ProviderMessageID: "stub-1"}, nil
}

func TestRouterRouting(t *testing.T) {
	logger := zap.NewNop()
	wa := &stubTransport{name: "whatsapp", channel: db.ChannelWhatsApp}
	sms := &stubTransport{name: "sns", channel: db.ChannelSMS}
	router := NewRouter(logger, wa, sms)

	tests := []struct {
		name    string
		channel string
		want    bool
	}{
		{"whatsapp_supported", db.ChannelWhatsApp, true},
		{"sms_supported", db.ChannelSMS, true},
		{"email_not_supported", db.ChannelEmail, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := router.SupportsChannel(tt.channel); got != tt.want {
				t.Errorf("SupportsChannel(%s) = %v, want %v", tt.channel, got, tt.want)
			}
		})
	}

	if _, err := router.Send(context.Background(), db.ChannelWhatsApp, "5511999990000", "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wa.sent != 1 || sms.sent != 0 {
		t.Errorf("expected whatsapp transport to handle the send, got wa=%d sms=%d", wa.sent, sms.sent)
	}

	if _, err := router.Send(context.Background(), db.ChannelEmail, "a@b.com", "hi"); err == nil {
		t.Fatal("expected error for unrouted channel")
	}
}

func TestRouterPropagatesTransportError(t *testing.T) {
	sendErr := errors.New("gateway down")
	wa := &stubTransport{name: "whatsapp", channel: db.ChannelWhatsApp, err: sendErr}
	router := NewRouter(zap.NewNop(), wa)

	_, err := router.Send(context.Background(), db.ChannelWhatsApp, "5511999990000", "hi")
	if !errors.Is(err, sendErr) {
		t.Fatalf("expected transport error propagated, got %v", err)
	}
}

func TestWhatsAppTransportSend(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody whatsAppRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"key":{"id":"WAMID-123"},"status":"PENDING"}`))
	}))
	defer server.Close()

	tr := NewWhatsAppTransport(WhatsAppConfig{
		BaseURL:  server.URL,
		Instance: "hospital-main",
		Token:    "secret-token",
	}, zap.NewNop())

	result, err := tr.Send(context.Background(), "5511999990000", "Hi Ana, please answer our survey")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/api/message/sendText/hospital-main" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if gotBody.Number != "5511999990000" {
		t.Errorf("unexpected number %q", gotBody.Number)
	}
	if !strings.Contains(gotBody.TextMessage.Text, "survey") {
		t.Errorf("unexpected text %q", gotBody.TextMessage.Text)
	}
	if result.ProviderMessageID != "WAMID-123" {
		t.Errorf("unexpected provider message id %q", result.ProviderMessageID)
	}
}

func TestWhatsAppTransportGatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"instance disconnected"}`, http.StatusBadGateway)
	}))
	defer server.Close()

	tr := NewWhatsAppTransport(WhatsAppConfig{
		BaseURL:  server.URL,
		Instance: "hospital-main",
		Token:    "secret-token",
	}, zap.NewNop())

	_, err := tr.Send(context.Background(), "5511999990000", "hi")
	if err == nil {
		t.Fatal("expected error on non-2xx gateway response")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("expected status code in error, got %v", err)
	}
}

func TestWhatsAppTransportChannels(t *testing.T) {
	tr := NewWhatsAppTransport(WhatsAppConfig{BaseURL: "http://localhost"}, zap.NewNop())

	tests := []struct {
		channel string
		want    bool
	}{
		{db.ChannelWhatsApp, true},
		{db.ChannelSMS, false},
		{db.ChannelEmail, false},
	}

	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			if got := tr.SupportsChannel(tt.channel); got != tt.want {
				t.Errorf("SupportsChannel(%s) = %v, want %v", tt.channel, got, tt.want)
			}
		})
	}
}
