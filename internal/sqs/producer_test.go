package sqs

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/lmonteiro/warden/internal/db"
)

func TestOutcomeEvent_Marshal(t *testing.T) {
	event := OutcomeEvent{
		MessageID:    uuid.New().String(),
		SenderID:     uuid.New().String(),
		Channel:      db.ChannelWhatsApp,
		Status:       db.StatusSent,
		DispatchedAt: 1234567890,
	}

	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var decoded OutcomeEvent
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if decoded.MessageID != event.MessageID {
		t.Errorf("message id mismatch: got %s, want %s", decoded.MessageID, event.MessageID)
	}
	if decoded.Channel != event.Channel {
		t.Errorf("channel mismatch: got %s, want %s", decoded.Channel, event.Channel)
	}
	if decoded.Error != "" {
		t.Errorf("expected error omitted for a sent message, got %q", decoded.Error)
	}
}

func TestOutcomeEvent_FailedIncludesError(t *testing.T) {
	event := OutcomeEvent{
		MessageID:    uuid.New().String(),
		SenderID:     uuid.New().String(),
		Channel:      db.ChannelWhatsApp,
		Status:       db.StatusFailed,
		Error:        "gateway returned status 502",
		DispatchedAt: 1234567890,
	}

	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var decoded OutcomeEvent
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if decoded.Error != event.Error {
		t.Errorf("error mismatch: got %q, want %q", decoded.Error, event.Error)
	}
}
