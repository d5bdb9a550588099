// Package sqs publishes send-outcome events to an SQS queue so the
// reporting pipeline can track survey delivery without querying the
// gateway database.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/lmonteiro/warden/internal/db"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// OutcomeEvent is the payload published after each dispatch attempt.
type OutcomeEvent struct {
	MessageID   string `json:"message_id"`
	SenderID    string `json:"sender_id"`
	Channel     string `json:"channel"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	DispatchedAt int64 `json:"dispatched_at"`
}

// Producer publishes outcome events to SQS.
type Producer struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg)

	logger.Info("sqs producer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Producer{
		client:   client,
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// PublishOutcome sends the dispatch result for a message. Returns the
// SQS message ID for tracking.
func (p *Producer) PublishOutcome(ctx context.Context, msg *db.Message) (string, error) {
	event := OutcomeEvent{
		MessageID:    msg.ID.String(),
		SenderID:     msg.SenderID.String(),
		Channel:      msg.Channel,
		Status:       msg.Status,
		DispatchedAt: time.Now().Unix(),
	}
	if msg.ErrorMessage != nil {
		event.Error = *msg.ErrorMessage
	}

	body, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal outcome event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}

	result, err := p.client.SendMessage(ctx, input)
	if err != nil {
		p.logger.Error("failed to publish outcome event",
			zap.Error(err),
			zap.String("message_id", msg.ID.String()),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return *result.MessageId, nil
}
