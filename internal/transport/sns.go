package transport

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/lmonteiro/warden/internal/db"
)

// SNSTransport sends SMS messages via AWS SNS. Used as the survey
// fallback channel for patients without WhatsApp.
type SNSTransport struct {
	client *sns.Client
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

func NewSNSTransport(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSTransport, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SNSTransport{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

func (t *SNSTransport) Name() string { return "sns" }

func (t *SNSTransport) SupportsChannel(channel string) bool {
	return channel == db.ChannelSMS
}

func (t *SNSTransport) Send(ctx context.Context, recipient, text string) (*Result, error) {
	if recipient == "" {
		return nil, fmt.Errorf("sms recipient is empty")
	}

	// SNS expects E.164; the dispatcher normalizes to bare digits.
	input := &sns.PublishInput{
		PhoneNumber: aws.String("+" + recipient),
		Message:     aws.String(text),
	}

	result, err := t.client.Publish(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("sns publish failed: %w", err)
	}

	t.logger.Info("SMS sent via SNS",
		zap.String("phone_number", recipient),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return &Result{ProviderMessageID: aws.ToString(result.MessageId)}, nil
}
