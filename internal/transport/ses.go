package transport

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/lmonteiro/warden/internal/db"
)

// SESTransport delivers survey invitations by email via AWS SES.
type SESTransport struct {
	client  *ses.Client
	from    string
	subject string
	logger  *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
	Subject   string
}

func NewSESTransport(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESTransport, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}

	subject := cfg.Subject
	if subject == "" {
		subject = "Pesquisa de satisfação"
	}

	return &SESTransport{
		client:  ses.NewFromConfig(awsCfg),
		from:    cfg.FromEmail,
		subject: subject,
		logger:  logger,
	}, nil
}

func (t *SESTransport) Name() string { return "ses" }

func (t *SESTransport) SupportsChannel(channel string) bool {
	return channel == db.ChannelEmail
}

func (t *SESTransport) Send(ctx context.Context, recipient, text string) (*Result, error) {
	if recipient == "" {
		return nil, fmt.Errorf("email recipient is empty")
	}

	input := &ses.SendEmailInput{
		Source: aws.String(t.from),
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(t.subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(text),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ses send failed: %w", err)
	}

	t.logger.Info("email sent via SES",
		zap.String("to", recipient),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return &Result{ProviderMessageID: aws.ToString(result.MessageId)}, nil
}
