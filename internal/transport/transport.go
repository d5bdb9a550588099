// Package transport delivers rendered message text to the outside world.
// Each transport owns one provider integration; the Router picks the
// transport for a message's channel.
package transport

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Result carries what the provider told us about an accepted message.
type Result struct {
	ProviderMessageID string
}

// Transport is the unified interface for all delivery channels.
// Implementations: WhatsApp gateway (HTTP), SMS (SNS), Email (SES).
type Transport interface {
	Name() string
	SupportsChannel(channel string) bool
	Send(ctx context.Context, recipient, text string) (*Result, error)
}

// Router routes a message to the first transport that supports its channel.
type Router struct {
	transports []Transport
	logger     *zap.Logger
}

func NewRouter(logger *zap.Logger, transports ...Transport) *Router {
	return &Router{
		transports: transports,
		logger:     logger,
	}
}

// Send dispatches via the transport registered for the channel.
func (r *Router) Send(ctx context.Context, channel, recipient, text string) (*Result, error) {
	for _, tr := range r.transports {
		if tr.SupportsChannel(channel) {
			r.logger.Debug("routing message to transport",
				zap.String("channel", channel),
				zap.String("transport", tr.Name()),
			)
			return tr.Send(ctx, recipient, text)
		}
	}
	return nil, fmt.Errorf("no transport found for channel: %s", channel)
}

// SupportsChannel reports whether any registered transport handles the channel.
func (r *Router) SupportsChannel(channel string) bool {
	for _, tr := range r.transports {
		if tr.SupportsChannel(channel) {
			return true
		}
	}
	return false
}
