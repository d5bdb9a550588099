package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lmonteiro/warden/internal/transport"
)

// ProtectedTransport wraps any transport with a CircuitBreaker. When the
// provider (WhatsApp gateway, SNS, SES) keeps failing, the circuit opens
// and sends fail fast instead of piling up against a dead endpoint.
type ProtectedTransport struct {
	inner   transport.Transport
	breaker *CircuitBreaker
	logger  *zap.Logger
}

func NewProtectedTransport(inner transport.Transport, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedTransport {
	return &ProtectedTransport{
		inner:   inner,
		breaker: breaker,
		logger:  logger,
	}
}

func (p *ProtectedTransport) Name() string { return p.inner.Name() }

// SupportsChannel delegates to the wrapped transport.
func (p *ProtectedTransport) SupportsChannel(channel string) bool {
	return p.inner.SupportsChannel(channel)
}

// Send attempts delivery through the circuit breaker. If the circuit is
// open it returns ErrCircuitOpen immediately.
func (p *ProtectedTransport) Send(ctx context.Context, recipient, text string) (*transport.Result, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("state", p.breaker.GetState().String()),
		)
		return nil, fmt.Errorf("%w: %s transport unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	result, err := p.inner.Send(ctx, recipient, text)
	if err != nil {
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.config.Name),
			zap.Error(err),
		)
		return nil, err
	}

	p.breaker.RecordSuccess()
	return result, nil
}

// Breaker exposes the underlying breaker for stats endpoints.
func (p *ProtectedTransport) Breaker() *CircuitBreaker {
	return p.breaker
}
