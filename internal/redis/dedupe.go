package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DedupeTTL covers auto-generated (content-based) keys. Long enough
	// to absorb double-clicks and network retries, short enough not to
	// block an intentional re-invite later.
	DedupeTTL = 5 * time.Minute

	// DedupeTTLExact covers client-provided Idempotency-Key headers,
	// where the client explicitly controls uniqueness.
	DedupeTTLExact = 24 * time.Hour

	// processingTTL is the lock duration while a request is in flight.
	processingTTL = 5 * time.Minute

	processingMarker = "processing"
)

// ErrDuplicateRequest indicates a dedupe key collision.
var ErrDuplicateRequest = errors.New("duplicate request: dedupe key already exists")

// DedupeResult stores the cached response for a deduplicated schedule
// request: the message that the first request created.
type DedupeResult struct {
	MessageID  string `json:"message_id"`
	StatusCode int    `json:"status_code"`
	CreatedAt  int64  `json:"created_at"`
}

// DedupeService prevents the same survey invitation from being scheduled
// twice, e.g. by two staff browser tabs submitting the same patient.
type DedupeService struct {
	client *Client
	logger *zap.Logger
}

func NewDedupeService(client *Client, logger *zap.Logger) *DedupeService {
	return &DedupeService{
		client: client,
		logger: logger,
	}
}

func (s *DedupeService) buildKey(senderID, dedupeKey string) string {
	return fmt.Sprintf("dedupe:%s:%s", senderID, dedupeKey)
}

// Check retrieves a cached result for a dedupe key. Returns (nil, nil)
// if the key doesn't exist, (result, nil) if found, or
// ErrDuplicateRequest if the key is currently being processed.
func (s *DedupeService) Check(ctx context.Context, senderID, dedupeKey string) (*DedupeResult, error) {
	key := s.buildKey(senderID, dedupeKey)

	val, err := s.client.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	if val == processingMarker {
		return nil, ErrDuplicateRequest
	}

	var result DedupeResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		s.logger.Error("failed to unmarshal dedupe result", zap.Error(err))
		return nil, fmt.Errorf("invalid cached result: %w", err)
	}

	s.logger.Debug("dedupe cache hit",
		zap.String("sender_id", senderID),
		zap.String("message_id", result.MessageID),
	)

	return &result, nil
}

// Store saves the result of a successfully scheduled request.
func (s *DedupeService) Store(ctx context.Context, senderID, dedupeKey string, result *DedupeResult, ttl time.Duration) error {
	key := s.buildKey(senderID, dedupeKey)

	if result.CreatedAt == 0 {
		result.CreatedAt = time.Now().Unix()
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := s.client.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

// Reserve acquires a dedupe lock using SET NX. Returns true if the lock
// was acquired, false if the key already exists.
func (s *DedupeService) Reserve(ctx context.Context, senderID, dedupeKey string) (bool, error) {
	key := s.buildKey(senderID, dedupeKey)

	set, err := s.client.rdb.SetNX(ctx, key, processingMarker, processingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	return set, nil
}

// CheckOrReserve atomically checks for an existing result or reserves
// the key. Returns the cached result if found, nil if reserved.
func (s *DedupeService) CheckOrReserve(ctx context.Context, senderID, dedupeKey string) (*DedupeResult, error) {
	result, err := s.Check(ctx, senderID, dedupeKey)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	reserved, err := s.Reserve(ctx, senderID, dedupeKey)
	if err != nil {
		return nil, err
	}

	if !reserved {
		return nil, ErrDuplicateRequest
	}

	return nil, nil
}
