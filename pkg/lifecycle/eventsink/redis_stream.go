package eventsink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
)

// DefaultStream is the stream key used when none is given.
const DefaultStream = "billing:lifecycle:events"

// RedisStream publishes lifecycle events to a Redis stream with XADD.
// Every entry carries the event type, the subscription ID and the JSON event.
type RedisStream struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

// RedisStreamOption configures a RedisStream.
type RedisStreamOption func(*RedisStream)

// WithStream sets the stream key.
func WithStream(key string) RedisStreamOption {
	return func(s *RedisStream) {
		if key != "" {
			s.stream = key
		}
	}
}

// WithMaxLen caps the stream length approximately.
func WithMaxLen(n int64) RedisStreamOption {
	return func(s *RedisStream) {
		s.maxLen = n
	}
}

// NewRedisStream creates a publisher.
func NewRedisStream(client redis.Cmdable, opts ...RedisStreamOption) *RedisStream {
	s := &RedisStream{client: client, stream: DefaultStream}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle is a lifecycle.EventHandler.
func (s *RedisStream) Handle(ctx context.Context, event lifecycle.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventsink: encode event %s: %w", event.ID, err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"event_id":        event.ID,
			"type":            string(event.Type),
			"subscription_id": event.SubscriptionID,
			"payload":         string(payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("eventsink: xadd %s: %w", s.stream, err)
	}
	return nil
}
