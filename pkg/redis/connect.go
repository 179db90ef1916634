package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/billingkit/pkg/resilience"
)

// Connect parses cfg.ConnectionURL and pings the server, retrying with
// exponential backoff within cfg.ConnectTimeout.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	opts, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisConnString, err)
	}

	retry := resilience.RetryConfig{
		MaxRetries:        max(cfg.ConnectAttempts-1, 0),
		InitialDelay:      cfg.ConnectBackoff,
		BackoffMultiplier: 2,
		JitterFactor:      0.1,
	}

	var client *redis.Client
	err = resilience.Do(ctx, retry, func(ctx context.Context) error {
		c := redis.NewClient(opts)
		if err := c.Ping(ctx).Err(); err != nil {
			_ = c.Close()
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, errors.Join(ErrRedisNotReady, err)
	}
	return client, nil
}
