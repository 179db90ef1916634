package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a single-instance Redis lock built on SET NX PX.
// Each acquisition stores a random token, so a holder whose TTL expired
// cannot release a lock taken over by another process.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

var _ lifecycle.Locker = (*Locker)(nil)

// NewLocker creates a locker. prefix is prepended to every key.
func NewLocker(client redis.UniversalClient, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// TryAcquire takes key for ttl without waiting.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock %s: %w", fullKey, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Int()
		if err != nil {
			return fmt.Errorf("redis unlock %s: %w", fullKey, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrLockNotHeld, fullKey)
		}
		return nil
	}
	return release, true, nil
}
