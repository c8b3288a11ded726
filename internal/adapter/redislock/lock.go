package redislock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every lock key.
const KeyPrefix = "fire-perimeter:lock:"

// releaseScript deletes the key only if it still holds this owner's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived exclusive locks backed by SET NX PX.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewLocker creates a locker. Locks expire after ttl if never released.
func NewLocker(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Locker {
	return &Locker{client: client, ttl: ttl, logger: logger}
}

// Acquire tries once to take the lock for key. ok is false when another owner holds it.
// The returned release func is safe to call after the lock has expired.
func (l *Locker) Acquire(ctx context.Context, key string) (release func(), ok bool, err error) {
	token := uuid.NewString()
	full := KeyPrefix + key

	ok, err = l.client.SetNX(ctx, full, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func() {
		// The caller's context may already be cancelled; release on a short detached deadline.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{full}, token).Err(); err != nil {
			l.logger.Warn("release lock failed", "key", key, "error", err)
		}
	}
	return release, true, nil
}

// Ping checks the connection.
func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (l *Locker) Close() error {
	return l.client.Close()
}
