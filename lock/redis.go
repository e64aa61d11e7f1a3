package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// compile-time interface check
var _ Locker = (*Redis)(nil)

// Redis is a distributed locker for several ledger processes sharing one
// store. Locks expire after ttl so a crashed holder cannot wedge an invoice.
type Redis struct {
	client  *redislock.Client
	ttl     time.Duration
	backoff time.Duration
	prefix  string
	logger  *slog.Logger
}

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithKeyPrefix namespaces lock keys (default "escrow:lock:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithRetryBackoff sets the linear retry interval while waiting (default 25ms).
func WithRetryBackoff(d time.Duration) RedisOption {
	return func(r *Redis) { r.backoff = d }
}

// WithRedisLogger sets the logger used for release failures.
func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(r *Redis) { r.logger = l }
}

// NewRedis creates a Redis-backed locker. ttl must exceed the longest
// command, including rail transfer latency.
func NewRedis(rdb redis.UniversalClient, ttl time.Duration, opts ...RedisOption) *Redis {
	r := &Redis{
		client:  redislock.New(rdb),
		ttl:     ttl,
		backoff: 25 * time.Millisecond,
		prefix:  "escrow:lock:",
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Obtain implements Locker. It retries until ctx is done.
func (r *Redis) Obtain(ctx context.Context, key string) (func(), error) {
	l, err := r.client.Obtain(ctx, r.prefix+key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.backoff),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrNotObtained, key, ctx.Err())
		}
		return nil, fmt.Errorf("lock: obtain %s: %w", key, err)
	}

	return func() {
		// Release with a fresh context: the command context may already be done.
		relCtx, cancel := context.WithTimeout(context.Background(), r.ttl)
		defer cancel()
		if err := l.Release(relCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.logger.Warn("lock: release failed", "key", key, "error", err)
		}
	}, nil
}
