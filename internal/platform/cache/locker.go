package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockBusy is returned when another holder keeps a key past the retry window.
var ErrLockBusy = errors.New("platform/cache: lock busy")

// Locker takes short-lived redis locks around multi-key critical sections.
type Locker struct {
	client  *redislock.Client
	ttl     time.Duration
	retries int
	backoff time.Duration
}

// NewLocker wraps a redis client. ttl bounds how long a crashed holder blocks others.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Locker{
		client:  redislock.New(client),
		ttl:     ttl,
		retries: 20,
		backoff: 50 * time.Millisecond,
	}
}

// Acquire obtains every key in sorted order and returns a func releasing them all.
// Blank and duplicate keys are ignored. On failure nothing stays held.
func (l *Locker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	ordered := make([]string, 0, len(keys))
	for _, key := range keys {
		if key != "" {
			ordered = append(ordered, key)
		}
	}
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.backoff), l.retries),
	}
	held := make([]*redislock.Lock, 0, len(ordered))
	release := func() {
		// release with a fresh context so a cancelled request still frees its keys
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = held[i].Release(releaseCtx)
		}
	}
	for _, key := range ordered {
		lock, err := l.client.Obtain(ctx, key, l.ttl, opts)
		if errors.Is(err, redislock.ErrNotObtained) {
			release()
			return nil, fmt.Errorf("%w: %s", ErrLockBusy, key)
		}
		if err != nil {
			release()
			return nil, fmt.Errorf("platform/cache: obtain %s: %w", key, err)
		}
		held = append(held, lock)
	}
	return release, nil
}
