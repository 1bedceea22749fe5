package throttle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrLocked is returned while the identifier has exhausted its failed attempts.
	ErrLocked = errors.New("too many failed login attempts")
	// ErrUnavailable wraps Redis failures; callers may choose to fail open.
	ErrUnavailable = errors.New("login throttle unavailable")
)

// LoginThrottle counts failed logins per identifier in a fixed window.
// A nil *LoginThrottle, or one without a client, allows everything.
type LoginThrottle struct {
	redis       *redis.Client
	maxAttempts int
	window      time.Duration
}

// NewLoginThrottle builds a throttle. maxAttempts <= 0 disables it.
func NewLoginThrottle(client *redis.Client, maxAttempts int, window time.Duration) *LoginThrottle {
	return &LoginThrottle{redis: client, maxAttempts: maxAttempts, window: window}
}

func (t *LoginThrottle) enabled() bool {
	return t != nil && t.redis != nil && t.maxAttempts > 0 && t.window > 0
}

// Check returns ErrLocked with the remaining lock time once the limit is reached.
func (t *LoginThrottle) Check(ctx context.Context, identifier string) (time.Duration, error) {
	if !t.enabled() {
		return 0, nil
	}
	key := loginKey(identifier)
	count, err := t.redis.Get(ctx, key).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count < t.maxAttempts {
		return 0, nil
	}
	ttl, err := t.redis.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl < 0 {
		ttl = t.window
	}
	return ttl, ErrLocked
}

// RecordFailure counts one failed attempt; the window starts at the first failure.
func (t *LoginThrottle) RecordFailure(ctx context.Context, identifier string) error {
	if !t.enabled() {
		return nil
	}
	key := loginKey(identifier)
	count, err := t.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := t.redis.Expire(ctx, key, t.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// Reset forgets the failures of identifier after a successful login.
func (t *LoginThrottle) Reset(ctx context.Context, identifier string) error {
	if !t.enabled() {
		return nil
	}
	if err := t.redis.Del(ctx, loginKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func loginKey(identifier string) string {
	return "login:fail:" + strings.ToLower(strings.TrimSpace(identifier))
}
