package port

import (
	"context"
	"time"
)

// RateLimiter defines fixed-window counters keyed by identity.
type RateLimiter interface {
	// Hit increments the counter for key, starting a new window of ttl when none is open, and returns the new count.
	Hit(ctx context.Context, key string, ttl time.Duration) (int, error)
	TooManyAttempts(ctx context.Context, key string, maxAttempts int) (bool, error)
	// AvailableIn returns how long until the current window for key closes.
	AvailableIn(ctx context.Context, key string) (time.Duration, error)
}
