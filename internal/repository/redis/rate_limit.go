package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arklim/passwordless-auth/internal/core/port"
)

// INCR and the first-hit PEXPIRE run atomically so a crash between them
// cannot leave a counter without a TTL.
var hitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RateLimitRepository is a fixed-window counter in Redis.
type RateLimitRepository struct {
	client    redis.Cmdable
	keyPrefix string
}

var _ port.RateLimiter = (*RateLimitRepository)(nil)

// NewRateLimitRepository constructs a limiter; keys are stored as <prefix>:<key>.
func NewRateLimitRepository(client redis.Cmdable, keyPrefix string) *RateLimitRepository {
	return &RateLimitRepository{client: client, keyPrefix: strings.TrimSuffix(keyPrefix, ":")}
}

func (r *RateLimitRepository) Hit(ctx context.Context, key string, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, errors.New("rate limit ttl must be positive")
	}

	n, err := hitScript.Run(ctx, r.client, []string{r.key(key)}, ttl.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("redis rate limit hit: %w", err)
	}
	return n, nil
}

func (r *RateLimitRepository) TooManyAttempts(ctx context.Context, key string, maxAttempts int) (bool, error) {
	hits, err := r.client.Get(ctx, r.key(key)).Int()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis rate limit get: %w", err)
	}
	return hits >= maxAttempts, nil
}

func (r *RateLimitRepository) AvailableIn(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.PTTL(ctx, r.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis rate limit pttl: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (r *RateLimitRepository) key(identifier string) string {
	if r.keyPrefix == "" {
		return identifier
	}
	return r.keyPrefix + ":" + identifier
}
