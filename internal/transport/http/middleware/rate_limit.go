package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/passwordless-auth/internal/core/domain"
	"github.com/arklim/passwordless-auth/internal/core/port"
	"github.com/arklim/passwordless-auth/internal/infra/logger"
)

const (
	rateLimitProblemType  = "https://auth.example.com/errors/rate-limit-exceeded"
	rateLimitProblemTitle = "Rate Limit Exceeded"
)

// IdentifierFunc extracts the identifier used to scope rate limits (e.g., client IP).
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule configures a fixed-window limit for a particular identifier.
type RateLimitRule struct {
	Name       string
	Limit      int
	Window     time.Duration
	Identifier IdentifierFunc
}

// RateLimiter enforces RateLimitRules against shared fixed-window counters.
type RateLimiter struct {
	store  port.RateLimiter
	policy domain.DegradationPolicy
	logger *zap.Logger
	now    func() time.Time
}

type ruleResult struct {
	allowed    bool
	limit      int
	remaining  int
	reset      time.Time
	retryAfter time.Duration
}

// ProblemDetails represents an RFC 9457 compatible error payload for rate limits.
type ProblemDetails struct {
	Type              string         `json:"type"`
	Title             string         `json:"title"`
	Status            int            `json:"status"`
	Detail            string         `json:"detail"`
	Instance          string         `json:"instance"`
	RetryAfter        int            `json:"retry_after"`
	RetryAfterMinutes int            `json:"retry_after_minutes,omitempty"`
	TraceID           string         `json:"trace_id,omitempty"`
	Extensions        map[string]any `json:"extensions,omitempty"`
}

// NewRateLimiter builds a reusable rate limiter middleware helper.
func NewRateLimiter(store port.RateLimiter, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}

	return &RateLimiter{
		store:  store,
		policy: domain.NewDegradationPolicy(domain.DegradationPolicyModeLenient),
		logger: log,
		now:    time.Now,
	}
}

// WithDegradationPolicy decides what happens to requests when the counter store fails.
func (rl *RateLimiter) WithDegradationPolicy(policy domain.DegradationPolicy) *RateLimiter {
	rl.policy = policy
	return rl
}

// WithClock allows injection of a custom clock (primarily for testing).
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// ClientIPIdentifier builds an IdentifierFunc using the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		if ip == "" {
			return "", false
		}
		return ip, true
	}
}

// RateLimit returns a Gin middleware enforcing the provided rules.
// Store failures let the request through unless the degradation policy is strict.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	filtered := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Identifier == nil || rule.Limit <= 0 || rule.Window <= 0 {
			continue
		}
		if rule.Name == "" {
			rule.Name = "default"
		}
		filtered = append(filtered, rule)
	}

	return func(c *gin.Context) {
		if len(filtered) == 0 || rl.store == nil {
			c.Next()
			return
		}

		now := rl.now()
		var best *ruleResult

		for _, rule := range filtered {
			identifier, ok := rule.Identifier(c)
			if !ok || identifier == "" {
				continue
			}

			res, err := rl.evaluateRule(c, rule, rule.Name+":"+identifier, now)
			if err != nil {
				logger.With(c.Request.Context(), rl.logger).Warn("rate limit check failed",
					zap.String("rule", rule.Name),
					zap.String("identifier", logger.MaskIP(identifier)),
					zap.Error(err),
				)
				if !rl.policy.AllowsFallback(domain.DegradationReasonFormLimiterUnavailable) {
					c.AbortWithStatusJSON(http.StatusServiceUnavailable, newErrorResponse(c, "rate limiter unavailable"))
					return
				}
				continue
			}

			if !res.allowed {
				rl.applyHeaders(c, res)
				rl.respondRateLimited(c, res)
				return
			}

			if best == nil || res.remaining < best.remaining ||
				(res.remaining == best.remaining && res.reset.Before(best.reset)) {
				snapshot := res
				best = &snapshot
			}
		}

		if best != nil {
			rl.applyHeaders(c, *best)
		}

		c.Next()
	}
}

func (rl *RateLimiter) evaluateRule(c *gin.Context, rule RateLimitRule, key string, now time.Time) (ruleResult, error) {
	ctx := c.Request.Context()
	result := ruleResult{allowed: true, limit: rule.Limit}

	limited, err := rl.store.TooManyAttempts(ctx, key, rule.Limit)
	if err != nil {
		return ruleResult{}, err
	}

	if limited {
		wait, err := rl.store.AvailableIn(ctx, key)
		if err != nil {
			return ruleResult{}, err
		}
		result.allowed = false
		result.retryAfter = max(wait, 0)
		result.reset = now.Add(result.retryAfter)
		return result, nil
	}

	count, err := rl.store.Hit(ctx, key, rule.Window)
	if err != nil {
		return ruleResult{}, err
	}

	wait, err := rl.store.AvailableIn(ctx, key)
	if err != nil {
		return ruleResult{}, err
	}

	result.remaining = max(rule.Limit-count, 0)
	result.retryAfter = max(wait, 0)
	result.reset = now.Add(result.retryAfter)
	return result, nil
}

func (rl *RateLimiter) applyHeaders(c *gin.Context, res ruleResult) {
	headers := c.Writer.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(res.limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(res.remaining))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(res.reset.Unix(), 10))

	if !res.allowed {
		headers.Set("Retry-After", strconv.Itoa(retrySeconds(res.retryAfter)))
	}
}

func (rl *RateLimiter) respondRateLimited(c *gin.Context, res ruleResult) {
	seconds := retrySeconds(res.retryAfter)
	c.AbortWithStatusJSON(http.StatusTooManyRequests, NewRateLimitProblem(c, res.retryAfter,
		fmt.Sprintf("Too many requests. Try again in %d seconds.", seconds)))
}

// NewRateLimitProblem builds the 429 payload shared by the middleware and the login code handlers.
func NewRateLimitProblem(c *gin.Context, retryAfter time.Duration, detail string) ProblemDetails {
	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	seconds := retrySeconds(retryAfter)
	return ProblemDetails{
		Type:              rateLimitProblemType,
		Title:             rateLimitProblemTitle,
		Status:            http.StatusTooManyRequests,
		Detail:            detail,
		Instance:          instance,
		RetryAfter:        seconds,
		RetryAfterMinutes: max(int(math.Ceil(float64(seconds)/60)), 1),
		TraceID:           GetTraceID(c),
	}
}

func retrySeconds(d time.Duration) int {
	return max(int(math.Ceil(d.Seconds())), 0)
}
