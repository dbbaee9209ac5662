package usecase

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrEmailRequired indicates the login code request carried no usable email.
	ErrEmailRequired = errors.New("email is required")
	// ErrRateLimited matches every RateLimitExceededError via errors.Is.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrResendCooldown indicates a resend was requested before the cooldown elapsed.
	ErrResendCooldown = errors.New("login code resend cooldown active")
	// ErrChallengeInactive indicates the challenge is expired, locked or already consumed.
	ErrChallengeInactive = errors.New("login challenge is not active")
	// ErrChallengeLocked matches ChallengeLockedError via errors.Is.
	ErrChallengeLocked = errors.New("login challenge locked")
	// ErrInvalidCode indicates the submitted login code was not accepted.
	ErrInvalidCode = errors.New("invalid login code")
	// ErrInvalidAccountType indicates the account may not hold bearer tokens.
	ErrInvalidAccountType = errors.New("account cannot hold bearer tokens")
	// ErrInvalidTokenVariant indicates an unknown bearer token variant.
	ErrInvalidTokenVariant = errors.New("invalid token variant")
	// ErrInvalidAllowedIP indicates an allowlist entry is neither an IP nor a CIDR prefix.
	ErrInvalidAllowedIP = errors.New("invalid allowed ip entry")
	// ErrInvalidValidityWindow indicates the requested expiry or validity range is unusable.
	ErrInvalidValidityWindow = errors.New("invalid token validity window")
	// ErrTokenInvalidOrExpired indicates the presented bearer token is unknown, revoked, expired or not yet valid.
	ErrTokenInvalidOrExpired = errors.New("token invalid or expired")
	// ErrIPDenied indicates the request IP is outside the token allowlist.
	ErrIPDenied = errors.New("request ip not allowed for token")
	// ErrMissingRequestIP indicates an IP restricted token was presented without a usable request IP.
	ErrMissingRequestIP = errors.New("request ip required for restricted token")
	// ErrTokenNotRotatable indicates the token is revoked or expired.
	ErrTokenNotRotatable = errors.New("token cannot be rotated")
	// ErrTokenNotFound indicates no bearer token exists with the requested id.
	ErrTokenNotFound = errors.New("token not found")
)

// Rate limit scopes reported in RateLimitExceededError and metrics.
const (
	ScopeLoginCode       = "login-code"
	ScopeLoginCodeResend = "login-code-resend"
	ScopeLoginForm       = "login-form"
)

// RateLimitExceededError reports a rejected request together with the time until the window reopens.
type RateLimitExceededError struct {
	Scope      string
	RetryAfter time.Duration
	Cause      error
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("%s: too many attempts, retry in %d minute(s)", e.Scope, e.RetryAfterMinutes())
}

func (e *RateLimitExceededError) Is(target error) bool {
	return target == ErrRateLimited
}

func (e *RateLimitExceededError) Unwrap() error {
	return e.Cause
}

// RetryAfterMinutes rounds the retry-after duration up to whole minutes, never below one.
func (e *RateLimitExceededError) RetryAfterMinutes() int {
	minutes := int(math.Ceil(e.RetryAfter.Minutes()))
	if minutes < 1 {
		return 1
	}
	return minutes
}

// ChallengeLockedError reports a challenge suspended after too many wrong codes.
type ChallengeLockedError struct {
	LockedUntil time.Time
}

func (e *ChallengeLockedError) Error() string {
	return fmt.Sprintf("login challenge locked until %s", e.LockedUntil.UTC().Format(time.RFC3339))
}

func (e *ChallengeLockedError) Is(target error) bool {
	return target == ErrChallengeLocked
}
