package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/arklim/passwordless-auth/internal/core/port"
	"github.com/arklim/passwordless-auth/internal/infra/config"
	"github.com/arklim/passwordless-auth/internal/infra/logger"
	"github.com/arklim/passwordless-auth/internal/repository"
)

// VerificationOutcome classifies a single verification attempt. OutcomeLocked
// covers both the attempt that applied a lock and attempts against a locked challenge.
type VerificationOutcome string

const (
	OutcomeVerified VerificationOutcome = "verified"
	OutcomeMismatch VerificationOutcome = "mismatch"
	OutcomeLocked   VerificationOutcome = "locked"
	OutcomeInactive VerificationOutcome = "inactive"
)

// VerifyChallengeInput carries a submitted code for a specific challenge.
type VerifyChallengeInput struct {
	ChallengeID string
	Code        string
	IP          string
	UserAgent   string
}

// VerificationResult reports the outcome and the challenge state after the attempt.
type VerificationResult struct {
	Outcome     VerificationOutcome
	Email       string
	Attempts    int
	LockedUntil *time.Time
}

// ChallengeVerifier checks submitted codes and applies the lockout policy.
type ChallengeVerifier struct {
	cfg     config.ChallengeSettings
	tx      port.Transactor
	hasher  port.SecretHasher
	metrics port.AuthMetrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewChallengeVerifier constructs a ChallengeVerifier.
func NewChallengeVerifier(
	cfg config.ChallengeSettings,
	tx port.Transactor,
	hasher port.SecretHasher,
	metrics port.AuthMetrics,
	log *zap.Logger,
) *ChallengeVerifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChallengeVerifier{
		cfg:     cfg,
		tx:      tx,
		hasher:  hasher,
		metrics: metricsOrNop(metrics),
		logger:  log,
		now:     defaultClock,
	}
}

// WithClock overrides the verifier clock for deterministic tests.
func (v *ChallengeVerifier) WithClock(clock func() time.Time) {
	if clock != nil {
		v.now = clock
	}
}

// Verify reports whether the code redeemed the challenge.
func (v *ChallengeVerifier) Verify(ctx context.Context, in VerifyChallengeInput) (bool, error) {
	result, err := v.Attempt(ctx, in)
	if err != nil {
		return false, err
	}
	return result.Outcome == OutcomeVerified, nil
}

// Attempt evaluates one submission while holding the challenge row lock, so
// concurrent wrong codes are each counted. Inactive challenges are never mutated.
func (v *ChallengeVerifier) Attempt(ctx context.Context, in VerifyChallengeInput) (*VerificationResult, error) {
	ctx, span := tracer.Start(ctx, "ChallengeVerifier.Attempt")
	defer span.End()
	span.SetAttributes(attribute.String("challenge.id", in.ChallengeID))

	var result VerificationResult

	err := v.tx.WithinTx(ctx, func(ctx context.Context, tx port.TxScope) error {
		challenge, err := tx.Challenges().GetByIDForUpdate(ctx, in.ChallengeID)
		if errors.Is(err, repository.ErrNotFound) {
			result = VerificationResult{Outcome: OutcomeInactive}
			return nil
		}
		if err != nil {
			return fmt.Errorf("load login challenge: %w", err)
		}

		now := v.now()
		result = VerificationResult{
			Email:       challenge.Email,
			Attempts:    challenge.Attempts,
			LockedUntil: challenge.LockedUntil,
		}

		if !challenge.IsActive(now) {
			result.Outcome = OutcomeInactive
			if challenge.IsLocked(now) {
				result.Outcome = OutcomeLocked
			}
			return nil
		}

		matched, err := v.hasher.Verify(strings.TrimSpace(in.Code), challenge.CodeHash)
		if err != nil {
			return fmt.Errorf("compare login code: %w", err)
		}

		if !matched {
			locked := challenge.RecordFailedAttempt(now, v.cfg.MaxAttempts, v.cfg.LockDuration)
			if err := tx.Challenges().UpdateVerificationState(ctx, *challenge); err != nil {
				return fmt.Errorf("record failed attempt: %w", err)
			}
			result.Attempts = challenge.Attempts
			result.LockedUntil = challenge.LockedUntil
			result.Outcome = OutcomeMismatch
			if locked {
				result.Outcome = OutcomeLocked
				logger.With(ctx, v.logger).Warn("login challenge locked",
					zap.String("challenge_id", challenge.ID),
					zap.String("email", logger.MaskEmail(challenge.Email)),
					zap.String("ip", logger.MaskIP(in.IP)),
					zap.Int("attempts", challenge.Attempts),
					zap.Time("locked_until", *challenge.LockedUntil),
				)
			}
			return nil
		}

		challenge.Consume(now, optionalString(in.IP), optionalUserAgent(in.UserAgent))
		if err := tx.Challenges().UpdateVerificationState(ctx, *challenge); err != nil {
			return fmt.Errorf("consume login challenge: %w", err)
		}
		result.Outcome = OutcomeVerified
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("verification.outcome", string(result.Outcome)))
	v.metrics.IncVerification(string(result.Outcome))
	return &result, nil
}

// challengeLockedError builds the error surfaced for a locked outcome.
func challengeLockedError(result *VerificationResult) error {
	if result == nil || result.LockedUntil == nil {
		return ErrChallengeLocked
	}
	return &ChallengeLockedError{LockedUntil: *result.LockedUntil}
}
