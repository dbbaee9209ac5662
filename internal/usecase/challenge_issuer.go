package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	uuid "github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/arklim/passwordless-auth/internal/core/domain"
	"github.com/arklim/passwordless-auth/internal/core/port"
	"github.com/arklim/passwordless-auth/internal/infra/config"
	"github.com/arklim/passwordless-auth/internal/infra/logger"
)

// IssueChallengeInput carries a login code request.
type IssueChallengeInput struct {
	Email     string
	IP        string
	UserAgent string
}

// IssuedChallenge describes a persisted challenge. The plaintext code is never returned.
type IssuedChallenge struct {
	ChallengeID string
	Email       string
	ExpiresAt   time.Time
}

// ChallengeIssuer creates login challenges under the per-email hourly limit.
type ChallengeIssuer struct {
	cfg     config.ChallengeSettings
	tx      port.Transactor
	codes   port.CodeGenerator
	hasher  port.SecretHasher
	cipher  port.CodeCipher
	mail    port.MailQueue
	metrics port.AuthMetrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewChallengeIssuer constructs a ChallengeIssuer.
func NewChallengeIssuer(
	cfg config.ChallengeSettings,
	tx port.Transactor,
	codes port.CodeGenerator,
	hasher port.SecretHasher,
	cipher port.CodeCipher,
	mail port.MailQueue,
	metrics port.AuthMetrics,
	log *zap.Logger,
) *ChallengeIssuer {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChallengeIssuer{
		cfg:     cfg,
		tx:      tx,
		codes:   codes,
		hasher:  hasher,
		cipher:  cipher,
		mail:    mail,
		metrics: metricsOrNop(metrics),
		logger:  log,
		now:     defaultClock,
	}
}

// WithClock overrides the issuer clock for deterministic tests.
func (i *ChallengeIssuer) WithClock(clock func() time.Time) {
	if clock != nil {
		i.now = clock
	}
}

// Issue checks the hourly limit, persists a new challenge, counts it and
// schedules the code mail. All writes share one transaction; the mail is
// handed to the queue only after commit, and email_sent_at is stamped once
// the queue accepts it.
func (i *ChallengeIssuer) Issue(ctx context.Context, in IssueChallengeInput) (*IssuedChallenge, error) {
	ctx, span := tracer.Start(ctx, "ChallengeIssuer.Issue")
	defer span.End()

	email := NormalizeEmail(in.Email)
	if email == "" {
		return nil, ErrEmailRequired
	}

	key := loginCodeKey(email)
	var issued *IssuedChallenge

	err := i.tx.WithinTx(ctx, func(ctx context.Context, tx port.TxScope) error {
		counters := tx.Counters()
		if err := i.checkLimit(ctx, counters, key); err != nil {
			return err
		}

		code, err := i.codes.Generate(i.cfg.CodeDigits)
		if err != nil {
			return fmt.Errorf("generate login code: %w", err)
		}
		codeHash, err := i.hasher.Hash(code)
		if err != nil {
			return fmt.Errorf("hash login code: %w", err)
		}
		encrypted, err := i.cipher.Encrypt(code)
		if err != nil {
			return fmt.Errorf("encrypt login code: %w", err)
		}

		now := i.now()
		challenge := domain.LoginChallenge{
			ID:                 uuid.NewString(),
			Email:              email,
			CodeHash:           codeHash,
			ExpiresAt:          now.Add(i.cfg.TTL),
			RequestedIP:        optionalString(in.IP),
			RequestedUserAgent: optionalUserAgent(in.UserAgent),
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := tx.Challenges().Create(ctx, challenge); err != nil {
			return fmt.Errorf("create login challenge: %w", err)
		}

		if _, err := counters.Hit(ctx, key, loginCodeWindow); err != nil {
			return fmt.Errorf("increment login code rate limit: %w", err)
		}

		message := domain.LoginCodeMail{
			MessageID:     uuid.NewString(),
			ChallengeID:   challenge.ID,
			Email:         email,
			EncryptedCode: encrypted,
			ExpiresAt:     challenge.ExpiresAt,
			RequestedAt:   now,
		}
		tx.AfterCommit(func(ctx context.Context) {
			if i.enqueue(ctx, message) {
				i.markSent(ctx, message)
			}
		})

		issued = &IssuedChallenge{
			ChallengeID: challenge.ID,
			Email:       email,
			ExpiresAt:   challenge.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		if i.reportLimited(ctx, err, email, in.IP) {
			return nil, err
		}
		recordSpanError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("challenge.id", issued.ChallengeID))
	i.metrics.IncChallengeIssued()
	return issued, nil
}

// Charge counts a request against the hourly limit of email without creating
// a challenge. Requests for addresses without an active account go through
// here so they hit the limit exactly when a real account would.
func (i *ChallengeIssuer) Charge(ctx context.Context, email, ip string) error {
	ctx, span := tracer.Start(ctx, "ChallengeIssuer.Charge")
	defer span.End()

	email = NormalizeEmail(email)
	if email == "" {
		return ErrEmailRequired
	}

	key := loginCodeKey(email)
	err := i.tx.WithinTx(ctx, func(ctx context.Context, tx port.TxScope) error {
		counters := tx.Counters()
		if err := i.checkLimit(ctx, counters, key); err != nil {
			return err
		}
		if _, err := counters.Hit(ctx, key, loginCodeWindow); err != nil {
			return fmt.Errorf("increment login code rate limit: %w", err)
		}
		return nil
	})
	if err != nil && !i.reportLimited(ctx, err, email, ip) {
		recordSpanError(span, err)
	}
	return err
}

func (i *ChallengeIssuer) checkLimit(ctx context.Context, counters port.RateLimiter, key string) error {
	limited, err := counters.TooManyAttempts(ctx, key, i.cfg.RateLimitPerHour)
	if err != nil {
		return fmt.Errorf("check login code rate limit: %w", err)
	}
	if !limited {
		return nil
	}
	retryAfter, err := counters.AvailableIn(ctx, key)
	if err != nil {
		return fmt.Errorf("login code rate limit window: %w", err)
	}
	return &RateLimitExceededError{Scope: ScopeLoginCode, RetryAfter: retryAfter}
}

// reportLimited records err when it is a rate limit rejection and reports whether it was.
func (i *ChallengeIssuer) reportLimited(ctx context.Context, err error, email, ip string) bool {
	var limitErr *RateLimitExceededError
	if !errors.As(err, &limitErr) {
		return false
	}
	i.metrics.IncRateLimited(limitErr.Scope)
	logger.With(ctx, i.logger).Warn("login code rate limit exceeded",
		zap.String("email", logger.MaskEmail(email)),
		zap.String("ip", logger.MaskIP(ip)),
		zap.Duration("retry_after", limitErr.RetryAfter),
	)
	return true
}

func (i *ChallengeIssuer) enqueue(ctx context.Context, message domain.LoginCodeMail) bool {
	if i.mail == nil {
		return false
	}
	if err := i.mail.EnqueueLoginCode(ctx, message); err != nil {
		i.metrics.IncMailEnqueueFailure(string(domain.MailKindLoginCode))
		logger.With(ctx, i.logger).Error("enqueue login code mail",
			zap.String("challenge_id", message.ChallengeID),
			zap.String("email", logger.MaskEmail(message.Email)),
			zap.Error(err),
		)
		return false
	}
	return true
}

// markSent stamps email_sent_at once the queue has accepted the mail.
func (i *ChallengeIssuer) markSent(ctx context.Context, message domain.LoginCodeMail) {
	err := i.tx.WithinTx(ctx, func(ctx context.Context, tx port.TxScope) error {
		return tx.Challenges().MarkEmailSent(ctx, message.ChallengeID, i.now())
	})
	if err != nil {
		logger.With(ctx, i.logger).Error("mark login code sent",
			zap.String("challenge_id", message.ChallengeID),
			zap.Error(err),
		)
	}
}
