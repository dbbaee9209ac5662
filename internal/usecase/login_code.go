package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/arklim/passwordless-auth/internal/core/domain"
	"github.com/arklim/passwordless-auth/internal/core/port"
	"github.com/arklim/passwordless-auth/internal/infra/config"
	"github.com/arklim/passwordless-auth/internal/infra/logger"
	"github.com/arklim/passwordless-auth/internal/repository"
)

// LoginCodeRequest carries a send or resend request.
type LoginCodeRequest struct {
	Email     string
	IP        string
	UserAgent string
}

// VerifyLoginCodeInput carries a submitted login code.
type VerifyLoginCodeInput struct {
	Email     string
	Code      string
	IP        string
	UserAgent string
}

// LoginCodeService drives the passwordless login flow: send, resend and verify.
type LoginCodeService struct {
	cfg        config.ChallengeSettings
	accounts   port.AccountRepository
	challenges port.ChallengeRepository
	issuer     *ChallengeIssuer
	verifier   *ChallengeVerifier
	equalizer  *TimingEqualizer
	cooldown   port.RateLimiter
	metrics    port.AuthMetrics
	logger     *zap.Logger
}

// NewLoginCodeService constructs a LoginCodeService. cooldown may be nil to disable the resend cooldown.
func NewLoginCodeService(
	cfg config.ChallengeSettings,
	accounts port.AccountRepository,
	challenges port.ChallengeRepository,
	issuer *ChallengeIssuer,
	verifier *ChallengeVerifier,
	equalizer *TimingEqualizer,
	cooldown port.RateLimiter,
	metrics port.AuthMetrics,
	log *zap.Logger,
) *LoginCodeService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoginCodeService{
		cfg:        cfg,
		accounts:   accounts,
		challenges: challenges,
		issuer:     issuer,
		verifier:   verifier,
		equalizer:  equalizer,
		cooldown:   cooldown,
		metrics:    metricsOrNop(metrics),
		logger:     log,
	}
}

// SendCode issues a login code when the email belongs to an active account.
// The call takes the same minimum time whether or not the account exists.
// Unknown and inactive accounts get nil, and their requests still count
// toward the hourly limit exactly like requests for real accounts.
func (s *LoginCodeService) SendCode(ctx context.Context, req LoginCodeRequest) error {
	return s.equalizer.Run(ctx, func(ctx context.Context) error {
		return s.send(ctx, req, false)
	})
}

// ResendCode behaves like SendCode but is refused while the resend cooldown is open.
func (s *LoginCodeService) ResendCode(ctx context.Context, req LoginCodeRequest) error {
	return s.equalizer.Run(ctx, func(ctx context.Context) error {
		return s.send(ctx, req, true)
	})
}

func (s *LoginCodeService) send(ctx context.Context, req LoginCodeRequest, resend bool) error {
	email := NormalizeEmail(req.Email)
	if email == "" {
		return ErrEmailRequired
	}

	if err := s.applyCooldown(ctx, email, resend); err != nil {
		return err
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		logger.With(ctx, s.logger).Debug("login code requested for unknown account",
			zap.String("email", logger.MaskEmail(email)),
		)
		return s.issuer.Charge(ctx, email, req.IP)
	}
	if err != nil {
		return fmt.Errorf("lookup account: %w", err)
	}
	if !account.IsActive {
		return s.issuer.Charge(ctx, email, req.IP)
	}

	_, err = s.issuer.Issue(ctx, IssueChallengeInput{
		Email:     email,
		IP:        req.IP,
		UserAgent: req.UserAgent,
	})
	return err
}

// applyCooldown refuses a resend while the window is open, then restarts the
// window. Sends open the window too, so a resend right after a send waits.
func (s *LoginCodeService) applyCooldown(ctx context.Context, email string, resend bool) error {
	if s.cooldown == nil || s.cfg.ResendCooldown <= 0 {
		return nil
	}

	key := loginCodeResendKey(email)
	if resend {
		active, err := s.cooldown.TooManyAttempts(ctx, key, 1)
		if err != nil {
			return fmt.Errorf("check resend cooldown: %w", err)
		}
		if active {
			retryAfter, err := s.cooldown.AvailableIn(ctx, key)
			if err != nil {
				return fmt.Errorf("resend cooldown window: %w", err)
			}
			s.metrics.IncRateLimited(ScopeLoginCodeResend)
			return &RateLimitExceededError{Scope: ScopeLoginCodeResend, RetryAfter: retryAfter, Cause: ErrResendCooldown}
		}
	}

	if _, err := s.cooldown.Hit(ctx, key, s.cfg.ResendCooldown); err != nil {
		return fmt.Errorf("start resend cooldown: %w", err)
	}
	return nil
}

// VerifyCode checks the code against the latest challenge for the email and
// returns the account on success. Mismatches and inactive challenges both
// yield ErrInvalidCode; a lock yields a ChallengeLockedError.
func (s *LoginCodeService) VerifyCode(ctx context.Context, in VerifyLoginCodeInput) (*domain.Account, error) {
	email := NormalizeEmail(in.Email)
	if email == "" {
		return nil, ErrEmailRequired
	}
	if strings.TrimSpace(in.Code) == "" {
		return nil, ErrInvalidCode
	}

	challenge, err := s.challenges.LatestForEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCode
	}
	if err != nil {
		return nil, fmt.Errorf("lookup login challenge: %w", err)
	}

	result, err := s.verifier.Attempt(ctx, VerifyChallengeInput{
		ChallengeID: challenge.ID,
		Code:        in.Code,
		IP:          in.IP,
		UserAgent:   in.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	switch result.Outcome {
	case OutcomeVerified:
	case OutcomeLocked:
		return nil, challengeLockedError(result)
	default:
		return nil, ErrInvalidCode
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCode
	}
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if !account.IsActive {
		return nil, ErrInvalidCode
	}

	logger.With(ctx, s.logger).Info("login code verified",
		zap.String("account_id", account.ID),
		zap.String("challenge_id", challenge.ID),
	)
	return account, nil
}
