package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/passwordless-auth/internal/core/domain"
	"github.com/arklim/passwordless-auth/internal/core/port"
	"github.com/arklim/passwordless-auth/internal/infra/config"
	"github.com/arklim/passwordless-auth/internal/infra/logger"
	"github.com/arklim/passwordless-auth/internal/infra/security"
	"github.com/arklim/passwordless-auth/internal/repository"
)

// Token authentication failure reasons reported to metrics.
const (
	authFailureUnknown   = "unknown"
	authFailureInactive  = "inactive"
	authFailureMissingIP = "missing_ip"
	authFailureIPDenied  = "ip_denied"
)

// TokenAuthenticator resolves a presented bearer token for the request layer.
type TokenAuthenticator struct {
	cfg     config.TokenSettings
	tokens  port.TokenRepository
	metrics port.AuthMetrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewTokenAuthenticator constructs a TokenAuthenticator.
func NewTokenAuthenticator(cfg config.TokenSettings, tokens port.TokenRepository, metrics port.AuthMetrics, log *zap.Logger) *TokenAuthenticator {
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenAuthenticator{
		cfg:     cfg,
		tokens:  tokens,
		metrics: metricsOrNop(metrics),
		logger:  log,
		now:     defaultClock,
	}
}

// WithClock overrides the authenticator clock for deterministic tests.
func (a *TokenAuthenticator) WithClock(clock func() time.Time) {
	if clock != nil {
		a.now = clock
	}
}

// Authenticate looks the token up by hash and enforces status and the IP
// allowlist. Usage is recorded best-effort; a failed update does not fail the call.
func (a *TokenAuthenticator) Authenticate(ctx context.Context, plaintext, ip string) (*domain.BearerToken, error) {
	ctx, span := tracer.Start(ctx, "TokenAuthenticator.Authenticate")
	defer span.End()

	plaintext = strings.TrimSpace(plaintext)
	if plaintext == "" {
		a.deny(ctx, authFailureUnknown, "", ip)
		return nil, ErrTokenInvalidOrExpired
	}

	token, err := a.tokens.GetByHash(ctx, security.HashToken(plaintext))
	if errors.Is(err, repository.ErrNotFound) {
		// Unknown input may be a mistyped secret, so none of it is logged.
		a.deny(ctx, authFailureUnknown, "", ip)
		return nil, ErrTokenInvalidOrExpired
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("lookup bearer token: %w", err)
	}

	now := a.now()
	if status := token.Status(now); status != domain.TokenStatusActive {
		a.deny(ctx, authFailureInactive, token.TokenPrefix, ip, zap.String("status", string(status)))
		return nil, ErrTokenInvalidOrExpired
	}

	if a.cfg.EnforceIPRestrictions && token.IsIPRestricted() {
		addr, ok := security.ParseClientIP(ip)
		if !ok {
			a.deny(ctx, authFailureMissingIP, token.TokenPrefix, ip)
			return nil, ErrMissingRequestIP
		}
		if !security.IPAllowed(addr, token.AllowedIPs) {
			a.deny(ctx, authFailureIPDenied, token.TokenPrefix, ip)
			return nil, ErrIPDenied
		}
	}

	if err := a.tokens.RecordUsage(ctx, token.ID, now); err != nil {
		logger.With(ctx, a.logger).Warn("record bearer token usage",
			zap.String("token_id", token.ID),
			zap.Error(err),
		)
	} else {
		token.UsageCount++
		token.LastUsedAt = &now
	}

	return token, nil
}

func (a *TokenAuthenticator) deny(ctx context.Context, reason, prefix, ip string, fields ...zap.Field) {
	a.metrics.IncTokenAuthFailure(reason)
	fields = append([]zap.Field{
		zap.String("reason", reason),
		zap.String("token_prefix", prefix),
		zap.String("ip", logger.MaskIP(ip)),
	}, fields...)
	logger.With(ctx, a.logger).Warn("bearer token rejected", fields...)
}
