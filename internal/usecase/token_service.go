package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/passwordless-auth/internal/core/domain"
	"github.com/arklim/passwordless-auth/internal/core/port"
	"github.com/arklim/passwordless-auth/internal/infra/logger"
	"github.com/arklim/passwordless-auth/internal/repository"
)

// maxLineageDepth caps the backward walk over rotation links.
const maxLineageDepth = 1000

// TokenService exposes operator-facing bearer token administration.
type TokenService struct {
	tx      port.Transactor
	tokens  port.TokenRepository
	issuer  *TokenIssuer
	rotator *TokenRotator
	metrics port.AuthMetrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewTokenService constructs a TokenService.
func NewTokenService(
	tx port.Transactor,
	tokens port.TokenRepository,
	issuer *TokenIssuer,
	rotator *TokenRotator,
	metrics port.AuthMetrics,
	log *zap.Logger,
) *TokenService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenService{
		tx:      tx,
		tokens:  tokens,
		issuer:  issuer,
		rotator: rotator,
		metrics: metricsOrNop(metrics),
		logger:  log,
		now:     defaultClock,
	}
}

// WithClock overrides the service clock for deterministic tests.
func (s *TokenService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Issue mints a token for a service account.
func (s *TokenService) Issue(ctx context.Context, in IssueTokenInput) (*IssuedToken, error) {
	ctx, span := tracer.Start(ctx, "TokenService.Issue")
	defer span.End()

	var issued *IssuedToken
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx port.TxScope) error {
		var err error
		issued, err = s.issuer.Issue(ctx, tx, in)
		return err
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	s.metrics.IncTokenIssued(string(issued.Token.Variant))
	logger.With(ctx, s.logger).Info("bearer token issued",
		zap.String("token_id", issued.Token.ID),
		zap.String("token_prefix", issued.Token.TokenPrefix),
		zap.String("account_id", issued.Token.AccountID),
		zap.String("variant", string(issued.Token.Variant)),
	)
	return issued, nil
}

// Rotate delegates to the TokenRotator.
func (s *TokenService) Rotate(ctx context.Context, in RotateTokenInput) (*IssuedToken, error) {
	return s.rotator.Rotate(ctx, in)
}

// Revoke marks the token revoked. Revoking an already revoked token is a no-op.
func (s *TokenService) Revoke(ctx context.Context, id string) (*domain.BearerToken, error) {
	var revoked *domain.BearerToken
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx port.TxScope) error {
		token, err := tx.Tokens().GetByIDForUpdate(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTokenNotFound
		}
		if err != nil {
			return fmt.Errorf("load token for revocation: %w", err)
		}

		now := s.now()
		if token.Revoke(now) {
			if err := tx.Tokens().Revoke(ctx, token.ID, now); err != nil {
				return fmt.Errorf("revoke token: %w", err)
			}
		}
		revoked = token
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.With(ctx, s.logger).Info("bearer token revoked",
		zap.String("token_id", revoked.ID),
		zap.String("token_prefix", revoked.TokenPrefix),
	)
	return revoked, nil
}

// Get returns a token by id.
func (s *TokenService) Get(ctx context.Context, id string) (*domain.BearerToken, error) {
	token, err := s.tokens.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return token, nil
}

// Lineage returns the token followed by its predecessors, newest first.
func (s *TokenService) Lineage(ctx context.Context, id string) ([]domain.BearerToken, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	chain := []domain.BearerToken{*current}
	seen := map[string]struct{}{current.ID: {}}

	for current.RotatedFromTokenID != nil && len(chain) < maxLineageDepth {
		previousID := *current.RotatedFromTokenID
		if _, ok := seen[previousID]; ok {
			return nil, fmt.Errorf("token lineage cycle at %s", previousID)
		}

		previous, err := s.tokens.GetByID(ctx, previousID)
		if errors.Is(err, repository.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("get token predecessor: %w", err)
		}

		seen[previous.ID] = struct{}{}
		chain = append(chain, *previous)
		current = previous
	}

	return chain, nil
}
