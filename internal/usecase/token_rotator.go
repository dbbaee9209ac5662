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
	"github.com/arklim/passwordless-auth/internal/infra/logger"
	"github.com/arklim/passwordless-auth/internal/repository"
)

// RotateTokenInput describes the replacement. Nil Name or AllowedIPs inherit
// the predecessor's values; an empty non-nil AllowedIPs clears the allowlist.
// Omitted validity bounds are defaulted as for a fresh token.
type RotateTokenInput struct {
	TokenID    string
	OperatorID string
	Name       *string
	ExpiresAt  *time.Time
	ValidFrom  *time.Time
	ValidTo    *time.Time
	AllowedIPs []string
}

// TokenRotator replaces a token with a successor and revokes it in one transaction.
type TokenRotator struct {
	tx      port.Transactor
	issuer  *TokenIssuer
	mail    port.MailQueue
	metrics port.AuthMetrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewTokenRotator constructs a TokenRotator.
func NewTokenRotator(tx port.Transactor, issuer *TokenIssuer, mail port.MailQueue, metrics port.AuthMetrics, log *zap.Logger) *TokenRotator {
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenRotator{
		tx:      tx,
		issuer:  issuer,
		mail:    mail,
		metrics: metricsOrNop(metrics),
		logger:  log,
		now:     defaultClock,
	}
}

// WithClock overrides the rotator clock for deterministic tests.
func (r *TokenRotator) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

// Rotate mints the successor, links it to the predecessor and revokes the
// predecessor. Any failure rolls everything back, so the old token is never
// revoked without a successor.
func (r *TokenRotator) Rotate(ctx context.Context, in RotateTokenInput) (*IssuedToken, error) {
	ctx, span := tracer.Start(ctx, "TokenRotator.Rotate")
	defer span.End()
	span.SetAttributes(attribute.String("token.id", in.TokenID))

	var issued *IssuedToken

	err := r.tx.WithinTx(ctx, func(ctx context.Context, tx port.TxScope) error {
		previous, err := tx.Tokens().GetByIDForUpdate(ctx, in.TokenID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTokenNotFound
		}
		if err != nil {
			return fmt.Errorf("load token for rotation: %w", err)
		}

		now := r.now()
		switch previous.Status(now) {
		case domain.TokenStatusRevoked, domain.TokenStatusExpired:
			return ErrTokenNotRotatable
		}
		// The predecessor is revoked now, so the successor must be usable now.
		if in.ValidFrom != nil && in.ValidFrom.After(now) {
			return fmt.Errorf("%w: a rotated token must be valid immediately", ErrInvalidValidityWindow)
		}

		next := IssueTokenInput{
			AccountID:  previous.AccountID,
			Variant:    previous.Variant,
			ExpiresAt:  in.ExpiresAt,
			ValidFrom:  in.ValidFrom,
			ValidTo:    in.ValidTo,
			AllowedIPs: in.AllowedIPs,
		}
		if in.Name != nil {
			next.Name = *in.Name
		} else if previous.Name != nil {
			next.Name = *previous.Name
		}
		if in.AllowedIPs == nil {
			next.AllowedIPs = previous.AllowedIPs
		}

		issued, err = r.issuer.Issue(ctx, tx, next)
		if err != nil {
			return err
		}

		operator := optionalString(in.OperatorID)
		if err := tx.Tokens().SetRotationLineage(ctx, issued.Token.ID, previous.ID, operator); err != nil {
			return fmt.Errorf("link rotated token: %w", err)
		}
		issued.Token.RotatedFromTokenID = &previous.ID
		issued.Token.RotatedByUserID = operator

		if err := tx.Tokens().Revoke(ctx, previous.ID, now); err != nil {
			return fmt.Errorf("revoke rotated token: %w", err)
		}

		notice := domain.TokenRotationMail{
			MessageID:       uuid.NewString(),
			AccountID:       issued.Account.ID,
			Email:           issued.Account.Email,
			PreviousTokenID: previous.ID,
			PreviousPrefix:  previous.TokenPrefix,
			NewTokenID:      issued.Token.ID,
			NewPrefix:       issued.Token.TokenPrefix,
			RotatedBy:       in.OperatorID,
			RotatedAt:       now,
		}
		tx.AfterCommit(func(ctx context.Context) {
			r.notify(ctx, notice)
		})
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	r.metrics.IncTokenRotated()
	logger.With(ctx, r.logger).Info("bearer token rotated",
		zap.String("token_id", in.TokenID),
		zap.String("successor_id", issued.Token.ID),
		zap.String("successor_prefix", issued.Token.TokenPrefix),
		zap.String("operator_id", in.OperatorID),
	)
	return issued, nil
}

func (r *TokenRotator) notify(ctx context.Context, notice domain.TokenRotationMail) {
	if r.mail == nil || notice.Email == "" {
		return
	}
	if err := r.mail.EnqueueTokenRotation(ctx, notice); err != nil {
		r.metrics.IncMailEnqueueFailure(string(domain.MailKindTokenRotation))
		logger.With(ctx, r.logger).Error("enqueue token rotation mail",
			zap.String("token_id", notice.NewTokenID),
			zap.Error(err),
		)
	}
}
