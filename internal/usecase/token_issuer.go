package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"

	"github.com/arklim/passwordless-auth/internal/core/domain"
	"github.com/arklim/passwordless-auth/internal/core/port"
	"github.com/arklim/passwordless-auth/internal/infra/config"
	"github.com/arklim/passwordless-auth/internal/infra/security"
	"github.com/arklim/passwordless-auth/internal/repository"
)

// IssueTokenInput describes a bearer token to mint. Access tokens use Name and
// ExpiresAt; api tokens use ValidFrom and ValidTo. Missing bounds fall back to
// the configured default validity.
type IssueTokenInput struct {
	AccountID  string
	Variant    domain.TokenVariant
	Name       string
	ExpiresAt  *time.Time
	ValidFrom  *time.Time
	ValidTo    *time.Time
	AllowedIPs []string
}

// IssuedToken pairs the stored record with the plaintext, which is available only here.
type IssuedToken struct {
	Token     domain.BearerToken
	Account   domain.Account
	PlainText string
}

// TokenIssuer mints bearer tokens for service accounts.
type TokenIssuer struct {
	cfg       config.TokenSettings
	generator port.TokenGenerator
	now       func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer.
func NewTokenIssuer(cfg config.TokenSettings, generator port.TokenGenerator) *TokenIssuer {
	return &TokenIssuer{cfg: cfg, generator: generator, now: defaultClock}
}

// WithClock overrides the issuer clock for deterministic tests.
func (i *TokenIssuer) WithClock(clock func() time.Time) {
	if clock != nil {
		i.now = clock
	}
}

// Issue validates the request and persists the token through scope. Only the
// SHA-256 hash and the display prefix are stored.
func (i *TokenIssuer) Issue(ctx context.Context, scope port.TxScope, in IssueTokenInput) (*IssuedToken, error) {
	account, err := scope.Accounts().GetByID(ctx, strings.TrimSpace(in.AccountID))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidAccountType
	}
	if err != nil {
		return nil, fmt.Errorf("load token owner: %w", err)
	}
	if !account.CanHoldTokens() {
		return nil, ErrInvalidAccountType
	}

	allowed, err := security.NormalizeAllowList(in.AllowedIPs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAllowedIP, err)
	}

	now := i.now()
	token := domain.BearerToken{
		ID:         uuid.NewString(),
		AccountID:  account.ID,
		Variant:    in.Variant,
		Name:       optionalString(in.Name),
		AllowedIPs: allowed,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if token.Variant == "" {
		token.Variant = domain.TokenVariantAccess
	}
	if err := i.applyValidity(&token, in, now); err != nil {
		return nil, err
	}

	plain, err := i.generator.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate bearer token: %w", err)
	}
	token.TokenHash = security.HashToken(plain)
	token.TokenPrefix = security.TokenPrefix(plain)

	if err := scope.Tokens().Create(ctx, token); err != nil {
		return nil, fmt.Errorf("create bearer token: %w", err)
	}

	return &IssuedToken{Token: token, Account: *account, PlainText: plain}, nil
}

func (i *TokenIssuer) applyValidity(token *domain.BearerToken, in IssueTokenInput, now time.Time) error {
	switch token.Variant {
	case domain.TokenVariantAccess:
		if in.ValidFrom != nil || in.ValidTo != nil {
			return fmt.Errorf("%w: access tokens take an expiry, not a date range", ErrInvalidValidityWindow)
		}
		expiresAt := in.ExpiresAt
		if expiresAt == nil && i.cfg.DefaultValidity > 0 {
			defaulted := now.Add(i.cfg.DefaultValidity)
			expiresAt = &defaulted
		}
		if expiresAt != nil && !expiresAt.After(now) {
			return fmt.Errorf("%w: expiry must be in the future", ErrInvalidValidityWindow)
		}
		token.ExpiresAt = utcPtr(expiresAt)
	case domain.TokenVariantAPI:
		if in.ExpiresAt != nil {
			return fmt.Errorf("%w: api tokens take a date range, not an expiry", ErrInvalidValidityWindow)
		}
		validFrom := now
		if in.ValidFrom != nil {
			validFrom = *in.ValidFrom
		}
		var validTo time.Time
		switch {
		case in.ValidTo != nil:
			validTo = *in.ValidTo
		case i.cfg.DefaultValidity > 0:
			validTo = validFrom.Add(i.cfg.DefaultValidity)
		default:
			return fmt.Errorf("%w: valid_to is required", ErrInvalidValidityWindow)
		}
		if !validFrom.Before(validTo) {
			return fmt.Errorf("%w: valid_from must precede valid_to", ErrInvalidValidityWindow)
		}
		if !validTo.After(now) {
			return fmt.Errorf("%w: valid_to must be in the future", ErrInvalidValidityWindow)
		}
		token.ValidFrom = utcPtr(&validFrom)
		token.ValidTo = utcPtr(&validTo)
	default:
		return ErrInvalidTokenVariant
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
