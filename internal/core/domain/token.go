package domain

import "time"

// TokenVariant distinguishes the two validity models a bearer token can use.
type TokenVariant string

const (
	// TokenVariantAccess tokens carry a name and an optional expiry.
	TokenVariantAccess TokenVariant = "access"
	// TokenVariantAPI tokens are valid inside a ValidFrom/ValidTo window.
	TokenVariantAPI TokenVariant = "api"
)

// Valid reports whether the variant is known.
func (v TokenVariant) Valid() bool {
	return v == TokenVariantAccess || v == TokenVariantAPI
}

// TokenStatus is derived from revocation and validity fields.
type TokenStatus string

const (
	TokenStatusActive  TokenStatus = "active"
	TokenStatusPending TokenStatus = "pending"
	TokenStatusExpired TokenStatus = "expired"
	TokenStatusRevoked TokenStatus = "revoked"
)

// BearerToken is an opaque API credential. Only the hash of the token is stored.
type BearerToken struct {
	ID                 string
	AccountID          string
	Variant            TokenVariant
	Name               *string
	TokenHash          string
	TokenPrefix        string
	ExpiresAt          *time.Time
	ValidFrom          *time.Time
	ValidTo            *time.Time
	AllowedIPs         []string
	UsageCount         int64
	LastUsedAt         *time.Time
	RevokedAt          *time.Time
	RotatedFromTokenID *string
	RotatedByUserID    *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsRevoked reports whether the token has been explicitly revoked.
func (t BearerToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsExpired reports whether the token has elapsed its validity window.
func (t BearerToken) IsExpired(at time.Time) bool {
	if t.Variant == TokenVariantAPI {
		return t.ValidTo != nil && !t.ValidTo.After(at)
	}
	return t.ExpiresAt != nil && !t.ExpiresAt.After(at)
}

// IsPending reports whether a date-range token has not started yet.
func (t BearerToken) IsPending(at time.Time) bool {
	return t.Variant == TokenVariantAPI && t.ValidFrom != nil && at.Before(*t.ValidFrom)
}

// Status evaluates revoked, expired, pending and active in that order.
func (t BearerToken) Status(at time.Time) TokenStatus {
	switch {
	case t.IsRevoked():
		return TokenStatusRevoked
	case t.IsExpired(at):
		return TokenStatusExpired
	case t.IsPending(at):
		return TokenStatusPending
	default:
		return TokenStatusActive
	}
}

// IsActive returns true when the token may authenticate requests.
func (t BearerToken) IsActive(at time.Time) bool {
	return t.Status(at) == TokenStatusActive
}

// IsIPRestricted reports whether the token carries an allowlist.
func (t BearerToken) IsIPRestricted() bool {
	return len(t.AllowedIPs) > 0
}

// Revoke marks the token as revoked.
// Returns true if the token transitioned to the revoked state.
func (t *BearerToken) Revoke(at time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	timeCopy := at
	t.RevokedAt = &timeCopy
	t.UpdatedAt = at
	return true
}
