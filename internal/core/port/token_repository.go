package port

import (
	"context"
	"time"

	"github.com/arklim/passwordless-auth/internal/core/domain"
)

// TokenRepository manages bearer token records.
type TokenRepository interface {
	Create(ctx context.Context, token domain.BearerToken) error
	GetByID(ctx context.Context, id string) (*domain.BearerToken, error)
	// GetByIDForUpdate loads the token and holds a row lock until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.BearerToken, error)
	GetByHash(ctx context.Context, hash string) (*domain.BearerToken, error)
	SetRotationLineage(ctx context.Context, id string, rotatedFromID string, rotatedBy *string) error
	Revoke(ctx context.Context, id string, revokedAt time.Time) error
	RecordUsage(ctx context.Context, id string, usedAt time.Time) error
}
