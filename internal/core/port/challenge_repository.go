package port

import (
	"context"
	"time"

	"github.com/arklim/passwordless-auth/internal/core/domain"
)

// ChallengeRepository persists login challenges.
type ChallengeRepository interface {
	Create(ctx context.Context, challenge domain.LoginChallenge) error
	GetByID(ctx context.Context, id string) (*domain.LoginChallenge, error)
	// GetByIDForUpdate loads the challenge and holds a row lock until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.LoginChallenge, error)
	LatestForEmail(ctx context.Context, email string) (*domain.LoginChallenge, error)
	MarkEmailSent(ctx context.Context, id string, sentAt time.Time) error
	UpdateVerificationState(ctx context.Context, challenge domain.LoginChallenge) error
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
