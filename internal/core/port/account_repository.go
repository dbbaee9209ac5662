package port

import (
	"context"

	"github.com/arklim/passwordless-auth/internal/core/domain"
)

// AccountRepository exposes read access to host application accounts.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
}
