package security

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/arklim/passwordless-auth/internal/core/port"
)

// BcryptHasher hashes one-time codes with bcrypt.
type BcryptHasher struct {
	cost int
}

var _ port.SecretHasher = (*BcryptHasher)(nil)

// NewBcryptHasher returns a hasher using cost, or bcrypt.DefaultCost when cost is out of range.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(secret string) (string, error) {
	sum, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: hash: %w", err)
	}
	return string(sum), nil
}

func (h *BcryptHasher) Verify(secret, encoded string) (bool, error) {
	if secret == "" || encoded == "" {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(secret))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("bcrypt: verify: %w", err)
	}
}

// NewCodeHasher selects the one-time code hasher named by algorithm ("argon2id" or "bcrypt").
func NewCodeHasher(algorithm string, argon port.Argon2Params, bcryptCost int) (port.SecretHasher, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "", argon2Variant:
		return NewArgon2Hasher(argon)
	case "bcrypt":
		return NewBcryptHasher(bcryptCost), nil
	default:
		return nil, fmt.Errorf("unsupported code hash algorithm %q", algorithm)
	}
}
