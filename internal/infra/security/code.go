package security

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/arklim/passwordless-auth/internal/core/port"
)

// MaxCodeDigits keeps 10^digits inside int64.
const MaxCodeDigits = 18

// NumericCodeGenerator produces codes uniformly distributed over [10^(d-1), 10^d-1].
type NumericCodeGenerator struct {
	random io.Reader
}

var _ port.CodeGenerator = (*NumericCodeGenerator)(nil)

// NewNumericCodeGenerator reads from crypto/rand.
func NewNumericCodeGenerator() *NumericCodeGenerator {
	return &NumericCodeGenerator{random: rand.Reader}
}

// WithRandom replaces the entropy source. Only tests should call it.
func (g *NumericCodeGenerator) WithRandom(r io.Reader) *NumericCodeGenerator {
	if r != nil {
		g.random = r
	}
	return g
}

func (g *NumericCodeGenerator) Generate(digits int) (string, error) {
	if digits < 1 || digits > MaxCodeDigits {
		return "", fmt.Errorf("code digits must be between 1 and %d, got %d", MaxCodeDigits, digits)
	}

	lower := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits-1)), nil)
	upper := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	span := new(big.Int).Sub(upper, lower)

	n, err := rand.Int(g.random, span)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}

	code := n.Add(n, lower).String()
	if len(code) != digits {
		return "", fmt.Errorf("generate code: produced %d digits, want %d", len(code), digits)
	}
	return code, nil
}
