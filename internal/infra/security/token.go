package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

const (
	// BearerTokenLength is the number of characters in a plaintext bearer token.
	BearerTokenLength = 64
	// TokenPrefixLength is the number of leading characters kept for display.
	TokenPrefixLength = 5

	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	// Largest multiple of len(tokenAlphabet) that fits in a byte; bytes at or above it are rejected.
	tokenRejectAbove = 256 - (256 % len(tokenAlphabet))
)

// BearerTokenGenerator mints plaintext bearer tokens.
type BearerTokenGenerator struct {
	random io.Reader
}

// NewBearerTokenGenerator reads from crypto/rand.
func NewBearerTokenGenerator() *BearerTokenGenerator {
	return &BearerTokenGenerator{random: rand.Reader}
}

// WithRandom replaces the entropy source. Only tests should call it.
func (g *BearerTokenGenerator) WithRandom(r io.Reader) *BearerTokenGenerator {
	if r != nil {
		g.random = r
	}
	return g
}

// Generate returns a BearerTokenLength-character alphanumeric token without modulo bias.
func (g *BearerTokenGenerator) Generate() (string, error) {
	out := make([]byte, 0, BearerTokenLength)
	buf := make([]byte, BearerTokenLength)

	for len(out) < BearerTokenLength {
		if _, err := io.ReadFull(g.random, buf); err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		for _, b := range buf {
			if int(b) >= tokenRejectAbove {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == BearerTokenLength {
				break
			}
		}
	}

	return string(out), nil
}

// HashToken returns the hex SHA-256 of a bearer token.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// TokenPrefix returns the display prefix of a plaintext token.
func TokenPrefix(value string) string {
	if len(value) <= TokenPrefixLength {
		return value
	}
	return value[:TokenPrefixLength]
}
