package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/arklim/passwordless-auth/internal/core/port"
)

const codeCipherInfo = "passwordless-auth/login-code/v1"

var errCiphertextTooShort = errors.New("code cipher: ciphertext too short")

// CodeCipher seals one-time codes with XChaCha20-Poly1305 for queue transit.
type CodeCipher struct {
	key []byte
}

var _ port.CodeCipher = (*CodeCipher)(nil)

// NewCodeCipher derives a 32-byte key from the application master key via HKDF-SHA256.
// masterKey may be base64 encoded; otherwise its raw bytes are used.
func NewCodeCipher(masterKey string) (*CodeCipher, error) {
	if masterKey == "" {
		return nil, errors.New("code cipher: master key is required")
	}

	secret, err := base64.StdEncoding.DecodeString(masterKey)
	if err != nil || len(secret) == 0 {
		secret = []byte(masterKey)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(codeCipherInfo)), key); err != nil {
		return nil, fmt.Errorf("code cipher: derive key: %w", err)
	}

	return &CodeCipher{key: key}, nil
}

// Encrypt returns base64url(nonce || ciphertext).
func (c *CodeCipher) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("code cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("code cipher: nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (c *CodeCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("code cipher: decode: %w", err)
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("code cipher: %w", err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", errCiphertextTooShort
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("code cipher: open: %w", err)
	}
	return string(plain), nil
}
