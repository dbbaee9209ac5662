package domain

import "time"

// MailKind identifies the template used to render a queued message.
type MailKind string

const (
	MailKindLoginCode     MailKind = "login_code"
	MailKindTokenRotation MailKind = "token_rotation"
)

// LoginCodeMail is queued after a challenge is issued. EncryptedCode is
// reversible ciphertext; the plaintext code never enters the queue.
type LoginCodeMail struct {
	MessageID     string
	ChallengeID   string
	Email         string
	EncryptedCode string
	ExpiresAt     time.Time
	RequestedAt   time.Time
}

// TokenRotationMail notifies the owning account that a token was replaced.
type TokenRotationMail struct {
	MessageID       string
	AccountID       string
	Email           string
	PreviousTokenID string
	PreviousPrefix  string
	NewTokenID      string
	NewPrefix       string
	RotatedBy       string
	RotatedAt       time.Time
}
