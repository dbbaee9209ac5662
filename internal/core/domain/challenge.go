package domain

import "time"

// ChallengeStatus describes the state of a login challenge at a point in time.
type ChallengeStatus string

const (
	ChallengeStatusActive   ChallengeStatus = "active"
	ChallengeStatusExpired  ChallengeStatus = "expired"
	ChallengeStatusLocked   ChallengeStatus = "locked"
	ChallengeStatusConsumed ChallengeStatus = "consumed"
)

// LoginChallenge is a single-use numeric code issuance record for passwordless login.
type LoginChallenge struct {
	ID                 string
	Email              string
	CodeHash           string
	Attempts           int
	LockedUntil        *time.Time
	ExpiresAt          time.Time
	EmailSentAt        *time.Time
	ConsumedAt         *time.Time
	RequestedIP        *string
	RequestedUserAgent *string
	ConsumedIP         *string
	ConsumedUserAgent  *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsConsumed reports whether the code was already redeemed.
func (c LoginChallenge) IsConsumed() bool {
	return c.ConsumedAt != nil
}

// IsExpired reports whether the challenge has elapsed its validity window.
func (c LoginChallenge) IsExpired(at time.Time) bool {
	return !c.ExpiresAt.After(at)
}

// IsLocked reports whether further verification attempts are suspended.
func (c LoginChallenge) IsLocked(at time.Time) bool {
	return c.LockedUntil != nil && at.Before(*c.LockedUntil)
}

// IsActive returns true when the challenge can still be verified.
func (c LoginChallenge) IsActive(at time.Time) bool {
	return !c.IsConsumed() && !c.IsExpired(at) && !c.IsLocked(at)
}

// Status resolves the single state the challenge is in at the given time.
func (c LoginChallenge) Status(at time.Time) ChallengeStatus {
	switch {
	case c.IsConsumed():
		return ChallengeStatusConsumed
	case c.IsLocked(at):
		return ChallengeStatusLocked
	case c.IsExpired(at):
		return ChallengeStatusExpired
	default:
		return ChallengeStatusActive
	}
}

// RecordFailedAttempt increments the attempt counter and locks the challenge once
// maxAttempts is reached. It returns true when the call applied a lock.
func (c *LoginChallenge) RecordFailedAttempt(at time.Time, maxAttempts int, lockFor time.Duration) bool {
	c.Attempts++
	c.UpdatedAt = at
	if maxAttempts <= 0 || c.Attempts < maxAttempts {
		return false
	}
	lockedUntil := at.Add(lockFor)
	c.LockedUntil = &lockedUntil
	return true
}

// Consume marks the challenge as redeemed from the supplied client.
// Returns true when the challenge transitions to consumed.
func (c *LoginChallenge) Consume(at time.Time, ip, userAgent *string) bool {
	if c.ConsumedAt != nil {
		return false
	}
	timeCopy := at
	c.ConsumedAt = &timeCopy
	c.ConsumedIP = ip
	c.ConsumedUserAgent = userAgent
	c.UpdatedAt = at
	return true
}
