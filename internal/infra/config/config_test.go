package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, 6, cfg.Challenge.CodeDigits)
	assert.Equal(t, 10*time.Minute, cfg.Challenge.TTL)
	assert.Equal(t, 5, cfg.Challenge.RateLimitPerHour)
	assert.Equal(t, 2160*time.Hour, cfg.Token.DefaultValidity)
	assert.True(t, cfg.Token.EnforceIPRestrictions)
	assert.Equal(t, "argon2id", cfg.Security.CodeHashAlgorithm)
	assert.Equal(t, "lenient", cfg.RateLimit.DegradationMode)
	assert.Empty(t, cfg.Mail.SMTPHost)
	assert.Equal(t, 587, cfg.Mail.SMTPPort)
	assert.Equal(t, 10*time.Second, cfg.Mail.Timeout)
}

func TestLoadReadsMailSettings(t *testing.T) {
	t.Setenv("AUTH_MAIL_SMTP_HOST", "smtp.example.edu")
	t.Setenv("AUTH_MAIL_SMTP_PORT", "2525")
	t.Setenv("AUTH_MAIL_USERNAME", "mailer")
	t.Setenv("AUTH_MAIL_FROM", "no-reply@example.edu")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.edu", cfg.Mail.SMTPHost)
	assert.Equal(t, 2525, cfg.Mail.SMTPPort)
	assert.Equal(t, "mailer", cfg.Mail.Username)
	assert.Equal(t, "no-reply@example.edu", cfg.Mail.From)

	t.Setenv("AUTH_MAIL_FROM", "")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mail.from")
}

func TestLoadReadsPrefixedEnv(t *testing.T) {
	t.Setenv("AUTH_APP_PORT", "9090")
	t.Setenv("AUTH_CHALLENGE_MAX_ATTEMPTS", "3")
	t.Setenv("AUTH_CHALLENGE_LOCK_DURATION", "30m")
	t.Setenv("AUTH_TIMING_FLOOR", "250ms")
	t.Setenv("AUTH_SECURITY_CODE_HASH_ALGORITHM", "bcrypt")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, 3, cfg.Challenge.MaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Challenge.LockDuration)
	assert.Equal(t, 250*time.Millisecond, cfg.Timing.Floor)
	assert.Equal(t, "bcrypt", cfg.Security.CodeHashAlgorithm)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("AUTH_CHALLENGE_CODE_DIGITS", "0")
	t.Setenv("AUTH_SECURITY_CODE_HASH_ALGORITHM", "md5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "challenge.code_digits")
	assert.Contains(t, err.Error(), "code_hash_algorithm")
}

func TestValidateRequiresAppKeyInProduction(t *testing.T) {
	cfg := AppConfig{
		App:       AppSettings{Env: "production"},
		Security:  SecuritySettings{CodeHashAlgorithm: "argon2id"},
		Challenge: ChallengeSettings{CodeDigits: 6, TTL: time.Minute, MaxAttempts: 5, LockDuration: time.Minute, RateLimitPerHour: 5},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app_key")

	cfg.Security.AppKey = "c2VjcmV0"
	assert.NoError(t, cfg.Validate())
}
