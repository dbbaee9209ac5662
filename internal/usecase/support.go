package usecase

import (
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// maxUserAgentLength bounds stored user agents to avoid storage abuse.
	maxUserAgentLength = 512

	loginCodeKeyPrefix       = "login-code:"
	loginCodeResendKeyPrefix = "login-code-resend:"
	loginCodeWindow          = time.Hour
)

var tracer = otel.Tracer("github.com/arklim/passwordless-auth/internal/usecase")

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func loginCodeKey(email string) string {
	return loginCodeKeyPrefix + email
}

func loginCodeResendKey(email string) string {
	return loginCodeResendKeyPrefix + email
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

// optionalUserAgent replaces invalid UTF-8 and drops NUL bytes, which text
// columns reject, before truncating.
func optionalUserAgent(ua string) *string {
	ua = strings.ReplaceAll(strings.ToValidUTF8(ua, "\uFFFD"), "\x00", "")
	return optionalString(truncateRunes(strings.TrimSpace(ua), maxUserAgentLength))
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func defaultClock() time.Time {
	return time.Now().UTC()
}
