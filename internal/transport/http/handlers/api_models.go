package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/passwordless-auth/internal/core/domain"
	"github.com/arklim/passwordless-auth/internal/transport/http/middleware"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: middleware.GetTraceID(c),
	}
}

// LockedResponse is returned when a login challenge is suspended.
type LockedResponse struct {
	Error       string    `json:"error"`
	LockedUntil time.Time `json:"locked_until"`
	TraceID     string    `json:"trace_id,omitempty"`
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse represents liveness status.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse reports the state of each dependency check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// LoginCodeRequest starts or repeats a passwordless login.
type LoginCodeRequest struct {
	Email string `json:"email" binding:"required"`
}

// LoginCodeVerifyRequest redeems a login code.
type LoginCodeVerifyRequest struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// AccountSummary describes the account returned after a successful login.
type AccountSummary struct {
	ID    string             `json:"id"`
	Email string             `json:"email"`
	Name  string             `json:"name,omitempty"`
	Type  domain.AccountType `json:"type"`
}

// LoginCodeVerifyResponse is returned when a code is accepted.
type LoginCodeVerifyResponse struct {
	Account AccountSummary `json:"account"`
}

// TokenIssueRequest creates a bearer token for a service account.
type TokenIssueRequest struct {
	AccountID  string     `json:"account_id" binding:"required"`
	Variant    string     `json:"variant"`
	Name       string     `json:"name"`
	ExpiresAt  *time.Time `json:"expires_at"`
	ValidFrom  *time.Time `json:"valid_from"`
	ValidTo    *time.Time `json:"valid_to"`
	AllowedIPs []string   `json:"allowed_ips"`
}

// TokenRotateRequest overrides fields of the replacement token. Omitted fields are inherited.
type TokenRotateRequest struct {
	Name       *string    `json:"name"`
	ExpiresAt  *time.Time `json:"expires_at"`
	ValidFrom  *time.Time `json:"valid_from"`
	ValidTo    *time.Time `json:"valid_to"`
	AllowedIPs []string   `json:"allowed_ips"`
}

// TokenSummary is the public view of a bearer token. It never includes the secret.
type TokenSummary struct {
	ID                 string              `json:"id"`
	AccountID          string              `json:"account_id"`
	Variant            domain.TokenVariant `json:"variant"`
	Name               *string             `json:"name,omitempty"`
	Prefix             string              `json:"prefix"`
	Status             domain.TokenStatus  `json:"status"`
	ExpiresAt          *time.Time          `json:"expires_at,omitempty"`
	ValidFrom          *time.Time          `json:"valid_from,omitempty"`
	ValidTo            *time.Time          `json:"valid_to,omitempty"`
	AllowedIPs         []string            `json:"allowed_ips,omitempty"`
	UsageCount         int64               `json:"usage_count"`
	LastUsedAt         *time.Time          `json:"last_used_at,omitempty"`
	RevokedAt          *time.Time          `json:"revoked_at,omitempty"`
	RotatedFromTokenID *string             `json:"rotated_from_token_id,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
}

// IssuedTokenResponse carries the plaintext token. It is shown exactly once.
type IssuedTokenResponse struct {
	Token string       `json:"token"`
	Data  TokenSummary `json:"data"`
}

// TokenLineageResponse lists a token and its predecessors, newest first.
type TokenLineageResponse struct {
	Tokens []TokenSummary `json:"tokens"`
}

// MeResponse describes the caller identified by the bearer token.
type MeResponse struct {
	AccountID string       `json:"account_id"`
	Token     TokenSummary `json:"token"`
}

func toAccountSummary(account domain.Account) AccountSummary {
	return AccountSummary{
		ID:    account.ID,
		Email: account.Email,
		Name:  account.Name,
		Type:  account.Type,
	}
}

func toTokenSummary(token domain.BearerToken, at time.Time) TokenSummary {
	return TokenSummary{
		ID:                 token.ID,
		AccountID:          token.AccountID,
		Variant:            token.Variant,
		Name:               token.Name,
		Prefix:             token.TokenPrefix,
		Status:             token.Status(at),
		ExpiresAt:          token.ExpiresAt,
		ValidFrom:          token.ValidFrom,
		ValidTo:            token.ValidTo,
		AllowedIPs:         token.AllowedIPs,
		UsageCount:         token.UsageCount,
		LastUsedAt:         token.LastUsedAt,
		RevokedAt:          token.RevokedAt,
		RotatedFromTokenID: token.RotatedFromTokenID,
		CreatedAt:          token.CreatedAt,
	}
}
