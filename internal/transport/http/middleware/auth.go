package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/passwordless-auth/internal/core/domain"
	"github.com/arklim/passwordless-auth/internal/usecase"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// BearerAuthenticator resolves a presented bearer token for a request IP.
type BearerAuthenticator interface {
	Authenticate(ctx context.Context, plaintext, ip string) (*domain.BearerToken, error)
}

// RequireBearerToken authenticates the Authorization header. Unknown, revoked,
// expired and IP-denied tokens all receive the same 401 so the response does
// not reveal which check failed.
func RequireBearerToken(auth BearerAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerFromHeader(c.GetHeader("Authorization"))
		if !ok {
			c.Header("WWW-Authenticate", `Bearer realm="api"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "missing bearer token"))
			return
		}

		reqCtx := GetRequestContext(c)
		record, err := auth.Authenticate(c.Request.Context(), token, reqCtx.IP)
		if err != nil {
			switch {
			case errors.Is(err, usecase.ErrTokenInvalidOrExpired),
				errors.Is(err, usecase.ErrIPDenied),
				errors.Is(err, usecase.ErrMissingRequestIP):
				c.Header("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)
				c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "invalid token"))
			default:
				_ = c.Error(err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, newErrorResponse(c, "authentication failed"))
			}
			return
		}

		c.Set(AccountIDKey, record.AccountID)
		c.Set(BearerTokenKey, record)
		reqCtx.AccountID = record.AccountID
		reqCtx.TokenID = record.ID

		c.Next()
	}
}

func bearerFromHeader(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// GetAuthenticatedAccountID retrieves the account id set by RequireBearerToken.
func GetAuthenticatedAccountID(c *gin.Context) (string, bool) {
	id := c.GetString(AccountIDKey)
	return id, id != ""
}

// GetBearerToken retrieves the token record set by RequireBearerToken.
func GetBearerToken(c *gin.Context) (*domain.BearerToken, bool) {
	value, exists := c.Get(BearerTokenKey)
	if !exists {
		return nil, false
	}
	token, ok := value.(*domain.BearerToken)
	return token, ok
}
