package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arklim/passwordless-auth/internal/transport/http/middleware"
	"github.com/arklim/passwordless-auth/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	_ = c.Error(err)
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

// respondRateLimited writes a 429 problem document when err carries a rate limit.
// It reports whether a response was written.
func respondRateLimited(c *gin.Context, err error) bool {
	var limited *usecase.RateLimitExceededError
	if !errors.As(err, &limited) {
		return false
	}

	minutes := limited.RetryAfterMinutes()
	detail := fmt.Sprintf("Too many login code requests. Try again in %d minute(s).", minutes)
	if errors.Is(err, usecase.ErrResendCooldown) {
		detail = fmt.Sprintf("Please wait %d minute(s) before requesting another code.", minutes)
	}

	problem := middleware.NewRateLimitProblem(c, limited.RetryAfter, detail)
	problem.RetryAfterMinutes = minutes
	problem.Extensions = map[string]any{"scope": limited.Scope}

	c.Header("Retry-After", strconv.Itoa(problem.RetryAfter))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, problem)
	return true
}
