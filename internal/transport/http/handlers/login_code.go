package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/passwordless-auth/internal/core/domain"
	"github.com/arklim/passwordless-auth/internal/transport/http/middleware"
	"github.com/arklim/passwordless-auth/internal/usecase"
)

const loginCodeAccepted = "If the address belongs to an account, a login code has been sent."

// LoginCodeService is the use case surface behind the login code endpoints.
type LoginCodeService interface {
	SendCode(ctx context.Context, req usecase.LoginCodeRequest) error
	ResendCode(ctx context.Context, req usecase.LoginCodeRequest) error
	VerifyCode(ctx context.Context, in usecase.VerifyLoginCodeInput) (*domain.Account, error)
}

// LoginCodeHandler exposes passwordless login endpoints.
type LoginCodeHandler struct {
	codes LoginCodeService
}

// NewLoginCodeHandler constructs LoginCodeHandler.
func NewLoginCodeHandler(codes LoginCodeService) *LoginCodeHandler {
	return &LoginCodeHandler{codes: codes}
}

// RegisterRoutes binds login code routes, applying optional middleware ahead of handlers.
func (h *LoginCodeHandler) RegisterRoutes(r *gin.RouterGroup, formMiddlewares ...gin.HandlerFunc) {
	group := r.Group("/login-code", formMiddlewares...)
	group.POST("", h.send)
	group.POST("/resend", h.resend)
	group.POST("/verify", h.verify)
}

// send godoc
// @Summary Request a login code
// @Description Emails a one-time login code. The response is identical whether or not the address has an account.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginCodeRequest true "Login code request"
// @Success 202 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/auth/login-code [post]
func (h *LoginCodeHandler) send(c *gin.Context) {
	h.issue(c, h.codes.SendCode)
}

// resend godoc
// @Summary Resend a login code
// @Description Issues a fresh login code subject to the resend cooldown.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginCodeRequest true "Login code request"
// @Success 202 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/auth/login-code/resend [post]
func (h *LoginCodeHandler) resend(c *gin.Context) {
	h.issue(c, h.codes.ResendCode)
}

func (h *LoginCodeHandler) issue(c *gin.Context, call func(context.Context, usecase.LoginCodeRequest) error) {
	var req LoginCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "email is required"))
		return
	}

	reqCtx := middleware.GetRequestContext(c)
	err := call(c.Request.Context(), usecase.LoginCodeRequest{
		Email:     req.Email,
		IP:        reqCtx.IP,
		UserAgent: reqCtx.UserAgent,
	})
	if err == nil {
		c.JSON(http.StatusAccepted, MessageResponse{Message: loginCodeAccepted})
		return
	}
	if respondRateLimited(c, err) {
		return
	}

	RespondWithMappedError(c, err, []ErrorCase{
		{Err: usecase.ErrEmailRequired, Status: http.StatusBadRequest, Message: "email is required"},
	}, http.StatusInternalServerError, "failed to send login code")
}

// verify godoc
// @Summary Verify a login code
// @Description Redeems the latest login code issued for the email.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginCodeVerifyRequest true "Verification request"
// @Success 200 {object} LoginCodeVerifyResponse
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 423 {object} LockedResponse
// @Router /api/v1/auth/login-code/verify [post]
func (h *LoginCodeHandler) verify(c *gin.Context) {
	var req LoginCodeVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "email and code are required"))
		return
	}

	reqCtx := middleware.GetRequestContext(c)
	account, err := h.codes.VerifyCode(c.Request.Context(), usecase.VerifyLoginCodeInput{
		Email:     req.Email,
		Code:      req.Code,
		IP:        reqCtx.IP,
		UserAgent: reqCtx.UserAgent,
	})
	if err != nil {
		var locked *usecase.ChallengeLockedError
		if errors.As(err, &locked) {
			c.JSON(http.StatusLocked, LockedResponse{
				Error:       "too many failed attempts",
				LockedUntil: locked.LockedUntil,
				TraceID:     middleware.GetTraceID(c),
			})
			return
		}

		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrEmailRequired, Status: http.StatusBadRequest, Message: "email is required"},
			{Err: usecase.ErrInvalidCode, Status: http.StatusUnprocessableEntity, Message: "invalid or expired code"},
		}, http.StatusInternalServerError, "failed to verify login code")
		return
	}

	c.JSON(http.StatusOK, LoginCodeVerifyResponse{Account: toAccountSummary(*account)})
}
