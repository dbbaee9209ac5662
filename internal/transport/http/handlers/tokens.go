package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/passwordless-auth/internal/core/domain"
	"github.com/arklim/passwordless-auth/internal/infra/security"
	"github.com/arklim/passwordless-auth/internal/transport/http/middleware"
	"github.com/arklim/passwordless-auth/internal/usecase"
)

// TokenService is the use case surface behind the token administration endpoints.
type TokenService interface {
	Issue(ctx context.Context, in usecase.IssueTokenInput) (*usecase.IssuedToken, error)
	Rotate(ctx context.Context, in usecase.RotateTokenInput) (*usecase.IssuedToken, error)
	Revoke(ctx context.Context, id string) (*domain.BearerToken, error)
	Get(ctx context.Context, id string) (*domain.BearerToken, error)
	Lineage(ctx context.Context, id string) ([]domain.BearerToken, error)
}

// TokenHandler exposes bearer token administration endpoints.
type TokenHandler struct {
	tokens TokenService
	now    func() time.Time
}

// NewTokenHandler constructs TokenHandler.
func NewTokenHandler(tokens TokenService) *TokenHandler {
	return &TokenHandler{tokens: tokens, now: time.Now}
}

// WithClock overrides the clock used to derive token status.
func (h *TokenHandler) WithClock(now func() time.Time) *TokenHandler {
	if now != nil {
		h.now = now
	}
	return h
}

// RegisterRoutes binds token routes. The group is expected to be protected by RequireBearerToken.
// Callers manage only tokens of their own account, and an IP-restricted caller
// cannot hand out a token reachable from outside its own allowlist.
func (h *TokenHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("", h.issue)
	r.POST("/:id/rotate", h.rotate)
	r.POST("/:id/revoke", h.revoke)
	r.GET("/:id/lineage", h.lineage)
}

var tokenInputErrors = []ErrorCase{
	{Err: usecase.ErrInvalidAccountType, Status: http.StatusUnprocessableEntity, Message: "account cannot hold tokens"},
	{Err: usecase.ErrInvalidTokenVariant, Status: http.StatusBadRequest, Message: "invalid token variant"},
	{Err: usecase.ErrInvalidAllowedIP, Status: http.StatusBadRequest, Message: "invalid allowed ip entry"},
	{Err: usecase.ErrInvalidValidityWindow, Status: http.StatusBadRequest, Message: "invalid validity window"},
}

var tokenNotFound = ErrorCase{Err: usecase.ErrTokenNotFound, Status: http.StatusNotFound, Message: "token not found"}

// issue godoc
// @Summary Issue a bearer token
// @Description Creates a token for a service account. The plaintext is returned once.
// @Tags Tokens
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body TokenIssueRequest true "Token request"
// @Success 201 {object} IssuedTokenResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /api/v1/tokens [post]
func (h *TokenHandler) issue(c *gin.Context) {
	var req TokenIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid token payload"))
		return
	}

	caller, ok := callerToken(c)
	if !ok {
		return
	}
	accountID := strings.TrimSpace(req.AccountID)
	if accountID != caller.AccountID {
		c.JSON(http.StatusForbidden, NewErrorResponse(c, "tokens can only be issued for the caller's account"))
		return
	}
	if !allowListPermitted(c, caller, req.AllowedIPs) {
		return
	}

	issued, err := h.tokens.Issue(c.Request.Context(), usecase.IssueTokenInput{
		AccountID:  accountID,
		Variant:    domain.TokenVariant(strings.ToLower(strings.TrimSpace(req.Variant))),
		Name:       strings.TrimSpace(req.Name),
		ExpiresAt:  req.ExpiresAt,
		ValidFrom:  req.ValidFrom,
		ValidTo:    req.ValidTo,
		AllowedIPs: req.AllowedIPs,
	})
	if err != nil {
		RespondWithMappedError(c, err, tokenInputErrors, http.StatusInternalServerError, "failed to issue token")
		return
	}

	c.JSON(http.StatusCreated, IssuedTokenResponse{
		Token: issued.PlainText,
		Data:  toTokenSummary(issued.Token, h.now()),
	})
}

// rotate godoc
// @Summary Rotate a bearer token
// @Description Issues a successor for the token and revokes the original.
// @Tags Tokens
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Token ID"
// @Param request body TokenRotateRequest false "Overrides for the replacement"
// @Success 201 {object} IssuedTokenResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/tokens/{id}/rotate [post]
func (h *TokenHandler) rotate(c *gin.Context) {
	var req TokenRotateRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid rotation payload"))
		return
	}

	caller, target, ok := h.ownedToken(c)
	if !ok {
		return
	}
	allowedIPs := req.AllowedIPs
	if allowedIPs == nil {
		allowedIPs = target.AllowedIPs
	}
	if !allowListPermitted(c, caller, allowedIPs) {
		return
	}

	issued, err := h.tokens.Rotate(c.Request.Context(), usecase.RotateTokenInput{
		TokenID:    target.ID,
		OperatorID: caller.AccountID,
		Name:       req.Name,
		ExpiresAt:  req.ExpiresAt,
		ValidFrom:  req.ValidFrom,
		ValidTo:    req.ValidTo,
		AllowedIPs: req.AllowedIPs,
	})
	if err != nil {
		cases := append([]ErrorCase{
			tokenNotFound,
			{Err: usecase.ErrTokenNotRotatable, Status: http.StatusConflict, Message: "token is revoked or expired"},
		}, tokenInputErrors...)
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to rotate token")
		return
	}

	c.JSON(http.StatusCreated, IssuedTokenResponse{
		Token: issued.PlainText,
		Data:  toTokenSummary(issued.Token, h.now()),
	})
}

// revoke godoc
// @Summary Revoke a bearer token
// @Description Revokes the token. Revoking an already revoked token succeeds.
// @Tags Tokens
// @Produce json
// @Security BearerAuth
// @Param id path string true "Token ID"
// @Success 200 {object} TokenSummary
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/tokens/{id}/revoke [post]
func (h *TokenHandler) revoke(c *gin.Context) {
	_, target, ok := h.ownedToken(c)
	if !ok {
		return
	}

	token, err := h.tokens.Revoke(c.Request.Context(), target.ID)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{tokenNotFound}, http.StatusInternalServerError, "failed to revoke token")
		return
	}

	c.JSON(http.StatusOK, toTokenSummary(*token, h.now()))
}

// lineage godoc
// @Summary Token rotation history
// @Description Lists the token followed by the tokens it replaced, newest first.
// @Tags Tokens
// @Produce json
// @Security BearerAuth
// @Param id path string true "Token ID"
// @Success 200 {object} TokenLineageResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/tokens/{id}/lineage [get]
func (h *TokenHandler) lineage(c *gin.Context) {
	_, target, ok := h.ownedToken(c)
	if !ok {
		return
	}

	chain, err := h.tokens.Lineage(c.Request.Context(), target.ID)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{tokenNotFound}, http.StatusInternalServerError, "failed to load token lineage")
		return
	}

	now := h.now()
	resp := TokenLineageResponse{Tokens: make([]TokenSummary, 0, len(chain))}
	for _, token := range chain {
		resp.Tokens = append(resp.Tokens, toTokenSummary(token, now))
	}
	c.JSON(http.StatusOK, resp)
}

// Me godoc
// @Summary Current caller
// @Description Describes the account and token used to authenticate the request.
// @Tags Tokens
// @Produce json
// @Security BearerAuth
// @Success 200 {object} MeResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/me [get]
func (h *TokenHandler) Me(c *gin.Context) {
	token, ok := middleware.GetBearerToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid token"))
		return
	}

	c.JSON(http.StatusOK, MeResponse{
		AccountID: token.AccountID,
		Token:     toTokenSummary(*token, h.now()),
	})
}

func callerToken(c *gin.Context) (*domain.BearerToken, bool) {
	caller, ok := middleware.GetBearerToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid token"))
		return nil, false
	}
	return caller, true
}

// ownedToken loads the token named by the path and checks that it belongs to
// the caller's account. It writes the error response itself.
func (h *TokenHandler) ownedToken(c *gin.Context) (*domain.BearerToken, *domain.BearerToken, bool) {
	caller, ok := callerToken(c)
	if !ok {
		return nil, nil, false
	}

	target, err := h.tokens.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{tokenNotFound}, http.StatusInternalServerError, "failed to load token")
		return nil, nil, false
	}
	if target.AccountID != caller.AccountID {
		c.JSON(http.StatusForbidden, NewErrorResponse(c, "token belongs to another account"))
		return nil, nil, false
	}
	return caller, target, true
}

// allowListPermitted refuses an allowlist that reaches beyond the caller's own.
func allowListPermitted(c *gin.Context, caller *domain.BearerToken, requested []string) bool {
	if !caller.IsIPRestricted() {
		return true
	}
	normalized, err := security.NormalizeAllowList(requested)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid allowed ip entry"))
		return false
	}
	if !security.AllowListWithin(normalized, caller.AllowedIPs) {
		c.JSON(http.StatusForbidden, NewErrorResponse(c, "allowed ips must stay within the caller's allowlist"))
		return false
	}
	return true
}
