package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arklim/passwordless-auth/internal/core/domain"
	"github.com/arklim/passwordless-auth/internal/transport/http/middleware"
	"github.com/arklim/passwordless-auth/internal/usecase"
)

var handlerNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubTokens struct {
	issued   *usecase.IssuedToken
	issueErr error
	rotated  *usecase.IssuedToken
	rotErr   error
	revoked  *domain.BearerToken
	revErr   error
	chain    []domain.BearerToken
	chainErr error
	stored   map[string]domain.BearerToken

	issueInputs  []usecase.IssueTokenInput
	rotateInputs []usecase.RotateTokenInput
}

func (s *stubTokens) Issue(_ context.Context, in usecase.IssueTokenInput) (*usecase.IssuedToken, error) {
	s.issueInputs = append(s.issueInputs, in)
	return s.issued, s.issueErr
}

func (s *stubTokens) Rotate(_ context.Context, in usecase.RotateTokenInput) (*usecase.IssuedToken, error) {
	s.rotateInputs = append(s.rotateInputs, in)
	return s.rotated, s.rotErr
}

func (s *stubTokens) Revoke(context.Context, string) (*domain.BearerToken, error) {
	return s.revoked, s.revErr
}

func (s *stubTokens) Get(_ context.Context, id string) (*domain.BearerToken, error) {
	token, ok := s.stored[id]
	if !ok {
		return nil, usecase.ErrTokenNotFound
	}
	return &token, nil
}

func (s *stubTokens) Lineage(context.Context, string) ([]domain.BearerToken, error) {
	return s.chain, s.chainErr
}

type staticAuthenticator struct {
	token *domain.BearerToken
}

func (a staticAuthenticator) Authenticate(_ context.Context, plaintext, _ string) (*domain.BearerToken, error) {
	if plaintext != "operator-secret" {
		return nil, usecase.ErrTokenInvalidOrExpired
	}
	return a.token, nil
}

// ownedTokens returns stored tokens with the given ids, all held by operator-1.
func ownedTokens(ids ...string) map[string]domain.BearerToken {
	out := make(map[string]domain.BearerToken, len(ids))
	for _, id := range ids {
		out[id] = domain.BearerToken{ID: id, AccountID: "operator-1", Variant: domain.TokenVariantAccess, CreatedAt: handlerNow}
	}
	return out
}

func newTokenRouter(tokens TokenService) *gin.Engine {
	return newTokenRouterFor(tokens, nil)
}

// newTokenRouterFor authenticates every request as an operator-1 token carrying allowedIPs.
func newTokenRouterFor(tokens TokenService, allowedIPs []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.EnrichContext())

	operator := &domain.BearerToken{ID: "op-token", AccountID: "operator-1", Variant: domain.TokenVariantAccess, TokenPrefix: "opera", AllowedIPs: allowedIPs, CreatedAt: handlerNow}
	auth := middleware.RequireBearerToken(staticAuthenticator{token: operator})

	h := NewTokenHandler(tokens).WithClock(func() time.Time { return handlerNow })
	h.RegisterRoutes(r.Group("/api/v1/tokens", auth))
	r.GET("/api/v1/me", auth, h.Me)
	return r
}

func tokenRequest(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer operator-secret")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestTokenIssueCreated(t *testing.T) {
	expires := handlerNow.Add(24 * time.Hour)
	tokens := &stubTokens{issued: &usecase.IssuedToken{
		Token:     domain.BearerToken{ID: "tok-1", AccountID: "operator-1", Variant: domain.TokenVariantAccess, TokenPrefix: "AbCdE", ExpiresAt: &expires, CreatedAt: handlerNow},
		PlainText: "AbCdEfull-secret",
	}}
	r := newTokenRouter(tokens)

	rr := tokenRequest(r, http.MethodPost, "/api/v1/tokens", TokenIssueRequest{
		AccountID:  "operator-1",
		Variant:    " ACCESS ",
		Name:       "ci",
		AllowedIPs: []string{"10.0.0.0/24"},
	})

	require.Equal(t, http.StatusCreated, rr.Code)
	require.Len(t, tokens.issueInputs, 1)
	assert.Equal(t, domain.TokenVariantAccess, tokens.issueInputs[0].Variant)
	assert.Equal(t, []string{"10.0.0.0/24"}, tokens.issueInputs[0].AllowedIPs)

	var body IssuedTokenResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "AbCdEfull-secret", body.Token)
	assert.Equal(t, "AbCdE", body.Data.Prefix)
	assert.Equal(t, domain.TokenStatusActive, body.Data.Status)
}

func TestTokenIssueMapsValidationErrors(t *testing.T) {
	cases := map[error]int{
		usecase.ErrInvalidAccountType:    http.StatusUnprocessableEntity,
		usecase.ErrInvalidAllowedIP:      http.StatusBadRequest,
		usecase.ErrInvalidValidityWindow: http.StatusBadRequest,
		usecase.ErrInvalidTokenVariant:   http.StatusBadRequest,
	}

	for cause, status := range cases {
		r := newTokenRouter(&stubTokens{issueErr: cause})
		rr := tokenRequest(r, http.MethodPost, "/api/v1/tokens", TokenIssueRequest{AccountID: "operator-1"})
		assert.Equal(t, status, rr.Code, cause.Error())
	}
}

func TestTokenRoutesRequireBearer(t *testing.T) {
	r := newTokenRouter(&stubTokens{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tokens/tok-1/revoke", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestTokenRotatePassesOperator(t *testing.T) {
	tokens := &stubTokens{stored: ownedTokens("tok-1"), rotated: &usecase.IssuedToken{
		Token:     domain.BearerToken{ID: "tok-2", AccountID: "operator-1", Variant: domain.TokenVariantAccess, TokenPrefix: "XyZ12", CreatedAt: handlerNow},
		PlainText: "XyZ12secret",
	}}
	r := newTokenRouter(tokens)

	rr := tokenRequest(r, http.MethodPost, "/api/v1/tokens/tok-1/rotate", nil)

	require.Equal(t, http.StatusCreated, rr.Code)
	require.Len(t, tokens.rotateInputs, 1)
	assert.Equal(t, "tok-1", tokens.rotateInputs[0].TokenID)
	assert.Equal(t, "operator-1", tokens.rotateInputs[0].OperatorID)
	assert.Nil(t, tokens.rotateInputs[0].Name)
}

func TestTokenRotateErrors(t *testing.T) {
	r := newTokenRouter(&stubTokens{stored: ownedTokens("tok-1"), rotErr: usecase.ErrTokenNotRotatable})
	rr := tokenRequest(r, http.MethodPost, "/api/v1/tokens/tok-1/rotate", TokenRotateRequest{})
	assert.Equal(t, http.StatusConflict, rr.Code)

	r = newTokenRouter(&stubTokens{})
	rr = tokenRequest(r, http.MethodPost, "/api/v1/tokens/missing/rotate", TokenRotateRequest{})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestTokenRevokeReportsStatus(t *testing.T) {
	revokedAt := handlerNow.Add(-time.Minute)
	r := newTokenRouter(&stubTokens{
		stored:  ownedTokens("tok-1"),
		revoked: &domain.BearerToken{ID: "tok-1", AccountID: "operator-1", Variant: domain.TokenVariantAccess, RevokedAt: &revokedAt},
	})

	rr := tokenRequest(r, http.MethodPost, "/api/v1/tokens/tok-1/revoke", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var body TokenSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, domain.TokenStatusRevoked, body.Status)
}

func TestTokenLineage(t *testing.T) {
	prev := "tok-1"
	r := newTokenRouter(&stubTokens{stored: ownedTokens("tok-2"), chain: []domain.BearerToken{
		{ID: "tok-2", Variant: domain.TokenVariantAccess, RotatedFromTokenID: &prev},
		{ID: "tok-1", Variant: domain.TokenVariantAccess},
	}})

	rr := tokenRequest(r, http.MethodGet, "/api/v1/tokens/tok-2/lineage", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var body TokenLineageResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Tokens, 2)
	assert.Equal(t, "tok-2", body.Tokens[0].ID)
	assert.Equal(t, "tok-1", body.Tokens[1].ID)
}

func TestMeDescribesCaller(t *testing.T) {
	r := newTokenRouter(&stubTokens{})

	rr := tokenRequest(r, http.MethodGet, "/api/v1/me", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var body MeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "operator-1", body.AccountID)
	assert.Equal(t, "op-token", body.Token.ID)
}

func TestTokenRotateAcceptsEmptyChunkedBody(t *testing.T) {
	tokens := &stubTokens{stored: ownedTokens("tok-1"), rotated: &usecase.IssuedToken{
		Token:     domain.BearerToken{ID: "tok-2", AccountID: "operator-1", Variant: domain.TokenVariantAccess, CreatedAt: handlerNow},
		PlainText: "secret",
	}}
	r := newTokenRouter(tokens)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tokens/tok-1/rotate", strings.NewReader(""))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	req.Header.Set("Authorization", "Bearer operator-secret")
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Len(t, tokens.rotateInputs, 1)
	assert.Nil(t, tokens.rotateInputs[0].AllowedIPs)

	rr = tokenRequest(r, http.MethodPost, "/api/v1/tokens/tok-1/rotate", "{not json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTokenRoutesRejectOtherAccounts(t *testing.T) {
	foreign := map[string]domain.BearerToken{
		"tok-9": {ID: "tok-9", AccountID: "svc-other", Variant: domain.TokenVariantAccess, CreatedAt: handlerNow},
	}
	tokens := &stubTokens{stored: foreign}
	r := newTokenRouter(tokens)

	rr := tokenRequest(r, http.MethodPost, "/api/v1/tokens", TokenIssueRequest{AccountID: "svc-other"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = tokenRequest(r, http.MethodPost, "/api/v1/tokens/tok-9/rotate", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = tokenRequest(r, http.MethodPost, "/api/v1/tokens/tok-9/revoke", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = tokenRequest(r, http.MethodGet, "/api/v1/tokens/tok-9/lineage", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = tokenRequest(r, http.MethodPost, "/api/v1/tokens/missing/revoke", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	assert.Empty(t, tokens.issueInputs)
	assert.Empty(t, tokens.rotateInputs)
}

func TestRestrictedCallerCannotWidenAllowList(t *testing.T) {
	stored := ownedTokens("tok-1", "tok-open")
	restricted := stored["tok-1"]
	restricted.AllowedIPs = []string{"10.0.0.0/24"}
	stored["tok-1"] = restricted

	tokens := &stubTokens{
		stored:  stored,
		issued:  &usecase.IssuedToken{Token: domain.BearerToken{ID: "tok-new", AccountID: "operator-1", Variant: domain.TokenVariantAccess, CreatedAt: handlerNow}},
		rotated: &usecase.IssuedToken{Token: domain.BearerToken{ID: "tok-next", AccountID: "operator-1", Variant: domain.TokenVariantAccess, CreatedAt: handlerNow}},
	}
	r := newTokenRouterFor(tokens, []string{"10.0.0.0/24"})

	forbidden := []struct {
		name string
		path string
		body any
	}{
		{"issue without allowlist", "/api/v1/tokens", TokenIssueRequest{AccountID: "operator-1"}},
		{"issue with wider cidr", "/api/v1/tokens", TokenIssueRequest{AccountID: "operator-1", AllowedIPs: []string{"10.0.0.0/8"}}},
		{"rotate clearing allowlist", "/api/v1/tokens/tok-1/rotate", map[string]any{"allowed_ips": []string{}}},
		{"rotate to outside address", "/api/v1/tokens/tok-1/rotate", map[string]any{"allowed_ips": []string{"192.0.2.1"}}},
		{"rotate inheriting open allowlist", "/api/v1/tokens/tok-open/rotate", nil},
	}
	for _, tc := range forbidden {
		rr := tokenRequest(r, http.MethodPost, tc.path, tc.body)
		assert.Equal(t, http.StatusForbidden, rr.Code, tc.name)
	}
	require.Empty(t, tokens.issueInputs)
	require.Empty(t, tokens.rotateInputs)

	rr := tokenRequest(r, http.MethodPost, "/api/v1/tokens", TokenIssueRequest{AccountID: "operator-1", AllowedIPs: []string{"10.0.0.7"}})
	assert.Equal(t, http.StatusCreated, rr.Code)

	rr = tokenRequest(r, http.MethodPost, "/api/v1/tokens/tok-1/rotate", nil)
	assert.Equal(t, http.StatusCreated, rr.Code)
	require.Len(t, tokens.rotateInputs, 1)

	rr = tokenRequest(r, http.MethodPost, "/api/v1/tokens", TokenIssueRequest{AccountID: "operator-1", AllowedIPs: []string{"bogus"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
