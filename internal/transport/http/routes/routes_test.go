package routes_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/passwordless-auth/internal/core/domain"
	"github.com/arklim/passwordless-auth/internal/infra/config"
	redisrepo "github.com/arklim/passwordless-auth/internal/repository/redis"
	"github.com/arklim/passwordless-auth/internal/transport/http/middleware"
	httproutes "github.com/arklim/passwordless-auth/internal/transport/http/routes"
	"github.com/arklim/passwordless-auth/internal/usecase"
)

type acceptingLoginCodes struct{}

func (acceptingLoginCodes) SendCode(context.Context, usecase.LoginCodeRequest) error { return nil }
func (acceptingLoginCodes) ResendCode(context.Context, usecase.LoginCodeRequest) error { return nil }
func (acceptingLoginCodes) VerifyCode(context.Context, usecase.VerifyLoginCodeInput) (*domain.Account, error) {
	return nil, usecase.ErrInvalidCode
}

type rejectingAuthenticator struct{}

func (rejectingAuthenticator) Authenticate(context.Context, string, string) (*domain.BearerToken, error) {
	return nil, usecase.ErrTokenInvalidOrExpired
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		App: config.AppSettings{Env: "test"},
		RateLimit: config.RateLimitSettings{
			WindowDuration:       time.Minute,
			LoginFormMaxAttempts: 2,
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, _ := zap.NewDevelopment()

	r := httproutes.Register(httproutes.Dependencies{
		Config: testConfig(),
		Logger: logger,
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	registry := prometheus.NewRegistry()
	metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	r := httproutes.Register(httproutes.Dependencies{
		Config:   testConfig(),
		Logger:   zaptest.NewLogger(t),
		Metrics:  metrics,
		Gatherer: registry,
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "auth_http_requests_total") {
		t.Fatalf("expected http request counter in metrics output")
	}
}

func TestLoginCodeRoutesAreFormLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)

	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := middleware.NewRateLimiter(redisrepo.NewRateLimitRepository(client, "test"), zaptest.NewLogger(t))

	r := httproutes.Register(httproutes.Dependencies{
		Config:      testConfig(),
		Logger:      zaptest.NewLogger(t),
		RateLimiter: limiter,
		Services:    httproutes.ServiceSet{LoginCodes: acceptingLoginCodes{}},
	})

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login-code", bytes.NewBufferString(`{"email":"user@example.com"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.44:5555"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		statuses = append(statuses, w.Code)
	}

	expected := []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}
	for i := range expected {
		if statuses[i] != expected[i] {
			t.Fatalf("request %d: expected %d, got %d", i+1, expected[i], statuses[i])
		}
	}
}

func TestTokenRoutesRequireBearer(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := httproutes.Register(httproutes.Dependencies{
		Config: testConfig(),
		Logger: zaptest.NewLogger(t),
		Services: httproutes.ServiceSet{
			Authenticator: rejectingAuthenticator{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer nope")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
}
