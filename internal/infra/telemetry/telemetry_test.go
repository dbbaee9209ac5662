package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAuthMetricsRecordsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewAuthMetrics(AuthMetricsOptions{Registerer: reg, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewAuthMetrics returned error: %v", err)
	}

	m.IncChallengeIssued()
	m.IncChallengeIssued()
	m.IncVerification("locked")
	m.IncRateLimited("login-code")
	m.IncTokenAuthFailure("ip_denied")
	m.IncTokenIssued("api")
	m.IncTokenRotated()
	m.IncMailEnqueueFailure("login_code")
	m.AddChallengesPruned(7)
	m.AddChallengesPruned(0)

	if got := testutil.ToFloat64(m.ChallengesIssued); got != 2 {
		t.Fatalf("expected 2 issued challenges, got %v", got)
	}
	if got := testutil.ToFloat64(m.Verifications.WithLabelValues("locked")); got != 1 {
		t.Fatalf("expected 1 locked verification, got %v", got)
	}
	if got := testutil.ToFloat64(m.RateLimited.WithLabelValues("login-code")); got != 1 {
		t.Fatalf("expected 1 rate limited request, got %v", got)
	}
	if got := testutil.ToFloat64(m.TokenAuthFailures.WithLabelValues("ip_denied")); got != 1 {
		t.Fatalf("expected 1 ip denial, got %v", got)
	}
	if got := testutil.ToFloat64(m.TokensIssued.WithLabelValues("api")); got != 1 {
		t.Fatalf("expected 1 api token, got %v", got)
	}
	if got := testutil.ToFloat64(m.TokensRotated); got != 1 {
		t.Fatalf("expected 1 rotation, got %v", got)
	}
	if got := testutil.ToFloat64(m.MailEnqueueFailures.WithLabelValues("login_code")); got != 1 {
		t.Fatalf("expected 1 enqueue failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.ChallengesPruned); got != 7 {
		t.Fatalf("expected 7 pruned challenges, got %v", got)
	}
}

func TestAuthMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewAuthMetrics(AuthMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	second, err := NewAuthMetrics(AuthMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("second registration failed: %v", err)
	}

	first.IncTokenRotated()
	if got := testutil.ToFloat64(second.TokensRotated); got != 1 {
		t.Fatalf("expected shared collector, got %v", got)
	}
}
