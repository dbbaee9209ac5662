package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/passwordless-auth/internal/core/port"
)

// AuthMetricsOptions configures the challenge and token collectors.
type AuthMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
}

// AuthMetrics implements port.AuthMetrics with Prometheus counters.
type AuthMetrics struct {
	ChallengesIssued    prometheus.Counter
	Verifications       *prometheus.CounterVec
	RateLimited         *prometheus.CounterVec
	TokenAuthFailures   *prometheus.CounterVec
	TokensIssued        *prometheus.CounterVec
	TokensRotated       prometheus.Counter
	MailEnqueueFailures *prometheus.CounterVec
	ChallengesPruned    prometheus.Counter
}

var _ port.AuthMetrics = (*AuthMetrics)(nil)

// NewAuthMetrics registers the collectors, reusing existing ones on re-registration.
func NewAuthMetrics(opts AuthMetricsOptions) (*AuthMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "auth"
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var err error
	m := &AuthMetrics{}

	if m.ChallengesIssued, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "challenge",
		Name:      "issued_total",
		Help:      "Login challenges created.",
	})); err != nil {
		return nil, err
	}

	if m.Verifications, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "challenge",
		Name:      "verifications_total",
		Help:      "Login code verification attempts partitioned by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}

	if m.RateLimited, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "challenge",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by a rate limiter partitioned by scope.",
	}, []string{"scope"})); err != nil {
		return nil, err
	}

	if m.ChallengesPruned, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "challenge",
		Name:      "pruned_total",
		Help:      "Challenges deleted by the retention sweep.",
	})); err != nil {
		return nil, err
	}

	if m.TokenAuthFailures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "token",
		Name:      "auth_failures_total",
		Help:      "Bearer token authentication failures partitioned by reason.",
	}, []string{"reason"})); err != nil {
		return nil, err
	}

	if m.TokensIssued, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "token",
		Name:      "issued_total",
		Help:      "Bearer tokens issued partitioned by variant.",
	}, []string{"variant"})); err != nil {
		return nil, err
	}

	if m.TokensRotated, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "token",
		Name:      "rotated_total",
		Help:      "Bearer tokens rotated.",
	})); err != nil {
		return nil, err
	}

	if m.MailEnqueueFailures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mail",
		Name:      "enqueue_failures_total",
		Help:      "Mail messages that could not be handed to the queue partitioned by kind.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}

	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return c, fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(C)
		if !ok {
			return c, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return c, nil
}

func (m *AuthMetrics) IncChallengeIssued() {
	m.ChallengesIssued.Inc()
}

func (m *AuthMetrics) IncVerification(outcome string) {
	m.Verifications.WithLabelValues(outcome).Inc()
}

func (m *AuthMetrics) IncRateLimited(scope string) {
	m.RateLimited.WithLabelValues(scope).Inc()
}

func (m *AuthMetrics) IncTokenAuthFailure(reason string) {
	m.TokenAuthFailures.WithLabelValues(reason).Inc()
}

func (m *AuthMetrics) IncTokenIssued(variant string) {
	m.TokensIssued.WithLabelValues(variant).Inc()
}

func (m *AuthMetrics) IncTokenRotated() {
	m.TokensRotated.Inc()
}

func (m *AuthMetrics) IncMailEnqueueFailure(kind string) {
	m.MailEnqueueFailures.WithLabelValues(kind).Inc()
}

func (m *AuthMetrics) AddChallengesPruned(count int64) {
	if count > 0 {
		m.ChallengesPruned.Add(float64(count))
	}
}
