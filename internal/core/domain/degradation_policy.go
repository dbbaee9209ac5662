package domain

import "strings"

// DegradationPolicyMode enumerates how limiter-dependent flows behave when the counter store is unreachable.
type DegradationPolicyMode string

const (
	// DegradationPolicyModeLenient lets requests through when counters cannot be read or written.
	DegradationPolicyModeLenient DegradationPolicyMode = "lenient"
	// DegradationPolicyModeStrict rejects requests whenever counters cannot be confirmed.
	DegradationPolicyModeStrict DegradationPolicyMode = "strict"
)

// DegradationReason names the failure a fallback decision is made for.
type DegradationReason string

const (
	// DegradationReasonFormLimiterUnavailable indicates the per-client form limiter store failed.
	DegradationReasonFormLimiterUnavailable DegradationReason = "form_limiter_unavailable"
)

// DegradationPolicy decides whether a degraded limiter may be bypassed.
type DegradationPolicy struct {
	mode DegradationPolicyMode
}

// NewDegradationPolicy constructs a policy with the provided mode, defaulting to lenient when unspecified.
func NewDegradationPolicy(mode DegradationPolicyMode) DegradationPolicy {
	if mode != DegradationPolicyModeStrict {
		mode = DegradationPolicyModeLenient
	}
	return DegradationPolicy{mode: mode}
}

// ParseDegradationPolicyMode normalises textual input into a supported policy mode.
func ParseDegradationPolicyMode(value string) DegradationPolicyMode {
	if strings.EqualFold(strings.TrimSpace(value), string(DegradationPolicyModeStrict)) {
		return DegradationPolicyModeStrict
	}
	return DegradationPolicyModeLenient
}

// Mode returns the underlying policy mode.
func (p DegradationPolicy) Mode() DegradationPolicyMode {
	return p.mode
}

// AllowsFallback reports whether the request may proceed after the supplied failure.
func (p DegradationPolicy) AllowsFallback(DegradationReason) bool {
	return p.mode != DegradationPolicyModeStrict
}
