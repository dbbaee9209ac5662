package domain

import "testing"

func TestDegradationPolicy(t *testing.T) {
	cases := []struct {
		input string
		allow bool
	}{
		{input: "", allow: true},
		{input: "lenient", allow: true},
		{input: " STRICT ", allow: false},
		{input: "unknown", allow: true},
	}

	for _, tc := range cases {
		policy := NewDegradationPolicy(ParseDegradationPolicyMode(tc.input))
		if got := policy.AllowsFallback(DegradationReasonFormLimiterUnavailable); got != tc.allow {
			t.Fatalf("mode %q: expected AllowsFallback=%v, got %v", tc.input, tc.allow, got)
		}
	}
}
