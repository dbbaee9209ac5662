package usecase

import "github.com/arklim/passwordless-auth/internal/core/port"

type nopMetrics struct{}

var _ port.AuthMetrics = nopMetrics{}

func (nopMetrics) IncChallengeIssued() {}
func (nopMetrics) IncVerification(string) {}
func (nopMetrics) IncRateLimited(string) {}
func (nopMetrics) IncTokenAuthFailure(string) {}
func (nopMetrics) IncTokenIssued(string) {}
func (nopMetrics) IncTokenRotated() {}
func (nopMetrics) IncMailEnqueueFailure(string) {}
func (nopMetrics) AddChallengesPruned(int64) {}

func metricsOrNop(m port.AuthMetrics) port.AuthMetrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
