package port

// AuthMetrics captures telemetry hooks for challenge and token flows.
type AuthMetrics interface {
	IncChallengeIssued()
	IncVerification(outcome string)
	IncRateLimited(scope string)
	IncTokenAuthFailure(reason string)
	IncTokenIssued(variant string)
	IncTokenRotated()
	IncMailEnqueueFailure(kind string)
	AddChallengesPruned(count int64)
}
