package stripe

// HealthStatus is a JSON-friendly snapshot of the transport circuit breaker,
// suitable for a readiness endpoint. Client.Health reports a closed, healthy
// breaker when none is configured.
type HealthStatus struct {
	// Healthy is false only while the circuit is open and attempts are
	// rejected without reaching the API.
	Healthy bool `json:"healthy"`

	// Status and State both carry the state name: "closed", "half-open" or "open".
	Status string `json:"status"`
	State  string `json:"state"`

	// Counts for the current breaker interval. gobreaker clears them on every
	// state change.
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
}

func newHealthStatus(state CircuitBreakerState, counts CircuitBreakerCounts) HealthStatus {
	return HealthStatus{
		Healthy:              state != StateOpen,
		Status:               state.String(),
		State:                state.String(),
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
	}
}
