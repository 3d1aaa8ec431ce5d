package stripe

import (
	"log/slog"
	"time"
)

// DefaultCircuitBreakerName names the breaker in logs and state callbacks.
const DefaultCircuitBreakerName = "stripe-api"

// CircuitBreakerConfig configures the breaker placed in front of the Stripe
// API by WithCircuitBreaker or NewCircuitBreakerTransport.
type CircuitBreakerConfig struct {
	Name string

	// ReadyToTrip decides, after each failed attempt while closed, whether to
	// open the circuit. Default: at least 3 attempts with 60% failed.
	ReadyToTrip func(counts CircuitBreakerCounts) bool

	// ErrorClassifier decides which attempt failures count against the circuit.
	// Default: transport failures and 500, 502, 503, 504.
	ErrorClassifier CircuitBreakerErrorClassifier

	OnStateChange func(name string, from, to CircuitBreakerState)

	Logger *slog.Logger

	// Interval clears the counts periodically while closed; 0 never clears.
	Interval time.Duration

	// Timeout is how long the circuit stays open before letting probe
	// attempts through.
	Timeout time.Duration

	// MaxRequests bounds the probe attempts while half-open; that many
	// successes close the circuit again.
	MaxRequests uint32
}

// CircuitBreakerOption configures a CircuitBreakerConfig.
type CircuitBreakerOption func(*CircuitBreakerConfig)

// CircuitBreakerCounts mirrors gobreaker's counters for the current interval.
type CircuitBreakerCounts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreakerState is the state of the breaker.
type CircuitBreakerState int

const (
	// StateClosed lets every attempt through.
	StateClosed CircuitBreakerState = iota

	// StateHalfOpen lets up to MaxRequests probe attempts through.
	StateHalfOpen

	// StateOpen rejects attempts as transport failures.
	StateOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateHalfOpen: "half-open",
	StateOpen:     "open",
}

func (s CircuitBreakerState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// WithName sets the breaker name, e.g. per Stripe account.
func WithName(name string) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Name = name
	}
}

// WithMaxRequests sets the number of probe attempts allowed while half-open.
func WithMaxRequests(maxRequests uint32) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.MaxRequests = maxRequests
	}
}

// WithInterval sets how often the closed-state counts are cleared.
func WithInterval(interval time.Duration) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Interval = interval
	}
}

// WithTimeout sets how long the circuit stays open.
//
// Example:
//
//	client, err := stripe.NewClient(key,
//	    stripe.WithCircuitBreaker(stripe.WithTimeout(time.Minute)),
//	)
func WithTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Timeout = timeout
	}
}

// WithReadyToTrip replaces the trip condition.
//
// Example:
//
//	stripe.WithReadyToTrip(func(counts stripe.CircuitBreakerCounts) bool {
//	    return counts.ConsecutiveFailures >= 5
//	})
func WithReadyToTrip(fn func(counts CircuitBreakerCounts) bool) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.ReadyToTrip = fn
	}
}

// WithCircuitBreakerErrorClassifier replaces the failure classifier, e.g.
// &stripe.HTTPStatusClassifier{CircuitTripStatuses: []int{503}}.
func WithCircuitBreakerErrorClassifier(classifier CircuitBreakerErrorClassifier) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.ErrorClassifier = classifier
	}
}

// WithStateChangeHandler registers a callback run on every state change,
// after the change is logged.
func WithStateChangeHandler(fn func(name string, from, to CircuitBreakerState)) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.OnStateChange = fn
	}
}

// WithCircuitBreakerLogger sets the breaker's logger. WithCircuitBreaker
// defaults it to the client logger.
func WithCircuitBreakerLogger(logger *slog.Logger) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Logger = logger
	}
}

// DefaultCircuitBreakerConfig returns the breaker defaults: 3 probe attempts,
// counts cleared every 10s, open for 30s.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:            DefaultCircuitBreakerName,
		MaxRequests:     3,
		Interval:        10 * time.Second,
		Timeout:         30 * time.Second,
		ReadyToTrip:     mostlyFailing,
		ErrorClassifier: DefaultCircuitBreakerErrorClassifier(),
		Logger:          slog.Default(),
	}
}

// mostlyFailing trips once 3 or more attempts have seen at least 60% failures.
func mostlyFailing(counts CircuitBreakerCounts) bool {
	if counts.Requests < 3 {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
}
