package stripe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	jperrors "github.com/JohnPlummer/jp-go-errors"
	"github.com/sony/gobreaker/v2"
)

// errServerFailure marks a 5xx response when it is reported to gobreaker.
var errServerFailure = errors.New("upstream server failure")

// defaultTripStatuses are the upstream statuses that count against the circuit
// unless a classifier says otherwise.
var defaultTripStatuses = []int{
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// CircuitBreakerErrorClassifier determines whether an error should trip the circuit breaker.
// Implement this interface to customize circuit breaker behavior.
type CircuitBreakerErrorClassifier interface {
	// ShouldTripCircuit returns true if the error represents a failure serious enough
	// to open the circuit breaker and stop requests temporarily.
	ShouldTripCircuit(err error) bool
}

// HTTPStatusClassifier trips the circuit on transport failures and on the
// configured HTTP statuses.
type HTTPStatusClassifier struct {
	// CircuitTripStatuses lists HTTP status codes that should trip the circuit breaker.
	// Defaults to 500, 502, 503, 504 if nil.
	CircuitTripStatuses []int
}

// NewHTTPStatusClassifier creates a new HTTPStatusClassifier with default status code mappings.
func NewHTTPStatusClassifier() *HTTPStatusClassifier {
	return &HTTPStatusClassifier{
		CircuitTripStatuses: slices.Clone(defaultTripStatuses),
	}
}

// ShouldTripCircuit implements CircuitBreakerErrorClassifier.
// Rate limits, client errors and caller cancellation never trip the circuit.
func (c *HTTPStatusClassifier) ShouldTripCircuit(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, jperrors.ErrRateLimited) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	statusCode := StatusCodeOf(err)
	if statusCode == 0 {
		// No response at all: network trouble
		return true
	}

	return containsStatus(c.getCircuitTripStatuses(), statusCode)
}

// getCircuitTripStatuses returns the configured circuit trip statuses or defaults.
func (c *HTTPStatusClassifier) getCircuitTripStatuses() []int {
	if c.CircuitTripStatuses != nil {
		return c.CircuitTripStatuses
	}
	return defaultTripStatuses
}

// DefaultCircuitBreakerErrorClassifier trips on transport failures and 5xx
// responses, but not on rate limits or 4xx responses.
func DefaultCircuitBreakerErrorClassifier() CircuitBreakerErrorClassifier {
	return NewHTTPStatusClassifier()
}

// CircuitBreakerTransport wraps a Transport with circuit breaker functionality.
// It tracks failures and opens the circuit when too many failures occur,
// rejecting attempts without reaching the upstream. A rejected attempt
// surfaces to the executor as a transport failure.
type CircuitBreakerTransport struct {
	next       Transport
	cb         *gobreaker.CircuitBreaker[*http.Response]
	logger     *slog.Logger
	classifier CircuitBreakerErrorClassifier
}

var _ Transport = (*CircuitBreakerTransport)(nil)

// NewCircuitBreakerTransport creates a circuit breaker around next.
//
// Example:
//
//	transport := stripe.NewCircuitBreakerTransport(
//	    stripe.NewHTTPTransport(nil),
//	    stripe.WithMaxRequests(5),
//	    stripe.WithTimeout(60*time.Second),
//	)
func NewCircuitBreakerTransport(next Transport, opts ...CircuitBreakerOption) *CircuitBreakerTransport {
	config := DefaultCircuitBreakerConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultCircuitBreakerErrorClassifier()
	}

	if config.Name == "" {
		config.Name = DefaultCircuitBreakerName
	}

	classifier := config.ErrorClassifier

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return config.ReadyToTrip(CircuitBreakerCounts(counts))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			config.Logger.Warn("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())

			if config.OnStateChange != nil {
				config.OnStateChange(name, breakerStates[from], breakerStates[to])
			}
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}

			// Don't count errors that shouldn't trip the circuit as failures
			return !classifier.ShouldTripCircuit(err)
		},
	}

	return &CircuitBreakerTransport{
		next:       next,
		cb:         gobreaker.NewCircuitBreaker[*http.Response](settings),
		logger:     config.Logger,
		classifier: classifier,
	}
}

// Execute sends the request through the circuit breaker.
// Open-state rejections are wrapped with jperrors types:
//   - gobreaker.ErrOpenState becomes a jperrors circuit breaker error in state "open"
//   - gobreaker.ErrTooManyRequests becomes one in state "half-open"
func (t *CircuitBreakerTransport) Execute(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := t.cb.Execute(func() (*http.Response, error) {
		resp, err := t.next.Execute(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			// Report the failure to gobreaker but hand the response back.
			return resp, NewStatusCodeError(resp.StatusCode, errServerFailure)
		}
		return resp, nil
	})
	if err != nil {
		var statusErr *StatusCodeError
		if errors.As(err, &statusErr) && resp != nil {
			return resp, nil
		}

		switch {
		case errors.Is(err, gobreaker.ErrOpenState):
			counts := t.cb.Counts()
			t.logger.Warn("circuit breaker is open, request rejected",
				"error", err,
				"state", t.cb.State(),
				"counts", counts)
			return nil, jperrors.NewCircuitBreakerError(
				"request rejected",
				"execute",
				"open",
				jperrors.WithCause(err),
				jperrors.WithCounts(CircuitBreakerCounts(counts).circuitCounts()),
			)
		case errors.Is(err, gobreaker.ErrTooManyRequests):
			counts := t.cb.Counts()
			t.logger.Debug("circuit breaker in half-open state, too many requests",
				"error", err)
			return nil, jperrors.NewCircuitBreakerError(
				"too many requests in half-open state",
				"execute",
				"half-open",
				jperrors.WithCause(err),
				jperrors.WithCounts(CircuitBreakerCounts(counts).circuitCounts()),
			)
		default:
			t.logger.Debug("request failed through circuit breaker",
				"error", err,
				"should_trip", t.classifier.ShouldTripCircuit(err))
		}
		return nil, err
	}

	return resp, nil
}

// State returns the current state of the circuit breaker.
func (t *CircuitBreakerTransport) State() CircuitBreakerState {
	return breakerStates[t.cb.State()]
}

// Counts returns the current counts of the circuit breaker.
func (t *CircuitBreakerTransport) Counts() CircuitBreakerCounts {
	return CircuitBreakerCounts(t.cb.Counts())
}

// GetHealth reports the breaker for readiness checks. A half-open circuit is
// still healthy: probe attempts reach the API.
func (t *CircuitBreakerTransport) GetHealth() HealthStatus {
	return newHealthStatus(t.State(), t.Counts())
}

// breakerStates maps gobreaker states onto the exported enum.
var breakerStates = map[gobreaker.State]CircuitBreakerState{
	gobreaker.StateClosed:   StateClosed,
	gobreaker.StateHalfOpen: StateHalfOpen,
	gobreaker.StateOpen:     StateOpen,
}

func (c CircuitBreakerCounts) circuitCounts() jperrors.CircuitCounts {
	return jperrors.CircuitCounts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}
