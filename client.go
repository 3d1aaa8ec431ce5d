// Package stripe provides the request execution core of a Stripe API client:
// retry policy, idempotent body capture, typed response decoding, a structured
// error taxonomy and a lazy pagination driver. Calls are context-driven; a
// blocking facade with a bounded wall-clock timeout is provided for callers
// without a context of their own.
//
// It integrates with jp-go-errors for standardized timeout, rate limit and
// circuit breaker errors.
package stripe

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Client holds the configuration and the shared transport used by every call.
// A Client is safe for concurrent use.
//
// Example:
//
//	client, err := stripe.NewClient(os.Getenv("STRIPE_SECRET_KEY"),
//	    stripe.WithDefaultStrategy(stripe.Retry(3)),
//	)
//	if err != nil {
//	    return err
//	}
//
//	customer, err := stripe.Execute[Customer](ctx, client,
//	    stripe.Get("/v1/customers/cus_123"), stripe.Retry(3))
type Client struct {
	secretKey string
	baseURL   *url.URL
	config    *ClientConfig
	transport Transport
	breaker   *CircuitBreakerTransport
	logger    *slog.Logger
	stats     *executorStats
}

// executorStats tracks request execution statistics.
type executorStats struct {
	mu              sync.RWMutex
	totalAttempts   int64
	totalRetries    int64
	totalSuccesses  int64
	totalFailures   int64
	lastAttemptTime time.Time
	lastError       error
}

// NewClient creates a client authenticating with secretKey.
// It returns a *ClientError when the key is empty or the configuration is invalid.
func NewClient(secretKey string, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, &ClientError{Message: "secret key is required"}
	}

	config := DefaultClientConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}

	if config.BlockingTimeout <= 0 {
		config.BlockingTimeout = DefaultBlockingTimeout
	}

	if err := config.DefaultStrategy.Validate(); err != nil {
		return nil, &ClientError{Message: "invalid default strategy", Cause: err}
	}

	baseURL, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, &ClientError{Message: "invalid base URL", Cause: err}
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, &ClientError{
			Message: "invalid base URL",
			Cause:   fmt.Errorf("%q has no scheme or host", config.BaseURL),
		}
	}

	transport := config.Transport
	if transport == nil {
		transport = NewHTTPTransport(config.HTTPClient)
	}

	var breaker *CircuitBreakerTransport
	if config.CircuitBreaker != nil {
		cbOpts := append([]CircuitBreakerOption{WithCircuitBreakerLogger(config.Logger)}, config.CircuitBreaker...)
		breaker = NewCircuitBreakerTransport(transport, cbOpts...)
		transport = breaker
	}

	return &Client{
		secretKey: secretKey,
		baseURL:   baseURL,
		config:    config,
		transport: transport,
		breaker:   breaker,
		logger:    config.Logger,
		stats:     &executorStats{},
	}, nil
}

// DefaultStrategy returns the strategy used by ExecuteDefault.
func (c *Client) DefaultStrategy() RequestStrategy {
	return c.config.DefaultStrategy
}

// Health returns the circuit breaker health. Without a circuit breaker the
// client always reports healthy.
func (c *Client) Health() HealthStatus {
	if c.breaker == nil {
		return newHealthStatus(StateClosed, CircuitBreakerCounts{})
	}
	return c.breaker.GetHealth()
}

// Stats holds statistics about request execution.
type Stats struct {
	// TotalAttempts is the total number of attempts made (including initial and retries)
	TotalAttempts int64

	// TotalRetries is the number of retry attempts (not including initial attempts)
	TotalRetries int64

	// TotalSuccesses is the number of calls that returned a decoded value
	TotalSuccesses int64

	// TotalFailures is the number of calls that returned an error
	TotalFailures int64

	// LastAttemptTime is the time of the last attempt
	LastAttemptTime time.Time

	// LastError is the last error returned to a caller (if any)
	LastError error
}

// Stats returns a snapshot of the client's execution statistics.
// This method is thread-safe.
func (c *Client) Stats() Stats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()

	return Stats{
		TotalAttempts:   c.stats.totalAttempts,
		TotalRetries:    c.stats.totalRetries,
		TotalSuccesses:  c.stats.totalSuccesses,
		TotalFailures:   c.stats.totalFailures,
		LastAttemptTime: c.stats.lastAttemptTime,
		LastError:       c.stats.lastError,
	}
}

func (s *executorStats) recordAttempt(attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalAttempts++
	if attempt > 1 {
		s.totalRetries++
	}
	s.lastAttemptTime = time.Now()
}

func (s *executorStats) recordResult(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.totalSuccesses++
		return
	}
	s.totalFailures++
	s.lastError = err
}

