package stripe

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the API root used when no base URL is configured.
const DefaultBaseURL = "https://api.stripe.com"

// DefaultBlockingTimeout bounds every call made through the blocking shape.
const DefaultBlockingTimeout = 30 * time.Second

// ClientConfig holds client configuration options.
type ClientConfig struct {
	// Transport sends each attempt. When set, HTTPClient is ignored.
	// Default: HTTPTransport over HTTPClient
	Transport Transport

	// HTTPClient is shared by every call made through the client.
	// Default: &http.Client{}
	HTTPClient *http.Client

	// Logger for request execution.
	// Default: slog.Default()
	Logger *slog.Logger

	// RateLimiter is waited on before every attempt, retries included.
	// Default: nil (no client-side limit)
	RateLimiter *rate.Limiter

	// CircuitBreaker, when non-nil, wraps the transport in a circuit breaker
	// built from these options.
	// Default: nil (disabled)
	CircuitBreaker []CircuitBreakerOption

	// BaseURL is the scheme and host requests are sent to.
	// Default: https://api.stripe.com
	BaseURL string

	// APIVersion is sent as Stripe-Version when set.
	APIVersion string

	// Account is sent as Stripe-Account when set.
	Account string

	// UserAgent is sent as User-Agent.
	// Default: jp-go-stripe
	UserAgent string

	// DefaultStrategy is used by ExecuteDefault, ExecuteBlocking and List
	// callers that do not pick one.
	// Default: Once()
	DefaultStrategy RequestStrategy

	// Backoff is the delay envelope between attempts.
	// Default: 500ms base, 2s cap
	Backoff Backoff

	// BlockingTimeout bounds each call made through the blocking shape.
	// Default: 30 seconds
	BlockingTimeout time.Duration
}

// ClientOption is a functional option for configuring a Client.
type ClientOption func(*ClientConfig)

// WithBaseURL sets the API root, e.g. a local stub server in tests.
//
// Example:
//
//	stripe.WithBaseURL("http://localhost:12111")
func WithBaseURL(baseURL string) ClientOption {
	return func(c *ClientConfig) {
		c.BaseURL = baseURL
	}
}

// WithAPIVersion pins the API version sent in the Stripe-Version header.
func WithAPIVersion(version string) ClientOption {
	return func(c *ClientConfig) {
		c.APIVersion = version
	}
}

// WithAccount sends every request on behalf of a connected account.
func WithAccount(account string) ClientOption {
	return func(c *ClientConfig) {
		c.Account = account
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) ClientOption {
	return func(c *ClientConfig) {
		c.UserAgent = userAgent
	}
}

// WithDefaultStrategy sets the strategy used when the caller does not pass one.
//
// Example:
//
//	stripe.WithDefaultStrategy(stripe.Retry(3))
func WithDefaultStrategy(strategy RequestStrategy) ClientOption {
	return func(c *ClientConfig) {
		c.DefaultStrategy = strategy
	}
}

// WithBlockingTimeout sets the wall-clock budget of blocking calls.
func WithBlockingTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.BlockingTimeout = timeout
	}
}

// WithBackoff sets the delay envelope between attempts.
//
// Example:
//
//	stripe.WithBackoff(time.Second, 8*time.Second)
//	// Delays: ~1s, ~2s, ~4s, ~8s, ~8s
func WithBackoff(base, maxDelay time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Backoff = Backoff{Base: base, Cap: maxDelay}
	}
}

// WithHTTPClient sets the HTTP client used by the default transport.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *ClientConfig) {
		c.HTTPClient = client
	}
}

// WithTransport replaces the transport entirely.
func WithTransport(transport Transport) ClientOption {
	return func(c *ClientConfig) {
		c.Transport = transport
	}
}

// WithLogger sets a custom logger for request execution.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	stripe.WithLogger(logger)
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *ClientConfig) {
		c.Logger = logger
	}
}

// WithRateLimiter limits how fast attempts leave the client.
//
// Example:
//
//	stripe.WithRateLimiter(rate.NewLimiter(rate.Limit(25), 5))
func WithRateLimiter(limiter *rate.Limiter) ClientOption {
	return func(c *ClientConfig) {
		c.RateLimiter = limiter
	}
}

// WithCircuitBreaker wraps the transport in a circuit breaker.
//
// Example:
//
//	stripe.WithCircuitBreaker(
//	    stripe.WithMaxRequests(1),
//	    stripe.WithTimeout(10*time.Second),
//	)
func WithCircuitBreaker(opts ...CircuitBreakerOption) ClientOption {
	return func(c *ClientConfig) {
		c.CircuitBreaker = append([]CircuitBreakerOption{}, opts...)
	}
}

// DefaultClientConfig returns client configuration with sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:         DefaultBaseURL,
		UserAgent:       "jp-go-stripe",
		DefaultStrategy: Once(),
		Backoff:         DefaultBackoff(),
		BlockingTimeout: DefaultBlockingTimeout,
		Logger:          slog.Default(),
	}
}
