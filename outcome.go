package stripe

import (
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ShouldRetryHeader is the response header the upstream uses to override the
// status-based retry decision.
const ShouldRetryHeader = "Stripe-Should-Retry"

// RetryHint is the tri-state value of the Stripe-Should-Retry header.
type RetryHint int

const (
	// HintNone means the server did not send the header.
	HintNone RetryHint = iota

	// HintRetry means the server sent Stripe-Should-Retry: true.
	HintRetry

	// HintNoRetry means the server sent Stripe-Should-Retry: false.
	HintNoRetry
)

// String returns the string representation of the hint.
func (h RetryHint) String() string {
	switch h {
	case HintRetry:
		return "retry"
	case HintNoRetry:
		return "no-retry"
	default:
		return "none"
	}
}

// ParseRetryHint parses a Stripe-Should-Retry header value.
// Missing or unparseable values yield HintNone.
func ParseRetryHint(value string) RetryHint {
	value = strings.TrimSpace(value)
	if value == "" {
		return HintNone
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return HintNone
	}
	if b {
		return HintRetry
	}
	return HintNoRetry
}

// retryableStatuses lists the statuses retried when the server is silent.
var retryableStatuses = []int{
	http.StatusConflict,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// IsRetryableStatus reports whether status is in the retryable status set.
func IsRetryableStatus(status int) bool {
	return containsStatus(retryableStatuses, status)
}

// ExecutionState is the per-call state the classifier reads.
type ExecutionState struct {
	// Attempts is the number of attempts made so far.
	Attempts int

	// LastStatus is the HTTP status of the last response, or 0 when no
	// response was received (transport failure, or before the first attempt).
	LastStatus int

	// LastHint is the Stripe-Should-Retry value of the last response.
	LastHint RetryHint

	// Seed drives the deterministic jitter of this call.
	Seed uint64
}

// Outcome is the classifier's decision before an attempt.
type Outcome struct {
	// Stop ends the loop; the caller sees the last recorded error.
	Stop bool

	// Delay is how long to wait before the next attempt. Only meaningful when
	// HasDelay is true.
	Delay    time.Duration
	HasDelay bool
}

// stop is the terminal outcome.
var stop = Outcome{Stop: true}

// Backoff is the delay envelope between attempts.
type Backoff struct {
	// Base is the delay before the second attempt.
	// Default: 500 milliseconds
	Base time.Duration

	// Cap bounds every delay.
	// Default: 2 seconds
	Cap time.Duration
}

// DefaultBackoff returns the backoff envelope with default values.
func DefaultBackoff() Backoff {
	return Backoff{
		Base: 500 * time.Millisecond,
		Cap:  2 * time.Second,
	}
}

// Delay returns the wait before retry k (1-indexed): min(Base*2^(k-1), Cap),
// reduced by up to 10% of jitter drawn deterministically from seed and k.
// The result never exceeds Cap and k <= 0 yields no wait.
func (b Backoff) Delay(k int, seed uint64) time.Duration {
	if k <= 0 || b.Base <= 0 {
		return 0
	}

	d := b.Base
	for i := 1; i < k; i++ {
		if b.Cap > 0 && d >= b.Cap {
			break
		}
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
	}
	if b.Cap > 0 && d > b.Cap {
		d = b.Cap
	}

	jitterMax := int64(d / 10)
	if jitterMax <= 0 {
		return d
	}
	r := rand.New(rand.NewPCG(seed, uint64(k)))
	return d - time.Duration(r.Int64N(jitterMax))
}

// Classify decides whether another attempt should be made.
//
// Rules, in order:
//  1. Once with at least one attempt made stops.
//  2. Reaching the strategy's max attempts stops.
//  3. Stripe-Should-Retry: false stops, whatever the strategy.
//  4. The first attempt proceeds without delay.
//  5. A transport failure, a retryable status, or Stripe-Should-Retry: true
//     continues after the backoff delay for this attempt.
//  6. Anything else stops.
func Classify(strategy RequestStrategy, state ExecutionState, backoff Backoff) Outcome {
	if strategy.Kind() == StrategyOnce && state.Attempts >= 1 {
		return stop
	}
	if state.Attempts >= strategy.MaxAttempts() {
		return stop
	}
	if state.LastHint == HintNoRetry {
		return stop
	}
	if state.Attempts == 0 {
		return Outcome{}
	}

	if state.LastStatus == 0 || IsRetryableStatus(state.LastStatus) || state.LastHint == HintRetry {
		return Outcome{
			Delay:    backoff.Delay(state.Attempts, state.Seed),
			HasDelay: true,
		}
	}

	return stop
}
