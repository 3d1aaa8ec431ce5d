package stripe

import (
	"fmt"
)

// StrategyKind identifies the retry policy carried by a RequestStrategy.
type StrategyKind int

const (
	// StrategyOnce sends exactly one attempt and never retries.
	StrategyOnce StrategyKind = iota

	// StrategyRetry retries retryable outcomes without an idempotency key.
	StrategyRetry

	// StrategyIdempotent retries retryable outcomes and sends the caller's
	// idempotency key on every attempt.
	StrategyIdempotent
)

// String returns the string representation of the strategy kind.
func (k StrategyKind) String() string {
	switch k {
	case StrategyOnce:
		return "once"
	case StrategyRetry:
		return "retry"
	case StrategyIdempotent:
		return "idempotent"
	default:
		return "unknown"
	}
}

// RequestStrategy names the retry policy for a single call.
// A strategy is immutable once constructed; copy it freely.
//
// Example:
//
//	stripe.Once()                          // one attempt
//	stripe.Retry(3)                        // up to 3 attempts
//	stripe.Idempotent("order-1234", 5)     // up to 5 attempts, same Idempotency-Key
type RequestStrategy struct {
	kind        StrategyKind
	maxAttempts int
	key         string
}

// Once returns a strategy that sends exactly one attempt.
func Once() RequestStrategy {
	return RequestStrategy{kind: StrategyOnce, maxAttempts: 1}
}

// Retry returns a strategy that makes up to n attempts on retryable outcomes.
// No idempotency key is attached, so only use it for requests that are safe to
// repeat. A strategy with n < 1 never sends a request; see Validate.
func Retry(n int) RequestStrategy {
	return RequestStrategy{kind: StrategyRetry, maxAttempts: n}
}

// Idempotent returns a strategy that makes up to n attempts and attaches key
// verbatim as the Idempotency-Key header on every attempt. The key is owned by
// the caller; the library never generates one.
func Idempotent(key string, n int) RequestStrategy {
	return RequestStrategy{kind: StrategyIdempotent, maxAttempts: n, key: key}
}

// Kind returns the strategy kind.
func (s RequestStrategy) Kind() StrategyKind {
	return s.kind
}

// MaxAttempts returns the maximum number of attempts, including the first.
func (s RequestStrategy) MaxAttempts() int {
	if s.kind == StrategyOnce {
		return 1
	}
	return s.maxAttempts
}

// IdempotencyKey returns the caller-supplied key, if the strategy carries one.
func (s RequestStrategy) IdempotencyKey() (string, bool) {
	if s.kind != StrategyIdempotent {
		return "", false
	}
	return s.key, true
}

// Validate reports whether the strategy can send at least one request.
// Executing an invalid strategy returns a *ClientError wrapping
// ErrInvalidStrategy without contacting the upstream.
func (s RequestStrategy) Validate() error {
	if s.MaxAttempts() < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidStrategy, s.maxAttempts)
	}
	if s.kind == StrategyIdempotent && s.key == "" {
		return fmt.Errorf("%w: idempotency key must not be empty", ErrInvalidStrategy)
	}
	return nil
}

// String returns a short human-readable description, e.g. "retry(3)".
func (s RequestStrategy) String() string {
	switch s.kind {
	case StrategyOnce:
		return "once"
	case StrategyIdempotent:
		return fmt.Sprintf("idempotent(%q, %d)", s.key, s.maxAttempts)
	default:
		return fmt.Sprintf("%s(%d)", s.kind, s.maxAttempts)
	}
}
