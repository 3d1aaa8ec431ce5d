package stripe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler runs blocking calls under a bounded wall-clock budget.
// There is one per process, created on first use by SharedScheduler and never
// torn down. Calls run on the caller's goroutine; the scheduler only supplies
// the deadline and turns its expiry into a *TimeoutError.
type Scheduler struct {
	base     context.Context
	logger   *slog.Logger
	inFlight atomic.Int64
}

var (
	sharedScheduler     *Scheduler
	sharedSchedulerOnce sync.Once
)

// SharedScheduler returns the process-wide scheduler, creating it on first use.
func SharedScheduler() *Scheduler {
	sharedSchedulerOnce.Do(func() {
		sharedScheduler = &Scheduler{
			base:   context.Background(),
			logger: slog.Default(),
		}
	})
	return sharedScheduler
}

// InFlight returns the number of blocking calls currently running.
func (s *Scheduler) InFlight() int64 {
	return s.inFlight.Load()
}

// Run calls fn with a context that expires after timeout. A non-positive
// timeout uses DefaultBlockingTimeout. When the budget elapses, or a rate
// limiter refuses a wait that would outlive it, Run returns a *TimeoutError.
func (s *Scheduler) Run(timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		timeout = DefaultBlockingTimeout
	}

	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	ctx, cancel := context.WithTimeout(s.base, timeout)
	defer cancel()

	err := fn(ctx)
	if err == nil {
		return nil
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return err
	}

	// Only this budget becomes a TimeoutError. Deadlines of the underlying
	// http.Client stay transport failures.
	budgetSpent := ctx.Err() != nil && errors.Is(err, context.DeadlineExceeded)
	if budgetSpent || errors.Is(err, errRateLimitDeadline) {
		s.logger.Debug("blocking call exceeded its timeout",
			"timeout", timeout,
			"error", err)
		return NewTimeoutError(timeout)
	}
	return err
}

// ExecuteBlocking is the blocking form of Execute. The call is bounded by the
// client's blocking timeout and returns a *TimeoutError when it elapses.
//
// Example:
//
//	balance, err := stripe.ExecuteBlocking[Balance](client,
//	    stripe.Get("/v1/balance"), stripe.Retry(3))
func ExecuteBlocking[T any](c *Client, req Request, strategy RequestStrategy) (T, error) {
	var out T
	err := SharedScheduler().Run(c.config.BlockingTimeout, func(ctx context.Context) error {
		var err error
		out, err = Execute[T](ctx, c, req, strategy)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// ExecuteBlockingDefault is ExecuteBlocking with the client's default strategy.
func ExecuteBlockingDefault[T any](c *Client, req Request) (T, error) {
	return ExecuteBlocking[T](c, req, c.config.DefaultStrategy)
}
