package stripe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/tidwall/gjson"
)

// RequestIDHeader carries the upstream's identifier for a request.
const RequestIDHeader = "Request-Id"

// Empty is the response type of operations whose body carries nothing the
// caller needs. Decoding into Empty ignores the body entirely.
type Empty struct{}

// capturedRequest is the immutable form of a request shared by every attempt.
type capturedRequest struct {
	method string
	url    string
	body   []byte
	header http.Header
}

// newHTTPRequest builds a fresh *http.Request for one attempt from the
// captured bytes.
func (r *capturedRequest) newHTTPRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header = r.header.Clone()
	return httpReq, nil
}

// captureRequest encodes the query and body once and fixes the header set.
// Every attempt is rebuilt from the result, so the body bytes and the
// Idempotency-Key header are identical across attempts.
func (c *Client) captureRequest(req Request, strategy RequestStrategy) (*capturedRequest, error) {
	pr := prepare(req)

	switch pr.Method() {
	case MethodGet, MethodPost, MethodDelete:
	default:
		return nil, &ClientError{Message: fmt.Sprintf("unsupported method %q", pr.Method())}
	}

	u := *c.baseURL
	u.Path = u.Path + pr.Path()
	u.RawPath = ""
	u.RawQuery = pr.Query().Encode()

	header := make(http.Header)
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.secretKey+":")))
	header.Set("Accept", "application/json")
	header.Set("Accept-Encoding", acceptEncoding)
	if c.config.UserAgent != "" {
		header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.APIVersion != "" {
		header.Set("Stripe-Version", c.config.APIVersion)
	}
	if c.config.Account != "" {
		header.Set("Stripe-Account", c.config.Account)
	}
	if key, ok := strategy.IdempotencyKey(); ok {
		header.Set("Idempotency-Key", key)
	}

	body := pr.Body()
	var data []byte
	if body.Kind() != BodyNone {
		data = body.Bytes()
		if data == nil {
			data = []byte{}
		}
		header.Set("Content-Type", body.ContentType())
	}

	return &capturedRequest{
		method: string(pr.Method()),
		url:    u.String(),
		body:   data,
		header: header,
	}, nil
}

// Execute performs req under strategy and decodes a 2xx body into T.
//
// Errors:
//   - *TransportError when no response was received on the last attempt
//   - *UpstreamError for a decoded non-2xx error envelope
//   - *DeserializeError when a body does not match the expected shape
//   - *ClientError for an invalid strategy or request
//   - ctx.Err() when the context is cancelled or its deadline passes
//
// Example:
//
//	customer, err := stripe.Execute[Customer](ctx, client,
//	    stripe.Post("/v1/customers", form),
//	    stripe.Idempotent(orderID, 3),
//	)
func Execute[T any](ctx context.Context, c *Client, req Request, strategy RequestStrategy) (T, error) {
	var out T
	err := c.execute(ctx, req, strategy, func(status int, body []byte) error {
		return decodeInto(&out, status, body)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// ExecuteDefault is Execute with the client's default strategy.
func ExecuteDefault[T any](ctx context.Context, c *Client, req Request) (T, error) {
	return Execute[T](ctx, c, req, c.config.DefaultStrategy)
}

// attemptResult is what one attempt observed.
type attemptResult struct {
	status int
	hint   RetryHint
	body   []byte
	header http.Header
}

// execute runs the attempt loop. decode is called once, for the first 2xx
// response; its error is terminal.
func (c *Client) execute(
	ctx context.Context,
	req Request,
	strategy RequestStrategy,
	decode func(status int, body []byte) error,
) error {
	// Check if parent context is already done before attempting any requests
	select {
	case <-ctx.Done():
		c.logger.Warn("context already done before request (expected condition)",
			"error", ctx.Err())
		return ctx.Err()
	default:
	}

	state := ExecutionState{Seed: rand.Uint64()}
	lastErr := error(&ClientError{Message: "strategy allows no attempts", Cause: ErrInvalidStrategy})

	if Classify(strategy, state, c.config.Backoff).Stop {
		c.stats.recordResult(lastErr)
		return lastErr
	}
	if err := strategy.Validate(); err != nil {
		lastErr = &ClientError{Message: "cannot send request", Cause: err}
		c.stats.recordResult(lastErr)
		return lastErr
	}

	captured, err := c.captureRequest(req, strategy)
	if err != nil {
		c.stats.recordResult(err)
		return err
	}

	// The classifier owns the delay; go-retry only sleeps it.
	var pending time.Duration
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		return pending, false
	})

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		state.Attempts++
		attempt := state.Attempts
		c.stats.recordAttempt(attempt)

		if err := c.waitRateLimit(ctx); err != nil {
			return err
		}

		c.logger.Debug("sending request",
			"method", captured.method,
			"url", captured.url,
			"attempt", attempt,
			"strategy", strategy.String())

		result, err := c.attempt(ctx, captured)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Warn("context done during request (expected condition)",
					"attempt", attempt,
					"error", ctx.Err())
				return ctx.Err()
			}
			lastErr = &TransportError{Cause: err}
			state.LastStatus = 0
			state.LastHint = HintNone
		} else {
			state.LastStatus = result.status
			state.LastHint = result.hint

			if result.status >= 200 && result.status < 300 {
				if attempt > 1 {
					c.logger.Info("request succeeded after retry",
						"attempts", attempt)
				}
				return decode(result.status, result.body)
			}
			lastErr = decodeUpstreamError(result)
		}

		outcome := Classify(strategy, state, c.config.Backoff)
		if outcome.Stop {
			c.logger.Debug("not retrying request",
				"error", lastErr,
				"attempts", attempt,
				"status", state.LastStatus,
				"hint", state.LastHint.String())
			return lastErr
		}

		pending = outcome.Delay
		c.logger.Debug("retrying request after delay",
			"attempt", attempt,
			"delay", pending,
			"status", state.LastStatus,
			"error", lastErr)

		return retry.RetryableError(lastErr)
	})
	if err != nil {
		if !isContextError(err) {
			c.logger.Warn("request failed",
				"method", captured.method,
				"url", captured.url,
				"attempts", state.Attempts,
				"error", err)
		}
		c.stats.recordResult(err)
		return err
	}

	c.stats.recordResult(nil)
	return nil
}

// attempt sends one request and drains the response.
func (c *Client) attempt(ctx context.Context, captured *capturedRequest) (*attemptResult, error) {
	httpReq, err := captured.newHTTPRequest(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.Execute(ctx, httpReq)
	if err != nil {
		return nil, err
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &attemptResult{
		status: resp.StatusCode,
		hint:   ParseRetryHint(resp.Header.Get(ShouldRetryHeader)),
		body:   body,
		header: resp.Header,
	}, nil
}

// errRateLimitDeadline is returned when the limiter refuses a wait that would
// outlive the context deadline.
var errRateLimitDeadline = fmt.Errorf("rate limiter wait exceeds deadline: %w", context.DeadlineExceeded)

// waitRateLimit blocks until the configured limiter admits an attempt.
func (c *Client) waitRateLimit(ctx context.Context) error {
	if c.config.RateLimiter == nil {
		return nil
	}
	if err := c.config.RateLimiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", errRateLimitDeadline, err)
	}
	return nil
}

// isContextError reports whether err is the caller's cancellation or deadline.
func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// decodeInto decodes a 2xx body into out.
func decodeInto[T any](out *T, status int, body []byte) error {
	if _, ok := any(out).(*Empty); ok {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return newDeserializeError(err, "", body, status, body)
	}
	return nil
}

// newDeserializeError wraps a decode failure of data, naming the offending
// field relative to prefix when the decoder reports one. body is the whole
// response body kept for diagnostics.
func newDeserializeError(err error, prefix string, data []byte, status int, body []byte) *DeserializeError {
	path := prefix
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		field := fieldPath(data, typeErr.Field, typeErr.Offset)
		if prefix == "" {
			path = field
		} else {
			path = prefix + "." + field
		}
	}
	return &DeserializeError{
		Cause:      err,
		Path:       path,
		HTTPStatus: status,
		Body:       body,
	}
}

// fieldPath adds array indices to a decoder field path. encoding/json reports
// the second element of data as "data.name"; offset points just past the
// offending value and picks the element, giving "data.1.name".
func fieldPath(data []byte, field string, offset int64) string {
	cur := gjson.ParseBytes(data)
	cur.Index = len(data) - len(cur.Raw)

	names := strings.Split(field, ".")
	path := make([]string, 0, len(names)+2)
	for i, name := range names {
		cur = enterElements(cur, offset, &path)
		path = append(path, name)

		member, ok := memberOf(cur, name)
		if !ok {
			return strings.Join(append(path, names[i+1:]...), ".")
		}
		cur = member
	}
	enterElements(cur, offset, &path)
	return strings.Join(path, ".")
}

// enterElements descends through nested arrays into the element spanning
// offset, appending each index to path.
func enterElements(cur gjson.Result, offset int64, path *[]string) gjson.Result {
	for cur.IsArray() {
		found := false
		cur.ForEach(func(key, value gjson.Result) bool {
			start := int64(value.Index)
			if start < offset && offset <= start+int64(len(value.Raw)) {
				*path = append(*path, strconv.Itoa(int(key.Int())))
				cur = value
				found = true
				return false
			}
			return true
		})
		if !found {
			break
		}
	}
	return cur
}

// memberOf returns the member called name, keeping its position in the body.
func memberOf(obj gjson.Result, name string) (gjson.Result, bool) {
	var member gjson.Result
	found := false
	if !obj.IsObject() {
		return member, false
	}
	obj.ForEach(func(key, value gjson.Result) bool {
		if key.Str == name {
			member = value
			found = true
			return false
		}
		// The decoder falls back to a case-insensitive match.
		if !found && strings.EqualFold(key.Str, name) {
			member = value
			found = true
		}
		return true
	})
	return member, found
}

// decodeUpstreamError decodes the {"error": {...}} envelope of a non-2xx response.
func decodeUpstreamError(result *attemptResult) error {
	if !gjson.ValidBytes(result.body) {
		var syntaxErr error = errors.New("response body is not valid JSON")
		var probe any
		if err := json.Unmarshal(result.body, &probe); err != nil {
			syntaxErr = err
		}
		return newDeserializeError(syntaxErr, "", result.body, result.status, result.body)
	}

	envelope := gjson.GetBytes(result.body, "error")
	if !envelope.IsObject() {
		return &DeserializeError{
			Cause:      errors.New("missing error object"),
			Path:       "error",
			HTTPStatus: result.status,
			Body:       result.body,
		}
	}
	if !envelope.Get("type").Exists() {
		return &DeserializeError{
			Cause:      errors.New("missing error type"),
			Path:       "error.type",
			HTTPStatus: result.status,
			Body:       result.body,
		}
	}

	upstream := &UpstreamError{}
	raw := []byte(envelope.Raw)
	if err := json.Unmarshal(raw, upstream); err != nil {
		return newDeserializeError(err, "error", raw, result.status, result.body)
	}
	upstream.HTTPStatus = result.status
	upstream.RequestID = result.header.Get(RequestIDHeader)
	return upstream
}
