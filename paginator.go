package stripe

import (
	"context"
	"fmt"
	"iter"
	"net/http"
)

// StartingAfterParam is the cursor parameter set on follow-up page requests.
const StartingAfterParam = "starting_after"

// listObject is the object tag of a list envelope.
const listObject = "list"

// Page is one page of a list endpoint.
type Page[T any] struct {
	Object  string `json:"object"`
	Data    []T    `json:"data"`
	HasMore bool   `json:"has_more"`
	URL     string `json:"url"`
}

// Identifiable is implemented by list elements. The id of the last element
// of a page is the cursor for the next page.
type Identifiable interface {
	GetID() string
}

// Paginator lazily walks a list endpoint, fetching the next page only after
// every element of the current one has been consumed. A Paginator is not safe
// for concurrent use and cannot be restarted.
//
// Example:
//
//	it := stripe.List[Customer](client, stripe.Get("/v1/customers"), stripe.Retry(3))
//	for it.Next(ctx) {
//	    fmt.Println(it.Current().ID)
//	}
//	if err := it.Err(); err != nil {
//	    return err
//	}
type Paginator[T Identifiable] struct {
	client   *Client
	req      *PreparedRequest
	strategy RequestStrategy

	page    *Page[T]
	items   []T
	index   int
	current T
	lastID  string
	fetched bool
	done    bool
	err     error
}

// List returns a paginator over the list endpoint described by req. Nothing
// is fetched until the first call to Next.
func List[T Identifiable](c *Client, req Request, strategy RequestStrategy) *Paginator[T] {
	return &Paginator[T]{
		client:   c,
		req:      prepare(req),
		strategy: strategy,
	}
}

// Next advances to the next element, fetching a page when the current one is
// exhausted. It returns false at the end of the list or on error; check Err.
func (p *Paginator[T]) Next(ctx context.Context) bool {
	for p.index >= len(p.items) {
		if p.done || p.err != nil {
			return false
		}
		if !p.fetch(ctx) {
			return false
		}
	}

	p.current = p.items[p.index]
	p.index++
	p.lastID = p.current.GetID()
	return true
}

// NextBlocking is the blocking form of Next, bounded by the client's blocking
// timeout. An elapsed budget ends the sequence with a *TimeoutError.
func (p *Paginator[T]) NextBlocking() bool {
	var ok bool
	err := SharedScheduler().Run(p.client.config.BlockingTimeout, func(ctx context.Context) error {
		ok = p.Next(ctx)
		return p.err
	})
	if err != nil {
		p.err = err
		return false
	}
	return ok
}

// Current returns the element Next moved to.
func (p *Paginator[T]) Current() T {
	return p.current
}

// Err returns the error that ended the sequence, if any.
func (p *Paginator[T]) Err() error {
	return p.err
}

// Page returns the most recently fetched page, or nil before the first fetch.
func (p *Paginator[T]) Page() *Page[T] {
	return p.page
}

// All returns the remaining elements as an iterator. An error is yielded
// once, as the final pair.
//
// Example:
//
//	for customer, err := range it.All(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(customer.ID)
//	}
func (p *Paginator[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for p.Next(ctx) {
			if !yield(p.Current(), nil) {
				return
			}
		}
		if err := p.Err(); err != nil {
			var zero T
			yield(zero, err)
		}
	}
}

// fetch requests the next page and reports whether the sequence can go on.
func (p *Paginator[T]) fetch(ctx context.Context) bool {
	req := p.req
	if p.fetched {
		query := req.Query()
		query.Set(StartingAfterParam, p.lastID)
		req = req.WithQuery(query)
	}

	page, err := Execute[Page[T]](ctx, p.client, req, p.strategy)
	if err != nil {
		p.err = err
		p.done = true
		return false
	}

	if page.Object != "" && page.Object != listObject {
		p.err = &DeserializeError{
			Cause:      fmt.Errorf("expected object %q, got %q", listObject, page.Object),
			Path:       "object",
			HTTPStatus: http.StatusOK,
		}
		p.done = true
		return false
	}

	p.fetched = true
	p.page = &page
	p.items = page.Data
	p.index = 0

	// Without an element there is no cursor to continue from.
	if !page.HasMore || len(page.Data) == 0 {
		p.done = true
	}
	return true
}
