// Package binding keeps view state in step with the services: a Query
// re-fetches when its parameter changes and a Live subscription follows the
// selected ticket's message feed.
package binding

import (
	"context"
	"sync"
)

// State is what a view renders from a Query.
type State[T any] struct {
	Data    T
	Loading bool
	Err     error
}

// Query caches the result of fetch for the last parameter it was given.
type Query[P comparable, T any] struct {
	fetch    func(context.Context, P) (T, error)
	skipZero bool

	mu    sync.Mutex
	param P
	bound bool
	gen   uint64
	state State[T]
}

func New[P comparable, T any](fetch func(context.Context, P) (T, error)) *Query[P, T] {
	return &Query[P, T]{fetch: fetch}
}

// SkipZero makes the zero parameter mean "nothing selected": Data is
// cleared and fetch is not called.
func (q *Query[P, T]) SkipZero() *Query[P, T] {
	q.skipZero = true
	return q
}

// Set binds p and fetches if it differs from the bound parameter or nothing
// was fetched yet.
func (q *Query[P, T]) Set(ctx context.Context, p P) State[T] {
	q.mu.Lock()
	if q.bound && q.param == p {
		state := q.state
		q.mu.Unlock()
		return state
	}
	q.param = p
	q.bound = true
	q.mu.Unlock()
	return q.load(ctx)
}

// Refetch fetches the bound parameter again.
func (q *Query[P, T]) Refetch(ctx context.Context) State[T] {
	q.mu.Lock()
	if !q.bound {
		state := q.state
		q.mu.Unlock()
		return state
	}
	q.mu.Unlock()
	return q.load(ctx)
}

func (q *Query[P, T]) State() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Param returns the bound parameter.
func (q *Query[P, T]) Param() P {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.param
}

// Update replaces Data in place, for views that append live rows.
func (q *Query[P, T]) Update(fn func(T) T) State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state.Data = fn(q.state.Data)
	return q.state
}

func (q *Query[P, T]) load(ctx context.Context) State[T] {
	var zero P
	q.mu.Lock()
	q.gen++
	gen := q.gen
	p := q.param
	if q.skipZero && p == zero {
		q.state = State[T]{}
		state := q.state
		q.mu.Unlock()
		return state
	}
	q.state.Loading = true
	q.state.Err = nil
	q.mu.Unlock()

	data, err := q.fetch(ctx, p)

	q.mu.Lock()
	defer q.mu.Unlock()
	// A newer load owns the state.
	if gen != q.gen {
		return q.state
	}
	q.state.Loading = false
	q.state.Err = err
	if err == nil {
		q.state.Data = data
	}
	return q.state
}
