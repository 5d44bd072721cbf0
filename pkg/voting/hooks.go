package voting

import (
	"context"
	"time"

	"github.com/algorand/go-deadlock"

	"github.com/yourusername/votesphere/pkg/cache"
)

// QueryState is what a UI renders for a read
type QueryState[T any] struct {
	Data      T
	IsLoading bool
	IsError   bool
	Error     error
	IsStale   bool
	FetchedAt time.Time
}

// Query wraps a cached read for a UI. Load runs the read; a stale value is
// shown at once and replaced when its background refresh lands.
type Query[T any] struct {
	mu    deadlock.Mutex
	fetch func(ctx context.Context) (cache.Cached[T], error)
	state QueryState[T]
	// gen discards refresh results older than the latest Load
	gen uint64
}

// NewQuery creates a query over fetch, e.g. NewQuery(client.Polls)
func NewQuery[T any](fetch func(ctx context.Context) (cache.Cached[T], error)) *Query[T] {
	return &Query[T]{fetch: fetch}
}

// State returns the current state without loading
func (q *Query[T]) State() QueryState[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Load reads through the cache and returns the resulting state. Data from
// an earlier successful load is kept while loading and on error.
func (q *Query[T]) Load(ctx context.Context) QueryState[T] {
	q.mu.Lock()
	q.gen++
	gen := q.gen
	q.state.IsLoading = true
	q.mu.Unlock()

	cached, err := q.fetch(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.gen {
		return q.state
	}
	q.state.IsLoading = false
	if err != nil {
		q.state.IsError = true
		q.state.Error = err
		return q.state
	}
	q.state = QueryState[T]{Data: cached.Value, IsStale: cached.IsStale, FetchedAt: cached.FetchedAt}
	if ch := cached.Refresh(); ch != nil {
		go q.awaitRefresh(gen, ch)
	}
	return q.state
}

func (q *Query[T]) awaitRefresh(gen uint64, ch <-chan cache.Result[T]) {
	res := <-ch
	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.gen {
		return
	}
	if res.Err != nil {
		// keep showing the stale value
		q.state.Error = res.Err
		return
	}
	q.state = QueryState[T]{Data: res.Value, FetchedAt: res.FetchedAt}
}

// Mutation wraps a write for a UI
type Mutation[P, R any] struct {
	mu      deadlock.Mutex
	run     func(ctx context.Context, params P) (R, error)
	pending int

	// OnSuccess and OnError are called after the write settles
	OnSuccess func(R)
	OnError   func(error)
}

// NewMutation creates a mutation over run, e.g. NewMutation(client.Vote)
func NewMutation[P, R any](run func(ctx context.Context, params P) (R, error)) *Mutation[P, R] {
	return &Mutation[P, R]{run: run}
}

// IsPending reports whether a Mutate call is in progress
func (m *Mutation[P, R]) IsPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending > 0
}

// Mutate runs the write and reports the outcome to the callbacks
func (m *Mutation[P, R]) Mutate(ctx context.Context, params P) (R, error) {
	m.mu.Lock()
	m.pending++
	onSuccess, onError := m.OnSuccess, m.OnError
	m.mu.Unlock()

	res, err := m.run(ctx, params)

	m.mu.Lock()
	m.pending--
	m.mu.Unlock()

	if err != nil {
		if onError != nil {
			onError(err)
		}
		return res, err
	}
	if onSuccess != nil {
		onSuccess(res)
	}
	return res, nil
}
