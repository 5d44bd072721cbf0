// Package cache is the keyed read cache in front of ledger queries.
//
// Concurrent reads of one key share a single in-flight fetch. A cached value
// is served immediately; once older than the staleness window it is still
// served, flagged stale, while a background refresh runs. Invalidate drops
// only the named keys, and a fetch that was in flight when its key was
// invalidated never writes its result back.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/algorand/go-deadlock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/yourusername/votesphere/pkg/clienterr"
	"github.com/yourusername/votesphere/pkg/logging"
	"github.com/yourusername/votesphere/pkg/metrics"
	"github.com/yourusername/votesphere/pkg/retry"
)

// Key is an ordered list of parts, e.g. {"candidates", pollAddress}
type Key []string

// String joins the parts with "/"
func (k Key) String() string {
	return strings.Join(k, "/")
}

// Fetcher loads the current value for a key
type Fetcher func(ctx context.Context) (any, error)

// Config configures a Cache
type Config struct {
	// StaleAfter is the age after which a served value triggers a refresh
	StaleAfter time.Duration
	// FetchTimeout bounds one fetch including its retries
	FetchTimeout time.Duration
	// Retry applies to network failures of a fetch
	Retry retry.Policy
	// Now overrides the clock in tests
	Now func() time.Time
}

// DefaultConfig returns the cache defaults
func DefaultConfig() Config {
	return Config{
		StaleAfter:   30 * time.Second,
		FetchTimeout: 30 * time.Second,
		Retry:        retry.DefaultPolicy(),
	}
}

type entry struct {
	value     any
	fetchedAt time.Time
}

// Cache is safe for concurrent use
type Cache struct {
	mu      deadlock.RWMutex
	entries map[string]entry
	// gens counts invalidations per key so late fetch results can be discarded
	gens  map[string]uint64
	group singleflight.Group

	cfg     Config
	log     logrus.FieldLogger
	metrics *metrics.Collector
}

// New creates an empty cache
func New(cfg Config, log logrus.FieldLogger, m *metrics.Collector) *Cache {
	def := DefaultConfig()
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{
		entries: make(map[string]entry),
		gens:    make(map[string]uint64),
		cfg:     cfg,
		log:     logging.OrDiscard(log).WithField("component", "cache"),
		metrics: m,
	}
}

// snapshot is what a completed fetch hands to every waiter
type snapshot struct {
	value     any
	fetchedAt time.Time
}

// lookup is the untyped result of get
type lookup struct {
	value     any
	fetchedAt time.Time
	stale     bool
	refresh   <-chan singleflight.Result
}

func (c *Cache) get(ctx context.Context, key Key, fetch Fetcher) (lookup, error) {
	k := key.String()

	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()

	if ok {
		if c.cfg.Now().Sub(e.fetchedAt) < c.cfg.StaleAfter {
			c.metrics.CacheEvent(metrics.CacheHit)
			return lookup{value: e.value, fetchedAt: e.fetchedAt}, nil
		}
		c.metrics.CacheEvent(metrics.CacheStale)
		c.log.WithField("key", k).Debug("serving stale value, refreshing")
		return lookup{
			value:     e.value,
			fetchedAt: e.fetchedAt,
			stale:     true,
			refresh:   c.start(ctx, k, fetch),
		}, nil
	}

	c.metrics.CacheEvent(metrics.CacheMiss)
	select {
	case res := <-c.start(ctx, k, fetch):
		if res.Err != nil {
			return lookup{}, res.Err
		}
		s := res.Val.(snapshot)
		return lookup{value: s.value, fetchedAt: s.fetchedAt}, nil
	case <-ctx.Done():
		return lookup{}, ctx.Err()
	}
}

// start joins or begins the fetch for k. The fetch runs detached from the
// caller's cancellation since other readers may be waiting on it.
func (c *Cache) start(ctx context.Context, k string, fetch Fetcher) <-chan singleflight.Result {
	c.mu.RLock()
	gen := c.gens[k]
	c.mu.RUnlock()

	fetchCtx := context.WithoutCancel(ctx)
	return c.group.DoChan(k, func() (any, error) {
		ctx, cancel := context.WithTimeout(fetchCtx, c.cfg.FetchTimeout)
		defer cancel()

		c.metrics.CacheEvent(metrics.CacheFetch)
		var value any
		err := retry.Do(ctx, c.cfg.Retry, clienterr.Retryable, func(ctx context.Context, attempt int) error {
			if attempt > 0 {
				c.log.WithFields(logrus.Fields{"key": k, "attempt": attempt}).Debug("retrying fetch")
			}
			v, err := fetch(ctx)
			if err != nil {
				return err
			}
			value = v
			return nil
		})
		if err != nil {
			c.metrics.CacheEvent(metrics.CacheFetchError)
			c.log.WithField("key", k).WithError(err).Warn("fetch failed")
			return nil, err
		}

		s := snapshot{value: value, fetchedAt: c.cfg.Now()}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gens[k] != gen {
			// invalidated while in flight; waiters get the value but it is not kept
			return s, nil
		}
		c.entries[k] = entry{value: s.value, fetchedAt: s.fetchedAt}
		return s, nil
	})
}

// Invalidate drops the given keys. Other keys are untouched.
func (c *Cache) Invalidate(keys ...Key) {
	c.mu.Lock()
	for _, key := range keys {
		k := key.String()
		delete(c.entries, k)
		c.gens[k]++
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.group.Forget(key.String())
		c.metrics.CacheEvent(metrics.CacheInvalidate)
		c.log.WithField("key", key.String()).Debug("invalidated")
	}
}

// Peek reports when key was last fetched, without fetching
func (c *Cache) Peek(key Key) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key.String()]
	return e.fetchedAt, ok
}

// Len returns the number of cached keys
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Result is the outcome of a background refresh
type Result[T any] struct {
	Value     T
	FetchedAt time.Time
	Err       error
}

// Cached is a value served from the cache
type Cached[T any] struct {
	Value     T
	FetchedAt time.Time
	IsStale   bool
	refresh   <-chan singleflight.Result
}

// Refresh returns a channel that yields the background refresh result when
// IsStale is set. It returns nil when no refresh was started.
func (c Cached[T]) Refresh() <-chan Result[T] {
	if c.refresh == nil {
		return nil
	}
	out := make(chan Result[T], 1)
	go func() {
		res := <-c.refresh
		if res.Err != nil {
			out <- Result[T]{Err: res.Err}
			return
		}
		s := res.Val.(snapshot)
		v, err := as[T](s.value)
		out <- Result[T]{Value: v, FetchedAt: s.fetchedAt, Err: err}
	}()
	return out
}

// Load returns the value for key, fetching it on a miss
func Load[T any](ctx context.Context, c *Cache, key Key, fetch func(ctx context.Context) (T, error)) (Cached[T], error) {
	l, err := c.get(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		return Cached[T]{}, err
	}
	v, err := as[T](l.value)
	if err != nil {
		return Cached[T]{}, fmt.Errorf("cache key %s: %w", key, err)
	}
	return Cached[T]{Value: v, FetchedAt: l.fetchedAt, IsStale: l.stale, refresh: l.refresh}, nil
}

func as[T any](v any) (T, error) {
	t, ok := v.(T)
	if !ok && v != nil {
		var zero T
		return zero, fmt.Errorf("cached value has type %T, want %T", v, zero)
	}
	return t, nil
}
