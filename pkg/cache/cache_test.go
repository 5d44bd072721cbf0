package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/votesphere/pkg/clienterr"
	"github.com/yourusername/votesphere/pkg/retry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(clock *fakeClock) *Cache {
	return New(Config{
		StaleAfter: time.Minute,
		Retry:      retry.Policy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		Now:        clock.Now,
	}, nil, nil)
}

func TestConcurrentReadsShareOneFetch(t *testing.T) {
	c := newTestCache(&fakeClock{now: time.Unix(1000, 0)})

	var fetches atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		fetches.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := Load(context.Background(), c, Key{"polls"}, fetch)
			assert.NoError(t, err)
			results[i] = got.Value
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fetches.Load())
	assert.Equal(t, []int{42, 42, 42, 42, 42}, results)
}

func TestFreshValueServedWithoutFetch(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestCache(clock)

	calls := 0
	fetch := func(ctx context.Context) (string, error) {
		calls++
		return "v", nil
	}

	first, err := Load(context.Background(), c, Key{"counter"}, fetch)
	require.NoError(t, err)
	assert.False(t, first.IsStale)
	assert.Nil(t, first.Refresh())

	clock.Advance(30 * time.Second)
	second, err := Load(context.Background(), c, Key{"counter"}, fetch)
	require.NoError(t, err)
	assert.Equal(t, first.FetchedAt, second.FetchedAt)
	assert.Equal(t, 1, calls)
}

func TestStaleValueServedWhileRefreshing(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestCache(clock)

	version := 0
	fetch := func(ctx context.Context) (int, error) {
		version++
		return version, nil
	}

	_, err := Load(context.Background(), c, Key{"polls"}, fetch)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	stale, err := Load(context.Background(), c, Key{"polls"}, fetch)
	require.NoError(t, err)
	assert.True(t, stale.IsStale)
	assert.Equal(t, 1, stale.Value)

	ch := stale.Refresh()
	require.NotNil(t, ch)
	select {
	case res := <-ch:
		require.NoError(t, res.Err)
		assert.Equal(t, 2, res.Value)
		assert.Equal(t, clock.Now(), res.FetchedAt)
	case <-time.After(time.Second):
		t.Fatal("refresh did not complete")
	}

	fresh, err := Load(context.Background(), c, Key{"polls"}, fetch)
	require.NoError(t, err)
	assert.False(t, fresh.IsStale)
	assert.Equal(t, 2, fresh.Value)
}

func TestInvalidateIsTargeted(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestCache(clock)
	ctx := context.Background()

	_, err := Load(ctx, c, Key{"polls"}, func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	_, err = Load(ctx, c, Key{"candidates", "pollA"}, func(context.Context) (int, error) { return 2, nil })
	require.NoError(t, err)
	_, err = Load(ctx, c, Key{"candidates", "pollB"}, func(context.Context) (int, error) { return 3, nil })
	require.NoError(t, err)

	c.Invalidate(Key{"polls"}, Key{"candidates", "pollA"})

	_, ok := c.Peek(Key{"polls"})
	assert.False(t, ok)
	_, ok = c.Peek(Key{"candidates", "pollA"})
	assert.False(t, ok)
	_, ok = c.Peek(Key{"candidates", "pollB"})
	assert.True(t, ok)
	assert.Equal(t, 1, c.Len())

	clock.Advance(time.Second)
	again, err := Load(ctx, c, Key{"polls"}, func(context.Context) (int, error) { return 10, nil })
	require.NoError(t, err)
	assert.Equal(t, 10, again.Value)
	assert.Equal(t, clock.Now(), again.FetchedAt)
}

func TestInvalidateDiscardsInFlightResult(t *testing.T) {
	c := newTestCache(&fakeClock{now: time.Unix(1000, 0)})
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan Cached[string], 1)
	go func() {
		got, err := Load(ctx, c, Key{"voter", "x"}, func(context.Context) (string, error) {
			close(started)
			<-release
			return "before-vote", nil
		})
		assert.NoError(t, err)
		done <- got
	}()

	<-started
	c.Invalidate(Key{"voter", "x"})
	close(release)

	// the waiter still receives the value it asked for
	assert.Equal(t, "before-vote", (<-done).Value)

	// but the stale result was not stored
	_, ok := c.Peek(Key{"voter", "x"})
	assert.False(t, ok)

	got, err := Load(ctx, c, Key{"voter", "x"}, func(context.Context) (string, error) { return "after-vote", nil })
	require.NoError(t, err)
	assert.Equal(t, "after-vote", got.Value)
}

func TestFetchRetriesNetworkErrors(t *testing.T) {
	c := newTestCache(&fakeClock{now: time.Unix(1000, 0)})

	calls := 0
	got, err := Load(context.Background(), c, Key{"counter"}, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, clienterr.Network("getAccountInfo", errors.New("reset"))
		}
		return 5, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, got.Value)
	assert.Equal(t, 3, calls)

	permanent := errors.New("decode failed")
	calls = 0
	_, err = Load(context.Background(), c, Key{"poll", "bad"}, func(context.Context) (int, error) {
		calls++
		return 0, permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)

	_, ok := c.Peek(Key{"poll", "bad"})
	assert.False(t, ok, "failed fetches are not cached")
}

func TestMissHonorsCallerContext(t *testing.T) {
	c := newTestCache(&fakeClock{now: time.Unix(1000, 0)})
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := Load(ctx, c, Key{"slow"}, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoadTypeMismatch(t *testing.T) {
	c := newTestCache(&fakeClock{now: time.Unix(1000, 0)})
	_, err := Load(context.Background(), c, Key{"k"}, func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)

	_, err = Load(context.Background(), c, Key{"k"}, func(context.Context) (string, error) { return "", nil })
	assert.Error(t, err)
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "candidates/abc", Key{"candidates", "abc"}.String())
	assert.Equal(t, "polls", Key{"polls"}.String())
}
