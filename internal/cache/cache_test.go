package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/pluglist-tools/moodle-plugin-lookup/internal/catalog"
	"github.com/stretchr/testify/require"
)

var errUpstream = &catalog.FetchError{StatusCode: 503, Err: errors.New("unexpected status code: 503")}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	data  string
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.data), nil
}

func (f *fakeFetcher) set(data string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = data
	f.err = err
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, backend Backend) (*Cache, *fakeFetcher, *fakeClock) {
	t.Helper()
	f := &fakeFetcher{data: "v1"}
	clock := newFakeClock()
	return New(backend, f, WithClock(clock.Now)), f, clock
}

// runs the contract tests against every backend that needs no network
func forEachBackend(t *testing.T, fn func(t *testing.T, backend Backend)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryBackend())
	})
	t.Run("file", func(t *testing.T) {
		fn(t, NewFileBackend(t.TempDir()))
	})
}

func TestGetFetchesOnEmptyCache(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		c, f, _ := newTestCache(t, backend)
		data, err := c.Get(context.Background())
		require.NoError(t, err)
		require.Equal(t, "v1", string(data))
		require.Equal(t, 1, f.count())
	})
}

func TestGetRespectsTTL(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		c, f, clock := newTestCache(t, backend)
		_, err := c.Get(context.Background())
		require.NoError(t, err)

		f.set("v2", nil)
		clock.Advance(DefaultTTL - time.Second)
		data, err := c.Get(context.Background())
		require.NoError(t, err)
		require.Equal(t, "v1", string(data))
		require.Equal(t, 1, f.count())
	})
}

func TestGetRefreshesAfterExpiry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		c, f, clock := newTestCache(t, backend)
		_, err := c.Get(context.Background())
		require.NoError(t, err)

		f.set("v2", nil)
		clock.Advance(DefaultTTL)
		data, err := c.Get(context.Background())
		require.NoError(t, err)
		require.Equal(t, "v2", string(data))
		require.Equal(t, 2, f.count())

		// the refreshed entry is fresh again
		data, err = c.Get(context.Background())
		require.NoError(t, err)
		require.Equal(t, "v2", string(data))
		require.Equal(t, 2, f.count())
	})
}

func TestGetStaleFallback(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		c, f, clock := newTestCache(t, backend)
		_, err := c.Get(context.Background())
		require.NoError(t, err)

		f.set("", errUpstream)
		clock.Advance(10 * DefaultTTL)
		data, err := c.Get(context.Background())
		require.NoError(t, err)
		require.Equal(t, "v1", string(data))
		require.Equal(t, 2, f.count())

		// the stale entry is kept, every further call tries again exactly once
		_, err = c.Get(context.Background())
		require.NoError(t, err)
		require.Equal(t, 3, f.count())
	})
}

func TestGetFailsWithoutEntry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		c, f, _ := newTestCache(t, backend)
		f.set("", errUpstream)
		_, err := c.Get(context.Background())
		require.Error(t, err)
		require.True(t, errors.Is(err, catalog.ErrFetchFailed))
		require.Equal(t, 1, f.count())
	})
}

func TestInvalidate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		c, f, _ := newTestCache(t, backend)
		ctx := context.Background()

		// invalidating an empty cache is a no-op
		require.NoError(t, c.Invalidate(ctx))

		_, err := c.Get(ctx)
		require.NoError(t, err)
		st, err := c.Status(ctx)
		require.NoError(t, err)
		require.True(t, st.Present)

		require.NoError(t, c.Invalidate(ctx))
		st, err = c.Status(ctx)
		require.NoError(t, err)
		require.False(t, st.Present)

		f.set("v2", nil)
		data, err := c.Get(ctx)
		require.NoError(t, err)
		require.Equal(t, "v2", string(data))
		require.Equal(t, 2, f.count())

		require.NoError(t, c.Invalidate(ctx))
		require.NoError(t, c.Invalidate(ctx))
	})
}

func TestStatus(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		c, f, clock := newTestCache(t, backend)
		ctx := context.Background()

		st, err := c.Status(ctx)
		require.NoError(t, err)
		require.False(t, st.Present)
		require.Equal(t, DefaultTTL, st.TTL)
		require.False(t, st.Valid())
		require.Zero(t, st.NextRefresh())
		require.Equal(t, 0, f.count())

		_, err = c.Get(ctx)
		require.NoError(t, err)
		clock.Advance(20 * time.Minute)

		st, err = c.Status(ctx)
		require.NoError(t, err)
		require.True(t, st.Present)
		require.Equal(t, 20*time.Minute, st.Age)
		require.True(t, st.Valid())
		require.Equal(t, 40*time.Minute, st.NextRefresh())

		again, err := c.Status(ctx)
		require.NoError(t, err)
		require.Equal(t, st, again)
		require.Equal(t, 1, f.count())

		clock.Advance(time.Hour)
		st, err = c.Status(ctx)
		require.NoError(t, err)
		require.True(t, st.Present)
		require.False(t, st.Valid())
		require.Zero(t, st.NextRefresh())
		require.Equal(t, 1, f.count())
	})
}

type loadCountingBackend struct {
	Backend
	mu    sync.Mutex
	loads int
}

func (b *loadCountingBackend) Load(ctx context.Context) (*Entry, error) {
	b.mu.Lock()
	b.loads++
	b.mu.Unlock()
	return b.Backend.Load(ctx)
}

func TestStatusDoesNotReadData(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		counting := &loadCountingBackend{Backend: backend}
		c, _, clock := newTestCache(t, counting)
		ctx := context.Background()

		_, err := backend.Stat(ctx)
		require.ErrorIs(t, err, ErrNoEntry)

		_, err = c.Get(ctx)
		require.NoError(t, err)
		clock.Advance(5 * time.Minute)
		loads := counting.loads

		st, err := c.Status(ctx)
		require.NoError(t, err)
		require.True(t, st.Present)
		require.Equal(t, 5*time.Minute, st.Age)
		require.Equal(t, loads, counting.loads)
	})
}

func TestConcurrentMissesFetchOnce(t *testing.T) {
	f := &blockingFetcher{release: make(chan struct{})}
	c := New(NewMemoryBackend(), f)

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := c.Get(context.Background())
			if err == nil {
				results[i] = string(data)
			}
		}(i)
	}
	// give the goroutines time to pile up on the in-flight refresh
	time.Sleep(50 * time.Millisecond)
	close(f.release)
	wg.Wait()

	for _, r := range results {
		require.Equal(t, "fetched", r)
	}
	require.Equal(t, 1, f.count())
}

func TestCanceledCallerDoesNotFailSharedRefresh(t *testing.T) {
	f := &blockingFetcher{release: make(chan struct{})}
	c := New(NewMemoryBackend(), f)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx)
		first <- err
	}()
	require.Eventually(t, func() bool { return f.count() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		data []byte
		err  error
	}
	second := make(chan result, 1)
	go func() {
		data, err := c.Get(context.Background())
		second <- result{data, err}
	}()
	// let the second caller join the running refresh
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-first, context.Canceled)

	close(f.release)
	res := <-second
	require.NoError(t, res.err)
	require.Equal(t, "fetched", string(res.data))
	require.Equal(t, 1, f.count())

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	require.True(t, st.Present)
}

type blockingFetcher struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (f *blockingFetcher) Fetch(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	select {
	case <-f.release:
		return []byte("fetched"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *blockingFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPropertyTTL(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("queries younger than the TTL are served from the cache", prop.ForAll(
		func(elapsed int64) bool {
			c, f, clock := newTestCache(t, NewMemoryBackend())
			if _, err := c.Get(context.Background()); err != nil {
				return false
			}
			f.set("v2", nil)
			clock.Advance(time.Duration(elapsed) * time.Second)
			data, err := c.Get(context.Background())
			return err == nil && string(data) == "v1" && f.count() == 1
		},
		gen.Int64Range(0, int64(DefaultTTL/time.Second)-1),
	))

	properties.Property("queries at or after the TTL trigger exactly one fetch", prop.ForAll(
		func(elapsed int64) bool {
			c, f, clock := newTestCache(t, NewMemoryBackend())
			if _, err := c.Get(context.Background()); err != nil {
				return false
			}
			f.set(fmt.Sprintf("v-%d", elapsed), nil)
			clock.Advance(time.Duration(elapsed) * time.Second)
			data, err := c.Get(context.Background())
			return err == nil && string(data) == fmt.Sprintf("v-%d", elapsed) && f.count() == 2
		},
		gen.Int64Range(int64(DefaultTTL/time.Second), 30*24*3600),
	))

	properties.Property("stale entries are served whenever a refresh fails", prop.ForAll(
		func(elapsed int64) bool {
			c, f, clock := newTestCache(t, NewMemoryBackend())
			if _, err := c.Get(context.Background()); err != nil {
				return false
			}
			f.set("", errUpstream)
			clock.Advance(time.Duration(elapsed) * time.Second)
			data, err := c.Get(context.Background())
			return err == nil && string(data) == "v1"
		},
		gen.Int64Range(0, 30*24*3600),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

type brokenBackend struct {
	*MemoryBackend
}

func (b *brokenBackend) Store(_ context.Context, _ *Entry) error {
	return errors.New("disk full")
}

func TestStoreFailureStillReturnsFreshData(t *testing.T) {
	c, f, _ := newTestCache(t, &brokenBackend{NewMemoryBackend()})
	data, err := c.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "v1", string(data))

	_, err = c.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, f.count())
}
