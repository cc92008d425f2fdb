package cache

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/pluglist-tools/moodle-plugin-lookup/internal/catalog"
	"github.com/pluglist-tools/moodle-plugin-lookup/internal/metrics"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/sync/singleflight"
)

const DefaultTTL = time.Hour

const (
	refreshKey     = "pluglist"
	refreshTimeout = 5 * time.Minute
)

// Cache serves the raw pluglist document from a Backend and refreshes it
// from a Fetcher once it is older than the TTL. If a refresh fails, the
// existing entry is served regardless of its age.
type Cache struct {
	backend Backend
	fetcher catalog.Fetcher
	ttl     time.Duration
	now     func() time.Time
	log     logrus.FieldLogger

	// mu serialises every write to the backend
	mu     sync.Mutex
	flight singleflight.Group
}

type Option func(c *Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Cache) {
		c.log = log
	}
}

func New(backend Backend, fetcher catalog.Fetcher, opts ...Option) *Cache {
	discard := logrus.New()
	discard.Out = io.Discard
	c := &Cache{
		backend: backend,
		fetcher: fetcher,
		ttl:     DefaultTTL,
		now:     time.Now,
		log:     discard,
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.WithField("cache_backend", backend.Name())
	return c
}

// Status describes the cache without touching the remote service.
type Status struct {
	Present bool
	Age     time.Duration
	TTL     time.Duration
}

// Valid reports whether the entry would be served without a refresh.
func (s *Status) Valid() bool {
	return s.Present && s.Age < s.TTL
}

// NextRefresh is the time until the entry expires, zero if it already has.
func (s *Status) NextRefresh() time.Duration {
	if !s.Present || s.Age >= s.TTL {
		return 0
	}
	return s.TTL - s.Age
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) Backend() Backend {
	return c.backend
}

func (c *Cache) record(ctx context.Context, m *stats.Int64Measure) {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.TagCacheBackend, c.backend.Name()))
	stats.Record(ctx, m.M(1))
}

func (c *Cache) age(storedAt time.Time) time.Duration {
	age := c.now().Sub(storedAt)
	if age < 0 {
		return 0
	}
	return age
}

func (c *Cache) isFresh(e *Entry) bool {
	return e != nil && c.age(e.StoredAt) < c.ttl
}

// load returns the stored entry or nil. Backend read errors are logged and
// treated as a missing entry so that a fetch can still succeed.
func (c *Cache) load(ctx context.Context) *Entry {
	e, err := c.backend.Load(ctx)
	if errors.Is(err, ErrNoEntry) {
		return nil
	}
	if err != nil {
		c.log.Warnf("could not read cached pluglist: %v", err)
		return nil
	}
	return e
}

// Get returns the raw pluglist document.
func (c *Cache) Get(ctx context.Context) ([]byte, error) {
	if e := c.load(ctx); c.isFresh(e) {
		c.log.Debug("using cached pluglist data")
		c.record(ctx, metrics.CounterCacheHit)
		return e.Data, nil
	}
	c.record(ctx, metrics.CounterCacheMiss)

	// concurrent misses share one refresh, which is detached from the
	// cancellation of the caller that started it
	ch := c.flight.DoChan(refreshKey, func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return c.refresh(refreshCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (c *Cache) refresh(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// another caller may have refreshed while we were waiting for the lock
	existing := c.load(ctx)
	if c.isFresh(existing) {
		return existing.Data, nil
	}

	c.log.Info("fetching fresh pluglist data")
	data, err := c.fetcher.Fetch(ctx)
	if err != nil {
		c.record(ctx, metrics.CounterFetchFailure)
		if existing != nil {
			c.log.Warnf("fetch failed, using stale cached data as fallback: %v", err)
			c.record(ctx, metrics.CounterStaleFallback)
			return existing.Data, nil
		}
		return nil, err
	}

	if sErr := c.backend.Store(ctx, &Entry{Data: data, StoredAt: c.now()}); sErr != nil {
		c.log.Errorf("could not store pluglist: %v", sErr)
	}
	return data, nil
}

// Invalidate removes the cached entry. Invalidating an empty cache is not an
// error.
func (c *Cache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flight.Forget(refreshKey)
	if err := c.backend.Delete(ctx); err != nil {
		return err
	}
	c.log.Info("pluglist cache cleared")
	return nil
}

// Status reports presence and age of the cached entry. It never fetches and
// never reads the cached data.
func (c *Cache) Status(ctx context.Context) (*Status, error) {
	st := &Status{TTL: c.ttl}
	storedAt, err := c.backend.Stat(ctx)
	if errors.Is(err, ErrNoEntry) {
		return st, nil
	}
	if err != nil {
		return nil, err
	}
	st.Present = true
	st.Age = c.age(storedAt)
	return st, nil
}
