package lookup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pluglist-tools/moodle-plugin-lookup/internal/cache"
	"github.com/pluglist-tools/moodle-plugin-lookup/internal/resolver"
	"github.com/pluglist-tools/moodle-plugin-lookup/pkg/api"
	"github.com/sirupsen/logrus"
)

var ErrCacheDirUnsupported = errors.New("cache directory cannot be changed for this cache backend")

// CacheFactory creates a cache that stores its data in dir.
type CacheFactory func(dir string) (*cache.Cache, error)

// Service implements the lookup operations shared by every front end.
type Service struct {
	log *logrus.Logger

	mu           sync.RWMutex
	cache        *cache.Cache
	resolver     *resolver.Resolver
	cacheFactory CacheFactory
}

type ServiceOption func(s *Service)

// WithCacheFactory allows the cache directory to be changed at runtime.
func WithCacheFactory(f CacheFactory) ServiceOption {
	return func(s *Service) {
		s.cacheFactory = f
	}
}

func NewService(log *logrus.Logger, c *cache.Cache, opts ...ServiceOption) *Service {
	s := &Service{
		log:      log,
		cache:    c,
		resolver: resolver.New(c),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) current() (*cache.Cache, *resolver.Resolver) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache, s.resolver
}

// SwitchCacheDir replaces the cache with one stored in dir.
func (s *Service) SwitchCacheDir(dir string) error {
	if s.cacheFactory == nil {
		return ErrCacheDirUnsupported
	}
	c, err := s.cacheFactory(dir)
	if err != nil {
		return fmt.Errorf("could not create cache in %s: %w", dir, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = c
	s.resolver = resolver.New(c)
	s.log.Infof("using cache directory %s", dir)
	return nil
}

// RawPluglist returns the cached pluglist document verbatim.
func (s *Service) RawPluglist(ctx context.Context) ([]byte, error) {
	c, _ := s.current()
	return c.Get(ctx)
}

func (s *Service) FindLatestVersion(ctx context.Context, component string, constraint resolver.Constraint) (*FindResult, error) {
	_, r := s.current()
	res, err := r.Resolve(ctx, component, constraint)
	if err != nil {
		return nil, err
	}
	return newFindResult(res), nil
}

func (s *Service) FindLatestVersions(ctx context.Context, components []string, constraint resolver.Constraint) ([]*FindResult, error) {
	_, r := s.current()
	results, err := r.ResolveAll(ctx, components, constraint)
	if err != nil {
		return nil, err
	}
	ret := make([]*FindResult, len(results))
	for i, res := range results {
		ret[i] = newFindResult(res)
	}
	return ret, nil
}

// ListVersions returns the release history of a plugin, or a nil response
// and a message if the plugin is unknown.
func (s *Service) ListVersions(ctx context.Context, component string) (*api.VersionsResponse, string, error) {
	_, r := s.current()
	list, err := r.Snapshot(ctx)
	if err != nil {
		return nil, "", err
	}
	p := list.Find(component)
	if p == nil {
		return nil, fmt.Sprintf("Plugin %q not found.", component), nil
	}
	return newVersionsResponse(p), "", nil
}

func (s *Service) CacheStatus(ctx context.Context) (*api.CacheStatusResponse, error) {
	c, _ := s.current()
	st, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	return newCacheStatusResponse(st, c.Backend().Name()), nil
}

func (s *Service) ClearCache(ctx context.Context) error {
	c, _ := s.current()
	return c.Invalidate(ctx)
}
