package main

import (
	"context"
	"errors"

	"github.com/pluglist-tools/moodle-plugin-lookup/internal/cache"
	"github.com/pluglist-tools/moodle-plugin-lookup/internal/catalog"
	"github.com/pluglist-tools/moodle-plugin-lookup/internal/config"
	"github.com/pluglist-tools/moodle-plugin-lookup/internal/lookup"
	"github.com/pluglist-tools/moodle-plugin-lookup/internal/resolver"
	"github.com/pluglist-tools/moodle-plugin-lookup/pkg/api"
	"github.com/pluglist-tools/moodle-plugin-lookup/pkg/client"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newBackend(ctx context.Context, cfg *config.Config) (cache.Backend, error) {
	switch cfg.CacheBackend {
	case config.CacheBackendMemory:
		return cache.NewMemoryBackend(), nil
	case config.CacheBackendS3:
		s3Client, err := cfg.CreateS3Client(ctx)
		if err != nil {
			return nil, err
		}
		return cache.NewS3Backend(s3Client, cfg.S3Bucket, cfg.S3Prefix), nil
	default:
		return cache.NewFileBackend(cfg.CacheDir), nil
	}
}

func newService(ctx context.Context, log *logrus.Logger, cfg *config.Config) (*lookup.Service, error) {
	fetcher := catalog.NewHTTPFetcher(cfg.PluglistURL, catalog.WithRetryMax(cfg.FetchRetryMax))
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Debugf("using %s cache backend for %s", backend.Name(), fetcher.URL())

	var opts []lookup.ServiceOption
	if cfg.CacheBackend == config.CacheBackendFile {
		opts = append(opts, lookup.WithCacheFactory(func(dir string) (*cache.Cache, error) {
			return cache.New(cache.NewFileBackend(dir), fetcher, cache.WithLogger(log)), nil
		}))
	}
	return lookup.NewService(log, cache.New(backend, fetcher, cache.WithLogger(log)), opts...), nil
}

// lookupAPI is implemented by the local service and by the HTTP client so
// every command can run against either.
type lookupAPI interface {
	RawPluglist(ctx context.Context) ([]byte, error)
	FindLatestVersions(ctx context.Context, pluginNames []string, c resolver.Constraint) (*api.BatchResponse, error)
	ListVersions(ctx context.Context, pluginName string) (*api.VersionsResponse, error)
	CacheStatus(ctx context.Context) (*api.CacheStatusResponse, error)
	ClearCache(ctx context.Context) error
}

type localAPI struct {
	service *lookup.Service
}

func (l *localAPI) RawPluglist(ctx context.Context) ([]byte, error) {
	return l.service.RawPluglist(ctx)
}

func (l *localAPI) FindLatestVersions(ctx context.Context, pluginNames []string, c resolver.Constraint) (*api.BatchResponse, error) {
	results, err := l.service.FindLatestVersions(ctx, pluginNames, c)
	if err != nil {
		return nil, err
	}
	res := &api.BatchResponse{
		MoodleTarget: c.String(),
		Results:      make([]*api.BatchResult, len(results)),
	}
	for i, r := range results {
		res.Results[i] = r.BatchResult()
	}
	return res, nil
}

func (l *localAPI) ListVersions(ctx context.Context, pluginName string) (*api.VersionsResponse, error) {
	res, msg, err := l.service.ListVersions(ctx, pluginName)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New(msg)
	}
	return res, nil
}

func (l *localAPI) CacheStatus(ctx context.Context) (*api.CacheStatusResponse, error) {
	return l.service.CacheStatus(ctx)
}

func (l *localAPI) ClearCache(ctx context.Context) error {
	return l.service.ClearCache(ctx)
}

type remoteAPI struct {
	client           *client.Client
	adminAccessToken string
}

func targetFromConstraint(c resolver.Constraint) client.Target {
	if c.IsBuild() {
		return client.Target{Version: c.Build()}
	}
	return client.Target{Release: c.Release()}
}

func (r *remoteAPI) RawPluglist(ctx context.Context) ([]byte, error) {
	return r.client.RawPluglist(ctx)
}

func (r *remoteAPI) FindLatestVersions(ctx context.Context, pluginNames []string, c resolver.Constraint) (*api.BatchResponse, error) {
	return r.client.FindLatestVersions(ctx, pluginNames, targetFromConstraint(c))
}

func (r *remoteAPI) ListVersions(ctx context.Context, pluginName string) (*api.VersionsResponse, error) {
	return r.client.ListVersions(ctx, pluginName)
}

func (r *remoteAPI) CacheStatus(ctx context.Context) (*api.CacheStatusResponse, error) {
	return r.client.CacheStatus(ctx)
}

func (r *remoteAPI) ClearCache(ctx context.Context) error {
	return r.client.ClearCache(ctx, r.adminAccessToken)
}

func newLookupAPI(ctx context.Context, log *logrus.Logger, cmd *cobra.Command) (lookupAPI, error) {
	cfg, err := loadConfig(log, cmd)
	if err != nil {
		return nil, err
	}
	if serverURL := must(cmd.Flags().GetString("server-url")); serverURL != "" {
		log.Debugf("using lookup server %s", serverURL)
		return &remoteAPI{client: client.New(serverURL), adminAccessToken: cfg.AdminAccessToken}, nil
	}
	service, err := newService(ctx, log, cfg)
	if err != nil {
		return nil, err
	}
	return &localAPI{service: service}, nil
}
