package metrics

import (
	"fmt"

	"contrib.go.opencensus.io/exporter/stackdriver"
	"github.com/pluglist-tools/moodle-plugin-lookup/internal/config"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	CounterCacheHit      = stats.Int64("cache_hits", "Number of pluglist cache hits", "1")
	CounterCacheMiss     = stats.Int64("cache_misses", "Number of pluglist cache misses", "1")
	CounterStaleFallback = stats.Int64("cache_stale_fallbacks", "Number of stale pluglist entries served after a failed refresh", "1")
	CounterFetchFailure  = stats.Int64("pluglist_fetch_failures", "Number of failed pluglist downloads", "1")
	CounterResolutions   = stats.Int64("resolutions", "Number of plugin version resolutions", "1")

	TagCacheBackend = tag.MustNewKey("cache_backend")
	TagOutcome      = tag.MustNewKey("outcome")
)

var views = []*view.View{
	{
		Name:        "cache_hits",
		Measure:     CounterCacheHit,
		Description: "Number of pluglist cache hits",
		TagKeys:     []tag.Key{TagCacheBackend},
		Aggregation: view.Count(),
	},
	{
		Name:        "cache_misses",
		Measure:     CounterCacheMiss,
		Description: "Number of pluglist cache misses",
		TagKeys:     []tag.Key{TagCacheBackend},
		Aggregation: view.Count(),
	},
	{
		Name:        "cache_stale_fallbacks",
		Measure:     CounterStaleFallback,
		Description: "Number of stale pluglist entries served after a failed refresh",
		TagKeys:     []tag.Key{TagCacheBackend},
		Aggregation: view.Count(),
	},
	{
		Name:        "pluglist_fetch_failures",
		Measure:     CounterFetchFailure,
		Description: "Number of failed pluglist downloads",
		Aggregation: view.Count(),
	},
	{
		Name:        "resolutions",
		Measure:     CounterResolutions,
		Description: "Number of plugin version resolutions",
		TagKeys:     []tag.Key{TagOutcome},
		Aggregation: view.Count(),
	},
}

func RegisterViews() error {
	return view.Register(views...)
}

func NewExporter(cfg *config.Config) (*stackdriver.Exporter, error) {
	err := RegisterViews()
	if err != nil {
		return nil, err
	}
	exporter, err := stackdriver.NewExporter(stackdriver.Options{
		ProjectID:    cfg.ProjectID,
		MetricPrefix: fmt.Sprintf("moodle-plugin-lookup/%s", cfg.Stage),
	})
	if err != nil {
		return nil, err
	}
	err = exporter.StartMetricsExporter()
	if err != nil {
		return nil, err
	}
	return exporter, nil
}
