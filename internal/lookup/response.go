package lookup

import (
	"fmt"
	"math"
	"time"

	"github.com/pluglist-tools/moodle-plugin-lookup/internal/cache"
	"github.com/pluglist-tools/moodle-plugin-lookup/internal/resolver"
	"github.com/pluglist-tools/moodle-plugin-lookup/pkg/api"
	"github.com/pluglist-tools/moodle-plugin-lookup/pkg/pluglist"
)

// ISO-8601 in UTC with millisecond precision
const releaseDateLayout = "2006-01-02T15:04:05.000Z07:00"

// FindResult holds either a response or, if the plugin is unknown or has no
// compatible release, a descriptive message.
type FindResult struct {
	Component string
	Outcome   resolver.Outcome
	Response  *api.FindResponse
	Message   string
}

func (r *FindResult) Found() bool {
	return r.Outcome == resolver.Found
}

func (r *FindResult) BatchResult() *api.BatchResult {
	return &api.BatchResult{
		PluginName: r.Component,
		Found:      r.Found(),
		Response:   r.Response,
		Message:    r.Message,
	}
}

func formatReleaseDate(v *pluglist.PluginVersion) string {
	return v.ReleaseDate().UTC().Format(releaseDateLayout)
}

func notFoundMessage(component string, c resolver.Constraint) string {
	return fmt.Sprintf("Plugin %q not found or no compatible version available for Moodle %s.", component, c)
}

func newFindResult(res *resolver.Result) *FindResult {
	if res.Outcome != resolver.Found {
		return &FindResult{
			Component: res.Component,
			Outcome:   res.Outcome,
			Message:   notFoundMessage(res.Component, res.Constraint),
		}
	}
	p, v := res.Plugin, res.Version

	supported := make([]api.MoodleVersion, len(v.SupportedMoodles))
	for i, m := range v.SupportedMoodles {
		supported[i] = api.MoodleVersion{Version: int64(m.Version), Release: m.Release}
	}
	var docURL *string
	if p.Doc != "" {
		doc := p.Doc
		docURL = &doc
	}
	return &FindResult{
		Component: res.Component,
		Outcome:   resolver.Found,
		Response: &api.FindResponse{
			PluginName:        p.Component,
			PluginDisplayName: p.Name,
			MoodleTarget:      res.Constraint.String(),
			LatestVersion: &api.LatestVersion{
				Version:                 int64(v.Version),
				Release:                 v.Release,
				Maturity:                int(v.Maturity),
				MaturityText:            v.Maturity.String(),
				DownloadURL:             v.DownloadURL,
				DownloadMD5:             v.DownloadMD5,
				ReleaseDate:             formatReleaseDate(v),
				SupportedMoodleVersions: supported,
			},
			PluginInfo: &api.PluginInfo{
				SourceURL:        p.Source,
				DocumentationURL: docURL,
				BugsURL:          p.Bugs,
				DiscussionURL:    p.Discussion,
			},
		},
	}
}

func roundMinutes(d time.Duration) int64 {
	return int64(math.Round(d.Minutes()))
}

func newCacheStatusResponse(st *cache.Status, backend string) *api.CacheStatusResponse {
	res := &api.CacheStatusResponse{
		HasCache:        st.Present,
		CacheTTLMinutes: roundMinutes(st.TTL),
		IsCacheValid:    st.Valid(),
		CacheBackend:    backend,
	}
	if st.Present {
		res.CacheAgeMinutes = roundMinutes(st.Age)
		res.NextRefreshInMinutes = max(0, res.CacheTTLMinutes-res.CacheAgeMinutes)
	}
	return res
}

func newVersionsResponse(p *pluglist.Plugin) *api.VersionsResponse {
	res := &api.VersionsResponse{
		PluginName:        p.Component,
		PluginDisplayName: p.Name,
		Versions:          make([]*api.VersionSummary, 0, len(p.Versions)),
	}
	for _, v := range resolver.History(p) {
		minRelease, maxRelease := resolver.SupportedRange(v)
		res.Versions = append(res.Versions, &api.VersionSummary{
			Version:        int64(v.Version),
			Release:        v.Release,
			MaturityText:   v.Maturity.String(),
			ReleaseDate:    formatReleaseDate(v),
			SupportedRange: api.SupportedRange{Min: minRelease, Max: maxRelease},
		})
	}
	return res
}
