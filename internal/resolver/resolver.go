package resolver

import (
	"context"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/pluglist-tools/moodle-plugin-lookup/internal/metrics"
	"github.com/pluglist-tools/moodle-plugin-lookup/pkg/pluglist"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
)

// Source provides the raw pluglist document, usually a *cache.Cache.
type Source interface {
	Get(ctx context.Context) ([]byte, error)
}

type Outcome int

const (
	Found Outcome = iota
	PluginNotFound
	NoCompatibleRelease
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case PluginNotFound:
		return "plugin_not_found"
	case NoCompatibleRelease:
		return "no_compatible_release"
	default:
		return "unknown"
	}
}

// Result of a lookup. Plugin is set unless the plugin is unknown, Version
// only if a compatible release was found.
type Result struct {
	Outcome    Outcome
	Component  string
	Plugin     *pluglist.Plugin
	Version    *pluglist.PluginVersion
	Constraint Constraint
}

type Resolver struct {
	source Source
}

func New(source Source) *Resolver {
	return &Resolver{source: source}
}

// Snapshot returns a freshly parsed copy of the current pluglist.
func (r *Resolver) Snapshot(ctx context.Context) (*pluglist.PluginList, error) {
	raw, err := r.source.Get(ctx)
	if err != nil {
		return nil, err
	}
	return pluglist.Parse(raw)
}

// Resolve finds the newest release of component that supports c.
func (r *Resolver) Resolve(ctx context.Context, component string, c Constraint) (*Result, error) {
	results, err := r.ResolveAll(ctx, []string{component}, c)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// ResolveAll resolves several components against a single snapshot.
func (r *Resolver) ResolveAll(ctx context.Context, components []string, c Constraint) ([]*Result, error) {
	if c.IsZero() {
		return nil, ErrInvalidConstraint
	}
	list, err := r.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]*Result, len(components))
	for i, component := range components {
		results[i] = resolve(list, component, c)
		recordOutcome(ctx, results[i].Outcome)
	}
	return results, nil
}

func recordOutcome(ctx context.Context, o Outcome) {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.TagOutcome, o.String()))
	stats.Record(ctx, metrics.CounterResolutions.M(1))
}

func resolve(list *pluglist.PluginList, component string, c Constraint) *Result {
	res := &Result{Component: component, Constraint: c}
	res.Plugin = list.Find(component)
	if res.Plugin == nil {
		res.Outcome = PluginNotFound
		return res
	}
	res.Version = Latest(res.Plugin, c)
	if res.Version == nil {
		res.Outcome = NoCompatibleRelease
		return res
	}
	res.Outcome = Found
	return res
}

// newer orders releases by creation time. Equal timestamps fall back to the
// higher release id and then to the higher build number.
func newer(a, b *pluglist.PluginVersion) bool {
	if a.TimeCreated != b.TimeCreated {
		return a.TimeCreated > b.TimeCreated
	}
	if a.ID != b.ID {
		return a.ID > b.ID
	}
	return a.Version > b.Version
}

// Latest scans every release of p and returns the newest one compatible with
// c, or nil. The version list is not assumed to be sorted.
func Latest(p *pluglist.Plugin, c Constraint) *pluglist.PluginVersion {
	var latest *pluglist.PluginVersion
	for i := range p.Versions {
		v := &p.Versions[i]
		if !c.Matches(v) {
			continue
		}
		if latest == nil || newer(v, latest) {
			latest = v
		}
	}
	return latest
}

// History returns all releases of p, newest first.
func History(p *pluglist.Plugin) []*pluglist.PluginVersion {
	versions := make([]*pluglist.PluginVersion, len(p.Versions))
	for i := range p.Versions {
		versions[i] = &p.Versions[i]
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return newer(versions[i], versions[j])
	})
	return versions
}

// SupportedRange returns the lowest and highest Moodle release label a
// version declares support for. Labels that are not valid versions are
// ignored.
func SupportedRange(v *pluglist.PluginVersion) (string, string) {
	releases := make(semver.Collection, 0, len(v.SupportedMoodles))
	labels := make(map[*semver.Version]string, len(v.SupportedMoodles))
	for _, m := range v.SupportedMoodles {
		sv, err := semver.NewVersion(m.Release)
		if err != nil {
			continue
		}
		releases = append(releases, sv)
		labels[sv] = m.Release
	}
	if len(releases) == 0 {
		return "", ""
	}
	sort.Sort(releases)
	return labels[releases[0]], labels[releases[len(releases)-1]]
}
