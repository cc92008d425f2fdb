package api

import (
	"errors"
	"fmt"
)

type MoodleVersion struct {
	Version int64  `json:"version" yaml:"version"`
	Release string `json:"release" yaml:"release"`
}

type LatestVersion struct {
	Version                 int64           `json:"version" yaml:"version"`
	Release                 string          `json:"release" yaml:"release"`
	Maturity                int             `json:"maturity" yaml:"maturity"`
	MaturityText            string          `json:"maturity_text" yaml:"maturity_text"`
	DownloadURL             string          `json:"download_url" yaml:"download_url"`
	DownloadMD5             string          `json:"download_md5" yaml:"download_md5"`
	ReleaseDate             string          `json:"release_date" yaml:"release_date"`
	SupportedMoodleVersions []MoodleVersion `json:"supported_moodle_versions" yaml:"supported_moodle_versions"`
}

type PluginInfo struct {
	SourceURL        string  `json:"source_url" yaml:"source_url"`
	DocumentationURL *string `json:"documentation_url" yaml:"documentation_url"`
	BugsURL          string  `json:"bugs_url" yaml:"bugs_url"`
	DiscussionURL    string  `json:"discussion_url" yaml:"discussion_url"`
}

// FindResponse describes the newest release of a plugin that supports the
// requested Moodle target.
type FindResponse struct {
	PluginName        string         `json:"plugin_name" yaml:"plugin_name"`
	PluginDisplayName string         `json:"plugin_display_name" yaml:"plugin_display_name"`
	MoodleTarget      string         `json:"moodle_target" yaml:"moodle_target"`
	LatestVersion     *LatestVersion `json:"latest_version" yaml:"latest_version"`
	PluginInfo        *PluginInfo    `json:"plugin_info" yaml:"plugin_info"`
}

type CacheStatusResponse struct {
	HasCache             bool   `json:"has_cache" yaml:"has_cache"`
	CacheAgeMinutes      int64  `json:"cache_age_minutes" yaml:"cache_age_minutes"`
	CacheTTLMinutes      int64  `json:"cache_ttl_minutes" yaml:"cache_ttl_minutes"`
	IsCacheValid         bool   `json:"is_cache_valid" yaml:"is_cache_valid"`
	NextRefreshInMinutes int64  `json:"next_refresh_in_minutes" yaml:"next_refresh_in_minutes"`
	CacheBackend         string `json:"cache_backend,omitempty" yaml:"cache_backend,omitempty"`
}

type SupportedRange struct {
	Min string `json:"min" yaml:"min"`
	Max string `json:"max" yaml:"max"`
}

type VersionSummary struct {
	Version        int64          `json:"version" yaml:"version"`
	Release        string         `json:"release" yaml:"release"`
	MaturityText   string         `json:"maturity_text" yaml:"maturity_text"`
	ReleaseDate    string         `json:"release_date" yaml:"release_date"`
	SupportedRange SupportedRange `json:"supported_moodle_range" yaml:"supported_moodle_range"`
}

type VersionsResponse struct {
	PluginName        string            `json:"plugin_name" yaml:"plugin_name"`
	PluginDisplayName string            `json:"plugin_display_name" yaml:"plugin_display_name"`
	Versions          []*VersionSummary `json:"versions" yaml:"versions"`
}

type BatchRequest struct {
	Plugins       []string `json:"plugins"`
	MoodleVersion *int64   `json:"moodle_version,omitempty"`
	MoodleRelease *string  `json:"moodle_release,omitempty"`
}

func (b *BatchRequest) Validate() error {
	if len(b.Plugins) == 0 {
		return errors.New("no plugins requested")
	}
	seen := make(map[string]struct{}, len(b.Plugins))
	for _, p := range b.Plugins {
		if p == "" {
			return errors.New("plugin name is missing")
		}
		if _, ok := seen[p]; ok {
			return fmt.Errorf("plugin %s requested multiple times", p)
		}
		seen[p] = struct{}{}
	}
	return nil
}

// BatchResult holds either the response for a plugin or the reason why no
// release could be found.
type BatchResult struct {
	PluginName string        `json:"plugin_name" yaml:"plugin_name"`
	Found      bool          `json:"found" yaml:"found"`
	Response   *FindResponse `json:"result,omitempty" yaml:"result,omitempty"`
	Message    string        `json:"message,omitempty" yaml:"message,omitempty"`
}

type BatchResponse struct {
	MoodleTarget string         `json:"moodle_target" yaml:"moodle_target"`
	Results      []*BatchResult `json:"results" yaml:"results"`
}
