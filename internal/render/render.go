package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/pluglist-tools/moodle-plugin-lookup/pkg/api"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected text, json or yaml)", s)
	}
}

// Message is a plain line of output such as a confirmation.
type Message string

// DownloadResult lists the files written by a download.
type DownloadResult struct {
	Files    []string `json:"files" yaml:"files"`
	Checksum string   `json:"sha256,omitempty" yaml:"sha256,omitempty"`
}

// Write renders v to w in the given format.
func Write(w io.Writer, format Format, v any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if m, ok := v.(Message); ok {
			return enc.Encode(map[string]string{"message": string(m)})
		}
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		if m, ok := v.(Message); ok {
			return enc.Encode(map[string]string{"message": string(m)})
		}
		return enc.Encode(v)
	default:
		_, err := io.WriteString(w, newTextRenderer(w).render(v)+"\n")
		return err
	}
}

type textRenderer struct {
	title  lipgloss.Style
	label  lipgloss.Style
	muted  lipgloss.Style
	ok     lipgloss.Style
	failed lipgloss.Style
}

func newTextRenderer(w io.Writer) *textRenderer {
	r := lipgloss.NewRenderer(w)
	return &textRenderer{
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		label:  r.NewStyle().Width(16).Foreground(lipgloss.Color("240")),
		muted:  r.NewStyle().Foreground(lipgloss.Color("240")),
		ok:     r.NewStyle().Foreground(lipgloss.Color("46")),
		failed: r.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

func (t *textRenderer) field(name, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, t.label.Render(name), value)
}

func (t *textRenderer) render(v any) string {
	switch v := v.(type) {
	case Message:
		return string(v)
	case *api.FindResponse:
		return t.findResponse(v)
	case *api.BatchResponse:
		return t.batchResponse(v)
	case *api.VersionsResponse:
		return t.versionsResponse(v)
	case *api.CacheStatusResponse:
		return t.cacheStatus(v)
	case *DownloadResult:
		return t.downloadResult(v)
	default:
		return fmt.Sprint(v)
	}
}

func (t *textRenderer) findResponse(r *api.FindResponse) string {
	lv := r.LatestVersion
	supported := make([]string, 0, len(lv.SupportedMoodleVersions))
	for _, m := range lv.SupportedMoodleVersions {
		supported = append(supported, m.Release)
	}
	lines := []string{
		t.title.Render(fmt.Sprintf("%s (%s)", r.PluginDisplayName, r.PluginName)),
		t.field("moodle", r.MoodleTarget),
		t.field("release", fmt.Sprintf("%s (%d)", lv.Release, lv.Version)),
		t.field("maturity", lv.MaturityText),
		t.field("released", lv.ReleaseDate),
		t.field("supports", strings.Join(supported, ", ")),
		t.field("download", lv.DownloadURL),
		t.field("md5", lv.DownloadMD5),
	}
	if r.PluginInfo != nil && r.PluginInfo.SourceURL != "" {
		lines = append(lines, t.field("source", r.PluginInfo.SourceURL))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (t *textRenderer) batchResponse(r *api.BatchResponse) string {
	blocks := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		if res.Found {
			blocks = append(blocks, t.findResponse(res.Response))
			continue
		}
		blocks = append(blocks, t.failed.Render(res.Message))
	}
	return strings.Join(blocks, "\n\n")
}

func (t *textRenderer) versionsResponse(r *api.VersionsResponse) string {
	lines := []string{t.title.Render(fmt.Sprintf("%s (%s)", r.PluginDisplayName, r.PluginName))}
	for _, v := range r.Versions {
		supported := t.muted.Render("no supported Moodle releases")
		if v.SupportedRange.Min != "" {
			supported = fmt.Sprintf("Moodle %s - %s", v.SupportedRange.Min, v.SupportedRange.Max)
		}
		lines = append(lines, fmt.Sprintf("%-12s %d  %-8s %s  %s", v.Release, v.Version, v.MaturityText, dateOnly(v.ReleaseDate), supported))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func dateOnly(ts string) string {
	if d, _, ok := strings.Cut(ts, "T"); ok {
		return d
	}
	return ts
}

func (t *textRenderer) cacheStatus(st *api.CacheStatusResponse) string {
	state := t.failed.Render("empty")
	switch {
	case st.IsCacheValid:
		state = t.ok.Render("valid")
	case st.HasCache:
		state = t.failed.Render("expired")
	}
	lines := []string{
		t.title.Render("Plugin list cache"),
		t.field("state", state),
	}
	if st.CacheBackend != "" {
		lines = append(lines, t.field("backend", st.CacheBackend))
	}
	lines = append(lines,
		t.field("age", fmt.Sprintf("%d min", st.CacheAgeMinutes)),
		t.field("ttl", fmt.Sprintf("%d min", st.CacheTTLMinutes)),
		t.field("next refresh", fmt.Sprintf("%d min", st.NextRefreshInMinutes)),
	)
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (t *textRenderer) downloadResult(r *DownloadResult) string {
	lines := make([]string, 0, len(r.Files)+1)
	for _, f := range r.Files {
		lines = append(lines, t.ok.Render("saved")+" "+f)
	}
	if r.Checksum != "" {
		lines = append(lines, t.field("sha256", r.Checksum))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
