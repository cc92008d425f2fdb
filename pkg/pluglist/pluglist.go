package pluglist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var ErrCorruptCatalog = errors.New("corrupt plugin catalog")

// BuildNumber is a Moodle style build number such as 2022111500. The
// directory API is not consistent about quoting these, so both JSON numbers
// and numeric strings are accepted.
type BuildNumber int64

func (b *BuildNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*b = 0
			return nil
		}
		data = []byte(s)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid build number %s: %w", data, err)
	}
	*b = BuildNumber(n)
	return nil
}

type Maturity int

const (
	MaturityAlpha  Maturity = 50
	MaturityBeta   Maturity = 100
	MaturityStable Maturity = 200
)

func (m Maturity) String() string {
	switch m {
	case MaturityStable:
		return "Stable"
	case MaturityBeta:
		return "Beta"
	case MaturityAlpha:
		return "Alpha"
	default:
		return "Unknown"
	}
}

// MoodleVersion identifies a Moodle platform build.
type MoodleVersion struct {
	Version BuildNumber `json:"version"`
	Release string      `json:"release"`
}

type PluginVersion struct {
	ID               int64           `json:"id"`
	Version          BuildNumber     `json:"version"`
	Release          string          `json:"release"`
	Maturity         Maturity        `json:"maturity"`
	DownloadURL      string          `json:"downloadurl"`
	DownloadMD5      string          `json:"downloadmd5"`
	VCSSystem        *string         `json:"vcssystem"`
	VCSSystemOther   *string         `json:"vcssystemother"`
	VCSRepositoryURL *string         `json:"vcsrepositoryurl"`
	VCSBranch        *string         `json:"vcsbranch"`
	VCSTag           *string         `json:"vcstag"`
	TimeCreated      int64           `json:"timecreated"`
	SupportedMoodles []MoodleVersion `json:"supportedmoodles"`
}

// ReleaseDate returns the creation time of the release in UTC.
func (v *PluginVersion) ReleaseDate() time.Time {
	return time.Unix(v.TimeCreated, 0).UTC()
}

// SupportsBuild reports whether one of the supported Moodle entries has
// exactly the given build number.
func (v *PluginVersion) SupportsBuild(build int64) bool {
	for _, m := range v.SupportedMoodles {
		if int64(m.Version) == build {
			return true
		}
	}
	return false
}

// SupportsRelease reports whether one of the supported Moodle entries has
// exactly the given release label.
func (v *PluginVersion) SupportsRelease(release string) bool {
	for _, m := range v.SupportedMoodles {
		if m.Release == release {
			return true
		}
	}
	return false
}

type Plugin struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	Component        string          `json:"component"`
	Source           string          `json:"source"`
	Doc              string          `json:"doc"`
	Bugs             string          `json:"bugs"`
	Discussion       string          `json:"discussion"`
	TimeLastReleased int64           `json:"timelastreleased"`
	Versions         []PluginVersion `json:"versions"`
}

type PluginList struct {
	Timestamp int64    `json:"timestamp,omitempty"`
	Plugins   []Plugin `json:"plugins"`
}

// Find returns the plugin with exactly the given component name.
func (l *PluginList) Find(component string) *Plugin {
	for i := range l.Plugins {
		if l.Plugins[i].Component == component {
			return &l.Plugins[i]
		}
	}
	return nil
}

// Parse decodes a raw plugin directory document. Every call returns a new
// PluginList.
func Parse(raw []byte) (*PluginList, error) {
	var doc struct {
		Timestamp BuildNumber `json:"timestamp"`
		Plugins   *[]Plugin   `json:"plugins"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse plugin list JSON: %v", ErrCorruptCatalog, err)
	}
	if doc.Plugins == nil {
		return nil, fmt.Errorf("%w: plugins list is missing", ErrCorruptCatalog)
	}
	return &PluginList{
		Timestamp: int64(doc.Timestamp),
		Plugins:   *doc.Plugins,
	}, nil
}
