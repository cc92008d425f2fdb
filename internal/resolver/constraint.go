package resolver

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"github.com/pluglist-tools/moodle-plugin-lookup/pkg/pluglist"
)

var ErrInvalidConstraint = errors.New("invalid moodle constraint")

type constraintKind int

const (
	kindNone constraintKind = iota
	kindBuild
	kindRelease
)

// Constraint is the Moodle target of a lookup: either an exact build number
// or an exact release label, never both.
type Constraint struct {
	kind    constraintKind
	build   int64
	release string
}

func ByBuild(build int64) Constraint {
	return Constraint{kind: kindBuild, build: build}
}

func ByRelease(release string) Constraint {
	return Constraint{kind: kindRelease, release: release}
}

// NewConstraint builds a constraint from optional build and release values.
// Exactly one of them must be set.
func NewConstraint(build *int64, release *string) (Constraint, error) {
	switch {
	case build == nil && release == nil:
		return Constraint{}, fmt.Errorf("%w: either moodle_version or moodle_release must be provided", ErrInvalidConstraint)
	case build != nil && release != nil:
		return Constraint{}, fmt.Errorf("%w: cannot specify both moodle_version and moodle_release", ErrInvalidConstraint)
	case build != nil:
		if *build <= 0 {
			return Constraint{}, fmt.Errorf("%w: moodle_version must be a positive build number", ErrInvalidConstraint)
		}
		return ByBuild(*build), nil
	default:
		if *release == "" {
			return Constraint{}, fmt.Errorf("%w: moodle_release must not be empty", ErrInvalidConstraint)
		}
		return ByRelease(*release), nil
	}
}

var (
	buildNumberRe  = regexp.MustCompile(`^\d{10}$`)
	releaseLabelRe = regexp.MustCompile(`^\d+\.\d+$`)
)

// ParseIdentifier turns a single user supplied identifier into a constraint:
// a 10 digit build number ("2022111500") or a major release ("4.1").
func ParseIdentifier(identifier string) (Constraint, error) {
	if buildNumberRe.MatchString(identifier) {
		var build int64
		_, err := fmt.Sscan(identifier, &build)
		if err != nil {
			return Constraint{}, fmt.Errorf("%w: %v", ErrInvalidConstraint, err)
		}
		return ByBuild(build), nil
	}
	if releaseLabelRe.MatchString(identifier) {
		if _, err := semver.NewVersion(identifier); err != nil {
			return Constraint{}, fmt.Errorf("%w: %v", ErrInvalidConstraint, err)
		}
		return ByRelease(identifier), nil
	}
	return Constraint{}, fmt.Errorf(`%w: invalid moodle_identifier format, expected 10-digit version number or major release (e.g., "4.1")`, ErrInvalidConstraint)
}

func (c Constraint) IsZero() bool {
	return c.kind == kindNone
}

func (c Constraint) IsBuild() bool {
	return c.kind == kindBuild
}

func (c Constraint) IsRelease() bool {
	return c.kind == kindRelease
}

func (c Constraint) Build() int64 {
	return c.build
}

func (c Constraint) Release() string {
	return c.release
}

// String describes the target, e.g. `version 2022111500` or `release "4.1"`.
func (c Constraint) String() string {
	switch c.kind {
	case kindBuild:
		return fmt.Sprintf("version %d", c.build)
	case kindRelease:
		return fmt.Sprintf("release %q", c.release)
	default:
		return "no target"
	}
}

// Matches reports whether the plugin version declares support for the target.
func (c Constraint) Matches(v *pluglist.PluginVersion) bool {
	switch c.kind {
	case kindBuild:
		return v.SupportsBuild(c.build)
	case kindRelease:
		return v.SupportsRelease(c.release)
	default:
		return false
	}
}
