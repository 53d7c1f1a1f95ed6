package device

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver"

	"github.com/devicelab-dev/devicepool/pkg/core"
)

// Requirements filters the registry during acquisition. The zero value
// matches nothing useful; Platform is mandatory.
type Requirements struct {
	Platform     core.Platform     `yaml:"platform" json:"platform"`
	MinOSVersion string            `yaml:"minOsVersion" json:"minOsVersion,omitempty"`
	Model        string            `yaml:"model" json:"model,omitempty"` // Exact match, or "re:" prefix for a regexp
	Kind         *core.DeviceKind  `yaml:"-" json:"kind,omitempty"`      // nil matches every kind
	Tags         map[string]string `yaml:"tags" json:"tags,omitempty"`   // Every entry must be present on the device
}

const modelRegexpPrefix = "re:"

// Validate rejects requirements that could never match or would fail during
// matching. Called once per acquire so Match can stay error-free.
func (r Requirements) Validate() error {
	if r.Platform != core.PlatformAndroid && r.Platform != core.PlatformIOS {
		return fmt.Errorf("requirements need a platform, got %q", r.Platform)
	}
	if r.MinOSVersion != "" {
		if _, err := parseVersion(r.MinOSVersion); err != nil {
			return fmt.Errorf("invalid minOsVersion %q: %w", r.MinOSVersion, err)
		}
	}
	if pattern, ok := strings.CutPrefix(r.Model, modelRegexpPrefix); ok {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid model pattern %q: %w", r.Model, err)
		}
	}
	return nil
}

// Match reports whether the device satisfies every requirement. Requirements
// must have passed Validate; malformed fields are treated as non-matching.
func (r Requirements) Match(d Device) bool {
	if d.Platform != r.Platform {
		return false
	}
	if r.MinOSVersion != "" {
		min, err := parseVersion(r.MinOSVersion)
		if err != nil {
			return false
		}
		have, err := parseVersion(d.OSVersion)
		if err != nil || have.LessThan(min) {
			return false
		}
	}
	if r.Model != "" && !matchModel(r.Model, d.Model) {
		return false
	}
	if r.Kind != nil && d.Kind != *r.Kind {
		return false
	}
	for key, want := range r.Tags {
		if got, ok := d.Tags[key]; !ok || got != want {
			return false
		}
	}
	return true
}

func matchModel(want, have string) bool {
	if pattern, ok := strings.CutPrefix(want, modelRegexpPrefix); ok {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(have)
	}
	return strings.EqualFold(want, have)
}

// parseVersion pads partial versions so "13" parses as "13.0.0".
func parseVersion(v string) (*semver.Version, error) {
	parts := strings.Split(v, ".")
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	return semver.NewVersion(strings.Join(parts, "."))
}
