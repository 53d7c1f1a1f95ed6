// Package capability builds immutable automation capability profiles from
// device facts and app identity. Version- and platform-dependent settings
// live in an ordered rule table, not in scattered conditionals, so the
// mapping stays auditable and deterministically testable.
package capability

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver"

	"github.com/devicelab-dev/devicepool/pkg/core"
)

// AppInfo identifies the app under automation
type AppInfo struct {
	Package  string `yaml:"package" json:"package,omitempty"`   // Android package name
	Activity string `yaml:"activity" json:"activity,omitempty"` // Android launch activity, optional
	BundleID string `yaml:"bundleId" json:"bundleId,omitempty"` // iOS bundle identifier
}

// IdentifierFor returns the platform's app identifier.
func (a AppInfo) IdentifierFor(platform core.Platform) string {
	if platform == core.PlatformIOS {
		return a.BundleID
	}
	return a.Package
}

// Request carries everything the builder needs. DeviceID is required for
// real devices; emulators and simulators may omit it when the backend picks
// the target itself.
type Request struct {
	Platform   core.Platform
	OSVersion  string
	DeviceKind core.DeviceKind
	DeviceID   string
	App        AppInfo

	NoReset   bool
	FullReset bool

	// Overrides are merged last. Locked keys (platform identity, engine
	// selection) cannot be overridden.
	Overrides map[string]interface{}
}

// Profile is an immutable capability set. Mutating the map returned by Map
// does not affect the profile.
type Profile struct {
	platform       core.Platform
	osVersion      *semver.Version
	deviceKind     core.DeviceKind
	automationName string
	appID          string
	caps           map[string]interface{}
}

// Platform returns the profile's platform.
func (p *Profile) Platform() core.Platform { return p.platform }

// OSVersion returns the normalized OS version.
func (p *Profile) OSVersion() string { return p.osVersion.String() }

// DeviceKind returns the profile's device kind.
func (p *Profile) DeviceKind() core.DeviceKind { return p.deviceKind }

// AutomationName returns the engine the profile targets.
func (p *Profile) AutomationName() string { return p.automationName }

// AppID returns the platform app identifier the profile automates.
func (p *Profile) AppID() string { return p.appID }

// Get returns a single capability value.
func (p *Profile) Get(key string) (interface{}, bool) {
	v, ok := p.caps[key]
	return v, ok
}

// Map returns a copy of the capability map for the backend attach call.
func (p *Profile) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(p.caps))
	for k, v := range p.caps {
		out[k] = v
	}
	return out
}

// Platform support floors. UiAutomator2 needs API 21, XCUITest needs a
// WebDriverAgent the backend can still build.
var (
	minAndroid = semver.MustParse("5.0.0")
	minIOS     = semver.MustParse("11.0.0")
)

// rule applies a capability adjustment when the request's platform matches
// and its OS version is at least minVersion.
type rule struct {
	platform   core.Platform
	minVersion *semver.Version // nil matches every version
	kind       *core.DeviceKind // nil matches every kind
	apply      func(req Request, caps map[string]interface{})
}

func kindOf(k core.DeviceKind) *core.DeviceKind { return &k }

// The rule table, evaluated in order after the base capabilities.
var rules = []rule{
	{
		// Runtime permission prompts exist from Android 6 on.
		platform:   core.PlatformAndroid,
		minVersion: semver.MustParse("6.0.0"),
		apply: func(_ Request, caps map[string]interface{}) {
			caps["appium:autoGrantPermissions"] = true
		},
	},
	{
		// Hidden API policy errors break instrumentation startup on 9+.
		platform:   core.PlatformAndroid,
		minVersion: semver.MustParse("9.0.0"),
		apply: func(_ Request, caps map[string]interface{}) {
			caps["appium:ignoreHiddenApiPolicyError"] = true
		},
	},
	{
		platform: core.PlatformAndroid,
		kind:     kindOf(core.KindEmulator),
		apply: func(_ Request, caps map[string]interface{}) {
			caps["appium:disableWindowAnimation"] = true
		},
	},
	{
		// XCUITest visibility detection misreports on 13+ without this.
		platform:   core.PlatformIOS,
		minVersion: semver.MustParse("13.0.0"),
		apply: func(_ Request, caps map[string]interface{}) {
			caps["appium:simpleIsVisibleCheck"] = true
		},
	},
	{
		// Quiescence waits stall on newer iOS animation timing.
		platform:   core.PlatformIOS,
		minVersion: semver.MustParse("15.0.0"),
		apply: func(_ Request, caps map[string]interface{}) {
			caps["appium:waitForQuiescence"] = false
		},
	},
}

// lockedKeys cannot appear in request overrides.
var lockedKeys = []string{
	"platformName",
	"appium:automationName",
	"appium:platformVersion",
	"appium:udid",
}

// Build produces an immutable profile for the request. Contradictory or
// unsupported requests fail with ErrInvalidProfile; unknown future OS
// versions of a supported platform are accepted.
func Build(req Request) (*Profile, error) {
	if req.Platform != core.PlatformAndroid && req.Platform != core.PlatformIOS {
		return nil, core.ErrInvalidProfile.
			WithMessagef("unsupported platform: %q", req.Platform).
			WithDetail("platform", string(req.Platform))
	}

	version, err := parseVersion(req.OSVersion)
	if err != nil {
		return nil, core.ErrInvalidProfile.
			WithMessagef("malformed OS version: %q", req.OSVersion).
			WithDetail("os_version", req.OSVersion).
			WithCause(err)
	}

	if err := checkSupport(req, version); err != nil {
		return nil, err
	}
	if err := checkApp(req); err != nil {
		return nil, err
	}
	if req.NoReset && req.FullReset {
		return nil, core.ErrInvalidProfile.
			WithMessage("noReset and fullReset are mutually exclusive").
			WithDetail("no_reset", true).
			WithDetail("full_reset", true)
	}
	if req.DeviceKind == core.KindReal && req.DeviceID == "" {
		return nil, core.ErrInvalidProfile.
			WithMessage("real devices require a device id").
			WithDetail("device_kind", req.DeviceKind.String())
	}

	caps := baseCaps(req, version)

	for _, r := range rules {
		if r.platform != req.Platform {
			continue
		}
		if r.minVersion != nil && version.LessThan(r.minVersion) {
			continue
		}
		if r.kind != nil && *r.kind != req.DeviceKind {
			continue
		}
		r.apply(req, caps)
	}

	applyApp(req, caps)
	applyReset(req, caps)

	if err := applyOverrides(req, caps); err != nil {
		return nil, err
	}

	automationName, _ := caps["appium:automationName"].(string)
	return &Profile{
		platform:       req.Platform,
		osVersion:      version,
		deviceKind:     req.DeviceKind,
		automationName: automationName,
		appID:          req.App.IdentifierFor(req.Platform),
		caps:           caps,
	}, nil
}

func checkSupport(req Request, version *semver.Version) error {
	switch req.Platform {
	case core.PlatformAndroid:
		if req.DeviceKind == core.KindSimulator {
			return core.ErrInvalidProfile.
				WithMessage("android devices cannot be simulators").
				WithDetail("device_kind", req.DeviceKind.String())
		}
		if version.LessThan(minAndroid) {
			return core.ErrInvalidProfile.
				WithMessagef("android %s is below the supported minimum %s", version, minAndroid).
				WithDetail("os_version", version.String())
		}
	case core.PlatformIOS:
		if req.DeviceKind == core.KindEmulator {
			return core.ErrInvalidProfile.
				WithMessage("ios devices cannot be emulators").
				WithDetail("device_kind", req.DeviceKind.String())
		}
		if version.LessThan(minIOS) {
			return core.ErrInvalidProfile.
				WithMessagef("ios %s is below the supported minimum %s", version, minIOS).
				WithDetail("os_version", version.String())
		}
	}
	return nil
}

func checkApp(req Request) error {
	if req.Platform == core.PlatformAndroid && req.App.Package == "" {
		return core.ErrInvalidProfile.
			WithMessage("android profiles require an app package").
			WithDetail("app", req.App)
	}
	if req.Platform == core.PlatformIOS && req.App.BundleID == "" {
		return core.ErrInvalidProfile.
			WithMessage("ios profiles require a bundle id").
			WithDetail("app", req.App)
	}
	return nil
}

func baseCaps(req Request, version *semver.Version) map[string]interface{} {
	caps := map[string]interface{}{
		"appium:platformVersion":   version.String(),
		"appium:newCommandTimeout": 120,
	}

	switch req.Platform {
	case core.PlatformAndroid:
		caps["platformName"] = "Android"
		caps["appium:automationName"] = "UiAutomator2"
	case core.PlatformIOS:
		caps["platformName"] = "iOS"
		caps["appium:automationName"] = "XCUITest"
	}

	if req.DeviceID != "" {
		caps["appium:udid"] = req.DeviceID
	}
	return caps
}

func applyApp(req Request, caps map[string]interface{}) {
	switch req.Platform {
	case core.PlatformAndroid:
		caps["appium:appPackage"] = req.App.Package
		if req.App.Activity != "" {
			caps["appium:appActivity"] = req.App.Activity
		}
	case core.PlatformIOS:
		caps["appium:bundleId"] = req.App.BundleID
	}
}

func applyReset(req Request, caps map[string]interface{}) {
	if req.NoReset {
		caps["appium:noReset"] = true
	}
	if req.FullReset {
		caps["appium:fullReset"] = true
	}
}

func applyOverrides(req Request, caps map[string]interface{}) error {
	for _, locked := range lockedKeys {
		if _, ok := req.Overrides[locked]; ok {
			return core.ErrInvalidProfile.
				WithMessagef("capability %q cannot be overridden", locked).
				WithDetail("key", locked)
		}
	}
	for k, v := range req.Overrides {
		caps[k] = v
	}
	return nil
}

// parseVersion coerces short version strings ("13", "13.1") into full
// semver form before parsing.
func parseVersion(s string) (*semver.Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty version")
	}
	switch strings.Count(s, ".") {
	case 0:
		s += ".0.0"
	case 1:
		s += ".0"
	}
	return semver.NewVersion(s)
}
