// Package config handles configuration for devicepool.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/devicepool/pkg/core"
	"github.com/devicelab-dev/devicepool/pkg/device"
)

// Duration is a time.Duration that unmarshals from YAML scalars: either a
// Go duration string ("30s", "2m") or a bare integer in seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!int" {
		var secs int64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\" or an integer second count")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// PoolConfig tunes device acquisition.
type PoolConfig struct {
	AcquireTimeout Duration `yaml:"acquireTimeout"` // Default wait for a matching device
	PollInterval   Duration `yaml:"pollInterval"`   // Acquire re-check pacing
	ProbeInterval  Duration `yaml:"probeInterval"`  // Minimum gap between liveness probes per device
}

// ResolverConfig tunes element resolution.
type ResolverConfig struct {
	CacheSize        int      `yaml:"cacheSize"` // Hint cache capacity
	Backoff          Duration `yaml:"backoff"`   // Base delay between tries of one strategy
	ArtifactsDir     string   `yaml:"artifactsDir"`
	CaptureOnFailure bool     `yaml:"captureOnFailure"` // Screenshot + trace when a chain exhausts
	AnnotateAttempts bool     `yaml:"annotateAttempts"` // Draw attempted regions on the screenshot
}

// SessionConfig tunes session lifecycle.
type SessionConfig struct {
	AttachAttempts int      `yaml:"attachAttempts"`
	AttachDelay    Duration `yaml:"attachDelay"`
	Timeout        Duration `yaml:"timeout"` // Per-task session bound, zero means none
	Workers        int      `yaml:"workers"` // Concurrently held devices per run
}

// LoggingConfig configures the log backend.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Path    string `yaml:"path"`
	Console bool   `yaml:"console"`
}

// DeviceEntry is one inventory row. The kind travels as a string in YAML
// and is parsed during DeviceList().
type DeviceEntry struct {
	device.Device `yaml:",inline"`
	KindName      string `yaml:"kind"`
}

// Config represents the workspace configuration (config.yaml).
type Config struct {
	Pool     PoolConfig     `yaml:"pool"`
	Resolver ResolverConfig `yaml:"resolver"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
	Devices  []DeviceEntry  `yaml:"devices"`
	Elements string         `yaml:"elements"` // Path to the element library YAML

	tree Tree
}

// Load loads configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes configuration bytes, fills defaults, and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, core.ErrInvalidConfig.WithMessage("malformed config").WithCause(err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, core.ErrInvalidConfig.WithMessage("malformed config").WithCause(err)
	}
	cfg.tree = Tree{root: raw}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	// Try config.yaml first
	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// Try config.yml
	configPath = filepath.Join(dir, "config.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found, return defaults
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills unset fields with the component defaults.
func (c *Config) applyDefaults() {
	if c.Pool.AcquireTimeout <= 0 {
		c.Pool.AcquireTimeout = Duration(2 * time.Minute)
	}
	if c.Pool.PollInterval <= 0 {
		c.Pool.PollInterval = Duration(250 * time.Millisecond)
	}
	if c.Pool.ProbeInterval <= 0 {
		c.Pool.ProbeInterval = Duration(5 * time.Second)
	}
	if c.Resolver.CacheSize <= 0 {
		c.Resolver.CacheSize = 256
	}
	if c.Resolver.Backoff <= 0 {
		c.Resolver.Backoff = Duration(150 * time.Millisecond)
	}
	if c.Session.AttachAttempts <= 0 {
		c.Session.AttachAttempts = 3
	}
	if c.Session.AttachDelay <= 0 {
		c.Session.AttachDelay = Duration(2 * time.Second)
	}
	if c.Session.Workers <= 0 {
		c.Session.Workers = 1
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the device inventory: facts each device needs to
// register, parseable kinds, no duplicate IDs.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Devices))
	for i, e := range c.Devices {
		if err := e.Device.Validate(); err != nil {
			return core.ErrInvalidConfig.
				WithMessagef("devices[%d]: %v", i, err).
				WithDetail("device", e.Device.ID)
		}
		if _, err := core.ParseDeviceKind(e.KindName); err != nil {
			return core.ErrInvalidConfig.
				WithMessagef("devices[%d]: %v", i, err).
				WithDetail("device", e.Device.ID)
		}
		if _, dup := seen[e.Device.ID]; dup {
			return core.ErrInvalidConfig.
				WithMessagef("devices[%d]: duplicate device id %q", i, e.Device.ID).
				WithDetail("device", e.Device.ID)
		}
		seen[e.Device.ID] = struct{}{}
	}
	return nil
}

// DeviceList returns the inventory with kinds parsed.
func (c *Config) DeviceList() ([]device.Device, error) {
	out := make([]device.Device, 0, len(c.Devices))
	for i, e := range c.Devices {
		kind, err := core.ParseDeviceKind(e.KindName)
		if err != nil {
			return nil, core.ErrInvalidConfig.WithMessagef("devices[%d]: %v", i, err)
		}
		d := e.Device
		d.Kind = kind
		out = append(out, d)
	}
	return out, nil
}

// Tree returns the raw config for dotted-path lookups, for reading keys the
// typed structs do not model, like capability overrides.
func (c *Config) Tree() Tree {
	return c.tree
}
