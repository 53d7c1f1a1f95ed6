// Package device models the device inventory: static device facts, runtime
// status, and the registry that tracks both. Discovery and health checking
// live outside this module; they feed the registry through Register,
// MarkUnhealthy, and ClearUnhealthy.
package device

import (
	"fmt"
	"strings"

	"github.com/devicelab-dev/devicepool/pkg/core"
)

// Status is the runtime state of a registered device
type Status int

const (
	StatusAvailable Status = iota // Eligible for allocation
	StatusAllocated               // Held by exactly one allocation
	StatusUnhealthy               // Quarantined until cleared
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusAllocated:
		return "allocated"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Device holds the static facts about a device. Runtime status lives in the
// registry, not here, so copies of this struct never go stale.
type Device struct {
	ID        string            `yaml:"id" json:"id"`
	Platform  core.Platform     `yaml:"platform" json:"platform"`
	OSVersion string            `yaml:"osVersion" json:"osVersion"`
	Model     string            `yaml:"model" json:"model"`
	Kind      core.DeviceKind   `yaml:"-" json:"kind"`
	Tags      map[string]string `yaml:"tags" json:"tags,omitempty"` // Static capability flags: camera, nfc, ...
	URI       string            `yaml:"uri" json:"uri,omitempty"`   // Automation backend endpoint for this device
}

// Validate checks the facts needed to register the device.
func (d Device) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("device id must not be empty")
	}
	if d.Platform != core.PlatformAndroid && d.Platform != core.PlatformIOS {
		return fmt.Errorf("device %s has unknown platform %q", d.ID, d.Platform)
	}
	if d.OSVersion == "" {
		return fmt.Errorf("device %s has no OS version", d.ID)
	}
	return nil
}

// Class groups devices whose UI renders the same way, keying the resolver's
// hint cache. Devices of one platform and model share a class; without a
// model the class falls back to the platform alone.
func (d Device) Class() string {
	if d.Model == "" {
		return string(d.Platform)
	}
	model := strings.ToLower(strings.TrimSpace(d.Model))
	model = strings.ReplaceAll(model, " ", "-")
	return string(d.Platform) + "/" + model
}
