package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/devicelab-dev/devicepool/pkg/locator"
)

// Platform identifies a mobile OS family.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// ParsePlatform normalizes a platform name.
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "android":
		return PlatformAndroid, nil
	case "ios", "iphone", "ipad":
		return PlatformIOS, nil
	default:
		return "", fmt.Errorf("unknown platform: %q", s)
	}
}

// DeviceKind distinguishes physical hardware from virtual devices
type DeviceKind int

const (
	KindReal DeviceKind = iota
	KindEmulator
	KindSimulator
)

// String returns the string representation of DeviceKind
func (k DeviceKind) String() string {
	switch k {
	case KindReal:
		return "real"
	case KindEmulator:
		return "emulator"
	case KindSimulator:
		return "simulator"
	default:
		return "unknown"
	}
}

// ParseDeviceKind parses a device kind name. An empty string means a real
// device.
func ParseDeviceKind(s string) (DeviceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "real", "device":
		return KindReal, nil
	case "emulator", "avd":
		return KindEmulator, nil
	case "simulator", "sim":
		return KindSimulator, nil
	default:
		return 0, fmt.Errorf("unknown device kind: %q", s)
	}
}

// SwipeDirection is the direction of a swipe gesture
type SwipeDirection int

const (
	SwipeUp SwipeDirection = iota
	SwipeDown
	SwipeLeft
	SwipeRight
)

// String returns the string representation of SwipeDirection
func (d SwipeDirection) String() string {
	switch d {
	case SwipeUp:
		return "up"
	case SwipeDown:
		return "down"
	case SwipeLeft:
		return "left"
	case SwipeRight:
		return "right"
	default:
		return "unknown"
	}
}

// Session is the action surface over one allocated device. Element
// arguments are logical references; every action resolves them through the
// resolution engine before touching the backend, so callers never deal with
// platform or selector specifics.
type Session interface {
	// Platform returns the device platform.
	Platform() Platform
	// DeviceID returns the allocated device's identifier.
	DeviceID() string

	// Tap resolves the element and taps its center.
	Tap(ctx context.Context, el *locator.Element) error
	// SetText resolves the element, clears it, and types the value.
	SetText(ctx context.Context, el *locator.Element, value string) error
	// Swipe resolves the element and swipes from its center in the given
	// direction by distance pixels.
	Swipe(ctx context.Context, el *locator.Element, dir SwipeDirection, distance int) error
	// Screenshot captures the current screen as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// ForegroundApp returns the identifier of the foreground app.
	ForegroundApp(ctx context.Context) (string, error)

	// Back navigates back. Unsupported on iOS.
	Back(ctx context.Context) error
	// Home returns to the home screen.
	Home(ctx context.Context) error
	// LaunchApp brings the session's app to the foreground.
	LaunchApp(ctx context.Context) error
	// TerminateApp stops the session's app.
	TerminateApp(ctx context.Context) error

	// Close tears the session down. Idempotent.
	Close(ctx context.Context) error
}
