package core

import (
	"context"
	"time"

	"github.com/devicelab-dev/devicepool/pkg/locator"
)

// Backend is the boundary to an external UI-automation engine (Appium,
// UiAutomator2 server, WebDriverAgent, ...). Selector syntax and image
// matching stay behind this interface: each Locate call either produces an
// actionable node within the context deadline or fails. Implementations
// must honor context cancellation on every call.
type Backend interface {
	// Attach starts an engine session with the given capability map.
	Attach(ctx context.Context, caps map[string]interface{}) error
	// Detach tears the session down. Safe to call on a half-open session.
	Detach(ctx context.Context) error
	// Alive reports whether the engine still responds for this device.
	Alive(ctx context.Context) error
	// WindowSize returns the device screen dimensions in pixels.
	WindowSize(ctx context.Context) (width, height int, err error)

	// LocateID finds a node by semantic identifier (resource-id,
	// accessibility id).
	LocateID(ctx context.Context, id string) (Node, error)
	// LocateText finds a node by visible text.
	LocateText(ctx context.Context, q locator.Text) (Node, error)
	// LocateRelative finds a node by its relation to an anchor.
	LocateRelative(ctx context.Context, q locator.Relative) (Node, error)
	// LocateTemplate finds a node by image template matching.
	LocateTemplate(ctx context.Context, q locator.Image) (Node, error)

	// Tap performs a tap at absolute screen coordinates.
	Tap(ctx context.Context, x, y int) error
	// InputText types into the node with the given handle. An empty handle
	// types into the focused field.
	InputText(ctx context.Context, handle, text string) error
	// ClearText clears the node's current text.
	ClearText(ctx context.Context, handle string) error
	// Swipe performs a swipe gesture between two points.
	Swipe(ctx context.Context, fromX, fromY, toX, toY int, duration time.Duration) error
	// PressKey sends an Android-style key code.
	PressKey(ctx context.Context, keycode int) error
	// PressButton presses an iOS-style named hardware button.
	PressButton(ctx context.Context, name string) error

	// LaunchApp brings the app with the given identifier to the foreground.
	LaunchApp(ctx context.Context, appID string) error
	// TerminateApp stops the app with the given identifier.
	TerminateApp(ctx context.Context, appID string) error
	// ForegroundApp returns the identifier of the foreground app.
	ForegroundApp(ctx context.Context) (string, error)

	// Screenshot captures the current screen as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
}
