// Package android adapts an allocated Android device into a core.Session.
// Every element action resolves through the resolution engine first; the
// driver only adds Android-specific encodings (key codes, recovery) on top
// of the backend boundary.
package android

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/devicepool/pkg/capability"
	"github.com/devicelab-dev/devicepool/pkg/core"
	"github.com/devicelab-dev/devicepool/pkg/device"
	"github.com/devicelab-dev/devicepool/pkg/locator"
	"github.com/devicelab-dev/devicepool/pkg/metrics"
	"github.com/devicelab-dev/devicepool/pkg/resolver"
	"github.com/devicelab-dev/devicepool/pkg/retry"
)

// Android key codes used by session actions.
const (
	keycodeHome = 3
	keycodeBack = 4
)

const (
	defaultAttachAttempts = 3
	defaultAttachDelay    = 2 * time.Second
	swipeDuration         = 300 * time.Millisecond

	// Recovery presses BACK at most this many times before relaunching.
	recoverMaxBack = 3
)

// Options configures an Android session.
type Options struct {
	Device   device.Snapshot
	Profile  *capability.Profile
	Backend  core.Backend
	Resolver *resolver.Engine

	// AttachAttempts bounds session-start retries. Zero means 3.
	AttachAttempts int
	// AttachDelay is the base delay between attach retries. Zero means 2s.
	AttachDelay time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Driver is an Android core.Session backed by a UI-automation engine.
type Driver struct {
	dev      device.Snapshot
	class    string
	appID    string
	backend  core.Backend
	resolver *resolver.Engine
	log      *zap.Logger
	metrics  *metrics.Collector
	closed   atomic.Bool
}

var _ core.Session = (*Driver)(nil)

// Start attaches an engine session for the device. Attach failures retry
// with linear backoff before giving up with ErrSessionStart.
func Start(ctx context.Context, opts Options) (*Driver, error) {
	if opts.Backend == nil || opts.Resolver == nil {
		return nil, core.ErrInvalidConfig.WithMessage("android session needs a backend and a resolver")
	}
	if opts.Profile == nil {
		return nil, core.ErrInvalidConfig.WithMessage("android session needs a capability profile")
	}
	if opts.Profile.Platform() != core.PlatformAndroid {
		return nil, core.ErrInvalidConfig.WithMessagef("profile targets %s, want android", opts.Profile.Platform())
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	attempts := opts.AttachAttempts
	if attempts <= 0 {
		attempts = defaultAttachAttempts
	}
	delay := opts.AttachDelay
	if delay <= 0 {
		delay = defaultAttachDelay
	}

	caps := opts.Profile.Map()
	policy := retry.Policy{
		MaxAttempts: attempts,
		Delay:       delay,
		Growth:      retry.GrowthLinear,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			log.Warn("session attach failed, retrying",
				zap.String("device", opts.Device.Device.ID),
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", delay),
				zap.Error(err))
		},
	}
	if err := retry.Do(ctx, policy, func(ctx context.Context) error {
		return opts.Backend.Attach(ctx, caps)
	}); err != nil {
		opts.Metrics.RecordSessionStart("android", metrics.OutcomeError)
		return nil, core.ErrSessionStart.
			WithMessagef("attach failed for device %s", opts.Device.Device.ID).
			WithCause(err)
	}

	opts.Metrics.RecordSessionStart("android", metrics.OutcomeOK)
	log.Debug("session started",
		zap.String("device", opts.Device.Device.ID),
		zap.String("app", opts.Profile.AppID()))

	return &Driver{
		dev:      opts.Device,
		class:    opts.Device.Device.Class(),
		appID:    opts.Profile.AppID(),
		backend:  opts.Backend,
		resolver: opts.Resolver,
		log:      log,
		metrics:  opts.Metrics,
	}, nil
}

// Platform returns the session platform.
func (d *Driver) Platform() core.Platform { return core.PlatformAndroid }

// DeviceID returns the allocated device's identifier.
func (d *Driver) DeviceID() string { return d.dev.Device.ID }

func (d *Driver) guard() error {
	if d.closed.Load() {
		return core.ErrSessionClosed.WithMessagef("session for device %s is closed", d.dev.Device.ID)
	}
	return nil
}

func (d *Driver) resolve(ctx context.Context, el *locator.Element) (core.Node, error) {
	node, _, err := d.resolver.Resolve(ctx, d.backend, d.class, el)
	return node, err
}

// act converts action failures on an unreachable device into ErrDeviceLost
// so holders report the loss instead of retrying into a void.
func (d *Driver) act(ctx context.Context, name string, err error) error {
	if err == nil {
		return nil
	}
	if aliveErr := d.backend.Alive(ctx); aliveErr != nil {
		return core.ErrDeviceLost.
			WithMessagef("%s failed, device %s unreachable", name, d.dev.Device.ID).
			WithCause(err)
	}
	return fmt.Errorf("%s: %w", name, err)
}

// Tap resolves the element and taps its center.
func (d *Driver) Tap(ctx context.Context, el *locator.Element) error {
	if err := d.guard(); err != nil {
		return err
	}
	node, err := d.resolve(ctx, el)
	if err != nil {
		return err
	}
	x, y := node.Bounds.Center()
	return d.act(ctx, "tap", d.backend.Tap(ctx, x, y))
}

// SetText resolves the element, clears it, and types the value. Nodes
// without an engine handle (coordinate or layout-derived) are focused by
// tapping first, then edited through the focused field.
func (d *Driver) SetText(ctx context.Context, el *locator.Element, value string) error {
	if err := d.guard(); err != nil {
		return err
	}
	node, err := d.resolve(ctx, el)
	if err != nil {
		return err
	}

	if node.Handle == "" {
		x, y := node.Bounds.Center()
		if err := d.act(ctx, "focus", d.backend.Tap(ctx, x, y)); err != nil {
			return err
		}
	}
	if err := d.act(ctx, "clear", d.backend.ClearText(ctx, node.Handle)); err != nil {
		return err
	}
	return d.act(ctx, "input", d.backend.InputText(ctx, node.Handle, value))
}

// Swipe resolves the element and swipes from its center in the given
// direction, clamped to the screen.
func (d *Driver) Swipe(ctx context.Context, el *locator.Element, dir core.SwipeDirection, distance int) error {
	if err := d.guard(); err != nil {
		return err
	}
	if distance <= 0 {
		return core.ErrInvalidConfig.WithMessagef("swipe distance must be positive, got %d", distance)
	}
	node, err := d.resolve(ctx, el)
	if err != nil {
		return err
	}
	w, h, err := d.backend.WindowSize(ctx)
	if err != nil {
		return d.act(ctx, "swipe", err)
	}

	fromX, fromY := node.Bounds.Center()
	toX, toY := fromX, fromY
	switch dir {
	case core.SwipeUp:
		toY -= distance
	case core.SwipeDown:
		toY += distance
	case core.SwipeLeft:
		toX -= distance
	case core.SwipeRight:
		toX += distance
	}
	toX = clamp(toX, 0, w-1)
	toY = clamp(toY, 0, h-1)
	return d.act(ctx, "swipe", d.backend.Swipe(ctx, fromX, fromY, toX, toY, swipeDuration))
}

// Screenshot captures the current screen as PNG bytes.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	if err := d.guard(); err != nil {
		return nil, err
	}
	data, err := d.backend.Screenshot(ctx)
	if err != nil {
		return nil, d.act(ctx, "screenshot", err)
	}
	return data, nil
}

// ForegroundApp returns the identifier of the foreground app.
func (d *Driver) ForegroundApp(ctx context.Context) (string, error) {
	if err := d.guard(); err != nil {
		return "", err
	}
	app, err := d.backend.ForegroundApp(ctx)
	if err != nil {
		return "", d.act(ctx, "foreground", err)
	}
	return app, nil
}

// Back presses the BACK key.
func (d *Driver) Back(ctx context.Context) error {
	if err := d.guard(); err != nil {
		return err
	}
	return d.act(ctx, "back", d.backend.PressKey(ctx, keycodeBack))
}

// Home presses the HOME key.
func (d *Driver) Home(ctx context.Context) error {
	if err := d.guard(); err != nil {
		return err
	}
	return d.act(ctx, "home", d.backend.PressKey(ctx, keycodeHome))
}

// LaunchApp brings the session's app to the foreground.
func (d *Driver) LaunchApp(ctx context.Context) error {
	if err := d.guard(); err != nil {
		return err
	}
	if d.appID == "" {
		return core.ErrInvalidConfig.WithMessage("session has no app configured")
	}
	return d.act(ctx, "launch", d.backend.LaunchApp(ctx, d.appID))
}

// TerminateApp stops the session's app.
func (d *Driver) TerminateApp(ctx context.Context) error {
	if err := d.guard(); err != nil {
		return err
	}
	if d.appID == "" {
		return core.ErrInvalidConfig.WithMessage("session has no app configured")
	}
	return d.act(ctx, "terminate", d.backend.TerminateApp(ctx, d.appID))
}

// Recover steers the UI back to the app under automation: a few BACK
// presses to dismiss dialogs and foreign screens, then a relaunch if the
// app still is not foreground.
func (d *Driver) Recover(ctx context.Context) error {
	if err := d.guard(); err != nil {
		return err
	}
	if d.appID == "" {
		return core.ErrInvalidConfig.WithMessage("session has no app configured")
	}

	for i := 0; i < recoverMaxBack; i++ {
		app, err := d.backend.ForegroundApp(ctx)
		if err == nil && app == d.appID {
			return nil
		}
		if err := d.act(ctx, "back", d.backend.PressKey(ctx, keycodeBack)); err != nil {
			return err
		}
	}

	app, err := d.backend.ForegroundApp(ctx)
	if err == nil && app == d.appID {
		return nil
	}
	d.log.Debug("relaunching app after back-recovery",
		zap.String("device", d.dev.Device.ID),
		zap.String("app", d.appID))
	return d.act(ctx, "launch", d.backend.LaunchApp(ctx, d.appID))
}

// Close tears the session down. Idempotent.
func (d *Driver) Close(ctx context.Context) error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.log.Debug("session closed", zap.String("device", d.dev.Device.ID))
	return d.backend.Detach(ctx)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
