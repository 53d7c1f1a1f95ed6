package android

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devicelab-dev/devicepool/pkg/capability"
	"github.com/devicelab-dev/devicepool/pkg/core"
	"github.com/devicelab-dev/devicepool/pkg/device"
	"github.com/devicelab-dev/devicepool/pkg/driver/mock"
	"github.com/devicelab-dev/devicepool/pkg/locator"
	"github.com/devicelab-dev/devicepool/pkg/resolver"
)

const testApp = "com.example.app"

func testSnapshot() device.Snapshot {
	return device.Snapshot{
		Device: device.Device{
			ID:        "pixel-1",
			Platform:  core.PlatformAndroid,
			OSVersion: "13",
			Model:     "Pixel 7",
		},
		Status: device.StatusAllocated,
	}
}

func testProfile(t *testing.T) *capability.Profile {
	t.Helper()
	p, err := capability.Build(capability.Request{
		Platform:   core.PlatformAndroid,
		OSVersion:  "13",
		DeviceKind: core.KindReal,
		DeviceID:   "pixel-1",
		App:        capability.AppInfo{Package: testApp},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return p
}

func testOptions(t *testing.T, b *mock.Backend) Options {
	t.Helper()
	return Options{
		Device:      testSnapshot(),
		Profile:     testProfile(t),
		Backend:     b,
		Resolver:    resolver.New(resolver.Options{Backoff: time.Millisecond}),
		AttachDelay: time.Millisecond,
	}
}

func startDriver(t *testing.T, b *mock.Backend) *Driver {
	t.Helper()
	d, err := Start(context.Background(), testOptions(t, b))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return d
}

func submitElement() *locator.Element {
	return locator.NewElement("login", "submit", locator.Chain{
		locator.ByID("#submit"),
	})
}

func hasCall(t *testing.T, b *mock.Backend, want string) {
	t.Helper()
	for _, c := range b.Calls() {
		if c == want {
			return
		}
	}
	t.Errorf("calls = %v, want to contain %q", b.Calls(), want)
}

func TestStartValidatesOptions(t *testing.T) {
	b := mock.NewBackend()
	iosProfile, err := capability.Build(capability.Request{
		Platform:   core.PlatformIOS,
		OSVersion:  "17",
		DeviceKind: core.KindReal,
		DeviceID:   "iphone-1",
		App:        capability.AppInfo{BundleID: "com.example.ios"},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"nil backend", func(o *Options) { o.Backend = nil }},
		{"nil resolver", func(o *Options) { o.Resolver = nil }},
		{"nil profile", func(o *Options) { o.Profile = nil }},
		{"ios profile", func(o *Options) { o.Profile = iosProfile }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(t, b)
			tt.mutate(&opts)
			_, err := Start(context.Background(), opts)
			if !errors.Is(err, core.ErrInvalidConfig) {
				t.Errorf("Start() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestStartRetriesAttach(t *testing.T) {
	b := mock.NewBackend()
	b.SetErrorTimes("attach", errors.New("engine warming up"), 2)

	d := startDriver(t, b)
	if got := b.CallCount("attach"); got != 3 {
		t.Errorf("attach calls = %d, want 3", got)
	}
	if !b.Attached() {
		t.Error("backend not attached after Start")
	}
	if d.Platform() != core.PlatformAndroid {
		t.Errorf("Platform() = %v, want android", d.Platform())
	}
	if d.DeviceID() != "pixel-1" {
		t.Errorf("DeviceID() = %q, want pixel-1", d.DeviceID())
	}
}

func TestStartExhaustsAttachAttempts(t *testing.T) {
	b := mock.NewBackend()
	b.SetError("attach", errors.New("engine down"))

	opts := testOptions(t, b)
	opts.AttachAttempts = 2
	_, err := Start(context.Background(), opts)
	if !errors.Is(err, core.ErrSessionStart) {
		t.Fatalf("Start() error = %v, want ErrSessionStart", err)
	}
	if got := b.CallCount("attach"); got != 2 {
		t.Errorf("attach calls = %d, want 2", got)
	}
}

func TestTapResolvesAndTapsCenter(t *testing.T) {
	b := mock.NewBackend()
	b.AddNode(locator.KindSemanticID, "#submit", core.Node{
		Handle: "el-1",
		Bounds: core.Bounds{X: 100, Y: 200, Width: 200, Height: 50},
	})
	d := startDriver(t, b)

	if err := d.Tap(context.Background(), submitElement()); err != nil {
		t.Fatalf("Tap() error = %v", err)
	}
	hasCall(t, b, "tap:200,225")
}

func TestTapSurfacesResolutionFailure(t *testing.T) {
	b := mock.NewBackend()
	d := startDriver(t, b)

	err := d.Tap(context.Background(), submitElement())
	if !errors.Is(err, core.ErrElementNotFound) {
		t.Fatalf("Tap() error = %v, want ErrElementNotFound", err)
	}
	if got := b.CallCount("tap:"); got != 0 {
		t.Errorf("tap calls = %d, want 0 after failed resolve", got)
	}
}

func TestSetTextClearsThenTypes(t *testing.T) {
	b := mock.NewBackend()
	b.AddNode(locator.KindSemanticID, "#submit", core.Node{
		Handle: "el-9",
		Bounds: core.Bounds{X: 0, Y: 0, Width: 100, Height: 40},
	})
	d := startDriver(t, b)

	if err := d.SetText(context.Background(), submitElement(), "hello"); err != nil {
		t.Fatalf("SetText() error = %v", err)
	}
	hasCall(t, b, "clear:el-9")
	hasCall(t, b, "input:el-9:hello")
	if got := b.CallCount("tap:"); got != 0 {
		t.Errorf("tap calls = %d, want 0 for a handle-backed node", got)
	}

	// Clear must land before input.
	var clearAt, inputAt int
	for i, c := range b.Calls() {
		if strings.HasPrefix(c, "clear:") {
			clearAt = i
		}
		if strings.HasPrefix(c, "input:") {
			inputAt = i
		}
	}
	if clearAt > inputAt {
		t.Errorf("clear at %d after input at %d", clearAt, inputAt)
	}
}

func TestSetTextFocusesHandlelessNode(t *testing.T) {
	b := mock.NewBackend()
	d := startDriver(t, b)

	el := locator.NewElement("login", "field", locator.Chain{
		locator.ByPoint("540, 960"),
	})
	if err := d.SetText(context.Background(), el, "hi"); err != nil {
		t.Fatalf("SetText() error = %v", err)
	}
	hasCall(t, b, "tap:540,960")
	hasCall(t, b, "input::hi")
}

func TestSwipeDirections(t *testing.T) {
	tests := []struct {
		name string
		dir  core.SwipeDirection
		want string
	}{
		{"up", core.SwipeUp, "swipe:200,225->200,25"},
		{"down", core.SwipeDown, "swipe:200,225->200,425"},
		{"left", core.SwipeLeft, "swipe:200,225->0,225"},
		{"right", core.SwipeRight, "swipe:200,225->400,225"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := mock.NewBackend()
			b.AddNode(locator.KindSemanticID, "#submit", core.Node{
				Handle: "el-1",
				Bounds: core.Bounds{X: 100, Y: 200, Width: 200, Height: 50},
			})
			d := startDriver(t, b)

			if err := d.Swipe(context.Background(), submitElement(), tt.dir, 200); err != nil {
				t.Fatalf("Swipe() error = %v", err)
			}
			hasCall(t, b, tt.want)
		})
	}
}

func TestSwipeClampsToScreen(t *testing.T) {
	b := mock.NewBackend()
	b.SetWindowSize(400, 400)
	b.AddNode(locator.KindSemanticID, "#submit", core.Node{
		Handle: "el-1",
		Bounds: core.Bounds{X: 180, Y: 180, Width: 40, Height: 40},
	})
	d := startDriver(t, b)

	if err := d.Swipe(context.Background(), submitElement(), core.SwipeDown, 5000); err != nil {
		t.Fatalf("Swipe() error = %v", err)
	}
	hasCall(t, b, "swipe:200,200->200,399")
}

func TestSwipeRejectsNonPositiveDistance(t *testing.T) {
	b := mock.NewBackend()
	d := startDriver(t, b)

	err := d.Swipe(context.Background(), submitElement(), core.SwipeUp, 0)
	if !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("Swipe() error = %v, want ErrInvalidConfig", err)
	}
}

func TestBackAndHomeKeycodes(t *testing.T) {
	b := mock.NewBackend()
	d := startDriver(t, b)

	if err := d.Back(context.Background()); err != nil {
		t.Fatalf("Back() error = %v", err)
	}
	if err := d.Home(context.Background()); err != nil {
		t.Fatalf("Home() error = %v", err)
	}
	hasCall(t, b, "key:4")
	hasCall(t, b, "key:3")
}

func TestLaunchAndTerminateApp(t *testing.T) {
	b := mock.NewBackend()
	d := startDriver(t, b)

	if err := d.LaunchApp(context.Background()); err != nil {
		t.Fatalf("LaunchApp() error = %v", err)
	}
	app, err := d.ForegroundApp(context.Background())
	if err != nil {
		t.Fatalf("ForegroundApp() error = %v", err)
	}
	if app != testApp {
		t.Errorf("ForegroundApp() = %q, want %q", app, testApp)
	}
	if err := d.TerminateApp(context.Background()); err != nil {
		t.Fatalf("TerminateApp() error = %v", err)
	}
	hasCall(t, b, "launch:"+testApp)
	hasCall(t, b, "terminate:"+testApp)
}

func TestScreenshotReturnsPayload(t *testing.T) {
	b := mock.NewBackend()
	d := startDriver(t, b)

	data, err := d.Screenshot(context.Background())
	if err != nil {
		t.Fatalf("Screenshot() error = %v", err)
	}
	if len(data) == 0 {
		t.Error("Screenshot() returned empty payload")
	}
}

func TestRecoverNoopWhenAppForeground(t *testing.T) {
	b := mock.NewBackend()
	b.SetForeground(testApp)
	d := startDriver(t, b)

	if err := d.Recover(context.Background()); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if got := b.CallCount("key:"); got != 0 {
		t.Errorf("key presses = %d, want 0", got)
	}
	if got := b.CallCount("launch:"); got != 0 {
		t.Errorf("launches = %d, want 0", got)
	}
}

func TestRecoverBacksOutThenRelaunches(t *testing.T) {
	b := mock.NewBackend()
	b.SetForeground("com.android.launcher")
	d := startDriver(t, b)

	if err := d.Recover(context.Background()); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if got := b.CallCount("key:4"); got != recoverMaxBack {
		t.Errorf("back presses = %d, want %d", got, recoverMaxBack)
	}
	hasCall(t, b, "launch:"+testApp)

	app, err := d.ForegroundApp(context.Background())
	if err != nil {
		t.Fatalf("ForegroundApp() error = %v", err)
	}
	if app != testApp {
		t.Errorf("foreground after Recover = %q, want %q", app, testApp)
	}
}

// seqForeground serves a scripted sequence of foreground apps, then falls
// back to the wrapped mock.
type seqForeground struct {
	*mock.Backend
	mu   sync.Mutex
	apps []string
}

func (s *seqForeground) ForegroundApp(ctx context.Context) (string, error) {
	s.mu.Lock()
	if len(s.apps) > 0 {
		app := s.apps[0]
		s.apps = s.apps[1:]
		s.mu.Unlock()
		return app, nil
	}
	s.mu.Unlock()
	return s.Backend.ForegroundApp(ctx)
}

func TestRecoverStopsWhenBackRestoresApp(t *testing.T) {
	b := mock.NewBackend()
	seq := &seqForeground{Backend: b, apps: []string{"com.android.settings", testApp}}

	opts := testOptions(t, b)
	opts.Backend = seq
	d, err := Start(context.Background(), opts)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := d.Recover(context.Background()); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if got := b.CallCount("key:4"); got != 1 {
		t.Errorf("back presses = %d, want 1", got)
	}
	if got := b.CallCount("launch:"); got != 0 {
		t.Errorf("launches = %d, want 0 when back restores the app", got)
	}
}

func TestActionOnUnreachableDeviceIsDeviceLost(t *testing.T) {
	b := mock.NewBackend()
	b.AddNode(locator.KindSemanticID, "#submit", core.Node{Handle: "el-1"})
	d := startDriver(t, b)

	b.SetError("tap", errors.New("connection reset"))
	b.SetError("alive", errors.New("gone"))

	err := d.Tap(context.Background(), submitElement())
	if !errors.Is(err, core.ErrDeviceLost) {
		t.Errorf("Tap() error = %v, want ErrDeviceLost", err)
	}
}

func TestActionFailureOnLiveDevicePassesThrough(t *testing.T) {
	b := mock.NewBackend()
	b.AddNode(locator.KindSemanticID, "#submit", core.Node{Handle: "el-1"})
	d := startDriver(t, b)

	b.SetError("tap", errors.New("stale element"))

	err := d.Tap(context.Background(), submitElement())
	if err == nil {
		t.Fatal("Tap() error = nil, want error")
	}
	if errors.Is(err, core.ErrDeviceLost) {
		t.Errorf("Tap() error = %v, device is alive", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := mock.NewBackend()
	d := startDriver(t, b)

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if got := b.CallCount("detach"); got != 1 {
		t.Errorf("detach calls = %d, want 1", got)
	}

	if err := d.Tap(context.Background(), submitElement()); !errors.Is(err, core.ErrSessionClosed) {
		t.Errorf("Tap() after Close error = %v, want ErrSessionClosed", err)
	}
}
