package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/devicelab-dev/devicepool/pkg/capability"
	"github.com/devicelab-dev/devicepool/pkg/core"
	"github.com/devicelab-dev/devicepool/pkg/device"
	"github.com/devicelab-dev/devicepool/pkg/driver/mock"
	"github.com/devicelab-dev/devicepool/pkg/pool"
	"github.com/devicelab-dev/devicepool/pkg/resolver"
	"github.com/devicelab-dev/devicepool/pkg/retry"
)

func androidDevice(id string) device.Device {
	return device.Device{ID: id, Platform: core.PlatformAndroid, OSVersion: "13", Model: "Pixel 7"}
}

func iosDevice(id string) device.Device {
	return device.Device{ID: id, Platform: core.PlatformIOS, OSVersion: "17.2", Model: "iPhone 15"}
}

func newTestPool(t *testing.T, devs ...device.Device) *pool.Manager {
	t.Helper()
	reg := device.NewRegistry()
	for _, d := range devs {
		if err := reg.Register(d); err != nil {
			t.Fatalf("Register(%s) error = %v", d.ID, err)
		}
	}
	return pool.New(pool.Options{
		Registry: reg,
		Poll:     retry.Policy{Delay: time.Millisecond},
	})
}

func newTestRunner(t *testing.T, p *pool.Manager) *Runner {
	t.Helper()
	return &Runner{
		Pool:           p,
		Backends:       func(device.Snapshot) (core.Backend, error) { return mock.NewBackend(), nil },
		Engine:         resolver.New(resolver.Options{Backoff: time.Millisecond}),
		Workers:        2,
		AcquireTimeout: time.Second,
	}
}

func androidTask(name string, fn func(ctx context.Context, s core.Session) error) Task {
	return Task{
		Name:         name,
		Requirements: device.Requirements{Platform: core.PlatformAndroid},
		App:          capability.AppInfo{Package: "com.example.app"},
		Fn:           fn,
	}
}

func okFn(ctx context.Context, s core.Session) error { return nil }

func TestRunExecutesAllTasksInInputOrder(t *testing.T) {
	p := newTestPool(t, androidDevice("a1"), androidDevice("a2"))
	r := newTestRunner(t, p)

	tasks := []Task{
		androidTask("login", okFn),
		androidTask("checkout", okFn),
		androidTask("search", okFn),
		androidTask("settings", okFn),
	}
	results := r.Run(context.Background(), tasks)

	if len(results) != len(tasks) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(tasks))
	}
	for i, res := range results {
		if res.Task != tasks[i].Name {
			t.Errorf("results[%d].Task = %q, want %q", i, res.Task, tasks[i].Name)
		}
		if res.Status != StatusPassed {
			t.Errorf("results[%d] = %v (%v), want passed", i, res.Status, res.Err)
		}
		if res.DeviceID == "" {
			t.Errorf("results[%d].DeviceID empty", i)
		}
		if res.Duration <= 0 {
			t.Errorf("results[%d].Duration = %v, want > 0", i, res.Duration)
		}
	}

	// Every device must be back in the pool.
	for _, snap := range p.Registry().All() {
		if snap.Status != device.StatusAvailable {
			t.Errorf("device %s status = %v after run, want available", snap.Device.ID, snap.Status)
		}
	}
}

func TestRunTaskFailureDoesNotAbortRun(t *testing.T) {
	p := newTestPool(t, androidDevice("a1"))
	r := newTestRunner(t, p)

	boom := errors.New("assertion failed")
	tasks := []Task{
		androidTask("first", okFn),
		androidTask("second", func(ctx context.Context, s core.Session) error { return boom }),
		androidTask("third", okFn),
	}
	results := r.Run(context.Background(), tasks)

	if results[0].Status != StatusPassed || results[2].Status != StatusPassed {
		t.Errorf("surrounding tasks = %v, %v, want passed", results[0].Status, results[2].Status)
	}
	if results[1].Status != StatusFailed {
		t.Errorf("results[1].Status = %v, want failed", results[1].Status)
	}
	if !errors.Is(results[1].Err, boom) {
		t.Errorf("results[1].Err = %v, want %v", results[1].Err, boom)
	}
}

func TestRunSwitchesAdapterByPlatform(t *testing.T) {
	p := newTestPool(t, androidDevice("a1"), iosDevice("i1"))
	r := newTestRunner(t, p)

	var mu sync.Mutex
	platforms := map[string]core.Platform{}
	record := func(ctx context.Context, s core.Session) error {
		mu.Lock()
		defer mu.Unlock()
		platforms[s.DeviceID()] = s.Platform()
		return nil
	}

	tasks := []Task{
		androidTask("android-task", record),
		{
			Name:         "ios-task",
			Requirements: device.Requirements{Platform: core.PlatformIOS},
			App:          capability.AppInfo{BundleID: "com.example.ios"},
			Fn:           record,
		},
	}
	results := r.Run(context.Background(), tasks)

	for i, res := range results {
		if res.Status != StatusPassed {
			t.Fatalf("results[%d] = %v (%v), want passed", i, res.Status, res.Err)
		}
	}
	if platforms["a1"] != core.PlatformAndroid {
		t.Errorf("a1 session platform = %v, want android", platforms["a1"])
	}
	if platforms["i1"] != core.PlatformIOS {
		t.Errorf("i1 session platform = %v, want ios", platforms["i1"])
	}
}

func TestRunMarksTasksSkippedAfterCancel(t *testing.T) {
	p := newTestPool(t, androidDevice("a1"))
	r := newTestRunner(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := r.Run(ctx, []Task{androidTask("never", okFn), androidTask("ran", okFn)})
	for i, res := range results {
		if res.Status != StatusSkipped {
			t.Errorf("results[%d].Status = %v, want skipped", i, res.Status)
		}
	}
}

func TestRunQuarantinesLostDevice(t *testing.T) {
	p := newTestPool(t, androidDevice("a1"))
	r := newTestRunner(t, p)

	lost := core.ErrDeviceLost.WithMessage("device fell off usb")
	results := r.Run(context.Background(), []Task{
		androidTask("doomed", func(ctx context.Context, s core.Session) error { return lost }),
	})

	if results[0].Status != StatusFailed {
		t.Fatalf("Status = %v, want failed", results[0].Status)
	}
	snap, ok := p.Registry().Get("a1")
	if !ok {
		t.Fatal("device a1 missing from registry")
	}
	if snap.Status != device.StatusUnhealthy {
		t.Errorf("device status = %v, want unhealthy after loss", snap.Status)
	}
}

func TestRunFailsFastWhenNoDeviceCanMatch(t *testing.T) {
	p := newTestPool(t, androidDevice("a1"))
	r := newTestRunner(t, p)

	results := r.Run(context.Background(), []Task{{
		Name:         "ios-only",
		Requirements: device.Requirements{Platform: core.PlatformIOS},
		App:          capability.AppInfo{BundleID: "com.example.ios"},
		Fn:           okFn,
	}})

	if results[0].Status != StatusFailed {
		t.Fatalf("Status = %v, want failed", results[0].Status)
	}
	if !errors.Is(results[0].Err, core.ErrNoAvailableDevice) {
		t.Errorf("Err = %v, want ErrNoAvailableDevice", results[0].Err)
	}
}

func TestRunBackendFactoryFailure(t *testing.T) {
	p := newTestPool(t, androidDevice("a1"))
	r := newTestRunner(t, p)
	r.Backends = func(device.Snapshot) (core.Backend, error) {
		return nil, errors.New("no engine at endpoint")
	}

	results := r.Run(context.Background(), []Task{androidTask("stranded", okFn)})
	if !errors.Is(results[0].Err, core.ErrBackendUnavailable) {
		t.Errorf("Err = %v, want ErrBackendUnavailable", results[0].Err)
	}

	// The acquire must still be released on the failure path.
	snap, _ := p.Registry().Get("a1")
	if snap.Status != device.StatusAvailable {
		t.Errorf("device status = %v, want available", snap.Status)
	}
}

func TestRunWorkerCapBoundsConcurrency(t *testing.T) {
	p := newTestPool(t, androidDevice("a1"), androidDevice("a2"), androidDevice("a3"))
	r := newTestRunner(t, p)
	r.Workers = 1

	var mu sync.Mutex
	cur, peak := 0, 0
	fn := func(ctx context.Context, s core.Session) error {
		mu.Lock()
		cur++
		if cur > peak {
			peak = cur
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		cur--
		mu.Unlock()
		return nil
	}

	tasks := []Task{androidTask("t1", fn), androidTask("t2", fn), androidTask("t3", fn)}
	results := r.Run(context.Background(), tasks)
	for i, res := range results {
		if res.Status != StatusPassed {
			t.Fatalf("results[%d] = %v (%v), want passed", i, res.Status, res.Err)
		}
	}
	if peak != 1 {
		t.Errorf("peak concurrent tasks = %d, want 1", peak)
	}
}

func TestRunSessionTimeoutBoundsTaskBody(t *testing.T) {
	p := newTestPool(t, androidDevice("a1"))
	r := newTestRunner(t, p)
	r.SessionTimeout = 10 * time.Millisecond

	results := r.Run(context.Background(), []Task{
		androidTask("slow", func(ctx context.Context, s core.Session) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		}),
	})

	if results[0].Status != StatusFailed {
		t.Errorf("Status = %v, want failed", results[0].Status)
	}
	if !errors.Is(results[0].Err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want DeadlineExceeded", results[0].Err)
	}
}
