package device

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/devicelab-dev/devicepool/pkg/core"
)

func newTestRegistry(t *testing.T, devices ...Device) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, d := range devices {
		if err := r.Register(d); err != nil {
			t.Fatalf("Register(%s) error = %v", d.ID, err)
		}
	}
	return r
}

func androidDevice(id string) Device {
	return Device{
		ID:        id,
		Platform:  core.PlatformAndroid,
		OSVersion: "13.0",
		Model:     "Pixel 7",
		Kind:      core.KindEmulator,
	}
}

func androidReq() Requirements {
	return Requirements{Platform: core.PlatformAndroid}
}

func TestRegisterAndGet(t *testing.T) {
	r := newTestRegistry(t, androidDevice("emu-1"))

	snap, ok := r.Get("emu-1")
	if !ok {
		t.Fatal("Get(emu-1) not found")
	}
	if snap.Status != StatusAvailable {
		t.Errorf("Status = %v, want %v", snap.Status, StatusAvailable)
	}
	if snap.RegisteredAt.IsZero() {
		t.Error("RegisteredAt is zero")
	}
	if !snap.LastReleasedAt.IsZero() {
		t.Errorf("LastReleasedAt = %v, want zero", snap.LastReleasedAt)
	}
}

func TestRegisterRejectsInvalidDevice(t *testing.T) {
	r := NewRegistry()

	err := r.Register(Device{ID: "x"})
	if !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("Register() error = %v, want ErrInvalidConfig", err)
	}
}

func TestReRegisterPreservesStatus(t *testing.T) {
	r := newTestRegistry(t, androidDevice("emu-1"))

	if _, ok := r.TryAcquire(androidReq()); !ok {
		t.Fatal("TryAcquire() = false, want true")
	}

	updated := androidDevice("emu-1")
	updated.OSVersion = "14.0"
	if err := r.Register(updated); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	snap, _ := r.Get("emu-1")
	if snap.Status != StatusAllocated {
		t.Errorf("Status after re-register = %v, want %v", snap.Status, StatusAllocated)
	}
	if snap.Device.OSVersion != "14.0" {
		t.Errorf("OSVersion = %q, want %q", snap.Device.OSVersion, "14.0")
	}
}

func TestDeregister(t *testing.T) {
	r := newTestRegistry(t, androidDevice("emu-1"))

	if err := r.Deregister("emu-1"); err != nil {
		t.Fatalf("Deregister() error = %v", err)
	}
	if _, ok := r.Get("emu-1"); ok {
		t.Error("Get() found device after Deregister")
	}

	err := r.Deregister("emu-1")
	if !errors.Is(err, core.ErrDeviceUnknown) {
		t.Errorf("Deregister(unknown) error = %v, want ErrDeviceUnknown", err)
	}
}

func TestAllSortedByID(t *testing.T) {
	r := newTestRegistry(t, androidDevice("emu-3"), androidDevice("emu-1"), androidDevice("emu-2"))
	r.SetStatus("emu-2", StatusUnhealthy)

	all := r.All()
	if len(all) != 3 {
		t.Fatalf("len(All()) = %d, want 3", len(all))
	}
	for i, want := range []string{"emu-1", "emu-2", "emu-3"} {
		if all[i].Device.ID != want {
			t.Errorf("All()[%d].ID = %q, want %q", i, all[i].Device.ID, want)
		}
	}
}

func TestFindExcludesUnhealthy(t *testing.T) {
	r := newTestRegistry(t, androidDevice("emu-1"), androidDevice("emu-2"))
	r.MarkUnhealthy("emu-2")

	found := r.Find(androidReq())
	if len(found) != 1 || found[0].Device.ID != "emu-1" {
		t.Errorf("Find() = %v, want only emu-1", found)
	}
}

func TestFindIncludesAllocated(t *testing.T) {
	r := newTestRegistry(t, androidDevice("emu-1"))
	r.TryAcquire(androidReq())

	if found := r.Find(androidReq()); len(found) != 1 {
		t.Errorf("len(Find()) = %d, want 1", len(found))
	}
}

func TestCounts(t *testing.T) {
	r := newTestRegistry(t, androidDevice("emu-1"), androidDevice("emu-2"), androidDevice("emu-3"))
	r.TryAcquire(androidReq())
	r.MarkUnhealthy("emu-3")

	counts := r.Counts()
	if counts[StatusAvailable] != 1 || counts[StatusAllocated] != 1 || counts[StatusUnhealthy] != 1 {
		t.Errorf("Counts() = %v, want one of each", counts)
	}
}

func TestTryAcquireFlipsStatus(t *testing.T) {
	r := newTestRegistry(t, androidDevice("emu-1"))

	snap, ok := r.TryAcquire(androidReq())
	if !ok {
		t.Fatal("TryAcquire() = false, want true")
	}
	if snap.Status != StatusAllocated {
		t.Errorf("snapshot Status = %v, want %v", snap.Status, StatusAllocated)
	}

	if _, ok := r.TryAcquire(androidReq()); ok {
		t.Error("second TryAcquire() = true, want false")
	}
}

func TestTryAcquireSkipsUnhealthy(t *testing.T) {
	r := newTestRegistry(t, androidDevice("emu-1"))
	r.MarkUnhealthy("emu-1")

	if _, ok := r.TryAcquire(androidReq()); ok {
		t.Error("TryAcquire() = true for quarantined device, want false")
	}
}

func TestTryAcquirePrefersLeastRecentlyReleased(t *testing.T) {
	r := newTestRegistry(t, androidDevice("a1"), androidDevice("a2"))
	base := time.Now().Add(-time.Hour)
	r.SetLastReleased("a1", base)
	r.SetLastReleased("a2", base.Add(5*time.Second))

	first, ok := r.TryAcquire(androidReq())
	if !ok || first.Device.ID != "a1" {
		t.Fatalf("first TryAcquire() = %v, %v, want a1", first.Device.ID, ok)
	}
	second, ok := r.TryAcquire(androidReq())
	if !ok || second.Device.ID != "a2" {
		t.Fatalf("second TryAcquire() = %v, %v, want a2", second.Device.ID, ok)
	}
	if _, ok := r.TryAcquire(androidReq()); ok {
		t.Error("third TryAcquire() = true, want false")
	}
}

func TestTryAcquirePrefersNeverReleased(t *testing.T) {
	r := newTestRegistry(t, androidDevice("a1"), androidDevice("a2"))
	r.SetLastReleased("a1", time.Now().Add(-time.Hour))

	snap, ok := r.TryAcquire(androidReq())
	if !ok || snap.Device.ID != "a2" {
		t.Errorf("TryAcquire() = %v, want never-released a2", snap.Device.ID)
	}
}

func TestTryAcquireTieBreaksByID(t *testing.T) {
	r := newTestRegistry(t, androidDevice("b"), androidDevice("a"))

	snap, ok := r.TryAcquire(androidReq())
	if !ok || snap.Device.ID != "a" {
		t.Errorf("TryAcquire() = %v, want a", snap.Device.ID)
	}
}

func TestReleaseStampsTime(t *testing.T) {
	r := newTestRegistry(t, androidDevice("emu-1"))
	r.TryAcquire(androidReq())

	if !r.Release("emu-1") {
		t.Fatal("Release() = false, want true")
	}
	snap, _ := r.Get("emu-1")
	if snap.Status != StatusAvailable {
		t.Errorf("Status = %v, want %v", snap.Status, StatusAvailable)
	}
	if snap.LastReleasedAt.IsZero() {
		t.Error("LastReleasedAt is zero after Release")
	}
}

func TestReleaseIsNoOpOutsideAllocated(t *testing.T) {
	r := newTestRegistry(t, androidDevice("emu-1"))

	if r.Release("emu-1") {
		t.Error("Release() = true for available device, want false")
	}
	if r.Release("ghost") {
		t.Error("Release() = true for unknown device, want false")
	}

	r.MarkUnhealthy("emu-1")
	if r.Release("emu-1") {
		t.Error("Release() = true for quarantined device, want false")
	}
	snap, _ := r.Get("emu-1")
	if snap.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want %v after Release of quarantined device", snap.Status, StatusUnhealthy)
	}
}

func TestMarkUnhealthyFromAllocated(t *testing.T) {
	r := newTestRegistry(t, androidDevice("emu-1"))
	r.TryAcquire(androidReq())

	if !r.MarkUnhealthy("emu-1") {
		t.Fatal("MarkUnhealthy() = false, want true")
	}
	snap, _ := r.Get("emu-1")
	if snap.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want %v", snap.Status, StatusUnhealthy)
	}
	if r.MarkUnhealthy("ghost") {
		t.Error("MarkUnhealthy(unknown) = true, want false")
	}
}

func TestClearUnhealthy(t *testing.T) {
	r := newTestRegistry(t, androidDevice("emu-1"))

	if r.ClearUnhealthy("emu-1") {
		t.Error("ClearUnhealthy() = true for available device, want false")
	}

	r.MarkUnhealthy("emu-1")
	if !r.ClearUnhealthy("emu-1") {
		t.Fatal("ClearUnhealthy() = false, want true")
	}
	snap, _ := r.Get("emu-1")
	if snap.Status != StatusAvailable {
		t.Errorf("Status = %v, want %v", snap.Status, StatusAvailable)
	}
}

func TestCanSatisfyIgnoresStatus(t *testing.T) {
	r := newTestRegistry(t, androidDevice("emu-1"))
	r.MarkUnhealthy("emu-1")

	if !r.CanSatisfy(androidReq()) {
		t.Error("CanSatisfy() = false for quarantined match, want true")
	}
	if r.CanSatisfy(Requirements{Platform: core.PlatformIOS}) {
		t.Error("CanSatisfy() = true with no matching platform, want false")
	}
}

func TestTryAcquireIsExclusiveUnderContention(t *testing.T) {
	r := newTestRegistry(t, androidDevice("emu-1"))

	const workers = 32
	var wg sync.WaitGroup
	wins := make(chan Snapshot, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if snap, ok := r.TryAcquire(androidReq()); ok {
				wins <- snap
			}
		}()
	}
	wg.Wait()
	close(wins)

	if got := len(wins); got != 1 {
		t.Errorf("winners = %d, want exactly 1", got)
	}
}
