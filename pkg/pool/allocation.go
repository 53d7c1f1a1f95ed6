package pool

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/devicelab-dev/devicepool/pkg/core"
	"github.com/devicelab-dev/devicepool/pkg/device"
)

// Allocation is an exclusive hold on one device. Exactly one live allocation
// exists per allocated device; the handle stays valid until Release or
// ReportLost, and Validate tells the holder when the device went away
// underneath it.
type Allocation struct {
	ID         string          // Unique allocation identifier
	Device     device.Snapshot // Device facts at acquisition time
	AcquiredAt time.Time

	pool     *Manager
	limiter  *rate.Limiter // Throttles liveness probes
	released atomic.Bool
}

// Released reports whether the allocation has been closed.
func (a *Allocation) Released() bool {
	return a.released.Load()
}

// Release returns the device to the pool. Safe to call more than once;
// every call after the first is a no-op.
func (a *Allocation) Release() {
	a.pool.Release(a)
}

// Validate checks that the allocation still holds a healthy device. The
// registry status is checked on every call; the configured liveness prober
// runs at most once per probe interval. A device that is quarantined,
// deregistered, or failing its probe surfaces as a lost-device error, and a
// probe failure quarantines the device for everyone else too.
func (a *Allocation) Validate(ctx context.Context) error {
	if a.released.Load() {
		return core.ErrAllocationReleased.WithMessagef("allocation %s already released", a.ID)
	}

	id := a.Device.Device.ID
	snap, ok := a.pool.registry.Get(id)
	if !ok {
		return core.ErrDeviceLost.WithMessagef("device %s is no longer registered", id)
	}
	switch snap.Status {
	case device.StatusUnhealthy:
		return core.ErrDeviceLost.WithMessagef("device %s is quarantined", id)
	case device.StatusAvailable:
		// The registry shows the device free while this handle is live, so
		// the allocation no longer owns it.
		return core.ErrDeviceLost.WithMessagef("device %s is no longer held by allocation %s", id, a.ID)
	}

	if a.pool.prober != nil && a.limiter.Allow() {
		if err := a.pool.prober(ctx, snap); err != nil {
			a.pool.quarantine(id, err)
			return core.ErrDeviceLost.WithMessagef("device %s failed liveness probe", id).WithCause(err)
		}
	}
	return nil
}
