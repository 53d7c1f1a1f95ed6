// Package pool manages exclusive device allocation over a registry: blocking
// acquire with LRU selection, release, quarantine of lost devices, and
// scoped with-device execution.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/devicelab-dev/devicepool/pkg/core"
	"github.com/devicelab-dev/devicepool/pkg/device"
	"github.com/devicelab-dev/devicepool/pkg/metrics"
	"github.com/devicelab-dev/devicepool/pkg/retry"
)

const defaultProbeInterval = 5 * time.Second

// defaultPollPolicy paces the acquire wait loop. Jitter keeps a burst of
// waiters from hammering the registry in lockstep.
var defaultPollPolicy = retry.Policy{
	Delay:  250 * time.Millisecond,
	Jitter: 0.4,
}

// Prober checks that an allocated device still responds. Probe failures
// quarantine the device.
type Prober func(ctx context.Context, snap device.Snapshot) error

// Options configures a Manager.
type Options struct {
	Registry   *device.Registry // Required
	Poll       retry.Policy     // Acquire wait pacing, default 250ms with jitter
	Prober     Prober           // Optional liveness probe
	ProbeEvery time.Duration    // Minimum interval between probes per device, default 5s
	Logger     *zap.Logger
	Metrics    *metrics.Collector
}

// Manager hands out exclusive device allocations.
type Manager struct {
	registry   *device.Registry
	poll       retry.Policy
	prober     Prober
	probeEvery time.Duration
	log        *zap.Logger
	metrics    *metrics.Collector

	mu     sync.Mutex
	wake   chan struct{} // Closed and replaced to broadcast a release
	closed bool
}

// New creates a pool manager over the given registry.
func New(opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	poll := opts.Poll
	if poll.Delay <= 0 {
		poll = defaultPollPolicy
	}
	probeEvery := opts.ProbeEvery
	if probeEvery <= 0 {
		probeEvery = defaultProbeInterval
	}
	return &Manager{
		registry:   opts.Registry,
		poll:       poll,
		prober:     opts.Prober,
		probeEvery: probeEvery,
		log:        log,
		metrics:    opts.Metrics,
		wake:       make(chan struct{}),
	}
}

// Registry exposes the underlying registry for inventory and health edges.
func (m *Manager) Registry() *device.Registry {
	return m.registry
}

// Acquire blocks until a matching device is available, the timeout expires,
// or ctx is done. Selection is least-recently-released among available
// matches. A timeout surfaces as a no-available-device error carrying the
// requirements and waited duration; caller cancellation surfaces as the
// context error. When no registered device could ever match, Acquire fails
// immediately instead of waiting out the timeout. timeout <= 0 waits with
// no pool-side bound.
func (m *Manager) Acquire(ctx context.Context, req device.Requirements, timeout time.Duration) (*Allocation, error) {
	start := time.Now()
	platform := string(req.Platform)

	if err := req.Validate(); err != nil {
		m.metrics.RecordAcquire(platform, metrics.OutcomeError, 0)
		return nil, core.ErrInvalidConfig.WithMessagef("acquire: %v", err)
	}
	if !m.registry.CanSatisfy(req) {
		m.metrics.RecordAcquire(platform, metrics.OutcomeError, time.Since(start))
		return nil, core.ErrNoAvailableDevice.
			WithMessage("no registered device matches the requirements").
			WithDetails(requirementDetails(req))
	}

	wctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for attempt := 1; ; attempt++ {
		if m.isClosed() {
			m.metrics.RecordAcquire(platform, metrics.OutcomeError, time.Since(start))
			return nil, core.ErrNoAvailableDevice.WithMessage("pool is closed")
		}

		if snap, ok := m.registry.TryAcquire(req); ok {
			alloc := &Allocation{
				ID:         uuid.NewString(),
				Device:     snap,
				AcquiredAt: time.Now(),
				pool:       m,
				limiter:    rate.NewLimiter(rate.Every(m.probeEvery), 1),
			}
			wait := time.Since(start)
			m.metrics.RecordAcquire(platform, metrics.OutcomeOK, wait)
			m.metrics.AllocationOpened()
			m.updateGauges()
			m.log.Debug("device acquired",
				zap.String("device", snap.Device.ID),
				zap.String("allocation", alloc.ID),
				zap.Duration("waited", wait))
			return alloc, nil
		}

		wake := m.wakeCh()
		timer := time.NewTimer(m.poll.DelayFor(attempt))
		select {
		case <-wctx.Done():
			timer.Stop()
			wait := time.Since(start)
			if ctx.Err() != nil {
				m.metrics.RecordAcquire(platform, metrics.OutcomeError, wait)
				return nil, fmt.Errorf("acquire canceled: %w", ctx.Err())
			}
			m.metrics.RecordAcquire(platform, metrics.OutcomeTimeout, wait)
			details := requirementDetails(req)
			details["waitedMs"] = wait.Milliseconds()
			return nil, core.ErrNoAvailableDevice.
				WithMessagef("no device available within %s", timeout).
				WithDetails(details)
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Release returns an allocated device to the pool and wakes waiters. The
// release timestamp is stamped only when the device actually flips back to
// available; a quarantined or deregistered device is left as is. Releasing
// an already-released allocation is a no-op.
func (m *Manager) Release(a *Allocation) {
	if a == nil || !a.released.CompareAndSwap(false, true) {
		return
	}

	id := a.Device.Device.ID
	flipped := m.registry.Release(id)
	m.metrics.AllocationClosed()
	m.updateGauges()
	if flipped {
		m.log.Debug("device released",
			zap.String("device", id),
			zap.String("allocation", a.ID))
	} else {
		m.log.Debug("release skipped, device not allocated anymore",
			zap.String("device", id),
			zap.String("allocation", a.ID))
	}
	m.broadcast()
}

// ReportLost closes the allocation and quarantines its device. The device
// stays out of the available set until the registry's ClearUnhealthy.
func (m *Manager) ReportLost(a *Allocation, cause error) {
	if a == nil || !a.released.CompareAndSwap(false, true) {
		return
	}
	m.metrics.AllocationClosed()
	m.quarantine(a.Device.Device.ID, cause)
}

// WithDevice acquires a device, runs fn, and releases the device no matter
// how fn returns. A panic in fn still releases before propagating.
func (m *Manager) WithDevice(ctx context.Context, req device.Requirements, timeout time.Duration, fn func(ctx context.Context, alloc *Allocation) error) error {
	alloc, err := m.Acquire(ctx, req, timeout)
	if err != nil {
		return err
	}
	defer m.Release(alloc)
	return fn(ctx, alloc)
}

// Close stops new acquisitions and wakes every waiter. Outstanding
// allocations stay valid and can still be released.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.wake)
}

func (m *Manager) quarantine(id string, cause error) {
	m.registry.MarkUnhealthy(id)
	m.updateGauges()
	m.log.Warn("device quarantined",
		zap.String("device", id),
		zap.NamedError("cause", cause))
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) wakeCh() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wake
}

func (m *Manager) broadcast() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	close(m.wake)
	m.wake = make(chan struct{})
}

func (m *Manager) updateGauges() {
	counts := m.registry.Counts()
	for _, s := range []device.Status{device.StatusAvailable, device.StatusAllocated, device.StatusUnhealthy} {
		m.metrics.SetDeviceCount(s.String(), counts[s])
	}
}

func requirementDetails(req device.Requirements) map[string]interface{} {
	details := map[string]interface{}{
		"platform": string(req.Platform),
	}
	if req.MinOSVersion != "" {
		details["minOsVersion"] = req.MinOSVersion
	}
	if req.Model != "" {
		details["model"] = req.Model
	}
	if req.Kind != nil {
		details["kind"] = req.Kind.String()
	}
	if len(req.Tags) > 0 {
		details["tags"] = req.Tags
	}
	return details
}
