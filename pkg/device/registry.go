package device

import (
	"sort"
	"sync"
	"time"

	"github.com/devicelab-dev/devicepool/pkg/core"
)

// Snapshot is a point-in-time copy of one registry record. Snapshots are
// values; holding one never observes later transitions.
type Snapshot struct {
	Device         Device    `json:"device"`
	Status         Status    `json:"status"`
	LastReleasedAt time.Time `json:"lastReleasedAt,omitempty"`
	RegisteredAt   time.Time `json:"registeredAt"`
}

type record struct {
	dev          Device
	status       Status
	lastReleased time.Time
	registered   time.Time
}

func (rec *record) snapshot() Snapshot {
	return Snapshot{
		Device:         rec.dev,
		Status:         rec.status,
		LastReleasedAt: rec.lastReleased,
		RegisteredAt:   rec.registered,
	}
}

// Registry is the single authority for device status. All transitions happen
// under one lock, so no reader ever sees a device mid-transition and no two
// callers can allocate the same device.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*record)}
}

// Register adds a device or refreshes the static facts of a known one.
// Re-registering never touches status or release history, so a discovery
// rescan cannot free an allocated device or heal a quarantined one.
func (r *Registry) Register(d Device) error {
	if err := d.Validate(); err != nil {
		return core.ErrInvalidConfig.WithMessagef("register device: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[d.ID]; ok {
		rec.dev = d
		return nil
	}
	r.records[d.ID] = &record{
		dev:        d,
		status:     StatusAvailable,
		registered: time.Now(),
	}
	return nil
}

// Deregister removes a device from the registry. Removing an allocated
// device is allowed; the holder's next Validate fails with a lost-device
// error.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return core.ErrDeviceUnknown.WithMessagef("deregister: device %s is not registered", id)
	}
	delete(r.records, id)
	return nil
}

// Get returns a snapshot of one device
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return Snapshot{}, false
	}
	return rec.snapshot(), true
}

// All returns snapshots of every registered device, unhealthy included,
// sorted by ID for stable output.
func (r *Registry) All() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device.ID < out[j].Device.ID })
	return out
}

// Find returns snapshots of devices matching the requirements, excluding
// quarantined ones. Allocated devices are included; callers that need a free
// device go through TryAcquire.
func (r *Registry) Find(req Requirements) []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Snapshot
	for _, rec := range r.records {
		if rec.status == StatusUnhealthy {
			continue
		}
		if req.Match(rec.dev) {
			out = append(out, rec.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device.ID < out[j].Device.ID })
	return out
}

// Counts returns how many devices sit in each status
func (r *Registry) Counts() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[Status]int, 3)
	for _, rec := range r.records {
		counts[rec.status]++
	}
	return counts
}

// CanSatisfy reports whether any registered device could ever match the
// requirements. Status is ignored: an allocated or quarantined match still
// means waiting might pay off.
func (r *Registry) CanSatisfy(req Requirements) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.records {
		if req.Match(rec.dev) {
			return true
		}
	}
	return false
}

// TryAcquire atomically picks the least-recently-released available device
// matching the requirements and flips it to allocated. The match, selection,
// and flip happen under one lock. Returns false when no available device
// matches.
func (r *Registry) TryAcquire(req Requirements) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *record
	for _, rec := range r.records {
		if rec.status != StatusAvailable || !req.Match(rec.dev) {
			continue
		}
		if best == nil || lessRecentlyUsed(rec, best) {
			best = rec
		}
	}
	if best == nil {
		return Snapshot{}, false
	}
	best.status = StatusAllocated
	return best.snapshot(), true
}

// lessRecentlyUsed orders candidates for TryAcquire: never-released devices
// first, then oldest release time, with the ID as a deterministic tie-break.
func lessRecentlyUsed(a, b *record) bool {
	if a.lastReleased.IsZero() != b.lastReleased.IsZero() {
		return a.lastReleased.IsZero()
	}
	if !a.lastReleased.Equal(b.lastReleased) {
		return a.lastReleased.Before(b.lastReleased)
	}
	return a.dev.ID < b.dev.ID
}

// Release flips an allocated device back to available and stamps its release
// time. Any other state is left untouched: releasing cannot resurrect a
// quarantined device or free one that was never allocated. Reports whether a
// flip happened.
func (r *Registry) Release(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok || rec.status != StatusAllocated {
		return false
	}
	rec.status = StatusAvailable
	rec.lastReleased = time.Now()
	return true
}

// MarkUnhealthy quarantines a device from any state. Allocated devices stay
// tracked so the holder's next Validate observes the quarantine. Reports
// whether the device is known.
func (r *Registry) MarkUnhealthy(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false
	}
	rec.status = StatusUnhealthy
	return true
}

// ClearUnhealthy returns a quarantined device to the available set. This is
// the health checker's repair edge; any other state is left untouched.
// Reports whether a flip happened.
func (r *Registry) ClearUnhealthy(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok || rec.status != StatusUnhealthy {
		return false
	}
	rec.status = StatusAvailable
	return true
}
