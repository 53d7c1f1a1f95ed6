package device

import "time"

// SetLastReleased stamps a device's release time directly.
// This should only be used in tests.
func (r *Registry) SetLastReleased(id string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[id]; ok {
		rec.lastReleased = t
	}
}

// SetStatus forces a device into a status without going through the
// allocation edges. This should only be used in tests.
func (r *Registry) SetStatus(id string, s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[id]; ok {
		rec.status = s
	}
}
