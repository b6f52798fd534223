package position

import (
	"sort"
	"sync"
	"time"
)

// Registry holds the latest known fix per device. All mutation is
// serialized; Snapshot returns copies so readers never observe a
// half-written entry.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Upsert installs a validated fix for its device, creating the entry on
// first sight. Callers filter sub-2D reports; those go through Touch.
func (r *Registry) Upsert(nowUTC time.Time, fix Fix) {
	if r == nil || !fix.Mode.Valid() {
		return
	}
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	nowUTC = nowUTC.UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[fix.DeviceID]
	if !ok {
		e = &Entry{DeviceID: fix.DeviceID}
		r.entries[fix.DeviceID] = e
	}
	f := fix
	e.Fix = &f
	e.LastUpdate = nowUTC
	e.LastFix = nowUTC
}

// Touch records activity from a device that is reporting but has no usable
// fix (indoors, obstructed). It keeps the update timestamp fresh so the
// device is not presumed unplugged, without installing a position.
func (r *Registry) Touch(nowUTC time.Time, deviceID string) {
	if r == nil || deviceID == "" {
		return
	}
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[deviceID]
	if !ok {
		e = &Entry{DeviceID: deviceID}
		r.entries[deviceID] = e
	}
	e.LastUpdate = nowUTC.UTC()
}

func (r *Registry) Remove(deviceID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, deviceID)
}

// Snapshot returns a deep copy of all entries, ordered by device id.
func (r *Registry) Snapshot() []Entry {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		c := *e
		if e.Fix != nil {
			f := *e.Fix
			c.Fix = &f
		}
		out = append(out, c)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
