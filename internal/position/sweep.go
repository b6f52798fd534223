package position

import "time"

// SweepPolicy holds the two independent staleness thresholds. A zero
// duration disables that policy.
type SweepPolicy struct {
	// UpdateTimeout removes a device that has not reported at all; it is
	// presumed disconnected or hot-unplugged.
	UpdateTimeout time.Duration
	// FixTimeout clears a device's stored fix while keeping the entry, so a
	// device that is still reporting without a fix can reacquire in place.
	FixTimeout time.Duration
}

// SweepReport lists what a sweep changed. Repeated sweeps over unchanged
// state produce empty reports.
type SweepReport struct {
	Removed      []string
	FixesCleared []string
}

func (r SweepReport) Empty() bool {
	return len(r.Removed) == 0 && len(r.FixesCleared) == 0
}

// Sweep applies both timeout policies to every entry.
func (r *Registry) Sweep(nowUTC time.Time, pol SweepPolicy) SweepReport {
	var rep SweepReport
	if r == nil {
		return rep
	}
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	nowUTC = nowUTC.UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.entries {
		if pol.UpdateTimeout > 0 && nowUTC.Sub(e.LastUpdate) > pol.UpdateTimeout {
			delete(r.entries, id)
			rep.Removed = append(rep.Removed, id)
			continue
		}
		if pol.FixTimeout > 0 && e.Fix != nil && nowUTC.Sub(e.LastFix) > pol.FixTimeout {
			e.Fix = nil
			rep.FixesCleared = append(rep.FixesCleared, id)
		}
	}
	return rep
}
