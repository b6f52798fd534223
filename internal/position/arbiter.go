package position

import "sort"

// Select picks the single best position among the given entries, or reports
// none. A configured preferred device always wins as long as it holds any
// stored fix. Otherwise candidates rank by mode (3D above 2D), then by the
// more recent fix time, then by lexicographically smaller device id so the
// result is deterministic. Pure function over a snapshot; no side effects.
func Select(entries []Entry, preferredDeviceID string) (Fix, bool) {
	if preferredDeviceID != "" {
		for _, e := range entries {
			if e.DeviceID == preferredDeviceID && e.Fix != nil {
				return *e.Fix, true
			}
		}
	}

	candidates := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Fix != nil {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return Fix{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		fi, fj := candidates[i].Fix, candidates[j].Fix
		if fi.Mode != fj.Mode {
			return fi.Mode > fj.Mode
		}
		if !fi.FixTime.Equal(fj.FixTime) {
			return fi.FixTime.After(fj.FixTime)
		}
		return candidates[i].DeviceID < candidates[j].DeviceID
	})

	return *candidates[0].Fix, true
}
