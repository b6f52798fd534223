package feed

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"gps-arbiter/internal/elevation"
	"gps-arbiter/internal/gpsd"
	"gps-arbiter/internal/position"
)

// State is the overall feed state, not a per-device one.
type State int

const (
	StateDisconnected State = iota
	StateNoPosition
	StateHasPosition
)

func (s State) String() string {
	switch s {
	case StateNoPosition:
		return "no_position"
	case StateHasPosition:
		return "position"
	default:
		return "disconnected"
	}
}

// Observer receives position transitions. Both calls are best-effort
// notifications dispatched from the feed's poll goroutine; implementations
// must not call back into the feed.
type Observer interface {
	PositionAvailable(fix position.Fix)
	PositionLost()
}

// Config controls arbitration and expiry.
type Config struct {
	// PreferredDevice always wins arbitration while it holds any fix.
	PreferredDevice string

	// UpdateTimeout removes a device with no reports at all; FixTimeout
	// clears a stored fix while keeping the device slot. Zero disables a
	// policy.
	UpdateTimeout time.Duration
	FixTimeout    time.Duration

	// SweepInterval is the periodic sweep/arbitration cadence.
	SweepInterval time.Duration

	// AugmentTimeout bounds a single external elevation lookup.
	AugmentTimeout time.Duration
}

// Feed owns the device registry and drives arbitration. Reports stream in
// through Ingest; Run hosts the periodic sweep and all observer
// notifications, so ingestion never blocks on the network.
type Feed struct {
	cfg      Config
	registry *position.Registry
	elev     *elevation.Cache

	obsMu     sync.Mutex
	observers []Observer

	wake chan struct{}
	now  func() time.Time

	// Arbitration state. Touched only by Poll, read via mutex elsewhere.
	stateMu     sync.Mutex
	state       State
	current     *position.Fix
	lastDevice  string
	lastFixTime time.Time
}

func New(cfg Config, elev *elevation.Cache) *Feed {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	if cfg.AugmentTimeout <= 0 {
		cfg.AugmentTimeout = 10 * time.Second
	}
	// A device must not outlive its fix validity window.
	if cfg.UpdateTimeout > 0 && cfg.UpdateTimeout < cfg.FixTimeout {
		log.Printf("feed update_timeout %s below fix_timeout %s, clamping", cfg.UpdateTimeout, cfg.FixTimeout)
		cfg.UpdateTimeout = cfg.FixTimeout
	}
	return &Feed{
		cfg:      cfg,
		registry: position.NewRegistry(),
		elev:     elev,
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

// AddObserver registers a transition observer. Call before Run.
func (f *Feed) AddObserver(o Observer) {
	if f == nil || o == nil {
		return
	}
	f.obsMu.Lock()
	f.observers = append(f.observers, o)
	f.obsMu.Unlock()
}

// Ingest applies one decoded report to the registry. Reports below 2D only
// refresh the device's liveness; valid fixes are stored and arbitration is
// scheduled. The report is fully applied before Ingest returns.
func (f *Feed) Ingest(rep gpsd.Report) {
	if f == nil {
		return
	}
	now := f.now().UTC()

	fix, ok := rep.ToFix(now)
	if !ok {
		f.registry.Touch(now, rep.DeviceID)
		return
	}

	f.registry.Upsert(now, fix)

	// A 3D fix is an authoritative altitude sample; remember it so nearby
	// 2D fixes can be augmented without an external call.
	if fix.Mode == position.Mode3D && fix.AltM != nil && f.elev != nil {
		f.elev.Store(fix.LatDeg, fix.LonDeg, *fix.AltM)
	}

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Run drives periodic sweeping and arbitration until the context ends.
func (f *Feed) Run(ctx context.Context) error {
	if f == nil {
		return fmt.Errorf("feed is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}

	t := time.NewTicker(f.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			if f.elev != nil {
				f.elev.Save()
			}
			return nil
		case <-t.C:
			f.Poll(ctx, f.now().UTC())
		case <-f.wake:
			f.evaluate(ctx, f.now().UTC())
		}
	}
}

// Poll runs one sweep-and-arbitrate cycle.
func (f *Feed) Poll(ctx context.Context, nowUTC time.Time) {
	if f == nil {
		return
	}
	rep := f.registry.Sweep(nowUTC, position.SweepPolicy{
		UpdateTimeout: f.cfg.UpdateTimeout,
		FixTimeout:    f.cfg.FixTimeout,
	})
	if !rep.Empty() {
		for _, id := range rep.Removed {
			log.Printf("feed device expired device=%s", id)
		}
		for _, id := range rep.FixesCleared {
			log.Printf("feed fix expired device=%s", id)
		}
	}
	f.evaluate(ctx, nowUTC)
}

// evaluate arbitrates over a fresh snapshot and emits transitions. A
// notification fires at most once per transition; an unchanged selection
// stays silent.
func (f *Feed) evaluate(ctx context.Context, nowUTC time.Time) {
	selected, ok := position.Select(f.registry.Snapshot(), f.cfg.PreferredDevice)

	if !ok {
		f.stateMu.Lock()
		wasReporting := f.state != StateNoPosition
		f.state = StateNoPosition
		f.current = nil
		f.lastDevice = ""
		f.lastFixTime = time.Time{}
		f.stateMu.Unlock()

		if wasReporting {
			log.Printf("feed position lost")
			f.notifyLost()
		}
		return
	}

	f.augment(ctx, &selected)

	f.stateMu.Lock()
	unchanged := f.state == StateHasPosition &&
		f.lastDevice == selected.DeviceID &&
		f.lastFixTime.Equal(selected.FixTime)
	f.state = StateHasPosition
	cur := selected
	f.current = &cur
	f.lastDevice = selected.DeviceID
	f.lastFixTime = selected.FixTime
	f.stateMu.Unlock()

	if unchanged {
		return
	}
	log.Printf("feed position available device=%s mode=%s lat=%.6f lon=%.6f",
		selected.DeviceID, selected.Mode, selected.LatDeg, selected.LonDeg)
	f.notifyAvailable(selected)
}

// augment fills a missing altitude on a 2D fix from the elevation cache.
// Lookup failures leave the fix without altitude; they never surface here.
func (f *Feed) augment(ctx context.Context, fix *position.Fix) {
	if f.elev == nil || fix.Mode != position.Mode2D || fix.AltM != nil {
		return
	}
	lctx, cancel := context.WithTimeout(ctx, f.cfg.AugmentTimeout)
	defer cancel()
	if alt, ok := f.elev.Augment(lctx, fix.LatDeg, fix.LonDeg, nil); ok {
		fix.AltM = &alt
	}
}

func (f *Feed) notifyAvailable(fix position.Fix) {
	f.obsMu.Lock()
	obs := make([]Observer, len(f.observers))
	copy(obs, f.observers)
	f.obsMu.Unlock()
	for _, o := range obs {
		o.PositionAvailable(fix)
	}
}

func (f *Feed) notifyLost() {
	f.obsMu.Lock()
	obs := make([]Observer, len(f.observers))
	copy(obs, f.observers)
	f.obsMu.Unlock()
	for _, o := range obs {
		o.PositionLost()
	}
}

// Current returns the most recently selected position, if any.
func (f *Feed) Current() (position.Fix, bool) {
	if f == nil {
		return position.Fix{}, false
	}
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	if f.current == nil {
		return position.Fix{}, false
	}
	return *f.current, true
}

// State reports the feed's arbitration state.
func (f *Feed) State() State {
	if f == nil {
		return StateDisconnected
	}
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	return f.state
}

// Devices returns a snapshot of all tracked devices.
func (f *Feed) Devices() []position.Entry {
	if f == nil {
		return nil
	}
	return f.registry.Snapshot()
}
