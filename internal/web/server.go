package web

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"gps-arbiter/internal/feed"
	"gps-arbiter/internal/position"
)

// Options wires the status surface to the running services.
type Options struct {
	Feed *feed.Feed

	// Broadcaster feeds the websocket endpoint. Optional.
	Broadcaster *PositionBroadcaster

	// GPSDAddr and GPSDError describe the upstream connection for /api/status.
	GPSDAddr  string
	GPSDError func() string

	// ElevationEntries reports cache size; nil when augmentation is off.
	ElevationEntries func() int
}

type statusSnapshot struct {
	Service          string `json:"service"`
	NowUTC           string `json:"now_utc"`
	UptimeSec        int64  `json:"uptime_sec"`
	State            string `json:"state"`
	GPSDAddr         string `json:"gpsd_addr"`
	GPSDLastError    string `json:"gpsd_last_error,omitempty"`
	Devices          int    `json:"devices"`
	ElevationEntries int    `json:"elevation_entries"`
}

type deviceView struct {
	Device        string   `json:"device"`
	HasFix        bool     `json:"has_fix"`
	Mode          string   `json:"mode,omitempty"`
	LatDeg        *float64 `json:"lat_deg,omitempty"`
	LonDeg        *float64 `json:"lon_deg,omitempty"`
	AltM          *float64 `json:"alt_m,omitempty"`
	SatsSeen      int      `json:"sats_seen"`
	SatsUsed      int      `json:"sats_used"`
	AccuracyM     float64  `json:"accuracy_m,omitempty"`
	LastUpdateUTC string   `json:"last_update_utc,omitempty"`
	LastFixUTC    string   `json:"last_fix_utc,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func Handler(opts Options) http.Handler {
	start := time.Now().UTC()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		now := time.Now().UTC()
		snap := statusSnapshot{
			Service:   "gps-arbiter",
			NowUTC:    now.Format(time.RFC3339Nano),
			UptimeSec: int64(now.Sub(start).Seconds()),
			State:     opts.Feed.State().String(),
			GPSDAddr:  opts.GPSDAddr,
			Devices:   len(opts.Feed.Devices()),
		}
		if opts.GPSDError != nil {
			snap.GPSDLastError = opts.GPSDError()
		}
		if opts.ElevationEntries != nil {
			snap.ElevationEntries = opts.ElevationEntries()
		}
		writeJSON(w, snap)
	})

	mux.HandleFunc("/api/devices", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		entries := opts.Feed.Devices()
		out := make([]deviceView, 0, len(entries))
		for _, e := range entries {
			out = append(out, viewOf(e))
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("/api/position", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if cur, ok := opts.Feed.Current(); ok {
			writeJSON(w, Update{Available: true, Position: &cur})
			return
		}
		writeJSON(w, Update{Available: false})
	})

	mux.HandleFunc("/api/position/ws", func(w http.ResponseWriter, r *http.Request) {
		if opts.Broadcaster == nil {
			http.Error(w, "live updates unavailable", http.StatusNotFound)
			return
		}
		serveWS(opts.Broadcaster, w, r)
	})

	return mux
}

func viewOf(e position.Entry) deviceView {
	v := deviceView{Device: e.DeviceID}
	if !e.LastUpdate.IsZero() {
		v.LastUpdateUTC = e.LastUpdate.Format(time.RFC3339Nano)
	}
	if !e.LastFix.IsZero() {
		v.LastFixUTC = e.LastFix.Format(time.RFC3339Nano)
	}
	if e.Fix == nil {
		return v
	}
	f := e.Fix
	v.HasFix = true
	v.Mode = f.Mode.String()
	lat, lon := f.LatDeg, f.LonDeg
	v.LatDeg = &lat
	v.LonDeg = &lon
	v.AltM = f.AltM
	v.SatsSeen = f.SatsSeen
	v.SatsUsed = f.SatsUsed
	v.AccuracyM = f.AccuracyM
	return v
}

func serveWS(b *PositionBroadcaster, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel := b.Subscribe()
	defer cancel()

	// Drain client frames so pings and closes are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for u := range updates {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(u); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

// Serve runs the status server until the context ends.
func Serve(ctx context.Context, listen string, h http.Handler) error {
	srv := &http.Server{Addr: listen, Handler: h}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
