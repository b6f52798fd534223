package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gps-arbiter/internal/feed"
	"gps-arbiter/internal/gpsd"
	"gps-arbiter/internal/position"
)

func testFeedWithFix(t *testing.T) *feed.Feed {
	t.Helper()
	f := feed.New(feed.Config{}, nil)
	lat, lon, alt := 45.5, -122.9, 80.0
	f.Ingest(gpsd.Report{
		DeviceID: "gps0",
		Mode:     position.Mode3D,
		LatDeg:   &lat,
		LonDeg:   &lon,
		AltM:     &alt,
		FixTime:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	})
	f.Poll(context.Background(), time.Now().UTC())
	return f
}

func TestHandler_Status(t *testing.T) {
	f := testFeedWithFix(t)
	h := Handler(Options{
		Feed:             f,
		GPSDAddr:         "127.0.0.1:2947",
		GPSDError:        func() string { return "" },
		ElevationEntries: func() int { return 3 },
	})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("code=%d", rec.Code)
	}
	var snap statusSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.Service != "gps-arbiter" || snap.State != "position" || snap.Devices != 1 {
		t.Fatalf("snap=%+v", snap)
	}
	if snap.ElevationEntries != 3 {
		t.Fatalf("elevation_entries=%d", snap.ElevationEntries)
	}
}

func TestHandler_StatusMethodNotAllowed(t *testing.T) {
	h := Handler(Options{Feed: feed.New(feed.Config{}, nil)})
	req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("code=%d", rec.Code)
	}
}

func TestHandler_Devices(t *testing.T) {
	f := testFeedWithFix(t)
	h := Handler(Options{Feed: f})

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var devs []deviceView
	if err := json.Unmarshal(rec.Body.Bytes(), &devs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(devs) != 1 || devs[0].Device != "gps0" || !devs[0].HasFix || devs[0].Mode != "3D" {
		t.Fatalf("devices=%+v", devs)
	}
}

func TestHandler_Position(t *testing.T) {
	f := testFeedWithFix(t)
	h := Handler(Options{Feed: f})

	req := httptest.NewRequest(http.MethodGet, "/api/position", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var u Update
	if err := json.Unmarshal(rec.Body.Bytes(), &u); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !u.Available || u.Position == nil || u.Position.DeviceID != "gps0" {
		t.Fatalf("update=%+v", u)
	}
}

func TestHandler_PositionEmpty(t *testing.T) {
	h := Handler(Options{Feed: feed.New(feed.Config{}, nil)})

	req := httptest.NewRequest(http.MethodGet, "/api/position", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var u Update
	if err := json.Unmarshal(rec.Body.Bytes(), &u); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if u.Available || u.Position != nil {
		t.Fatalf("update=%+v", u)
	}
}

func TestHandler_WebsocketPush(t *testing.T) {
	f := feed.New(feed.Config{}, nil)
	b := NewPositionBroadcaster()
	h := Handler(Options{Feed: f, Broadcaster: b})

	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/position/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	b.PositionAvailable(position.Fix{DeviceID: "gps0", Mode: position.Mode2D})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var u Update
	if err := conn.ReadJSON(&u); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !u.Available || u.Position == nil || u.Position.DeviceID != "gps0" {
		t.Fatalf("update=%+v", u)
	}
}

func TestHandler_WebsocketUnavailableWithoutBroadcaster(t *testing.T) {
	h := Handler(Options{Feed: feed.New(feed.Config{}, nil)})
	req := httptest.NewRequest(http.MethodGet, "/api/position/ws", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code=%d", rec.Code)
	}
}
