package gpsd

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeGPSD accepts one connection, waits for the WATCH command, then plays
// the given lines and closes.
func fakeGPSD(t *testing.T, lines []string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)
		cmd, err := r.ReadString('\n')
		if err != nil || !strings.HasPrefix(cmd, "?WATCH=") {
			return
		}
		for _, l := range lines {
			if _, err := conn.Write([]byte(l + "\n")); err != nil {
				return
			}
		}
		// Give the client time to drain before EOF.
		time.Sleep(50 * time.Millisecond)
	}()
	return ln.Addr().String()
}

func TestClient_DeliversReportsInOrder(t *testing.T) {
	addr := fakeGPSD(t, []string{
		`{"class":"VERSION","release":"3.25"}`,
		`{"class":"SKY","device":"gps0","satellites":[{"used":true}]}`,
		`{"class":"TPV","device":"gps0","mode":3,"lat":45.5,"lon":-122.9,"altMSL":10.0}`,
		`{"class":"TPV","device":"gps1","mode":2,"lat":45.6,"lon":-122.8}`,
	})

	got := make(chan Report, 8)
	c := NewClient(Config{Addr: addr}, func(r Report) { got <- r })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Close()

	first := waitReport(t, got)
	if first.DeviceID != "gps0" || first.SatsSeen != 1 {
		t.Fatalf("first=%+v", first)
	}
	second := waitReport(t, got)
	if second.DeviceID != "gps1" {
		t.Fatalf("second=%+v", second)
	}
}

func TestClient_StartRequiresHandler(t *testing.T) {
	c := NewClient(Config{}, nil)
	if err := c.Start(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func waitReport(t *testing.T, ch <-chan Report) Report {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for report")
		return Report{}
	}
}
