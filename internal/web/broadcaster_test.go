package web

import (
	"testing"
	"time"

	"gps-arbiter/internal/position"
)

func TestBroadcaster_NewSubscriberGetsLast(t *testing.T) {
	b := NewPositionBroadcaster()
	b.PositionAvailable(position.Fix{DeviceID: "gps0", Mode: position.Mode3D})

	ch, cancel := b.Subscribe()
	defer cancel()

	select {
	case u := <-ch:
		if !u.Available || u.Position == nil || u.Position.DeviceID != "gps0" {
			t.Fatalf("update=%+v", u)
		}
	case <-time.After(time.Second):
		t.Fatalf("no initial update")
	}
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewPositionBroadcaster()

	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.PositionLost()

	for _, ch := range []<-chan Update{ch1, ch2} {
		select {
		case u := <-ch:
			if u.Available {
				t.Fatalf("update=%+v", u)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber missed update")
		}
	}
}

func TestBroadcaster_CancelIsIdempotent(t *testing.T) {
	b := NewPositionBroadcaster()
	_, cancel := b.Subscribe()
	cancel()
	cancel()
	// Publishing after cancel must not panic.
	b.PositionLost()
}

func TestBroadcaster_SlowConsumerDoesNotBlock(t *testing.T) {
	b := NewPositionBroadcaster()
	_, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		// More updates than the subscriber buffer holds.
		for i := 0; i < 100; i++ {
			b.PositionLost()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on slow consumer")
	}
}
