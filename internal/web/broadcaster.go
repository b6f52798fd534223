package web

import (
	"sync"

	"gps-arbiter/internal/position"
)

// Update is one position transition pushed to web subscribers.
type Update struct {
	Available bool          `json:"available"`
	Position  *position.Fix `json:"position,omitempty"`
}

// PositionBroadcaster fans position transitions out to any listeners (the
// websocket handler). It keeps the most recent update so new subscribers
// get an immediate sample. It is wired as a feed observer.
type PositionBroadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan Update
	nextID   int
	last     Update
	haveLast bool
}

func NewPositionBroadcaster() *PositionBroadcaster {
	return &PositionBroadcaster{subs: make(map[int]chan Update)}
}

func (b *PositionBroadcaster) PositionAvailable(fix position.Fix) {
	f := fix
	b.publish(Update{Available: true, Position: &f})
}

func (b *PositionBroadcaster) PositionLost() {
	b.publish(Update{Available: false})
}

func (b *PositionBroadcaster) publish(u Update) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.last = u
	b.haveLast = true
	for _, ch := range b.subs {
		// Drop on slow consumers rather than blocking the feed.
		select {
		case ch <- u:
		default:
		}
	}
	b.mu.Unlock()
}

// Subscribe returns a channel of updates and a cancel function. The current
// update, if any, is delivered first.
func (b *PositionBroadcaster) Subscribe() (<-chan Update, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Update, 8)
	b.subs[id] = ch
	if b.haveLast {
		ch <- b.last
	}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Last returns the most recent update.
func (b *PositionBroadcaster) Last() (Update, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last, b.haveLast
}
