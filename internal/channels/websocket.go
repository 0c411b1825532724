package channels

import (
	"sync"
	"sync/atomic"
	"time"

	"notifyd/internal/notify"
)

// WebsocketEvent is what the live-transport layer receives for in-app
// delivery. It mirrors the "websocket_notification" hand-off: the transport
// decides how (and whether) to push it to a connected client.
type WebsocketEvent struct {
	UserID       string
	Notification notify.Notification
	At           time.Time
}

// Fanout is an in-memory WebsocketSink that forwards events to subscribers.
//
// Contract:
//   - Deliver MUST be non-blocking.
//   - Slow subscribers may drop events (bounded backpressure).
//
// It intentionally owns no background goroutines.
type Fanout struct {
	mu   sync.RWMutex
	subs map[uint64]chan WebsocketEvent
	seq  atomic.Uint64
}

func NewFanout() *Fanout {
	return &Fanout{subs: map[uint64]chan WebsocketEvent{}}
}

func (f *Fanout) Deliver(userID string, n notify.Notification) {
	ev := WebsocketEvent{UserID: userID, Notification: n, At: time.Now()}

	// Snapshot subscribers so Deliver doesn't hold locks while sending.
	f.mu.RLock()
	chs := make([]chan WebsocketEvent, 0, len(f.subs))
	for _, ch := range f.subs {
		chs = append(chs, ch)
	}
	f.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If a subscriber unsubscribes concurrently
		// and the channel closes, recover from the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- ev:
			default:
			}
		}()
	}
}

// Subscribe registers a listener. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (f *Fanout) Subscribe(buffer int) (<-chan WebsocketEvent, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan WebsocketEvent, buffer)
	id := f.seq.Add(1)

	f.mu.Lock()
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
