package manager

import (
	"sync"
	"sync/atomic"

	"aitrader/internal/ipc"
)

// Hub fans worker and lifecycle events out to stream subscribers. Slow
// subscribers lose events; publishing never blocks.
type Hub struct {
	mu      sync.RWMutex
	next    int
	subs    map[int]chan ipc.Event
	dropped uint64
}

func NewHub() *Hub {
	return &Hub{subs: map[int]chan ipc.Event{}}
}

// Subscribe returns an event channel and a cancel func that closes it.
func (h *Hub) Subscribe(buf int) (<-chan ipc.Event, func()) {
	if buf <= 0 {
		buf = 64
	}
	ch := make(chan ipc.Event, buf)
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(ev ipc.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			atomic.AddUint64(&h.dropped, 1)
		}
	}
}

func (h *Hub) Dropped() uint64 { return atomic.LoadUint64(&h.dropped) }
