package engine

import "sync"

// Hub fans out snapshot versions to subscribers. Slow subscribers only see
// the latest version.
type Hub struct {
	mu   sync.Mutex
	subs map[chan uint64]struct{}
}

func newHub() *Hub {
	return &Hub{subs: make(map[chan uint64]struct{})}
}

// Subscribe returns a channel receiving published versions.
func (h *Hub) Subscribe() chan uint64 {
	ch := make(chan uint64, 1)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (h *Hub) Unsubscribe(ch chan uint64) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(version uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- version:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- version:
			default:
			}
		}
	}
}
