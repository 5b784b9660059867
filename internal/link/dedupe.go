package link

import "github.com/meshcommons/loralink/internal/message"

// DedupeWindow remembers recently seen inbound message IDs so a
// retransmitted frame (e.g. a DATA resent after a lost ACK) is never
// delivered to the application twice. Capacity is fixed; when full, the
// oldest entry is evicted ring-buffer style.
type DedupeWindow struct {
	capacity int
	ring     []message.ID
	head     int
	seen     map[message.ID]struct{}
}

// NewDedupeWindow returns a window that retains the last capacity IDs.
func NewDedupeWindow(capacity int) *DedupeWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &DedupeWindow{
		capacity: capacity,
		ring:     make([]message.ID, 0, capacity),
		seen:     make(map[message.ID]struct{}, capacity),
	}
}

// Seen reports whether id is currently in the window.
func (w *DedupeWindow) Seen(id message.ID) bool {
	_, ok := w.seen[id]
	return ok
}

// Add records id, evicting the oldest entry when the window is full.
// Adding an id already present is a no-op.
func (w *DedupeWindow) Add(id message.ID) {
	if w.Seen(id) {
		return
	}
	if len(w.ring) < w.capacity {
		w.ring = append(w.ring, id)
	} else {
		delete(w.seen, w.ring[w.head])
		w.ring[w.head] = id
		w.head = (w.head + 1) % w.capacity
	}
	w.seen[id] = struct{}{}
}

// Len returns the number of IDs currently retained.
func (w *DedupeWindow) Len() int { return len(w.seen) }

// Reset empties the window.
func (w *DedupeWindow) Reset() {
	w.ring = w.ring[:0]
	w.head = 0
	w.seen = make(map[message.ID]struct{}, w.capacity)
}
