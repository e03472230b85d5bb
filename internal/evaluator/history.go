package evaluator

import "ad-automation-engine/internal/models"

// History is a bounded ring of recent snapshots for one rule, oldest
// first. Capacity follows the rule's longest lookback so memory stays
// bounded regardless of how long the rule has been running.
type History struct {
	buf      []models.ScopedSnapshot
	capacity int
}

func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{capacity: capacity}
}

// Push appends a snapshot, evicting the oldest when full.
func (h *History) Push(s models.ScopedSnapshot) {
	h.buf = append(h.buf, s)
	if len(h.buf) > h.capacity {
		h.buf = h.buf[len(h.buf)-h.capacity:]
	}
}

// Resize adjusts capacity, keeping the newest snapshots. Used when a
// rule's conditions change between evaluations.
func (h *History) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	h.capacity = capacity
	if len(h.buf) > capacity {
		h.buf = h.buf[len(h.buf)-capacity:]
	}
}

// Snapshots returns the retained snapshots, oldest first.
func (h *History) Snapshots() []models.ScopedSnapshot {
	return h.buf
}

// Len reports how many snapshots are retained.
func (h *History) Len() int { return len(h.buf) }
