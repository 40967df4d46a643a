package ifacetier

import (
	"sync"
	"time"

	"github.com/aios-systems/aios/envelope"
)

// HistoryEntry is one record in the request-history ring: §4.1 is
// explicit that full content is not retained here, only the
// (id, timestamp, type, source, user_id) tuple.
type HistoryEntry struct {
	RequestID string
	Timestamp time.Time
	Type      envelope.RequestType
	Source    envelope.Source
	UserID    string
}

// HistoryRing is the process-wide, fixed-capacity ring the built-in
// `history` command reads from. Overwrites the oldest entry once full,
// guarded by its own mutex in the same bucket-per-resource style as
// InMemoryRateLimiter.
type HistoryRing struct {
	mu       sync.Mutex
	capacity int
	entries  []HistoryEntry
	next     int
	size     int
}

// NewHistoryRing builds a ring holding up to capacity entries.
func NewHistoryRing(capacity int) *HistoryRing {
	if capacity <= 0 {
		capacity = 1000
	}
	return &HistoryRing{capacity: capacity, entries: make([]HistoryEntry, capacity)}
}

// Record appends one entry, overwriting the oldest once the ring is full.
func (h *HistoryRing) Record(req *envelope.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries[h.next] = HistoryEntry{
		RequestID: req.RequestID,
		Timestamp: time.Now(),
		Type:      req.Type,
		Source:    req.Source,
		UserID:    req.UserID,
	}
	h.next = (h.next + 1) % h.capacity
	if h.size < h.capacity {
		h.size++
	}
}

// Last returns up to n of the most recently recorded entries, newest
// first.
func (h *HistoryRing) Last(n int) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > h.size {
		n = h.size
	}
	out := make([]HistoryEntry, 0, n)
	idx := (h.next - 1 + h.capacity) % h.capacity
	for i := 0; i < n; i++ {
		out = append(out, h.entries[idx])
		idx = (idx - 1 + h.capacity) % h.capacity
	}
	return out
}

// Len reports how many entries are currently stored.
func (h *HistoryRing) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}
