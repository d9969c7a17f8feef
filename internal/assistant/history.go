package assistant

import "time"

// DefaultHistorySize is the number of exchanges kept for display.
const DefaultHistorySize = 5

// Exchange is one user utterance and the assistant's reply.
type Exchange struct {
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	At        time.Time `json:"at"`
}

// History is a rolling window of the most recent exchanges, oldest first.
// It is not safe for concurrent use; the Machine owns it.
type History struct {
	max     int
	entries []Exchange
}

// NewHistory returns a History keeping at most max exchanges. A max <= 0
// selects [DefaultHistorySize].
func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultHistorySize
	}
	return &History{max: max, entries: make([]Exchange, 0, max)}
}

// Add appends ex, evicting the oldest entries beyond the bound.
func (h *History) Add(ex Exchange) {
	if len(h.entries) >= h.max {
		// Copy into a fresh slice so the evicted prefix can be collected.
		kept := make([]Exchange, h.max-1, h.max)
		copy(kept, h.entries[len(h.entries)-h.max+1:])
		h.entries = kept
	}
	h.entries = append(h.entries, ex)
}

// Entries returns a copy of the retained exchanges, oldest first.
func (h *History) Entries() []Exchange {
	out := make([]Exchange, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len reports the number of retained exchanges.
func (h *History) Len() int { return len(h.entries) }

// Clear removes every exchange.
func (h *History) Clear() { h.entries = h.entries[:0] }
