package chat

// History is the ordered, append-only list of chat messages retained by a
// room. With a positive limit it keeps only the newest limit messages.
//
// History is not goroutine-safe; the owning Room serializes access.
type History struct {
	limit int
	items []Message
}

// NewHistory creates an empty history. A limit of zero or less means
// unbounded.
func NewHistory(limit int) *History {
	if limit < 0 {
		limit = 0
	}
	return &History{limit: limit}
}

// Append adds msg at the end, dropping the oldest message if the limit is
// exceeded.
func (h *History) Append(msg Message) {
	h.items = append(h.items, msg)
	if h.limit > 0 && len(h.items) > h.limit {
		// Shift instead of reslicing so the backing array does not grow
		// without bound.
		n := copy(h.items, h.items[len(h.items)-h.limit:])
		for i := n; i < len(h.items); i++ {
			h.items[i] = Message{}
		}
		h.items = h.items[:n]
	}
}

// Len returns the number of retained messages.
func (h *History) Len() int {
	return len(h.items)
}

// Snapshot returns a copy of the retained messages, oldest first. It returns
// an empty, non-nil slice when nothing is retained.
func (h *History) Snapshot() []Message {
	out := make([]Message, len(h.items))
	copy(out, h.items)
	return out
}
