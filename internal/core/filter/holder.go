package filter

import "sync/atomic"

// Holder publishes the current Matcher. A reload stores a new, fully built
// Matcher; existing snapshots are never modified.
type Holder struct {
	current atomic.Pointer[Matcher]
}

// NewHolder returns a Holder publishing m. A nil m publishes an empty matcher.
func NewHolder(m *Matcher) *Holder {
	h := &Holder{}
	h.Store(m)
	return h
}

// Load returns the current snapshot.
func (h *Holder) Load() *Matcher {
	return h.current.Load()
}

// Store publishes m as the current snapshot.
func (h *Holder) Store(m *Matcher) {
	if m == nil {
		m = Build(nil)
	}
	h.current.Store(m)
}

// Scan scans text against the current snapshot.
func (h *Holder) Scan(text string) ScanResult {
	return h.Load().Scan(text)
}
