package retry

import (
	"sync"

	"github.com/runoshun/crewstate/internal/domain"
)

// DefaultHistorySize is the number of errors kept when no size is given.
const DefaultHistorySize = 200

// History is a bounded ring buffer of classified errors.
// It is used for reporting only.
type History struct {
	entries []*domain.AgentError
	next    int
	full    bool
	mu      sync.Mutex
}

// NewHistory creates a History holding at most size entries.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{entries: make([]*domain.AgentError, size)}
}

// Add records aerr, evicting the oldest entry when full.
func (h *History) Add(aerr *domain.AgentError) {
	if aerr == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.next] = aerr
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return len(h.entries)
	}
	return h.next
}

// Entries returns the stored entries, oldest first.
func (h *History) Entries() []*domain.AgentError {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		out := make([]*domain.AgentError, h.next)
		copy(out, h.entries[:h.next])
		return out
	}
	out := make([]*domain.AgentError, 0, len(h.entries))
	out = append(out, h.entries[h.next:]...)
	out = append(out, h.entries[:h.next]...)
	return out
}

// Summary aggregates stored errors.
type Summary struct {
	ByCategory  map[domain.ErrorCategory]int
	BySeverity  map[domain.Severity]int
	Total       int
	Recoverable int
}

// Summary counts stored entries by category and severity.
func (h *History) Summary() Summary {
	s := Summary{
		ByCategory: make(map[domain.ErrorCategory]int),
		BySeverity: make(map[domain.Severity]int),
	}
	for _, e := range h.Entries() {
		s.Total++
		s.ByCategory[e.Category]++
		s.BySeverity[e.Severity]++
		if e.Recoverable {
			s.Recoverable++
		}
	}
	return s
}
