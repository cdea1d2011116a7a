package collector

import (
	"slices"
	"sync"
)

// DefaultHistorySize is how many runs History keeps.
const DefaultHistorySize = 50

// History keeps the most recent run results in memory.
type History struct {
	mu    sync.RWMutex
	size  int
	order []string
	runs  map[string]RunResult
}

// NewHistory creates a History holding up to size runs.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size, runs: make(map[string]RunResult)}
}

// Put stores or replaces a run. The oldest run is evicted when full.
func (h *History) Put(r RunResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.runs[r.ID]; !ok {
		h.order = append(h.order, r.ID)
		if len(h.order) > h.size {
			delete(h.runs, h.order[0])
			h.order = h.order[1:]
		}
	}
	h.runs[r.ID] = r.clone()
}

// Get returns the run with the given ID.
func (h *History) Get(id string) (RunResult, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.runs[id]
	if !ok {
		return RunResult{}, false
	}
	return r.clone(), true
}

// Recent returns up to n runs, newest first.
func (h *History) Recent(n int) []RunResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.order) {
		n = len(h.order)
	}
	out := make([]RunResult, 0, n)
	for i := len(h.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, h.runs[h.order[i]].clone())
	}
	return out
}

func (r RunResult) clone() RunResult {
	r.Dates = slices.Clone(r.Dates)
	r.Units = slices.Clone(r.Units)
	return r
}
