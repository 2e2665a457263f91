package risk

import (
	"errors"
	"sync"
	"time"
)

// Sample is one per-tick observation kept for pattern detection.
type Sample struct {
	At          time.Time
	MinDistance float64
	DistanceOK  bool
	FumesRatio  float64
	FumesOK     bool
	Intrusion   bool
}

// History is a fixed-size ring buffer of samples, newest last. It bounds
// memory regardless of uptime; the analyzer only ever reads it.
type History struct {
	mu      sync.Mutex
	samples []Sample
	head    int
	size    int
}

// NewHistory constructs a ring buffer holding up to capacity samples.
func NewHistory(capacity int) (*History, error) {
	if capacity <= 0 {
		return nil, errors.New("risk: non-positive history capacity")
	}
	return &History{samples: make([]Sample, capacity)}, nil
}

// Push appends a sample, evicting the oldest when full.
func (h *History) Push(s Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples[h.head] = s
	h.head = (h.head + 1) % len(h.samples)
	if h.size < len(h.samples) {
		h.size++
	}
}

// Since returns samples taken at or after the cutoff, oldest first.
func (h *History) Since(cutoff time.Time) []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Sample, 0, h.size)
	start := h.head - h.size
	if start < 0 {
		start += len(h.samples)
	}
	for i := 0; i < h.size; i++ {
		s := h.samples[(start+i)%len(h.samples)]
		if !s.At.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of stored samples.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}
