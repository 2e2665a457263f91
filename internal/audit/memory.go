package audit

import (
	"context"
	"sync"
)

// MemoryLogger keeps audit entries in memory for database-less deployments.
type MemoryLogger struct {
	mu      sync.Mutex
	entries []Entry
	max     int
}

// NewMemoryLogger constructs a bounded in-memory logger.
func NewMemoryLogger(max int) *MemoryLogger {
	if max <= 0 {
		max = 1000
	}
	return &MemoryLogger{max: max}
}

// Log appends an entry, evicting the oldest past the bound.
func (l *MemoryLogger) Log(_ context.Context, entry Entry) error {
	fill(&entry)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	return nil
}

// Entries returns a copy of stored entries, oldest first.
func (l *MemoryLogger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}
