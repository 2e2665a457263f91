package eventlog

import (
	"context"
	"sync"

	"cellguard/internal/safety"
)

// MemoryStore keeps a bounded window of events in memory. It is the default
// store when no database is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	events []safety.InterventionEvent
	max    int
}

// NewMemoryStore constructs a bounded in-memory store.
func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = 10000
	}
	return &MemoryStore{max: max}
}

// Append stores an event, evicting the oldest past the bound.
func (s *MemoryStore) Append(_ context.Context, event safety.InterventionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if len(s.events) > s.max {
		s.events = s.events[len(s.events)-s.max:]
	}
	return nil
}

// List returns matching events, newest first.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]safety.InterventionEvent, error) {
	if filter.Limit < 0 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []safety.InterventionEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && e.Timestamp.After(filter.Until) {
			continue
		}
		if filter.State != "" && e.To != filter.State {
			continue
		}
		if filter.RuleID != "" && e.TriggeringRuleID != filter.RuleID {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
