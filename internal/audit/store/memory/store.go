package memory

import (
	"context"
	"sync"

	"cachet/internal/audit"
)

// Store keeps audit events in insertion order in memory. Suitable for tests
// and single-node development; production uses the Postgres store.
type Store struct {
	mu     sync.RWMutex
	events []audit.Event
}

func New() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *Store) ListByEntity(_ context.Context, entityType audit.EntityType, entityID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Event
	for _, e := range s.events {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) List(_ context.Context, filter audit.Filter) (audit.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	page := audit.Page{NextSeq: filter.AfterSeq}
	for i := int(filter.AfterSeq); i < len(s.events); i++ {
		e := s.events[i]
		page.NextSeq = int64(i + 1)
		if !matches(e, filter) {
			continue
		}
		page.Events = append(page.Events, e)
		if len(page.Events) == limit {
			page.Done = int(page.NextSeq) >= len(s.events)
			return page, nil
		}
	}
	page.Done = true
	return page, nil
}

func matches(e audit.Event, f audit.Filter) bool {
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}
