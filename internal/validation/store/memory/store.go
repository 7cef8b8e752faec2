package memory

import (
	"context"
	"sync"

	"cachet/internal/validation"
	"cachet/pkg/domain"
	"cachet/pkg/platform/sentinel"
)

type outcomeKey struct {
	app   domain.ApplicationID
	stage string
}

// Store keeps verification attempts and aggregate outcomes in memory.
type Store struct {
	mu       sync.RWMutex
	attempts []validation.Attempt
	outcomes map[outcomeKey]validation.AggregateOutcome
}

func New() *Store {
	return &Store{outcomes: make(map[outcomeKey]validation.AggregateOutcome)}
}

func (s *Store) SaveAttempt(_ context.Context, attempt validation.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

func (s *Store) ListAttempts(_ context.Context, applicationID domain.ApplicationID) ([]validation.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []validation.Attempt
	for _, a := range s.attempts {
		if a.ApplicationID == applicationID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) SaveOutcome(_ context.Context, outcome validation.AggregateOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[outcomeKey{outcome.ApplicationID, outcome.Stage}] = outcome
	return nil
}

func (s *Store) GetOutcome(_ context.Context, applicationID domain.ApplicationID, stage string) (validation.AggregateOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	outcome, ok := s.outcomes[outcomeKey{applicationID, stage}]
	if !ok {
		return validation.AggregateOutcome{}, sentinel.ErrNotFound
	}
	return outcome, nil
}
