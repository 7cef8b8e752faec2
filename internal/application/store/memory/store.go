package memory

import (
	"context"
	"sync"

	"cachet/internal/application"
	"cachet/pkg/domain"
	"cachet/pkg/platform/sentinel"
)

// Store keeps applications and applicants in memory. The version check
// mirrors the Postgres compare-and-swap so concurrency tests run against the
// same contract.
type Store struct {
	mu         sync.RWMutex
	apps       map[domain.ApplicationID]application.Application
	applicants map[domain.ApplicantID]application.Applicant
}

func New() *Store {
	return &Store{
		apps:       make(map[domain.ApplicationID]application.Application),
		applicants: make(map[domain.ApplicantID]application.Applicant),
	}
}

func (s *Store) Create(_ context.Context, app application.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apps[app.ID]; exists {
		return sentinel.ErrConflict
	}
	s.apps[app.ID] = clone(app)
	return nil
}

func (s *Store) Get(_ context.Context, id domain.ApplicationID) (application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[id]
	if !ok {
		return application.Application{}, sentinel.ErrNotFound
	}
	return clone(app), nil
}

func (s *Store) Update(_ context.Context, app application.Application, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.apps[app.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	s.apps[app.ID] = clone(app)
	return nil
}

func (s *Store) CreateApplicant(_ context.Context, a application.Applicant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.applicants[a.ID]; exists {
		return sentinel.ErrConflict
	}
	s.applicants[a.ID] = a
	return nil
}

func (s *Store) GetApplicant(_ context.Context, id domain.ApplicantID) (application.Applicant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.applicants[id]
	if !ok {
		return application.Applicant{}, sentinel.ErrNotFound
	}
	return a, nil
}

func clone(app application.Application) application.Application {
	out := app
	out.History = append([]application.HistoryEntry(nil), app.History...)
	return out
}
