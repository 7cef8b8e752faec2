package memory

import (
	"context"
	"sync"
	"time"

	"cachet/internal/issuance"
	"cachet/pkg/domain"
	"cachet/pkg/platform/sentinel"
)

// Store keeps issued documents in memory, enforcing the same two uniqueness
// constraints as the Postgres store.
type Store struct {
	mu     sync.RWMutex
	byID   map[domain.DocumentID]issuance.Document
	byApp  map[domain.ApplicationID]domain.DocumentID
	byCode map[string]domain.DocumentID
}

func New() *Store {
	return &Store{
		byID:   make(map[domain.DocumentID]issuance.Document),
		byApp:  make(map[domain.ApplicationID]domain.DocumentID),
		byCode: make(map[string]domain.DocumentID),
	}
}

func (s *Store) CreateDocument(_ context.Context, doc issuance.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byApp[doc.ApplicationID]; taken {
		return issuance.ErrDuplicateApplication
	}
	if _, taken := s.byCode[doc.VerificationCode]; taken {
		return issuance.ErrDuplicateCode
	}
	s.byID[doc.ID] = doc
	s.byApp[doc.ApplicationID] = doc.ID
	s.byCode[doc.VerificationCode] = doc.ID
	return nil
}

func (s *Store) GetByID(_ context.Context, id domain.DocumentID) (issuance.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.byID[id]
	if !ok {
		return issuance.Document{}, sentinel.ErrNotFound
	}
	return doc, nil
}

func (s *Store) GetByApplication(_ context.Context, applicationID domain.ApplicationID) (issuance.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byApp[applicationID]
	if !ok {
		return issuance.Document{}, sentinel.ErrNotFound
	}
	return s.byID[id], nil
}

func (s *Store) GetByCode(_ context.Context, code string) (issuance.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[code]
	if !ok {
		return issuance.Document{}, sentinel.ErrNotFound
	}
	return s.byID[id], nil
}

func (s *Store) Revoke(_ context.Context, id domain.DocumentID, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	doc.Revoked = true
	doc.RevokedAt = at
	doc.RevocationReason = reason
	s.byID[id] = doc
	return nil
}
