package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"caregov/internal/consent/models"
	id "caregov/pkg/domain"
	"caregov/pkg/platform/sentinel"
)

// InMemoryStore keeps consent records by subject. Records are copied on the
// way in and out.
type InMemoryStore struct {
	mu        sync.RWMutex
	byID      map[id.ConsentID]models.Record
	bySubject map[id.RecordID][]id.ConsentID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:      make(map[id.ConsentID]models.Record),
		bySubject: make(map[id.RecordID][]id.ConsentID),
	}
}

func (s *InMemoryStore) Save(_ context.Context, rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[rec.ID]; ok {
		return fmt.Errorf("consent %s: %w", rec.ID, sentinel.ErrAlreadyUsed)
	}
	s.byID[rec.ID] = clone(rec)
	s.bySubject[rec.SubjectID] = append(s.bySubject[rec.SubjectID], rec.ID)
	return nil
}

func (s *InMemoryStore) Update(_ context.Context, rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[rec.ID]; !ok {
		return fmt.Errorf("consent not found: %w", sentinel.ErrNotFound)
	}
	s.byID[rec.ID] = clone(rec)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, consentID id.ConsentID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[consentID]
	if !ok {
		return nil, fmt.Errorf("consent not found: %w", sentinel.ErrNotFound)
	}
	out := clone(&rec)
	return &out, nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subject id.RecordID) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.bySubject[subject]
	out := make([]*models.Record, 0, len(ids))
	for _, cid := range ids {
		rec := s.byID[cid]
		c := clone(&rec)
		out = append(out, &c)
	}
	return out, nil
}

func (s *InMemoryStore) CountByStatus(_ context.Context, now time.Time) (map[models.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.Status]int, 3)
	for _, rec := range s.byID {
		counts[rec.EffectiveStatus(now)]++
	}
	return counts, nil
}

func clone(rec *models.Record) models.Record {
	c := *rec
	c.DataCategories = slices.Clone(rec.DataCategories)
	if rec.RevokedAt != nil {
		t := *rec.RevokedAt
		c.RevokedAt = &t
	}
	if rec.ExpiresAt != nil {
		t := *rec.ExpiresAt
		c.ExpiresAt = &t
	}
	return c
}
