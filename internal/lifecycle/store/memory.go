package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"caregov/internal/lifecycle/models"
	id "caregov/pkg/domain"
	"caregov/pkg/platform/sentinel"
)

type memoryRow struct {
	payload []byte
	deleted bool
	fields  map[string]any
}

// InMemoryStore keeps serialized records so callers never share state with
// the store. Records are decoded into fresh values from newT on every read.
type InMemoryStore[T models.Governed] struct {
	mu         sync.RWMutex
	entityType string
	newT       func() T
	rows       map[id.RecordID]memoryRow
	order      []id.RecordID
	unique     []string
}

// MemoryOption configures an InMemoryStore.
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	unique []string
}

// WithUniqueKey rejects inserts whose payload repeats an existing value for
// key, mirroring a unique index.
func WithUniqueKey(key string) MemoryOption {
	return func(c *memoryConfig) {
		c.unique = append(c.unique, key)
	}
}

func NewInMemoryStore[T models.Governed](entityType string, newT func() T, opts ...MemoryOption) *InMemoryStore[T] {
	var cfg memoryConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &InMemoryStore[T]{
		entityType: entityType,
		newT:       newT,
		rows:       make(map[id.RecordID]memoryRow),
		unique:     cfg.unique,
	}
}

func (s *InMemoryStore[T]) Insert(_ context.Context, rec T) error {
	row, err := encodeRow(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recordID := rec.Governance().ID
	if _, exists := s.rows[recordID]; exists {
		return fmt.Errorf("%s %s: %w", s.entityType, recordID, sentinel.ErrAlreadyUsed)
	}
	for _, key := range s.unique {
		v, ok := row.fields[key]
		if !ok || v == nil || v == "" {
			continue
		}
		for _, other := range s.rows {
			if fmt.Sprint(other.fields[key]) == fmt.Sprint(v) {
				return fmt.Errorf("%s with %s %v: %w", s.entityType, key, v, sentinel.ErrAlreadyUsed)
			}
		}
	}
	s.rows[recordID] = row
	s.order = append(s.order, recordID)
	return nil
}

func (s *InMemoryStore[T]) FindByID(_ context.Context, recordID id.RecordID, view models.View) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var zero T
	row, ok := s.rows[recordID]
	if !ok || !visible(row, view) {
		return zero, fmt.Errorf("%s not found: %w", s.entityType, sentinel.ErrNotFound)
	}
	return s.decode(row)
}

func (s *InMemoryStore[T]) List(_ context.Context, view models.View) ([]T, error) {
	return s.filter(view, func(memoryRow) bool { return true })
}

func (s *InMemoryStore[T]) ListWhere(_ context.Context, view models.View, key, value string) ([]T, error) {
	return s.filter(view, func(row memoryRow) bool {
		v, ok := row.fields[key]
		return ok && v != nil && fmt.Sprint(v) == value
	})
}

func (s *InMemoryStore[T]) Execute(_ context.Context, recordID id.RecordID, view models.View, validate func(T) error, mutate func(T) error) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	row, ok := s.rows[recordID]
	if !ok || !visible(row, view) {
		return zero, fmt.Errorf("%s not found: %w", s.entityType, sentinel.ErrNotFound)
	}
	rec, err := s.decode(row)
	if err != nil {
		return zero, err
	}
	if err := validate(rec); err != nil {
		return zero, err
	}
	if err := mutate(rec); err != nil {
		return zero, err
	}
	updated, err := encodeRow(rec)
	if err != nil {
		return zero, err
	}
	s.rows[recordID] = updated
	return rec, nil
}

func (s *InMemoryStore[T]) Delete(_ context.Context, recordID id.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[recordID]; !ok {
		return fmt.Errorf("%s not found: %w", s.entityType, sentinel.ErrNotFound)
	}
	delete(s.rows, recordID)
	for i, rid := range s.order {
		if rid == recordID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *InMemoryStore[T]) filter(view models.View, keep func(memoryRow) bool) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]T, 0, len(s.order))
	for _, rid := range s.order {
		row := s.rows[rid]
		if !visible(row, view) || !keep(row) {
			continue
		}
		rec, err := s.decode(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Governance().CreatedAt.Before(out[j].Governance().CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore[T]) decode(row memoryRow) (T, error) {
	rec := s.newT()
	if err := json.Unmarshal(row.payload, rec); err != nil {
		var zero T
		return zero, fmt.Errorf("decode %s: %w", s.entityType, err)
	}
	return rec, nil
}

func encodeRow(rec models.Governed) (memoryRow, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return memoryRow{}, fmt.Errorf("encode %s: %w", rec.EntityType(), err)
	}
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return memoryRow{}, fmt.Errorf("encode %s: %w", rec.EntityType(), err)
	}
	return memoryRow{payload: payload, deleted: rec.Governance().IsDeleted, fields: fields}, nil
}

func visible(row memoryRow, view models.View) bool {
	return view == models.ViewAll || !row.deleted
}
