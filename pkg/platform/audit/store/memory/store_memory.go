package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	id "caregov/pkg/domain"
	audit "caregov/pkg/platform/audit"
)

// InMemoryStore keeps audit entries in append order.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

func (s *InMemoryStore) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// List returns matching entries, oldest first.
func (s *InMemoryStore) List(_ context.Context, filter audit.Filter) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Entry
	for _, e := range s.entries {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *InMemoryStore) CountBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, e := range s.entries {
		if e.Timestamp.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var deleted int64
	for _, e := range s.entries {
		if e.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return deleted, nil
}

func (s *InMemoryStore) CountByAction(_ context.Context, from, to time.Time) (map[audit.Action]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[audit.Action]int64)
	for _, e := range s.entries {
		if inRange(e.Timestamp, from, to) {
			counts[e.Action]++
		}
	}
	return counts, nil
}

func (s *InMemoryStore) CountBySensitivity(_ context.Context, from, to time.Time) (map[audit.Sensitivity]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[audit.Sensitivity]int64)
	for _, e := range s.entries {
		if inRange(e.Timestamp, from, to) {
			counts[e.Sensitivity]++
		}
	}
	return counts, nil
}

// AccessLogStore keeps access log entries in append order.
type AccessLogStore struct {
	mu      sync.RWMutex
	entries []audit.AccessLogEntry
}

func NewAccessLogStore() *AccessLogStore {
	return &AccessLogStore{}
}

func (s *AccessLogStore) Append(_ context.Context, entry audit.AccessLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.FieldsAccessed = append([]string(nil), entry.FieldsAccessed...)
	s.entries = append(s.entries, entry)
	return nil
}

func (s *AccessLogStore) ListBySubject(_ context.Context, subject id.RecordID, since time.Time) ([]audit.AccessLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.AccessLogEntry
	for _, e := range s.entries {
		if e.SubjectID == subject && !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *AccessLogStore) CountBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, e := range s.entries {
		if e.Timestamp.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (s *AccessLogStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var deleted int64
	for _, e := range s.entries {
		if e.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return deleted, nil
}

func (s *AccessLogStore) CountBetween(_ context.Context, from, to time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, e := range s.entries {
		if inRange(e.Timestamp, from, to) {
			n++
		}
	}
	return n, nil
}

func inRange(ts, from, to time.Time) bool {
	if !from.IsZero() && ts.Before(from) {
		return false
	}
	if !to.IsZero() && !ts.Before(to) {
		return false
	}
	return true
}
