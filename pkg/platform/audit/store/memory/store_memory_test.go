package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "caregov/pkg/domain"
	audit "caregov/pkg/platform/audit"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store  *InMemoryStore
	access *AccessLogStore
	now    time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.access = NewAccessLogStore()
	s.now = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) TestDeleteBeforeRemovesOnlyOlderEntries() {
	ctx := context.Background()
	for _, age := range []time.Duration{72 * time.Hour, 48 * time.Hour, time.Hour} {
		s.Require().NoError(s.store.Append(ctx, audit.Entry{
			ID: id.NewEntryID(), Action: audit.ActionView, Timestamp: s.now.Add(-age),
		}))
	}
	cutoff := s.now.Add(-24 * time.Hour)

	n, err := s.store.CountBefore(ctx, cutoff)
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	deleted, err := s.store.DeleteBefore(ctx, cutoff)
	s.Require().NoError(err)
	s.Equal(int64(2), deleted)

	remaining, err := s.store.List(ctx, audit.Filter{})
	s.Require().NoError(err)
	s.Len(remaining, 1)
}

func (s *InMemoryStoreSuite) TestCountsByActionAndSensitivity() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, audit.Entry{Action: audit.ActionCreate, Sensitivity: audit.SensitivityHigh, Timestamp: s.now}))
	s.Require().NoError(s.store.Append(ctx, audit.Entry{Action: audit.ActionCreate, Sensitivity: audit.SensitivityLow, Timestamp: s.now}))
	s.Require().NoError(s.store.Append(ctx, audit.Entry{Action: audit.ActionView, Sensitivity: audit.SensitivityHigh, Timestamp: s.now.Add(-48 * time.Hour)}))

	byAction, err := s.store.CountByAction(ctx, s.now.Add(-time.Hour), s.now.Add(time.Hour))
	s.Require().NoError(err)
	s.Equal(map[audit.Action]int64{audit.ActionCreate: 2}, byAction)

	bySensitivity, err := s.store.CountBySensitivity(ctx, time.Time{}, time.Time{})
	s.Require().NoError(err)
	s.Equal(int64(2), bySensitivity[audit.SensitivityHigh])
}

func (s *InMemoryStoreSuite) TestAccessLogListBySubjectSince() {
	ctx := context.Background()
	subject := id.NewRecordID()
	other := id.NewRecordID()
	s.Require().NoError(s.access.Append(ctx, audit.AccessLogEntry{SubjectID: subject, Timestamp: s.now.Add(-100 * 24 * time.Hour)}))
	s.Require().NoError(s.access.Append(ctx, audit.AccessLogEntry{SubjectID: subject, Timestamp: s.now.Add(-time.Hour)}))
	s.Require().NoError(s.access.Append(ctx, audit.AccessLogEntry{SubjectID: other, Timestamp: s.now}))

	got, err := s.access.ListBySubject(ctx, subject, s.now.Add(-90*24*time.Hour))
	s.Require().NoError(err)
	s.Len(got, 1)

	deleted, err := s.access.DeleteBefore(ctx, s.now.Add(-30*24*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)
}
