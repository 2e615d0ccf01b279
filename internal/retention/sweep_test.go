package retention

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	auditrecorder "caregov/internal/audit"
	id "caregov/pkg/domain"
	dErrors "caregov/pkg/domain-errors"
	auditlog "caregov/pkg/platform/audit"
	"caregov/pkg/platform/audit/store/memory"
	"caregov/pkg/requestcontext"
)

type SweepSuite struct {
	suite.Suite
	entries *memory.InMemoryStore
	access  *memory.AccessLogStore
	metrics *Metrics
	sweeper *Sweeper
	now     time.Time
	ctx     context.Context
	admin   id.Actor
}

func TestSweepSuite(t *testing.T) {
	suite.Run(t, new(SweepSuite))
}

func (s *SweepSuite) SetupTest() {
	s.entries = memory.NewInMemoryStore()
	s.access = memory.NewAccessLogStore()
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.sweeper = New(s.entries, s.access, auditrecorder.New(s.entries, s.access), WithMetrics(s.metrics))
	s.now = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.admin = id.Actor{ID: id.NewActorID()}

	s.seedEntry(s.now.AddDate(0, 0, -3000))
	s.seedEntry(s.now.AddDate(0, 0, -2600))
	s.seedEntry(s.now.AddDate(0, 0, -10))
	s.seedAccess(s.now.AddDate(0, 0, -400))
	s.seedAccess(s.now.AddDate(0, 0, -30))
}

func (s *SweepSuite) seedEntry(ts time.Time) {
	s.Require().NoError(s.entries.Append(context.Background(), auditlog.Entry{
		ID: id.NewEntryID(), Action: auditlog.ActionUpdate, Timestamp: ts, EntityType: "condition",
		Sensitivity: auditlog.SensitivityHigh,
	}))
}

func (s *SweepSuite) seedAccess(ts time.Time) {
	s.Require().NoError(s.access.Append(context.Background(), auditlog.AccessLogEntry{
		ID: id.NewEntryID(), SubjectID: id.NewRecordID(), AccessType: auditlog.AccessView, Timestamp: ts,
	}))
}

func (s *SweepSuite) count() (int, int) {
	entries, err := s.entries.List(context.Background(), auditlog.Filter{})
	s.Require().NoError(err)
	n, err := s.access.CountBefore(context.Background(), s.now.Add(time.Hour))
	s.Require().NoError(err)
	return len(entries), int(n)
}

func (s *SweepSuite) TestDryRunOnlyCounts() {
	report, err := s.sweeper.Run(s.ctx, Request{DryRun: true, Actor: s.admin})

	s.Require().NoError(err)
	s.Equal(int64(2), report.AuditCandidates)
	s.Equal(int64(1), report.AccessCandidates)
	s.Zero(report.AuditDeleted)
	entries, access := s.count()
	s.Equal(3, entries)
	s.Equal(2, access)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Runs.WithLabelValues("dry_run")))
}

func (s *SweepSuite) TestUnconfirmedRunIsRejected() {
	report, err := s.sweeper.Run(s.ctx, Request{Actor: s.admin})

	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Contains(err.Error(), "confirmation required")
	s.Equal(int64(2), report.AuditCandidates)
	entries, access := s.count()
	s.Equal(3, entries)
	s.Equal(2, access)
}

func (s *SweepSuite) TestConfirmedRunDeletesAndSummarizes() {
	report, err := s.sweeper.Run(s.ctx, Request{Confirmed: true, Actor: s.admin})

	s.Require().NoError(err)
	s.Nil(report.Warning)
	s.Equal(int64(2), report.AuditDeleted)
	s.Equal(int64(1), report.AccessDeleted)
	s.Equal(s.now.AddDate(0, 0, -2555), report.AuditCutoff)
	s.Equal(s.now.AddDate(0, 0, -365), report.AccessCutoff)

	entries, err := s.entries.List(context.Background(), auditlog.Filter{})
	s.Require().NoError(err)
	s.Len(entries, 2)
	summary, err := s.entries.List(context.Background(), auditlog.Filter{EntityType: EntityType})
	s.Require().NoError(err)
	s.Require().Len(summary, 1)
	s.Equal(auditlog.ActionDelete, summary[0].Action)
	s.Equal(auditlog.SensitivityHigh, summary[0].Sensitivity)
	s.Equal(int64(2), summary[0].Extra["audit_deleted"])
	s.Require().NotNil(summary[0].Actor)
	s.Equal(s.admin.ID, *summary[0].Actor)
	s.Equal(float64(2), testutil.ToFloat64(s.metrics.Deleted.WithLabelValues("audit_entry")))
}

func (s *SweepSuite) TestCustomWindows() {
	report, err := s.sweeper.Run(s.ctx, Request{AuditRetentionDays: 5, AccessLogRetentionDays: 10, DryRun: true})

	s.Require().NoError(err)
	s.Equal(int64(3), report.AuditCandidates)
	s.Equal(int64(2), report.AccessCandidates)

	_, err = s.sweeper.Run(s.ctx, Request{AuditRetentionDays: -1, DryRun: true})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *SweepSuite) TestConcurrentSweepIsRefused() {
	locker := NewMemoryLocker()
	sweeper := New(s.entries, s.access, auditrecorder.New(s.entries, s.access), WithLocker(locker, time.Minute))
	release, err := locker.Acquire(context.Background(), lockKey, time.Minute)
	s.Require().NoError(err)

	_, err = sweeper.Run(s.ctx, Request{DryRun: true})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	s.Require().NoError(release(context.Background()))
	_, err = sweeper.Run(s.ctx, Request{DryRun: true})
	s.NoError(err)
}

func (s *SweepSuite) TestMemoryLockerExpires() {
	locker := NewMemoryLocker()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	locker.clock = func() time.Time { return now }

	_, err := locker.Acquire(context.Background(), "k", time.Minute)
	s.Require().NoError(err)
	_, err = locker.Acquire(context.Background(), "k", time.Minute)
	s.ErrorIs(err, ErrLockHeld)

	now = now.Add(2 * time.Minute)
	_, err = locker.Acquire(context.Background(), "k", time.Minute)
	s.NoError(err)
}
