// Package retention removes audit entries and access logs that have
// outlived their retention windows.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	auditrecorder "caregov/internal/audit"
	id "caregov/pkg/domain"
	dErrors "caregov/pkg/domain-errors"
	auditlog "caregov/pkg/platform/audit"
	txcontext "caregov/pkg/platform/tx"
	"caregov/pkg/requestcontext"
	"caregov/pkg/requestmeta"
)

const (
	DefaultAuditRetentionDays     = 2555
	DefaultAccessLogRetentionDays = 365
	DefaultLockTTL                = 15 * time.Minute

	lockKey = "caregov:retention:sweep"
	// EntityType is the audit entity type of the sweep summary entry.
	EntityType = "retention_sweep"
)

// ActionLogger writes the sweep summary entry.
type ActionLogger interface {
	LogAction(ctx context.Context, rec auditrecorder.ActionRecord) *auditlog.Warning
}

// Request configures one sweep. Zero windows take the defaults.
type Request struct {
	AuditRetentionDays     int
	AccessLogRetentionDays int
	DryRun                 bool
	// Confirmed must be set for a non-dry run to delete anything.
	Confirmed bool
	Actor     id.Actor
	Meta      requestmeta.Metadata
}

// Report describes what a sweep found and removed.
type Report struct {
	AuditCutoff      time.Time
	AccessCutoff     time.Time
	AuditCandidates  int64
	AccessCandidates int64
	AuditDeleted     int64
	AccessDeleted    int64
	DryRun           bool
	Warning          *auditlog.Warning
}

// Sweeper runs retention sweeps. Sweeps are serialized through a Locker.
type Sweeper struct {
	entries auditlog.Store
	access  auditlog.AccessStore
	auditor ActionLogger
	lock    Locker
	lockTTL time.Duration
	runner  txcontext.Runner
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Sweeper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

func WithLocker(l Locker, ttl time.Duration) Option {
	return func(s *Sweeper) {
		s.lock = l
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithRunner runs both deletions in one transaction.
func WithRunner(r txcontext.Runner) Option {
	return func(s *Sweeper) {
		s.runner = r
	}
}

func New(entries auditlog.Store, access auditlog.AccessStore, auditor ActionLogger, opts ...Option) *Sweeper {
	s := &Sweeper{
		entries: entries,
		access:  access,
		auditor: auditor,
		lock:    NewMemoryLocker(),
		lockTTL: DefaultLockTTL,
		runner:  txcontext.NopRunner{},
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run counts entries older than each window's cutoff and, when confirmed,
// deletes them and appends one summary entry. A dry run only counts. An
// unconfirmed run returns the counts with a validation error.
func (s *Sweeper) Run(ctx context.Context, req Request) (Report, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.Duration.Observe(time.Since(start).Seconds())
		}
	}()

	auditDays, accessDays, err := windows(req)
	if err != nil {
		return Report{}, err
	}
	now := requestcontext.Now(ctx)
	report := Report{
		AuditCutoff:  now.AddDate(0, 0, -auditDays),
		AccessCutoff: now.AddDate(0, 0, -accessDays),
		DryRun:       req.DryRun,
	}

	release, err := s.lock.Acquire(ctx, lockKey, s.lockTTL)
	if errors.Is(err, ErrLockHeld) {
		s.metrics.incRun("locked")
		return Report{}, dErrors.New(dErrors.CodeConflict, "a retention sweep is already running")
	}
	if err != nil {
		s.metrics.incRun("failed")
		return Report{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to acquire retention sweep lock")
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "retention sweep lock release failed", "error", err)
		}
	}()

	if err := s.count(ctx, &report); err != nil {
		s.metrics.incRun("failed")
		return Report{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count retention candidates")
	}

	if req.DryRun {
		s.metrics.incRun("dry_run")
		s.logger.InfoContext(ctx, "retention sweep dry run",
			"audit_candidates", report.AuditCandidates,
			"access_candidates", report.AccessCandidates,
		)
		return report, nil
	}
	if !req.Confirmed {
		s.metrics.incRun("unconfirmed")
		return report, dErrors.New(dErrors.CodeValidation, fmt.Sprintf(
			"retention sweep would permanently delete %d audit entries and %d access log entries; confirmation required",
			report.AuditCandidates, report.AccessCandidates))
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if report.AuditDeleted, err = s.entries.DeleteBefore(ctx, report.AuditCutoff); err != nil {
			return fmt.Errorf("delete audit entries: %w", err)
		}
		if report.AccessDeleted, err = s.access.DeleteBefore(ctx, report.AccessCutoff); err != nil {
			return fmt.Errorf("delete access logs: %w", err)
		}
		return nil
	})
	if err != nil {
		s.metrics.incRun("failed")
		return Report{}, dErrors.Wrap(err, dErrors.CodeInternal, "retention sweep failed")
	}
	s.metrics.incRun("executed")
	s.metrics.addDeleted("audit_entry", report.AuditDeleted)
	s.metrics.addDeleted("access_log", report.AccessDeleted)

	report.Warning = s.auditor.LogAction(ctx, auditrecorder.ActionRecord{
		Action:     auditlog.ActionDelete,
		EntityType: EntityType,
		Description: fmt.Sprintf("retention sweep removed %d audit entries older than %d days and %d access log entries older than %d days",
			report.AuditDeleted, auditDays, report.AccessDeleted, accessDays),
		Sensitivity: auditlog.SensitivityHigh,
		Extra: map[string]any{
			"audit_retention_days":      auditDays,
			"access_log_retention_days": accessDays,
			"audit_cutoff":              report.AuditCutoff.Format(time.RFC3339),
			"access_cutoff":             report.AccessCutoff.Format(time.RFC3339),
			"audit_deleted":             report.AuditDeleted,
			"access_deleted":            report.AccessDeleted,
		},
		Actor: req.Actor,
		Meta:  req.Meta,
	})
	s.logger.InfoContext(ctx, "retention sweep completed",
		"audit_deleted", report.AuditDeleted,
		"access_deleted", report.AccessDeleted,
	)
	return report, nil
}

func (s *Sweeper) count(ctx context.Context, report *Report) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.entries.CountBefore(ctx, report.AuditCutoff)
		report.AuditCandidates = n
		return err
	})
	g.Go(func() error {
		n, err := s.access.CountBefore(ctx, report.AccessCutoff)
		report.AccessCandidates = n
		return err
	})
	return g.Wait()
}

func windows(req Request) (int, int, error) {
	auditDays, accessDays := req.AuditRetentionDays, req.AccessLogRetentionDays
	if auditDays == 0 {
		auditDays = DefaultAuditRetentionDays
	}
	if accessDays == 0 {
		accessDays = DefaultAccessLogRetentionDays
	}
	if auditDays < 0 || accessDays < 0 {
		return 0, 0, dErrors.New(dErrors.CodeValidation, "retention windows must be positive")
	}
	return auditDays, accessDays, nil
}
