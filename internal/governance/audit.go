package governance

import (
	"context"
	"time"

	"caregov/internal/access"
	auditrecorder "caregov/internal/audit"
	"caregov/internal/retention"
	id "caregov/pkg/domain"
	auditlog "caregov/pkg/platform/audit"
	"caregov/pkg/requestmeta"
)

// LogAction records an event from outside the record lifecycle, such as a
// login, logout, or export.
func (s *Service) LogAction(ctx context.Context, rec auditrecorder.ActionRecord) *auditlog.Warning {
	return s.recorder.LogAction(ctx, rec)
}

// LogDataAccess records a read of subject data.
func (s *Service) LogDataAccess(ctx context.Context, rec auditrecorder.AccessRecord) *auditlog.Warning {
	return s.recorder.LogDataAccess(ctx, rec)
}

// AuditTrail lists audit entries. Administrators only.
func (s *Service) AuditTrail(ctx context.Context, filter auditlog.Filter, actor id.Actor, meta requestmeta.Metadata) ([]auditlog.Entry, error) {
	role, err := s.profiles.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, role, meta, access.ResourceAuditEntry, "", access.MethodGet, nil); err != nil {
		return nil, err
	}
	return s.recorder.Entries(ctx, filter)
}

// AccessLogs lists a subject's access log since the given time.
// Administrators only.
func (s *Service) AccessLogs(ctx context.Context, subject id.RecordID, since time.Time, actor id.Actor, meta requestmeta.Metadata) ([]auditlog.AccessLogEntry, error) {
	role, err := s.profiles.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, role, meta, access.ResourceAccessLog, subject.String(), access.MethodGet, nil); err != nil {
		return nil, err
	}
	return s.recorder.AccessLogs(ctx, subject, since)
}

// RunRetentionSweep removes expired audit entries and access logs.
// Administrators and the bootstrap actor only.
func (s *Service) RunRetentionSweep(ctx context.Context, req retention.Request, actor id.Actor, meta requestmeta.Metadata) (report retention.Report, err error) {
	ctx, span := s.start(ctx, "governance.RunRetentionSweep", actor, access.ResourceRetention)
	defer func() { end(span, err) }()

	role, err := s.profiles.Resolve(ctx, actor)
	if err != nil {
		return retention.Report{}, err
	}
	if err := s.requireAdministrator(ctx, actor, role, meta, access.ResourceRetention, "", "run retention sweeps"); err != nil {
		return retention.Report{}, err
	}
	req.Actor = actor
	req.Meta = meta
	return s.sweeper.Run(ctx, req)
}
