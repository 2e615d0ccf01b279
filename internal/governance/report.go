package governance

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"caregov/internal/access"
	consent "caregov/internal/consent/models"
	id "caregov/pkg/domain"
	dErrors "caregov/pkg/domain-errors"
	auditlog "caregov/pkg/platform/audit"
	"caregov/pkg/requestmeta"
)

// ComplianceReport summarizes audit activity in [From, To).
type ComplianceReport struct {
	From          time.Time                      `json:"from"`
	To            time.Time                      `json:"to"`
	ByAction      map[auditlog.Action]int64      `json:"entries_by_action"`
	BySensitivity map[auditlog.Sensitivity]int64 `json:"entries_by_sensitivity"`
	Consents      map[consent.Status]int         `json:"consents_by_status"`
	AccessLogs    int64                          `json:"access_logs"`
}

// ComplianceReport counts audit entries, consents, and access logs for the
// period. Administrators only.
func (s *Service) ComplianceReport(ctx context.Context, from, to time.Time, actor id.Actor, meta requestmeta.Metadata) (report ComplianceReport, err error) {
	ctx, span := s.start(ctx, "governance.ComplianceReport", actor, access.ResourceAuditEntry)
	defer func() { end(span, err) }()

	if !from.Before(to) {
		return ComplianceReport{}, dErrors.New(dErrors.CodeValidation, "report period must end after it starts")
	}
	role, err := s.profiles.Resolve(ctx, actor)
	if err != nil {
		return ComplianceReport{}, err
	}
	if err := s.requireAdministrator(ctx, actor, role, meta, access.ResourceAuditEntry, "", "read compliance reports"); err != nil {
		return ComplianceReport{}, err
	}

	report = ComplianceReport{From: from, To: to}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		report.ByAction, err = s.recorder.CountByAction(gctx, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		report.BySensitivity, err = s.recorder.CountBySensitivity(gctx, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		report.Consents, err = s.consents.CountByStatus(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		report.AccessLogs, err = s.recorder.CountAccess(gctx, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		var de *dErrors.Error
		if errors.As(err, &de) {
			return ComplianceReport{}, err
		}
		return ComplianceReport{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build compliance report")
	}
	return report, nil
}
