package governance

import (
	"context"
	"time"

	auditrecorder "caregov/internal/audit"
	consent "caregov/internal/consent/models"
	"caregov/internal/lifecycle/models"
	profile "caregov/internal/profile/models"
	id "caregov/pkg/domain"
	auditlog "caregov/pkg/platform/audit"
	"caregov/pkg/requestcontext"
	"caregov/pkg/requestmeta"
)

// ExportAccessWindow bounds the access log history included in an export.
const ExportAccessWindow = 90 * 24 * time.Hour

// Export is a subject's data portability bundle.
type Export struct {
	ExportedAt time.Time                    `json:"exported_at"`
	Profile    *profile.Profile             `json:"profile"`
	Records    map[string][]models.Governed `json:"records"`
	Consents   []*consent.Record            `json:"consents"`
	AccessLogs []auditlog.AccessLogEntry    `json:"access_logs"`
	Warnings   []*auditlog.Warning          `json:"-"`
}

// ExportSubjectData gathers everything held about a subject. Allowed for
// administrators, the bootstrap actor, and the subject itself.
func (s *Service) ExportSubjectData(ctx context.Context, subjectID id.RecordID, actor id.Actor, meta requestmeta.Metadata) (out Export, err error) {
	entityType := profile.KindSubject.EntityType()
	ctx, span := s.start(ctx, "governance.ExportSubjectData", actor, entityType)
	defer func() { end(span, err) }()

	role, err := s.profiles.Resolve(ctx, actor)
	if err != nil {
		return Export{}, err
	}
	if !isOwnSubject(role, subjectID) {
		if err := s.requireAdministrator(ctx, actor, role, meta, entityType, subjectID.String(), "export subject data"); err != nil {
			return Export{}, err
		}
	}

	subject, err := s.profiles.Manager(profile.KindSubject).Get(ctx, subjectID, models.ViewActive)
	if err != nil {
		return Export{}, err
	}
	now := requestcontext.Now(ctx)
	out = Export{
		ExportedAt: now,
		Profile:    subject,
		Records:    make(map[string][]models.Governed),
	}
	for _, et := range s.collections.EntityTypes() {
		coll, err := s.collections.Lookup(et)
		if err != nil {
			return Export{}, err
		}
		recs, ok, err := coll.BySubject(ctx, subjectID, models.ViewActive)
		if err != nil {
			return Export{}, err
		}
		if ok && len(recs) > 0 {
			out.Records[et] = recs
		}
	}
	if out.Consents, err = s.consents.ListBySubject(ctx, subjectID); err != nil {
		return Export{}, err
	}
	if out.AccessLogs, err = s.recorder.AccessLogs(ctx, subjectID, now.Add(-ExportAccessWindow)); err != nil {
		return Export{}, err
	}

	if w := s.recorder.LogAction(ctx, auditrecorder.ActionRecord{
		Action:      auditlog.ActionExport,
		EntityType:  entityType,
		EntityID:    subjectID.String(),
		Description: "exported subject data",
		Sensitivity: auditlog.SensitivityCritical,
		Extra:       map[string]any{"record_types": len(out.Records), "consents": len(out.Consents)},
		Actor:       actor,
		Meta:        meta,
	}); w != nil {
		out.Warnings = append(out.Warnings, w)
	}
	if w := s.recorder.LogDataAccess(ctx, auditrecorder.AccessRecord{
		Actor:      actor,
		SubjectID:  subjectID,
		AccessType: auditlog.AccessExport,
		Purpose:    "data portability request",
		Meta:       meta,
	}); w != nil {
		out.Warnings = append(out.Warnings, w)
	}
	return out, nil
}

// AnonymizeSubject replaces a subject's personal attributes with an
// anonymous identifier. Administrators only.
func (s *Service) AnonymizeSubject(ctx context.Context, subjectID id.RecordID, actor id.Actor, meta requestmeta.Metadata) (out Outcome, err error) {
	entityType := profile.KindSubject.EntityType()
	ctx, span := s.start(ctx, "governance.AnonymizeSubject", actor, entityType)
	defer func() { end(span, err) }()

	role, err := s.profiles.Resolve(ctx, actor)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.requireAdministrator(ctx, actor, role, meta, entityType, subjectID.String(), "anonymize subjects"); err != nil {
		return Outcome{}, err
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		res, err := s.profiles.Anonymize(ctx, subjectID, actor, meta)
		if err != nil {
			return err
		}
		out = Outcome{Record: res.Record, Warning: res.Warning}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	s.logger.InfoContext(ctx, "subject anonymized", "subject_id", subjectID)
	return out, nil
}
