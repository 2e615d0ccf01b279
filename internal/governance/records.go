package governance

import (
	"context"

	"caregov/internal/access"
	auditrecorder "caregov/internal/audit"
	"caregov/internal/lifecycle/models"
	profile "caregov/internal/profile/models"
	id "caregov/pkg/domain"
	dErrors "caregov/pkg/domain-errors"
	auditlog "caregov/pkg/platform/audit"
	"caregov/pkg/requestmeta"
)

// Create persists a new record of entityType from payload. created_by
// defaults to the actor when the payload leaves it unset.
func (s *Service) Create(ctx context.Context, entityType string, payload map[string]any, actor id.Actor, meta requestmeta.Metadata) (out Outcome, err error) {
	ctx, span := s.start(ctx, "governance.Create", actor, entityType)
	defer func() { end(span, err) }()

	coll, err := s.collections.Lookup(entityType)
	if err != nil {
		return Outcome{}, err
	}
	role, err := s.profiles.Resolve(ctx, actor)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.authorize(ctx, actor, role, meta, entityType, "", access.MethodPost, nil); err != nil {
		return Outcome{}, err
	}
	rec, err := coll.Decode(payload)
	if err != nil {
		return Outcome{}, err
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		out, err = coll.Create(ctx, rec, actor, meta)
		return err
	})
	return out, err
}

// Update applies changes to an active record.
func (s *Service) Update(ctx context.Context, entityType string, recordID id.RecordID, changes map[string]any, actor id.Actor, meta requestmeta.Metadata) (out Outcome, err error) {
	ctx, span := s.start(ctx, "governance.Update", actor, entityType)
	defer func() { end(span, err) }()

	coll, role, cur, err := s.loadForMutation(ctx, entityType, recordID, actor, models.ViewActive)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.authorize(ctx, actor, role, meta, entityType, recordID.String(), access.MethodPatch, targetOf(cur)); err != nil {
		return Outcome{}, err
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		out, err = coll.Update(ctx, recordID, changes, actor, meta)
		return err
	})
	return out, err
}

// SoftDelete hides a record from the active view.
func (s *Service) SoftDelete(ctx context.Context, entityType string, recordID id.RecordID, actor id.Actor, meta requestmeta.Metadata) (out Outcome, err error) {
	ctx, span := s.start(ctx, "governance.SoftDelete", actor, entityType)
	defer func() { end(span, err) }()

	coll, role, cur, err := s.loadForMutation(ctx, entityType, recordID, actor, models.ViewAll)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.authorize(ctx, actor, role, meta, entityType, recordID.String(), access.MethodDelete, targetOf(cur)); err != nil {
		return Outcome{}, err
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		out, err = coll.SoftDelete(ctx, recordID, actor, meta)
		return err
	})
	return out, err
}

// Restore returns a soft-deleted record to the active view. Only actors
// allowed to see deleted records can find one to restore.
func (s *Service) Restore(ctx context.Context, entityType string, recordID id.RecordID, actor id.Actor, meta requestmeta.Metadata) (out Outcome, err error) {
	ctx, span := s.start(ctx, "governance.Restore", actor, entityType)
	defer func() { end(span, err) }()

	coll, role, cur, err := s.loadForMutation(ctx, entityType, recordID, actor, models.ViewAll)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.authorize(ctx, actor, role, meta, entityType, recordID.String(), access.MethodPut, targetOf(cur)); err != nil {
		return Outcome{}, err
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		out, err = coll.Restore(ctx, recordID, actor, meta)
		return err
	})
	return out, err
}

// Purge permanently removes a record. Administrators and the bootstrap
// actor only.
func (s *Service) Purge(ctx context.Context, entityType string, recordID id.RecordID, actor id.Actor, meta requestmeta.Metadata) (warn *auditlog.Warning, err error) {
	ctx, span := s.start(ctx, "governance.Purge", actor, entityType)
	defer func() { end(span, err) }()

	coll, err := s.collections.Lookup(entityType)
	if err != nil {
		return nil, err
	}
	role, err := s.profiles.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := s.requireAdministrator(ctx, actor, role, meta, entityType, recordID.String(), "purge records"); err != nil {
		return nil, err
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		warn, err = coll.Purge(ctx, recordID, actor, meta)
		return err
	})
	return warn, err
}

// Get reads one record. Reads of subject records in consent-gated
// collections require the subject's consent and are access-logged.
func (s *Service) Get(ctx context.Context, entityType string, recordID id.RecordID, view models.View, actor id.Actor, meta requestmeta.Metadata) (rec models.Governed, err error) {
	ctx, span := s.start(ctx, "governance.Get", actor, entityType)
	defer func() { end(span, err) }()

	coll, err := s.collections.Lookup(entityType)
	if err != nil {
		return nil, err
	}
	role, err := s.profiles.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	if view, err = s.viewFor(ctx, actor, role, meta, entityType, view); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, role, meta, entityType, "", access.MethodGet, nil); err != nil {
		return nil, err
	}
	rec, err = coll.Get(ctx, recordID, view)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, role, meta, entityType, recordID.String(), access.MethodGet, targetOf(rec)); err != nil {
		return nil, err
	}
	if err := s.requireConsent(ctx, coll, rec, actor, role, meta); err != nil {
		return nil, err
	}

	if subject, ok := subjectOf(rec); ok {
		s.recorder.LogDataAccess(ctx, auditrecorder.AccessRecord{
			Actor:          actor,
			SubjectID:      subject,
			AccessType:     auditlog.AccessView,
			FieldsAccessed: fieldNames(rec),
			Meta:           meta,
		})
	}
	return rec, nil
}

// List returns the records of entityType the actor may read. Subjects see
// only their own records. Records whose subject has not consented are
// withheld from other readers.
func (s *Service) List(ctx context.Context, entityType string, view models.View, actor id.Actor, meta requestmeta.Metadata) (out []models.Governed, err error) {
	ctx, span := s.start(ctx, "governance.List", actor, entityType)
	defer func() { end(span, err) }()

	coll, err := s.collections.Lookup(entityType)
	if err != nil {
		return nil, err
	}
	role, err := s.profiles.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	if view, err = s.viewFor(ctx, actor, role, meta, entityType, view); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, role, meta, entityType, "", access.MethodGet, nil); err != nil {
		return nil, err
	}
	recs, err := coll.List(ctx, view)
	if err != nil {
		return nil, err
	}

	consentType, gated := coll.RequiredConsent()
	consented := make(map[id.RecordID]bool)
	withheld := 0
	subjects := make(map[id.RecordID]bool)
	for _, rec := range recs {
		if !s.evaluator.Check(actor, role, entityType, access.MethodGet, targetOf(rec)).Allowed {
			continue
		}
		subject, hasSubject := subjectOf(rec)
		if gated && hasSubject && !isOwnSubject(role, subject) {
			ok, seen := consented[subject]
			if !seen {
				if ok, err = s.consents.HasValid(ctx, subject, consentType); err != nil {
					return nil, err
				}
				consented[subject] = ok
			}
			if !ok {
				withheld++
				continue
			}
		}
		if hasSubject {
			subjects[subject] = true
		}
		out = append(out, rec)
	}

	if withheld > 0 {
		s.logDenied(ctx, actor, meta, entityType, "", "list", access.ConsentRequired(
			"records withheld because the subject has not consented to "+string(consentType)))
	}
	for subject := range subjects {
		s.recorder.LogDataAccess(ctx, auditrecorder.AccessRecord{
			Actor:      actor,
			SubjectID:  subject,
			AccessType: auditlog.AccessSearch,
			Meta:       meta,
		})
	}
	return out, nil
}

func (s *Service) loadForMutation(ctx context.Context, entityType string, recordID id.RecordID, actor id.Actor, view models.View) (Collection, profile.Role, models.Governed, error) {
	coll, err := s.collections.Lookup(entityType)
	if err != nil {
		return nil, profile.Role{}, nil, err
	}
	role, err := s.profiles.Resolve(ctx, actor)
	if err != nil {
		return nil, profile.Role{}, nil, err
	}
	if view == models.ViewAll {
		view = mutationView(actor, role)
	}
	cur, err := coll.Get(ctx, recordID, view)
	if err != nil {
		return nil, profile.Role{}, nil, err
	}
	return coll, role, cur, nil
}

// requireConsent gates a read of a subject record on the subject's consent.
// Subjects reading their own records are not gated.
func (s *Service) requireConsent(ctx context.Context, coll Collection, rec models.Governed, actor id.Actor, role profile.Role, meta requestmeta.Metadata) error {
	consentType, gated := coll.RequiredConsent()
	if !gated {
		return nil
	}
	subject, ok := subjectOf(rec)
	if !ok || isOwnSubject(role, subject) {
		return nil
	}
	err := s.consents.Require(ctx, subject, consentType)
	if dErrors.HasCode(err, dErrors.CodeConsentRequired) {
		s.logDenied(ctx, actor, meta, coll.EntityType(), rec.Governance().ID.String(), string(access.MethodGet),
			access.ConsentRequired(dErrors.Reason(err)))
	}
	return err
}

func isOwnSubject(role profile.Role, subject id.RecordID) bool {
	return role.Is(profile.KindSubject) && role.Profile.ID == subject
}

func fieldNames(rec models.Governed) []string {
	snap, err := auditlog.Snapshot(rec)
	if err != nil {
		return nil
	}
	return auditlog.FieldNames(snap)
}
