package governance

import (
	"context"

	"caregov/internal/access"
	consent "caregov/internal/consent/models"
	consentsvc "caregov/internal/consent/service"
	lifecycle "caregov/internal/lifecycle/models"
	profile "caregov/internal/profile/models"
	id "caregov/pkg/domain"
	dErrors "caregov/pkg/domain-errors"
	"caregov/pkg/requestmeta"
)

// GrantConsent records a subject's consent. Subjects grant their own;
// practitioners and administrators may record a grant on a subject's behalf.
func (s *Service) GrantConsent(ctx context.Context, req consentsvc.GrantRequest, actor id.Actor, meta requestmeta.Metadata) (res consentsvc.Result, err error) {
	ctx, span := s.start(ctx, "governance.GrantConsent", actor, consent.EntityType)
	defer func() { end(span, err) }()

	role, err := s.profiles.Resolve(ctx, actor)
	if err != nil {
		return consentsvc.Result{}, err
	}
	if !isOwnSubject(role, req.SubjectID) {
		if err := s.authorize(ctx, actor, role, meta, consent.EntityType, "", access.MethodPost, nil); err != nil {
			return consentsvc.Result{}, err
		}
	}
	if _, err := s.profiles.Manager(profile.KindSubject).Get(ctx, req.SubjectID, lifecycle.ViewActive); err != nil {
		return consentsvc.Result{}, err
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		res, err = s.consents.Grant(ctx, req, actor, meta)
		return err
	})
	return res, err
}

// RevokeConsent revokes a consent. It reports false when the consent does
// not exist.
func (s *Service) RevokeConsent(ctx context.Context, consentID id.ConsentID, reason string, actor id.Actor, meta requestmeta.Metadata) (found bool, err error) {
	ctx, span := s.start(ctx, "governance.RevokeConsent", actor, consent.EntityType)
	defer func() { end(span, err) }()

	rec, err := s.consents.Get(ctx, consentID)
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	role, err := s.profiles.Resolve(ctx, actor)
	if err != nil {
		return false, err
	}
	if !isOwnSubject(role, rec.SubjectID) {
		if err := s.authorize(ctx, actor, role, meta, consent.EntityType, consentID.String(), access.MethodDelete, rec); err != nil {
			return false, err
		}
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		found, _, err = s.consents.Revoke(ctx, consentID, reason, actor, meta)
		return err
	})
	return found, err
}

// IsConsentValid reports whether rec authorizes processing now.
func (s *Service) IsConsentValid(ctx context.Context, rec *consent.Record) bool {
	return s.consents.IsValid(ctx, rec)
}

// ListConsents returns a subject's consent records.
func (s *Service) ListConsents(ctx context.Context, subject id.RecordID, actor id.Actor, meta requestmeta.Metadata) ([]*consent.Record, error) {
	role, err := s.profiles.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !isOwnSubject(role, subject) {
		target := &consent.Record{SubjectID: subject}
		if err := s.authorize(ctx, actor, role, meta, consent.EntityType, "", access.MethodGet, target); err != nil {
			return nil, err
		}
	}
	return s.consents.ListBySubject(ctx, subject)
}
