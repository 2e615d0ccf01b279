package governance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"caregov/internal/access"
	auditrecorder "caregov/internal/audit"
	consent "caregov/internal/consent/models"
	consentsvc "caregov/internal/consent/service"
	consentstore "caregov/internal/consent/store"
	"caregov/internal/governance"
	"caregov/internal/lifecycle/models"
	manager "caregov/internal/lifecycle/service"
	"caregov/internal/lifecycle/store"
	profile "caregov/internal/profile/models"
	profilesvc "caregov/internal/profile/service"
	"caregov/internal/retention"
	id "caregov/pkg/domain"
	dErrors "caregov/pkg/domain-errors"
	auditlog "caregov/pkg/platform/audit"
	auditmemory "caregov/pkg/platform/audit/store/memory"
	"caregov/pkg/requestcontext"
	"caregov/pkg/requestmeta"
)

const conditionType = "condition"

type GovernanceSuite struct {
	suite.Suite
	svc       *governance.Service
	entries   *auditmemory.InMemoryStore
	accessLog *auditmemory.AccessLogStore
	ctx       context.Context
	now       time.Time
	meta      requestmeta.Metadata

	bootstrap id.Actor
	admin     id.Actor
	nurse     id.Actor
	dentist   id.Actor
	patient   id.Actor
	subject   *profile.Profile
}

func TestGovernanceSuite(t *testing.T) {
	suite.Run(t, new(GovernanceSuite))
}

func newService(entries *auditmemory.InMemoryStore, accessLog *auditmemory.AccessLogStore) *governance.Service {
	recorder := auditrecorder.New(entries, accessLog)
	profiles := profilesvc.New(profilesvc.Stores{
		Subjects:       profileStore(profile.KindSubject),
		Practitioners:  profileStore(profile.KindPractitioner),
		Administrators: profileStore(profile.KindAdministrator),
	}, recorder)

	collections := governance.NewCollections()
	for _, kind := range profile.Kinds() {
		k := kind
		governance.Register(collections, profiles.Manager(k),
			func() *profile.Profile { return &profile.Profile{Kind: k} },
			governance.WithoutSubjectKey())
	}
	conditions := manager.New(conditionType,
		store.NewInMemoryStore(conditionType, func() *models.Document { return &models.Document{} }),
		recorder)
	governance.Register(collections, conditions,
		func() *models.Document { return &models.Document{} },
		governance.RequiresConsent(id.ConsentDataProcessing))

	return governance.New(governance.Dependencies{
		Collections: collections,
		Profiles:    profiles,
		Evaluator:   access.NewEvaluator(),
		Consents:    consentsvc.New(consentstore.NewInMemoryStore(), recorder),
		Recorder:    recorder,
		Sweeper:     retention.New(entries, accessLog, recorder),
	})
}

func profileStore(kind profile.Kind) profilesvc.Store {
	return store.NewInMemoryStore(kind.EntityType(), profilesvc.NewProfile, store.WithUniqueKey(profile.ActorKey))
}

func (s *GovernanceSuite) SetupTest() {
	s.entries = auditmemory.NewInMemoryStore()
	s.accessLog = auditmemory.NewAccessLogStore()
	s.svc = newService(s.entries, s.accessLog)
	s.now = time.Date(2025, 7, 1, 9, 30, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.meta = requestmeta.Metadata{IP: "10.1.1.1", SessionKey: "sess-1"}

	s.bootstrap = id.Actor{ID: id.NewActorID(), Bootstrap: true}
	s.admin, _ = s.mustCreateProfile(profile.KindAdministrator, s.bootstrap, "")
	s.nurse, _ = s.mustCreateProfile(profile.KindPractitioner, s.admin, profile.RoleNurse)
	s.dentist, _ = s.mustCreateProfile(profile.KindPractitioner, s.admin, profile.RoleDentist)
	s.patient, s.subject = s.mustCreateProfile(profile.KindSubject, s.nurse, "")
}

func (s *GovernanceSuite) createProfile(kind profile.Kind, by id.Actor, role profile.PractitionerRole) (id.Actor, *profile.Profile, error) {
	owner := id.Actor{ID: id.NewActorID()}
	payload := map[string]any{
		"actor_id":     owner.ID.String(),
		"display_name": string(kind) + " user",
	}
	if role != "" {
		payload["practitioner_role"] = string(role)
	}
	out, err := s.svc.Create(s.ctx, kind.EntityType(), payload, by, s.meta)
	if err != nil {
		return owner, nil, err
	}
	return owner, out.Record.(*profile.Profile), nil
}

func (s *GovernanceSuite) mustCreateProfile(kind profile.Kind, by id.Actor, role profile.PractitionerRole) (id.Actor, *profile.Profile) {
	owner, p, err := s.createProfile(kind, by, role)
	s.Require().NoError(err)
	return owner, p
}

func (s *GovernanceSuite) createCondition(by id.Actor, subject id.RecordID) *models.Document {
	out, err := s.svc.Create(s.ctx, conditionType, map[string]any{
		"name":       "hypertension",
		"severity":   "moderate",
		"subject_id": subject.String(),
	}, by, s.meta)
	s.Require().NoError(err)
	return out.Record.(*models.Document)
}

func (s *GovernanceSuite) grantConsent(subject id.RecordID) {
	_, err := s.svc.GrantConsent(s.ctx, consentsvc.GrantRequest{
		SubjectID: subject,
		Type:      id.ConsentDataProcessing,
		Purpose:   "treatment follow-up",
	}, s.patient, s.meta)
	s.Require().NoError(err)
}

func (s *GovernanceSuite) denials() []auditlog.Entry {
	entries, err := s.entries.List(context.Background(), auditlog.Filter{Action: auditlog.ActionAccessDenied})
	s.Require().NoError(err)
	return entries
}

func (s *GovernanceSuite) TestResolveRole() {
	role, err := s.svc.ResolveRole(s.ctx, s.nurse)
	s.Require().NoError(err)
	s.True(role.Is(profile.KindPractitioner))
	s.Equal(profile.RoleNurse, role.Profile.PractitionerRole)

	role, err = s.svc.ResolveRole(s.ctx, id.Actor{ID: id.NewActorID()})
	s.Require().NoError(err)
	s.True(role.IsNone())
}

func (s *GovernanceSuite) TestCheckPermission() {
	d, err := s.svc.CheckPermission(s.ctx, s.patient, conditionType, access.MethodPost, nil)
	s.Require().NoError(err)
	s.False(d.Allowed)
	s.Empty(s.denials())

	d, err = s.svc.CheckPermission(s.ctx, s.admin, conditionType, access.MethodDelete, nil)
	s.Require().NoError(err)
	s.True(d.Allowed)
}

func (s *GovernanceSuite) TestRecordLifecycle() {
	s.Run("author soft-deletes and only an administrator restores", func() {
		doc := s.createCondition(s.nurse, s.subject.ID)

		_, err := s.svc.SoftDelete(s.ctx, conditionType, doc.ID, s.nurse, s.meta)
		s.Require().NoError(err)

		_, err = s.svc.Restore(s.ctx, conditionType, doc.ID, s.nurse, s.meta)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		out, err := s.svc.Restore(s.ctx, conditionType, doc.ID, s.admin, s.meta)
		s.Require().NoError(err)
		s.False(out.Record.Governance().IsDeleted)
	})

	s.Run("non-administrators cannot list deleted records", func() {
		_, err := s.svc.List(s.ctx, conditionType, models.ViewAll, s.nurse, s.meta)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

		_, err = s.svc.List(s.ctx, conditionType, models.ViewAll, s.admin, s.meta)
		s.NoError(err)
	})

	s.Run("purge is administrator only and audited", func() {
		doc := s.createCondition(s.nurse, s.subject.ID)

		_, err := s.svc.Purge(s.ctx, conditionType, doc.ID, s.nurse, s.meta)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

		_, err = s.svc.Purge(s.ctx, conditionType, doc.ID, s.admin, s.meta)
		s.Require().NoError(err)
		_, err = s.svc.Get(s.ctx, conditionType, doc.ID, models.ViewAll, s.admin, s.meta)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		entries, err := s.entries.List(context.Background(), auditlog.Filter{EntityID: doc.ID.String(), Action: auditlog.ActionDelete})
		s.Require().NoError(err)
		s.Require().NotEmpty(entries)
		s.Equal(true, entries[len(entries)-1].Extra["purge"])
	})

	s.Run("purging a profile removes the role", func() {
		owner, p := s.mustCreateProfile(profile.KindPractitioner, s.admin, profile.RoleCommunityHealthAgent)

		_, err := s.svc.Purge(s.ctx, p.EntityType(), p.ID, s.admin, s.meta)
		s.Require().NoError(err)

		role, err := s.svc.ResolveRole(s.ctx, owner)
		s.Require().NoError(err)
		s.True(role.IsNone())
	})

	s.Run("unknown entity type is a bad request", func() {
		_, err := s.svc.Create(s.ctx, "spaceship", map[string]any{}, s.admin, s.meta)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *GovernanceSuite) TestCreateRejectsGovernanceFields() {
	other := id.NewActorID().String()
	for key, value := range map[string]any{
		"is_deleted": true,
		"deleted_at": s.now.Format(time.RFC3339),
		"deleted_by": other,
		"updated_by": other,
		"created_at": s.now.Format(time.RFC3339),
		"id":         id.NewRecordID().String(),
	} {
		_, err := s.svc.Create(s.ctx, conditionType, map[string]any{
			"name":       "hypertension",
			"subject_id": s.subject.ID.String(),
			key:          value,
		}, s.nurse, s.meta)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation), key)
	}

	entries, err := s.entries.List(context.Background(), auditlog.Filter{EntityType: conditionType})
	s.Require().NoError(err)
	s.Empty(entries)

	s.Run("created_by may still be attributed", func() {
		out, err := s.svc.Create(s.ctx, conditionType, map[string]any{
			"name":       "asthma",
			"subject_id": s.subject.ID.String(),
			"created_by": s.nurse.ID.String(),
		}, s.admin, s.meta)
		s.Require().NoError(err)
		s.Equal(s.nurse.ID, out.Record.Governance().CreatedBy)
		s.False(out.Record.Governance().IsDeleted)
	})
}

func (s *GovernanceSuite) TestConsentGatesReads() {
	doc := s.createCondition(s.nurse, s.subject.ID)

	s.Run("practitioner read without consent is refused and logged", func() {
		_, err := s.svc.Get(s.ctx, conditionType, doc.ID, models.ViewActive, s.dentist, s.meta)

		s.True(dErrors.HasCode(err, dErrors.CodeConsentRequired))
		denials := s.denials()
		s.Require().NotEmpty(denials)
		s.Equal(string(access.CodeConsentRequired), denials[len(denials)-1].Extra["code"])
	})

	s.Run("list withholds unconsented records", func() {
		recs, err := s.svc.List(s.ctx, conditionType, models.ViewActive, s.dentist, s.meta)
		s.Require().NoError(err)
		s.Empty(recs)
	})

	s.Run("subject reads own record without consent", func() {
		rec, err := s.svc.Get(s.ctx, conditionType, doc.ID, models.ViewActive, s.patient, s.meta)
		s.Require().NoError(err)
		s.Equal(doc.ID, rec.Governance().ID)
	})

	s.Run("after consent the read succeeds and is access-logged", func() {
		s.grantConsent(s.subject.ID)

		rec, err := s.svc.Get(s.ctx, conditionType, doc.ID, models.ViewActive, s.dentist, s.meta)
		s.Require().NoError(err)
		s.Equal(doc.ID, rec.Governance().ID)

		logs, err := s.svc.AccessLogs(s.ctx, s.subject.ID, s.now.Add(-time.Hour), s.admin, s.meta)
		s.Require().NoError(err)
		s.Require().NotEmpty(logs)
		last := logs[len(logs)-1]
		s.Equal(auditlog.AccessView, last.AccessType)
		s.Contains(last.FieldsAccessed, "name")

		recs, err := s.svc.List(s.ctx, conditionType, models.ViewActive, s.dentist, s.meta)
		s.Require().NoError(err)
		s.Len(recs, 1)
	})

	s.Run("another subject cannot read the record", func() {
		other, _ := s.mustCreateProfile(profile.KindSubject, s.nurse, "")
		_, err := s.svc.Get(s.ctx, conditionType, doc.ID, models.ViewActive, other, s.meta)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *GovernanceSuite) TestConsentOperations() {
	s.Run("subject grants own consent", func() {
		res, err := s.svc.GrantConsent(s.ctx, consentsvc.GrantRequest{
			SubjectID: s.subject.ID,
			Type:      id.ConsentResearch,
			Purpose:   "cohort study",
		}, s.patient, s.meta)
		s.Require().NoError(err)
		s.True(s.svc.IsConsentValid(s.ctx, res.Record))
	})

	s.Run("subject cannot grant for another subject", func() {
		_, other := s.mustCreateProfile(profile.KindSubject, s.nurse, "")
		_, err := s.svc.GrantConsent(s.ctx, consentsvc.GrantRequest{
			SubjectID: other.ID,
			Type:      id.ConsentResearch,
			Purpose:   "cohort study",
		}, s.patient, s.meta)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("practitioner records a grant for a subject", func() {
		_, err := s.svc.GrantConsent(s.ctx, consentsvc.GrantRequest{
			SubjectID: s.subject.ID,
			Type:      id.ConsentTreatment,
			Purpose:   "dental care",
		}, s.dentist, s.meta)
		s.Require().NoError(err)
	})

	s.Run("grant for an unknown subject is not found", func() {
		_, err := s.svc.GrantConsent(s.ctx, consentsvc.GrantRequest{
			SubjectID: id.NewRecordID(),
			Type:      id.ConsentTreatment,
			Purpose:   "dental care",
		}, s.admin, s.meta)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("only the subject or an administrator revokes", func() {
		list, err := s.svc.ListConsents(s.ctx, s.subject.ID, s.patient, s.meta)
		s.Require().NoError(err)
		s.Require().NotEmpty(list)
		target := list[0]

		_, err = s.svc.RevokeConsent(s.ctx, target.ID, "changed mind", s.dentist, s.meta)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

		found, err := s.svc.RevokeConsent(s.ctx, target.ID, "changed mind", s.patient, s.meta)
		s.Require().NoError(err)
		s.True(found)

		found, err = s.svc.RevokeConsent(s.ctx, id.NewConsentID(), "", s.patient, s.meta)
		s.Require().NoError(err)
		s.False(found)

		list, err = s.svc.ListConsents(s.ctx, s.subject.ID, s.admin, s.meta)
		s.Require().NoError(err)
		for _, rec := range list {
			if rec.ID == target.ID {
				s.Equal(consent.StatusRevoked, rec.Status)
			}
		}
	})
}

func (s *GovernanceSuite) TestAuditAccess() {
	s.Run("administrators read the trail", func() {
		entries, err := s.svc.AuditTrail(s.ctx, auditlog.Filter{Action: auditlog.ActionCreate}, s.admin, s.meta)
		s.Require().NoError(err)
		s.NotEmpty(entries)
	})

	s.Run("practitioners cannot", func() {
		_, err := s.svc.AuditTrail(s.ctx, auditlog.Filter{}, s.nurse, s.meta)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("login events accept an anonymous actor", func() {
		warn := s.svc.LogAction(s.ctx, auditrecorder.ActionRecord{
			Action:      auditlog.ActionLogin,
			EntityType:  "session",
			Description: "failed login",
			Actor:       id.Anonymous(),
			Meta:        s.meta,
		})
		s.Nil(warn)
	})
}

func (s *GovernanceSuite) TestRetentionSweep() {
	_, err := s.svc.RunRetentionSweep(s.ctx, retention.Request{DryRun: true}, s.nurse, s.meta)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	report, err := s.svc.RunRetentionSweep(s.ctx, retention.Request{DryRun: true}, s.admin, s.meta)
	s.Require().NoError(err)
	s.True(report.DryRun)
	s.Zero(report.AuditDeleted)
}

func (s *GovernanceSuite) TestExportSubjectData() {
	doc := s.createCondition(s.nurse, s.subject.ID)
	s.grantConsent(s.subject.ID)

	s.Run("subject exports own data", func() {
		out, err := s.svc.ExportSubjectData(s.ctx, s.subject.ID, s.patient, s.meta)
		s.Require().NoError(err)
		s.Equal(s.subject.ID, out.Profile.ID)
		s.Require().Len(out.Records[conditionType], 1)
		s.Equal(doc.ID, out.Records[conditionType][0].Governance().ID)
		s.Len(out.Consents, 1)

		exports, err := s.entries.List(context.Background(), auditlog.Filter{Action: auditlog.ActionExport})
		s.Require().NoError(err)
		s.Require().Len(exports, 1)
		s.Equal(auditlog.SensitivityCritical, exports[0].Sensitivity)
	})

	s.Run("practitioners cannot export", func() {
		_, err := s.svc.ExportSubjectData(s.ctx, s.subject.ID, s.nurse, s.meta)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *GovernanceSuite) TestAnonymizeSubject() {
	_, err := s.svc.AnonymizeSubject(s.ctx, s.subject.ID, s.nurse, s.meta)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	out, err := s.svc.AnonymizeSubject(s.ctx, s.subject.ID, s.admin, s.meta)
	s.Require().NoError(err)
	p := out.Record.(*profile.Profile)
	s.True(p.Anonymized)
	s.Equal(profilesvc.AnonymousID(s.subject.ID, s.now), p.DisplayName)
}

func (s *GovernanceSuite) TestComplianceReport() {
	s.grantConsent(s.subject.ID)

	_, err := s.svc.ComplianceReport(s.ctx, s.now.Add(-time.Hour), s.now.Add(time.Hour), s.nurse, s.meta)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.svc.ComplianceReport(s.ctx, s.now, s.now, s.admin, s.meta)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	report, err := s.svc.ComplianceReport(s.ctx, s.now.Add(-time.Hour), s.now.Add(time.Hour), s.admin, s.meta)
	s.Require().NoError(err)
	s.EqualValues(5, report.ByAction[auditlog.ActionCreate])
	s.Equal(1, report.Consents[consent.StatusGranted])
}
