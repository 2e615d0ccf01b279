package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	auditrecorder "caregov/internal/audit"
	"caregov/internal/lifecycle/metrics"
	"caregov/internal/lifecycle/models"
	"caregov/internal/lifecycle/service"
	"caregov/internal/lifecycle/store"
	id "caregov/pkg/domain"
	dErrors "caregov/pkg/domain-errors"
	auditlog "caregov/pkg/platform/audit"
	"caregov/pkg/platform/audit/mocks"
	auditmemory "caregov/pkg/platform/audit/store/memory"
	"caregov/pkg/requestcontext"
	"caregov/pkg/requestmeta"
)

const conditionType = "condition"

type ManagerSuite struct {
	suite.Suite
	records *store.InMemoryStore[*models.Document]
	entries *auditmemory.InMemoryStore
	metrics *metrics.Metrics
	manager *service.Manager[*models.Document]
	ctx     context.Context
	now     time.Time
	actor   id.Actor
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.records = store.NewInMemoryStore(conditionType, func() *models.Document { return &models.Document{} })
	s.entries = auditmemory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())
	recorder := auditrecorder.New(s.entries, auditmemory.NewAccessLogStore())
	s.manager = service.New(conditionType, s.records, recorder, service.WithMetrics(s.metrics))
	s.now = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.actor = id.Actor{ID: id.NewActorID()}
}

func (s *ManagerSuite) create(attrs map[string]any) *models.Document {
	res, err := s.manager.Create(s.ctx, models.NewDocument(conditionType, attrs), s.actor, requestmeta.Metadata{})
	s.Require().NoError(err)
	return res.Record
}

func (s *ManagerSuite) auditEntries(action auditlog.Action) []auditlog.Entry {
	entries, err := s.entries.List(context.Background(), auditlog.Filter{Action: action})
	s.Require().NoError(err)
	return entries
}

func (s *ManagerSuite) TestCreate() {
	s.Run("defaults created_by to the actor and audits", func() {
		doc := s.create(map[string]any{"name": "asthma"})

		s.False(doc.ID.IsNil())
		s.Equal(s.actor.ID, doc.CreatedBy)
		s.Equal(s.now, doc.CreatedAt)
		s.Len(s.auditEntries(auditlog.ActionCreate), 1)
	})

	s.Run("keeps caller supplied created_by", func() {
		author := id.NewActorID()
		doc := models.NewDocument(conditionType, map[string]any{"name": "flu"})
		doc.CreatedBy = author

		res, err := s.manager.Create(s.ctx, doc, s.actor, requestmeta.Metadata{})

		s.Require().NoError(err)
		s.Equal(author, res.Record.CreatedBy)
	})

	s.Run("starts active and unattributed whatever the caller preset", func() {
		other := id.NewActorID()
		deletedAt := s.now.Add(-time.Hour)
		doc := models.NewDocument(conditionType, map[string]any{"name": "flu"})
		doc.IsDeleted = true
		doc.DeletedAt = &deletedAt
		doc.DeletedBy = other
		doc.UpdatedBy = other

		res, err := s.manager.Create(s.ctx, doc, s.actor, requestmeta.Metadata{})

		s.Require().NoError(err)
		s.False(res.Record.IsDeleted)
		s.Nil(res.Record.DeletedAt)
		s.True(res.Record.DeletedBy.IsNil())
		s.True(res.Record.UpdatedBy.IsNil())

		_, err = s.manager.Get(s.ctx, res.Record.ID, models.ViewActive)
		s.NoError(err)
		creates, err := s.entries.List(context.Background(), auditlog.Filter{EntityID: res.Record.ID.String(), Action: auditlog.ActionCreate})
		s.Require().NoError(err)
		s.Require().Len(creates, 1)
		s.Equal(s.actor.ID, *creates[0].Actor)
	})

	s.Run("runs validators", func() {
		records := store.NewInMemoryStore(conditionType, func() *models.Document { return &models.Document{} })
		manager := service.New(conditionType, records, auditrecorder.New(s.entries, auditmemory.NewAccessLogStore())).
			AddValidator(func(context.Context, *models.Document, id.Actor) error {
				return dErrors.New(dErrors.CodeValidation, "nope")
			})

		_, err := manager.Create(s.ctx, models.NewDocument(conditionType, nil), s.actor, requestmeta.Metadata{})

		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		all, _ := records.List(s.ctx, models.ViewAll)
		s.Empty(all)
	})

	s.Run("rejects a record of another type", func() {
		_, err := s.manager.Create(s.ctx, models.NewDocument("alert", nil), s.actor, requestmeta.Metadata{})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ManagerSuite) TestUpdate() {
	s.Run("diff holds exactly the changed field", func() {
		attrs := map[string]any{"name": "A"}
		for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
			attrs[k] = "unchanged"
		}
		doc := s.create(attrs)
		editor := id.Actor{ID: id.NewActorID()}

		res, err := s.manager.Update(s.ctx, doc.ID, map[string]any{"name": "B"}, editor, requestmeta.Metadata{})

		s.Require().NoError(err)
		s.Equal("B", res.Record.Attributes["name"])
		s.Equal(editor.ID, res.Record.UpdatedBy)
		updates := s.auditEntries(auditlog.ActionUpdate)
		s.Require().NotEmpty(updates)
		s.Equal(map[string]auditlog.FieldChange{"name": {Old: "A", New: "B"}}, updates[len(updates)-1].ChangedFields)
	})

	s.Run("rejects write-protected fields", func() {
		doc := s.create(map[string]any{"name": "x"})
		for _, key := range []string{"created_by", "is_deleted", "deleted_at", "updated_by", "id", "entity_type"} {
			_, err := s.manager.Update(s.ctx, doc.ID, map[string]any{key: "v"}, s.actor, requestmeta.Metadata{})
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), key)
		}
	})

	s.Run("soft-deleted record is not found", func() {
		doc := s.create(map[string]any{"name": "x"})
		_, err := s.manager.SoftDelete(s.ctx, doc.ID, s.actor, requestmeta.Metadata{})
		s.Require().NoError(err)

		_, err = s.manager.Update(s.ctx, doc.ID, map[string]any{"name": "y"}, s.actor, requestmeta.Metadata{})

		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ManagerSuite) TestSoftDeleteAndRestore() {
	s.Run("round trip restores governance fields and active view", func() {
		doc := s.create(map[string]any{"name": "x"})

		deleted, err := s.manager.SoftDelete(s.ctx, doc.ID, s.actor, requestmeta.Metadata{})
		s.Require().NoError(err)
		s.True(deleted.Record.IsDeleted)
		s.Require().NotNil(deleted.Record.DeletedAt)
		s.Equal(s.actor.ID, deleted.Record.DeletedBy)

		_, err = s.manager.Get(s.ctx, doc.ID, models.ViewActive)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		_, err = s.manager.Get(s.ctx, doc.ID, models.ViewAll)
		s.NoError(err)

		restored, err := s.manager.Restore(s.ctx, doc.ID, s.actor, requestmeta.Metadata{})
		s.Require().NoError(err)
		s.False(restored.Record.IsDeleted)
		s.Nil(restored.Record.DeletedAt)
		s.True(restored.Record.DeletedBy.IsNil())
		s.Equal(doc.CreatedBy, restored.Record.CreatedBy)
		s.Equal(doc.CreatedAt, restored.Record.CreatedAt)

		active, err := s.manager.List(s.ctx, models.ViewActive)
		s.Require().NoError(err)
		s.Contains(ids(active), doc.ID)
	})

	s.Run("repeated soft-delete keeps the first stamp but is audited", func() {
		doc := s.create(map[string]any{"name": "x"})
		first, err := s.manager.SoftDelete(s.ctx, doc.ID, s.actor, requestmeta.Metadata{})
		s.Require().NoError(err)
		before := len(s.auditEntries(auditlog.ActionDelete))

		later := requestcontext.WithTime(context.Background(), s.now.Add(time.Hour))
		second, err := s.manager.SoftDelete(later, doc.ID, id.Actor{ID: id.NewActorID()}, requestmeta.Metadata{})

		s.Require().NoError(err)
		s.Equal(first.Record.DeletedAt, second.Record.DeletedAt)
		s.Equal(first.Record.DeletedBy, second.Record.DeletedBy)
		deletes := s.auditEntries(auditlog.ActionDelete)
		s.Len(deletes, before+1)
		s.Empty(deletes[len(deletes)-1].ChangedFields)
	})

	s.Run("restore of an active record is rejected without audit", func() {
		doc := s.create(map[string]any{"name": "x"})
		before := len(s.auditEntries(auditlog.ActionRestore))

		_, err := s.manager.Restore(s.ctx, doc.ID, s.actor, requestmeta.Metadata{})

		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Len(s.auditEntries(auditlog.ActionRestore), before)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.manager.SoftDelete(s.ctx, id.NewRecordID(), s.actor, requestmeta.Metadata{})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ManagerSuite) TestPurge() {
	s.Run("removes from every view after a terminal entry", func() {
		doc := s.create(map[string]any{"name": "x"})
		_, err := s.manager.SoftDelete(s.ctx, doc.ID, s.actor, requestmeta.Metadata{})
		s.Require().NoError(err)

		warn, err := s.manager.Purge(s.ctx, doc.ID, s.actor, requestmeta.Metadata{})

		s.Require().NoError(err)
		s.Nil(warn)
		_, err = s.manager.Get(s.ctx, doc.ID, models.ViewAll)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		entries, err := s.entries.List(context.Background(), auditlog.Filter{EntityID: doc.ID.String(), Action: auditlog.ActionDelete})
		s.Require().NoError(err)
		last := entries[len(entries)-1]
		s.Equal(true, last.Extra["purge"])
		s.Equal(auditlog.SensitivityHigh, last.Sensitivity)
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.Transitions.WithLabelValues(conditionType, "purge")))
	})

	s.Run("active record may be purged directly", func() {
		doc := s.create(nil)
		_, err := s.manager.Purge(s.ctx, doc.ID, s.actor, requestmeta.Metadata{})
		s.Require().NoError(err)
	})
}

func (s *ManagerSuite) TestAuditFailureNeverFailsTheMutation() {
	ctrl := gomock.NewController(s.T())
	failing := mocks.NewMockStore(ctrl)
	failing.EXPECT().Append(gomock.Any(), gomock.Any()).Return(errors.New("audit db down")).AnyTimes()
	recorder := auditrecorder.New(failing, auditmemory.NewAccessLogStore())
	records := store.NewInMemoryStore(conditionType, func() *models.Document { return &models.Document{} })
	manager := service.New(conditionType, records, recorder, service.WithMetrics(s.metrics))

	res, err := manager.Create(s.ctx, models.NewDocument(conditionType, map[string]any{"name": "x"}), s.actor, requestmeta.Metadata{})

	s.Require().NoError(err)
	s.Require().NotNil(res.Warning)
	s.Equal(auditlog.ActionCreate, res.Warning.Action)
	_, err = manager.Get(s.ctx, res.Record.ID, models.ViewActive)
	s.NoError(err)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.AuditWarnings.WithLabelValues(conditionType)))
}

func ids(docs []*models.Document) []id.RecordID {
	out := make([]id.RecordID, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}
