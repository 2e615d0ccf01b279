//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	auditrecorder "caregov/internal/audit"
	"caregov/internal/consent/models"
	"caregov/internal/consent/service"
	"caregov/internal/consent/store"
	id "caregov/pkg/domain"
	auditpg "caregov/pkg/platform/audit/store/postgres"
	"caregov/pkg/platform/sentinel"
	txcontext "caregov/pkg/platform/tx"
	"caregov/pkg/requestcontext"
	"caregov/pkg/requestmeta"
	"caregov/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	svc      *service.Service
	t0       time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	recorder := auditrecorder.New(auditpg.New(s.postgres.DB), auditpg.NewAccessLogStore(s.postgres.DB))
	runner := txcontext.NewSQLRunner(s.postgres.DB, 5*time.Second)
	s.svc = service.New(s.store, recorder, service.WithTx(service.NewSQLTx(runner, s.store)))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "consents", "audit_entries"))
	s.t0 = time.Now().UTC().Truncate(time.Microsecond)
}

func (s *PostgresStoreSuite) at(offset time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.t0.Add(offset))
}

func (s *PostgresStoreSuite) grant(ctx context.Context, subject id.RecordID, expiresAt *time.Time) *models.Record {
	res, err := s.svc.Grant(ctx, service.GrantRequest{
		SubjectID:      subject,
		Type:           id.ConsentDataProcessing,
		Purpose:        "care coordination",
		DataCategories: []string{"conditions", "appointments"},
		ExpiresAt:      expiresAt,
	}, id.Actor{ID: id.NewActorID()}, requestmeta.Metadata{IP: "10.0.0.2"})
	s.Require().NoError(err)
	return res.Record
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	subject := id.NewRecordID()
	expires := s.t0.Add(24 * time.Hour)
	rec := s.grant(s.at(0), subject, &expires)

	got, err := s.store.FindByID(context.Background(), rec.ID)
	s.Require().NoError(err)
	s.Equal(rec.SubjectID, got.SubjectID)
	s.Equal([]string{"conditions", "appointments"}, got.DataCategories)
	s.Equal(service.DefaultLegalBasis, got.LegalBasis)
	s.Require().NotNil(got.ExpiresAt)
	s.True(expires.Equal(*got.ExpiresAt))

	_, err = s.store.FindByID(context.Background(), id.NewConsentID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestGrantSupersedesInTransaction() {
	subject := id.NewRecordID()
	first := s.grant(s.at(0), subject, nil)
	second := s.grant(s.at(time.Minute), subject, nil)

	recs, err := s.store.ListBySubject(context.Background(), subject)
	s.Require().NoError(err)
	s.Require().Len(recs, 2)
	s.Equal(first.ID, recs[0].ID)
	s.Equal(models.StatusRevoked, recs[0].Status)
	s.NotNil(recs[0].RevokedAt)
	s.Equal(second.ID, recs[1].ID)
	s.Equal(models.StatusGranted, recs[1].Status)
}

func (s *PostgresStoreSuite) TestRevokeAndCount() {
	subject := id.NewRecordID()
	expired := s.t0.Add(time.Hour)
	s.grant(s.at(0), subject, &expired)
	other := s.grant(s.at(0), id.NewRecordID(), nil)
	s.grant(s.at(0), id.NewRecordID(), nil)

	found, _, err := s.svc.Revoke(s.at(time.Minute), other.ID, "withdrawn", id.Actor{ID: id.NewActorID()}, requestmeta.Metadata{})
	s.Require().NoError(err)
	s.True(found)

	counts, err := s.store.CountByStatus(context.Background(), s.t0.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Equal(map[models.Status]int{
		models.StatusGranted: 1,
		models.StatusRevoked: 1,
		models.StatusExpired: 1,
	}, counts)
}
