// Package app wires the governance layer from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"

	"caregov/internal/access"
	auditrecorder "caregov/internal/audit"
	consentmetrics "caregov/internal/consent/metrics"
	consentsvc "caregov/internal/consent/service"
	consentstore "caregov/internal/consent/store"
	"caregov/internal/governance"
	"caregov/internal/identity"
	lifecyclemetrics "caregov/internal/lifecycle/metrics"
	"caregov/internal/lifecycle/models"
	manager "caregov/internal/lifecycle/service"
	lifecyclestore "caregov/internal/lifecycle/store"
	"caregov/internal/platform/config"
	"caregov/internal/platform/postgres"
	platformredis "caregov/internal/platform/redis"
	profile "caregov/internal/profile/models"
	profilesvc "caregov/internal/profile/service"
	"caregov/internal/retention"
	id "caregov/pkg/domain"
	auditkafka "caregov/pkg/platform/audit/publishers/kafka"
	auditpg "caregov/pkg/platform/audit/store/postgres"
	txcontext "caregov/pkg/platform/tx"
)

// Collection describes a clinical or reference collection of documents.
type Collection struct {
	EntityType string
	// Consent gates reads of subject records. Empty means ungated.
	Consent id.ConsentType
	// NoSubject marks reference data that does not point at a subject.
	NoSubject bool
	Category  access.Category
}

// DefaultCollections are the document collections registered alongside
// the three profile kinds.
var DefaultCollections = []Collection{
	{EntityType: "condition", Consent: id.ConsentDataProcessing},
	{EntityType: "medication", Consent: id.ConsentDataProcessing},
	{EntityType: "appointment", Consent: id.ConsentDataProcessing},
	{EntityType: "alert", Consent: id.ConsentDataProcessing},
	{EntityType: "pendency", Consent: id.ConsentDataProcessing},
	{EntityType: "address", NoSubject: true, Category: access.CategoryAdministrative},
	{EntityType: "micro_area", NoSubject: true, Category: access.CategoryAdministrative},
	{EntityType: "institution", NoSubject: true, Category: access.CategoryAdministrative},
}

// App holds the wired services and the resources they own.
type App struct {
	Governance *governance.Service
	Identity   *identity.Validator
	DB         *sql.DB

	redis *platformredis.Client
	kafka *kgo.Client
}

// New connects to Postgres (and Redis and Kafka when configured) and wires
// every service.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &App{DB: db}

	if a.redis, err = platformredis.New(ctx, cfg.Redis); err != nil {
		_ = a.Close()
		return nil, err
	}

	recorderOpts := []auditrecorder.Option{
		auditrecorder.WithLogger(logger),
		auditrecorder.WithMetrics(auditrecorder.NewMetrics(reg)),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		if a.kafka, err = auditkafka.NewClient(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic); err != nil {
			_ = a.Close()
			return nil, err
		}
		mirror := auditkafka.New(a.kafka, cfg.Kafka.AuditTopic,
			auditkafka.WithLogger(logger),
			auditkafka.WithMetrics(auditkafka.NewMetrics(reg)))
		recorderOpts = append(recorderOpts, auditrecorder.WithSink(mirror))
	}

	entries := auditpg.New(db)
	accessLogs := auditpg.NewAccessLogStore(db)
	recorder := auditrecorder.New(entries, accessLogs, recorderOpts...)
	runner := txcontext.NewSQLRunner(db, cfg.Database.TxTimeout)

	var locker retention.Locker = retention.NewMemoryLocker()
	if a.redis != nil {
		locker = retention.NewRedisLocker(a.redis.Client)
	}
	sweeper := retention.New(entries, accessLogs, recorder,
		retention.WithLogger(logger),
		retention.WithMetrics(retention.NewMetrics(reg)),
		retention.WithLocker(locker, cfg.Retention.LockTTL),
		retention.WithRunner(runner),
	)

	a.Governance = Wire(Stores{
		Profiles: func(kind profile.Kind) profilesvc.Store {
			return lifecyclestore.NewPostgres(db, kind.EntityType(), profilesvc.NewProfile)
		},
		Documents: func(entityType string) manager.Store[*models.Document] {
			return lifecyclestore.NewPostgres(db, entityType, newDocument)
		},
		Consents:  consentstore.NewPostgres(db),
		ConsentTx: func(s consentsvc.Store) consentsvc.ConsentStoreTx { return consentsvc.NewSQLTx(runner, s) },
	}, recorder, sweeper, runner, logger, reg)

	if cfg.Identity.SigningKey != "" {
		a.Identity = identity.NewValidator(cfg.Identity.SigningKey, cfg.Identity.Issuer, cfg.Identity.Audience)
	}
	return a, nil
}

// Stores supplies the persistence for Wire.
type Stores struct {
	Profiles  func(kind profile.Kind) profilesvc.Store
	Documents func(entityType string) manager.Store[*models.Document]
	Consents  consentsvc.Store
	// ConsentTx builds the consent transaction boundary. Nil keeps the
	// in-process default.
	ConsentTx func(consentsvc.Store) consentsvc.ConsentStoreTx
}

// Wire builds the governance façade over the given stores. A nil logger
// discards output.
func Wire(stores Stores, recorder *auditrecorder.Recorder, sweeper *retention.Sweeper, runner txcontext.Runner, logger *slog.Logger, reg prometheus.Registerer) *governance.Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	transitions := lifecyclemetrics.New(reg)
	managerOpts := []manager.Option{manager.WithLogger(logger), manager.WithMetrics(transitions)}

	profiles := profilesvc.New(profilesvc.Stores{
		Subjects:       stores.Profiles(profile.KindSubject),
		Practitioners:  stores.Profiles(profile.KindPractitioner),
		Administrators: stores.Profiles(profile.KindAdministrator),
	}, recorder, profilesvc.WithLogger(logger), profilesvc.WithManagerOptions(managerOpts...))

	evalOpts := []access.Option{access.WithMetrics(access.NewMetrics(reg))}
	collections := governance.NewCollections()
	for _, kind := range profile.Kinds() {
		k := kind
		governance.Register(collections, profiles.Manager(k),
			func() *profile.Profile { return &profile.Profile{Kind: k} },
			governance.WithoutSubjectKey())
	}
	for _, c := range DefaultCollections {
		var opts []governance.CollectionOption
		if c.Consent != "" {
			opts = append(opts, governance.RequiresConsent(c.Consent))
		}
		if c.NoSubject {
			opts = append(opts, governance.WithoutSubjectKey())
		}
		if c.Category != access.CategoryClinical {
			evalOpts = append(evalOpts, access.WithCategory(c.EntityType, c.Category))
		}
		m := manager.New(c.EntityType, stores.Documents(c.EntityType), recorder, managerOpts...)
		governance.Register(collections, m, newDocument, opts...)
	}

	consentOpts := []consentsvc.Option{
		consentsvc.WithLogger(logger),
		consentsvc.WithMetrics(consentmetrics.New(reg)),
	}
	if stores.ConsentTx != nil {
		consentOpts = append(consentOpts, consentsvc.WithTx(stores.ConsentTx(stores.Consents)))
	}

	return governance.New(governance.Dependencies{
		Collections: collections,
		Profiles:    profiles,
		Evaluator:   access.NewEvaluator(evalOpts...),
		Consents:    consentsvc.New(stores.Consents, recorder, consentOpts...),
		Recorder:    recorder,
		Sweeper:     sweeper,
		Runner:      runner,
	}, governance.WithLogger(logger))
}

func newDocument() *models.Document { return &models.Document{} }

// Close releases every resource the App opened.
func (a *App) Close() error {
	var errs []error
	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
