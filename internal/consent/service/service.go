// Package service is the consent registry: grants, revocations, validity
// checks, and the consent gate in front of subject data reads.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"caregov/internal/consent/metrics"
	"caregov/internal/consent/models"
	id "caregov/pkg/domain"
	dErrors "caregov/pkg/domain-errors"
	auditlog "caregov/pkg/platform/audit"
	"caregov/pkg/platform/sentinel"
	strutil "caregov/pkg/platform/strings"
	"caregov/pkg/requestcontext"
	"caregov/pkg/requestmeta"
)

// DefaultLegalBasis applies when a grant names none.
const DefaultLegalBasis = "free, informed and unambiguous consent (LGPD art. 8)"

// Store persists consent records.
type Store interface {
	Save(ctx context.Context, rec *models.Record) error
	Update(ctx context.Context, rec *models.Record) error
	FindByID(ctx context.Context, consentID id.ConsentID) (*models.Record, error)
	ListBySubject(ctx context.Context, subject id.RecordID) ([]*models.Record, error)
	CountByStatus(ctx context.Context, now time.Time) (map[models.Status]int, error)
}

// AuditRecorder writes consent mutations to the audit trail.
type AuditRecorder interface {
	RecordMutation(ctx context.Context, m auditlog.Mutation) *auditlog.Warning
}

// Service manages subject consent.
type Service struct {
	store   Store
	tx      ConsentStoreTx
	auditor AuditRecorder
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTx sets the transactional boundary. Defaults to per-subject locking.
func WithTx(tx ConsentStoreTx) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func New(store Store, auditor AuditRecorder, opts ...Option) *Service {
	s := &Service{
		store:   store,
		auditor: auditor,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = NewShardedTx(store, defaultConsentTxTimeout)
	}
	return s
}

// GrantRequest describes a new consent.
type GrantRequest struct {
	SubjectID      id.RecordID
	Type           id.ConsentType
	Purpose        string
	DataCategories []string
	LegalBasis     string
	ConsentText    string
	EvidenceRef    string
	// ExpiresAt is optional; nil means the consent never expires.
	ExpiresAt *time.Time
}

func (r GrantRequest) validate(now time.Time) error {
	if r.SubjectID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "subject is required")
	}
	if !r.Type.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid consent type")
	}
	if strings.TrimSpace(r.Purpose) == "" {
		return dErrors.New(dErrors.CodeValidation, "purpose is required")
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
		return dErrors.New(dErrors.CodeValidation, "expires_at must be in the future")
	}
	return nil
}

// Result carries the affected record and any audit warnings.
type Result struct {
	Record     *models.Record
	Superseded []*models.Record
	Warnings   []*auditlog.Warning
}

// Grant records a new GRANTED consent. Every active grant of the same subject
// and type is revoked in the same transaction.
func (s *Service) Grant(ctx context.Context, req GrantRequest, actor id.Actor, meta requestmeta.Metadata) (Result, error) {
	now := requestcontext.Now(ctx)
	if err := req.validate(now); err != nil {
		return Result{}, err
	}
	legalBasis := req.LegalBasis
	if legalBasis == "" {
		legalBasis = DefaultLegalBasis
	}

	rec := &models.Record{
		ID:             id.NewConsentID(),
		SubjectID:      req.SubjectID,
		Type:           req.Type,
		Status:         models.StatusGranted,
		GrantedAt:      now,
		ExpiresAt:      req.ExpiresAt,
		Purpose:        strings.TrimSpace(req.Purpose),
		DataCategories: strutil.DedupeAndTrimLower(req.DataCategories),
		LegalBasis:     legalBasis,
		ConsentText:    req.ConsentText,
		EvidenceRef:    req.EvidenceRef,
		IPAddress:      meta.IP,
		UserAgent:      meta.UserAgent,
	}

	var (
		superseded []*models.Record
		before     = make(map[id.ConsentID]map[string]any)
	)
	err := s.tx.RunInTx(withTxSubject(ctx, req.SubjectID), func(ctx context.Context, store Store) error {
		existing, err := store.ListBySubject(ctx, req.SubjectID)
		if err != nil {
			return err
		}
		for _, prior := range existing {
			if prior.Type != req.Type || !prior.IsValid(now) {
				continue
			}
			snap, err := auditlog.Snapshot(prior)
			if err != nil {
				return err
			}
			before[prior.ID] = snap
			prior.Revoke(now, "superseded by "+rec.ID.String())
			if err := store.Update(ctx, prior); err != nil {
				return err
			}
			superseded = append(superseded, prior)
		}
		return store.Save(ctx, rec)
	})
	if err != nil {
		return Result{}, wrapStoreErr(err, "failed to grant consent")
	}

	res := Result{Record: rec, Superseded: superseded}
	for _, prior := range superseded {
		res.addWarning(s.audit(ctx, auditlog.ActionUpdate, before[prior.ID], prior, actor, meta, "consent superseded",
			map[string]any{"superseded_by": rec.ID.String()}))
	}
	res.addWarning(s.audit(ctx, auditlog.ActionCreate, nil, rec, actor, meta, "consent granted", nil))

	s.metrics.IncGranted(req.Type)
	s.metrics.AddSuperseded(req.Type, len(superseded))
	s.logger.InfoContext(ctx, "consent granted",
		"consent_id", rec.ID,
		"consent_type", rec.Type,
		"superseded", len(superseded),
	)
	return res, nil
}

// Revoke revokes a consent. It reports false when the consent does not
// exist. Revoking an already revoked consent changes nothing.
func (s *Service) Revoke(ctx context.Context, consentID id.ConsentID, reason string, actor id.Actor, meta requestmeta.Metadata) (bool, Result, error) {
	current, err := s.store.FindByID(ctx, consentID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, Result{}, nil
	}
	if err != nil {
		return false, Result{}, wrapStoreErr(err, "failed to load consent")
	}
	if current.Status == models.StatusRevoked {
		return true, Result{Record: current}, nil
	}

	now := requestcontext.Now(ctx)
	var (
		revoked *models.Record
		before  map[string]any
	)
	err = s.tx.RunInTx(withTxSubject(ctx, current.SubjectID), func(ctx context.Context, store Store) error {
		rec, err := store.FindByID(ctx, consentID)
		if err != nil {
			return err
		}
		if rec.Status == models.StatusRevoked {
			return nil
		}
		if before, err = auditlog.Snapshot(rec); err != nil {
			return err
		}
		rec.Revoke(now, reason)
		if err := store.Update(ctx, rec); err != nil {
			return err
		}
		revoked = rec
		return nil
	})
	if err != nil {
		return false, Result{}, wrapStoreErr(err, "failed to revoke consent")
	}
	if revoked == nil {
		return true, Result{Record: current}, nil
	}

	if reason == "" {
		reason = "no reason given"
	}
	res := Result{Record: revoked}
	res.addWarning(s.audit(ctx, auditlog.ActionUpdate, before, revoked, actor, meta, "consent revoked: "+reason,
		map[string]any{"reason": reason}))
	s.metrics.IncRevoked(revoked.Type)
	return true, res, nil
}

// IsValid reports whether rec authorizes processing now.
func (s *Service) IsValid(ctx context.Context, rec *models.Record) bool {
	return rec != nil && rec.IsValid(requestcontext.Now(ctx))
}

// HasValid reports whether the subject holds a valid consent of type t.
func (s *Service) HasValid(ctx context.Context, subject id.RecordID, t id.ConsentType) (bool, error) {
	records, err := s.store.ListBySubject(ctx, subject)
	if err != nil {
		return false, wrapStoreErr(err, "failed to load consents")
	}
	now := requestcontext.Now(ctx)
	for _, rec := range records {
		if rec.Type == t && rec.IsValid(now) {
			return true, nil
		}
	}
	return false, nil
}

// Require returns a ConsentRequired error unless the subject holds a valid
// consent of type t.
func (s *Service) Require(ctx context.Context, subject id.RecordID, t id.ConsentType) error {
	ok, err := s.HasValid(ctx, subject, t)
	if err != nil {
		return err
	}
	if !ok {
		return dErrors.New(dErrors.CodeConsentRequired, fmt.Sprintf("a valid %s consent from the subject is required", t))
	}
	return nil
}

// ListBySubject returns every consent record of a subject, oldest first.
func (s *Service) ListBySubject(ctx context.Context, subject id.RecordID) ([]*models.Record, error) {
	records, err := s.store.ListBySubject(ctx, subject)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load consents")
	}
	return records, nil
}

// Get returns one consent record.
func (s *Service) Get(ctx context.Context, consentID id.ConsentID) (*models.Record, error) {
	rec, err := s.store.FindByID(ctx, consentID)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load consent")
	}
	return rec, nil
}

// CountByStatus counts consents by effective status.
func (s *Service) CountByStatus(ctx context.Context) (map[models.Status]int, error) {
	counts, err := s.store.CountByStatus(ctx, requestcontext.Now(ctx))
	if err != nil {
		return nil, wrapStoreErr(err, "failed to count consents")
	}
	return counts, nil
}

func (s *Service) audit(ctx context.Context, action auditlog.Action, before map[string]any, rec *models.Record, actor id.Actor, meta requestmeta.Metadata, description string, extra map[string]any) *auditlog.Warning {
	mut := auditlog.Mutation{
		Action:      action,
		EntityType:  models.EntityType,
		EntityID:    rec.ID.String(),
		EntityRepr:  rec.String(),
		Description: description,
		Before:      before,
		After:       rec,
		Actor:       actor,
		Meta:        meta,
		Extra:       extra,
	}
	return s.auditor.RecordMutation(ctx, mut)
}

func (r *Result) addWarning(w *auditlog.Warning) {
	if w != nil {
		r.Warnings = append(r.Warnings, w)
	}
}

func wrapStoreErr(err error, msg string) error {
	var coded *dErrors.Error
	switch {
	case errors.As(err, &coded):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "consent not found")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
