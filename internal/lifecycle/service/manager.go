// Package service implements the record lifecycle state machine:
// create, update, soft-delete, restore, and purge, each paired with an
// audit entry.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"caregov/internal/lifecycle/metrics"
	"caregov/internal/lifecycle/models"
	id "caregov/pkg/domain"
	dErrors "caregov/pkg/domain-errors"
	audit "caregov/pkg/platform/audit"
	"caregov/pkg/platform/sentinel"
	"caregov/pkg/requestcontext"
	"caregov/pkg/requestmeta"
)

// Store persists governed records of one entity type.
//
// Execute loads the record under a lock (mutex or FOR UPDATE), runs validate
// then mutate, and writes the result back. Returning an error from either
// callback aborts without writing.
type Store[T models.Governed] interface {
	Insert(ctx context.Context, rec T) error
	FindByID(ctx context.Context, recordID id.RecordID, view models.View) (T, error)
	List(ctx context.Context, view models.View) ([]T, error)
	ListWhere(ctx context.Context, view models.View, key, value string) ([]T, error)
	Execute(ctx context.Context, recordID id.RecordID, view models.View, validate func(T) error, mutate func(T) error) (T, error)
	Delete(ctx context.Context, recordID id.RecordID) error
}

// AuditRecorder writes the audit entry for a transition. Failures come back
// as a warning and never fail the transition.
type AuditRecorder interface {
	RecordMutation(ctx context.Context, m audit.Mutation) *audit.Warning
}

// Validator runs before a record is first persisted.
type Validator[T models.Governed] func(ctx context.Context, rec T, actor id.Actor) error

// Result carries the record after a transition and the audit outcome.
type Result[T models.Governed] struct {
	Record  T
	Warning *audit.Warning
}

// Manager drives lifecycle transitions for one entity type.
type Manager[T models.Governed] struct {
	entityType string
	store      Store[T]
	auditor    AuditRecorder
	validators []Validator[T]
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type settings struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*settings)

func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// New constructs a Manager for entityType.
func New[T models.Governed](entityType string, store Store[T], auditor AuditRecorder, opts ...Option) *Manager[T] {
	cfg := settings{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager[T]{
		entityType: entityType,
		store:      store,
		auditor:    auditor,
		logger:     cfg.logger,
		metrics:    cfg.metrics,
	}
}

// AddValidator registers creation-time checks. They run in order.
func (m *Manager[T]) AddValidator(v ...Validator[T]) *Manager[T] {
	m.validators = append(m.validators, v...)
	return m
}

func (m *Manager[T]) EntityType() string { return m.entityType }

// Create persists rec. CreatedBy defaults to the acting actor when unset.
func (m *Manager[T]) Create(ctx context.Context, rec T, actor id.Actor, meta requestmeta.Metadata) (Result[T], error) {
	var zero Result[T]
	if rec.EntityType() != m.entityType {
		return zero, dErrors.New(dErrors.CodeValidation, "record type "+rec.EntityType()+" does not belong to "+m.entityType)
	}

	fields := rec.Governance()
	fields.ApplyCreation(actor.ID, requestcontext.Now(ctx))
	if err := models.Check(rec); err != nil {
		return zero, err
	}
	for _, validate := range m.validators {
		if err := validate(ctx, rec, actor); err != nil {
			return zero, err
		}
	}

	if err := m.store.Insert(ctx, rec); err != nil {
		return zero, m.wrapErr(err)
	}

	warn := m.record(ctx, audit.Mutation{
		Action: audit.ActionCreate,
		After:  rec,
		Actor:  actor,
		Meta:   meta,
	}, rec)
	m.observe("create", warn)
	return Result[T]{Record: rec, Warning: warn}, nil
}

// Update applies changes to an active record. Governance fields and
// entity-specific protected fields are rejected.
func (m *Manager[T]) Update(ctx context.Context, recordID id.RecordID, changes map[string]any, actor id.Actor, meta requestmeta.Metadata) (Result[T], error) {
	return m.UpdateWithExtra(ctx, recordID, changes, actor, meta, nil)
}

// UpdateWithExtra is Update with additional context attached to the audit entry.
func (m *Manager[T]) UpdateWithExtra(ctx context.Context, recordID id.RecordID, changes map[string]any, actor id.Actor, meta requestmeta.Metadata, extra map[string]any) (Result[T], error) {
	var (
		zero   Result[T]
		before map[string]any
	)
	now := requestcontext.Now(ctx)

	rec, err := m.store.Execute(ctx, recordID, models.ViewActive,
		func(cur T) error {
			protected := models.ProtectedKeys(cur)
			for key := range changes {
				if protected[key] {
					return dErrors.New(dErrors.CodeValidation, "field "+key+" is write-protected")
				}
			}
			snap, err := audit.Snapshot(cur)
			before = snap
			return err
		},
		func(cur T) error {
			if err := applyChanges(cur, before, changes); err != nil {
				return err
			}
			cur.Governance().ApplyUpdate(actor.ID, now)
			return models.Check(cur)
		},
	)
	if err != nil {
		return zero, m.wrapErr(err)
	}

	warn := m.record(ctx, audit.Mutation{
		Action: audit.ActionUpdate,
		Before: before,
		After:  rec,
		Actor:  actor,
		Meta:   meta,
		Extra:  extra,
	}, rec)
	m.observe("update", warn)
	return Result[T]{Record: rec, Warning: warn}, nil
}

// SoftDelete hides a record from the active view. Repeating it on a deleted
// record changes nothing but is still audited.
func (m *Manager[T]) SoftDelete(ctx context.Context, recordID id.RecordID, actor id.Actor, meta requestmeta.Metadata) (Result[T], error) {
	var (
		zero   Result[T]
		before map[string]any
	)
	now := requestcontext.Now(ctx)

	rec, err := m.store.Execute(ctx, recordID, models.ViewAll,
		func(cur T) error {
			snap, err := audit.Snapshot(cur)
			before = snap
			return err
		},
		func(cur T) error {
			cur.Governance().ApplySoftDelete(actor.ID, now)
			return cur.Governance().Validate()
		},
	)
	if err != nil {
		return zero, m.wrapErr(err)
	}

	warn := m.record(ctx, audit.Mutation{
		Action: audit.ActionDelete,
		Before: before,
		After:  rec,
		Actor:  actor,
		Meta:   meta,
	}, rec)
	m.observe("soft_delete", warn)
	return Result[T]{Record: rec, Warning: warn}, nil
}

// Restore returns a soft-deleted record to the active view.
func (m *Manager[T]) Restore(ctx context.Context, recordID id.RecordID, actor id.Actor, meta requestmeta.Metadata) (Result[T], error) {
	var (
		zero   Result[T]
		before map[string]any
	)
	now := requestcontext.Now(ctx)

	rec, err := m.store.Execute(ctx, recordID, models.ViewAll,
		func(cur T) error {
			if err := cur.Governance().CanRestore(); err != nil {
				return err
			}
			snap, err := audit.Snapshot(cur)
			before = snap
			return err
		},
		func(cur T) error {
			cur.Governance().ApplyRestore(actor.ID, now)
			return cur.Governance().Validate()
		},
	)
	if err != nil {
		return zero, m.wrapErr(err)
	}

	warn := m.record(ctx, audit.Mutation{
		Action: audit.ActionRestore,
		Before: before,
		After:  rec,
		Actor:  actor,
		Meta:   meta,
	}, rec)
	m.observe("restore", warn)
	return Result[T]{Record: rec, Warning: warn}, nil
}

// Purge permanently removes a record from either state. A terminal DELETE
// entry carrying the final snapshot is written before the row is removed.
func (m *Manager[T]) Purge(ctx context.Context, recordID id.RecordID, actor id.Actor, meta requestmeta.Metadata) (*audit.Warning, error) {
	rec, err := m.store.FindByID(ctx, recordID, models.ViewAll)
	if err != nil {
		return nil, m.wrapErr(err)
	}

	warn := m.record(ctx, audit.Mutation{
		Action: audit.ActionDelete,
		Before: rec,
		Actor:  actor,
		Meta:   meta,
		Purge:  true,
	}, rec)

	if err := m.store.Delete(ctx, recordID); err != nil {
		return nil, m.wrapErr(err)
	}
	m.observe("purge", warn)
	return warn, nil
}

// Get returns one record from the requested view.
func (m *Manager[T]) Get(ctx context.Context, recordID id.RecordID, view models.View) (T, error) {
	rec, err := m.store.FindByID(ctx, recordID, view)
	if err != nil {
		var zero T
		return zero, m.wrapErr(err)
	}
	return rec, nil
}

// List returns every record in the requested view.
func (m *Manager[T]) List(ctx context.Context, view models.View) ([]T, error) {
	recs, err := m.store.List(ctx, view)
	if err != nil {
		return nil, m.wrapErr(err)
	}
	return recs, nil
}

// ListWhere returns records whose top-level payload key equals value.
func (m *Manager[T]) ListWhere(ctx context.Context, view models.View, key, value string) ([]T, error) {
	recs, err := m.store.ListWhere(ctx, view, key, value)
	if err != nil {
		return nil, m.wrapErr(err)
	}
	return recs, nil
}

func (m *Manager[T]) record(ctx context.Context, mut audit.Mutation, rec T) *audit.Warning {
	mut.EntityType = m.entityType
	mut.EntityID = rec.Governance().ID.String()
	mut.EntityRepr = repr(rec)
	warn := m.auditor.RecordMutation(ctx, mut)
	if warn != nil && m.metrics != nil {
		m.metrics.IncAuditWarning(m.entityType)
	}
	return warn
}

func (m *Manager[T]) observe(transition string, warn *audit.Warning) {
	if m.metrics != nil {
		m.metrics.IncTransition(m.entityType, transition)
	}
	if warn != nil {
		m.logger.Warn("lifecycle transition committed without audit entry",
			"entity_type", m.entityType,
			"transition", transition,
			"entity_id", warn.EntityID,
		)
	}
}

// wrapErr translates store sentinels into domain errors.
func (m *Manager[T]) wrapErr(err error) error {
	var coded *dErrors.Error
	switch {
	case errors.As(err, &coded):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, m.entityType+" not found")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.Wrap(err, dErrors.CodeConflict, m.entityType+" already exists")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist "+m.entityType)
	}
}

// applyChanges overlays changes on the record's current snapshot and decodes
// the result back into rec. Unknown fields and type mismatches are rejected.
func applyChanges(rec any, current, changes map[string]any) error {
	merged := make(map[string]any, len(current)+len(changes))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range changes {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "changes are not serializable")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(rec); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid changes")
	}
	return nil
}

func repr(rec models.Governed) string {
	if s, ok := rec.(interface{ String() string }); ok {
		return s.String()
	}
	return rec.EntityType() + " " + rec.Governance().ID.String()
}
