// Package audit records the governance audit trail.
//
// The Recorder turns lifecycle mutations and direct events into immutable
// entries. Writes are best-effort: a failed write is logged, counted, and
// returned as a Warning. The audited operation is never failed or rolled
// back because of it.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	id "caregov/pkg/domain"
	auditlog "caregov/pkg/platform/audit"
	strutil "caregov/pkg/platform/strings"
	"caregov/pkg/requestcontext"
	"caregov/pkg/requestmeta"
)

const (
	DefaultAccessPurpose    = "health care provision"
	DefaultAccessLegalBasis = "data subject consent"
)

// Recorder writes audit entries and access logs.
type Recorder struct {
	store   auditlog.Store
	access  auditlog.AccessStore
	sinks   []auditlog.Sink
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Recorder)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// WithSink mirrors every persisted entry to sink.
func WithSink(sink auditlog.Sink) Option {
	return func(r *Recorder) {
		r.sinks = append(r.sinks, sink)
	}
}

func New(store auditlog.Store, access auditlog.AccessStore, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		access: access,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordMutation writes the entry for one lifecycle transition. Changed
// fields are computed when both snapshots exist.
func (r *Recorder) RecordMutation(ctx context.Context, m auditlog.Mutation) *auditlog.Warning {
	before, err := auditlog.Snapshot(m.Before)
	if err != nil {
		return r.fail(ctx, "entry", m.Action, m.EntityType, m.EntityID, err)
	}
	after, err := auditlog.Snapshot(m.After)
	if err != nil {
		return r.fail(ctx, "entry", m.Action, m.EntityType, m.EntityID, err)
	}

	entry := r.newEntry(ctx, m.Actor, m.Meta)
	entry.Action = m.Action
	entry.EntityType = m.EntityType
	entry.EntityID = m.EntityID
	entry.EntityRepr = m.EntityRepr
	entry.OldValues = before
	entry.NewValues = after
	entry.Sensitivity = auditlog.Classify(m.EntityType)
	entry.Description = describeMutation(m)
	entry.Extra = mergeExtra(entry.Extra, m.Extra)
	if before != nil && after != nil {
		entry.ChangedFields = auditlog.Diff(before, after)
	}
	if m.Purge {
		entry.Sensitivity = entry.Sensitivity.AtLeast(auditlog.SensitivityHigh)
		entry.Extra = mergeExtra(entry.Extra, map[string]any{"purge": true})
	}

	return r.persist(ctx, entry)
}

// ActionRecord is a non-lifecycle event: login, logout, access denial, export.
type ActionRecord struct {
	Action      auditlog.Action
	EntityType  string
	EntityID    string
	Description string
	// Sensitivity defaults to the entity type's classification.
	Sensitivity auditlog.Sensitivity
	Extra       map[string]any
	// Actor may be anonymous, e.g. for a failed login.
	Actor id.Actor
	Meta  requestmeta.Metadata
}

// LogAction writes an event that did not come from a record mutation.
func (r *Recorder) LogAction(ctx context.Context, rec ActionRecord) *auditlog.Warning {
	if !rec.Action.IsValid() {
		return r.fail(ctx, "entry", rec.Action, rec.EntityType, rec.EntityID,
			fmt.Errorf("unknown audit action %q", rec.Action))
	}

	entry := r.newEntry(ctx, rec.Actor, rec.Meta)
	entry.Action = rec.Action
	entry.EntityType = rec.EntityType
	entry.EntityID = rec.EntityID
	entry.Description = rec.Description
	entry.Sensitivity = rec.Sensitivity
	if !entry.Sensitivity.IsValid() {
		entry.Sensitivity = auditlog.Classify(rec.EntityType)
	}
	entry.Extra = mergeExtra(entry.Extra, rec.Extra)

	return r.persist(ctx, entry)
}

// AccessRecord describes a read of subject data.
type AccessRecord struct {
	Actor          id.Actor
	SubjectID      id.RecordID
	AccessType     auditlog.AccessType
	FieldsAccessed []string
	Purpose        string
	LegalBasis     string
	Meta           requestmeta.Metadata
}

// LogDataAccess appends an access log entry. Purpose and legal basis
// default when empty.
func (r *Recorder) LogDataAccess(ctx context.Context, rec AccessRecord) *auditlog.Warning {
	if !rec.AccessType.IsValid() {
		rec.AccessType = auditlog.AccessView
	}
	if rec.Purpose == "" {
		rec.Purpose = DefaultAccessPurpose
	}
	if rec.LegalBasis == "" {
		rec.LegalBasis = DefaultAccessLegalBasis
	}

	entry := auditlog.AccessLogEntry{
		ID:             id.NewEntryID(),
		Actor:          rec.Actor.Ref(),
		SubjectID:      rec.SubjectID,
		AccessType:     rec.AccessType,
		Timestamp:      requestcontext.Now(ctx),
		FieldsAccessed: strutil.DedupeAndTrim(rec.FieldsAccessed),
		Purpose:        rec.Purpose,
		LegalBasis:     rec.LegalBasis,
		IPAddress:      rec.Meta.IP,
		UserAgent:      rec.Meta.UserAgent,
	}
	if err := r.access.Append(ctx, entry); err != nil {
		return r.fail(ctx, "access_log", auditlog.Action(rec.AccessType), "access_log", rec.SubjectID.String(), err)
	}
	if r.metrics != nil {
		r.metrics.AccessLogged.WithLabelValues(string(rec.AccessType)).Inc()
	}
	return nil
}

// Entries lists persisted audit entries.
func (r *Recorder) Entries(ctx context.Context, filter auditlog.Filter) ([]auditlog.Entry, error) {
	return r.store.List(ctx, filter)
}

// AccessLogs lists a subject's access log entries since the given time.
func (r *Recorder) AccessLogs(ctx context.Context, subject id.RecordID, since time.Time) ([]auditlog.AccessLogEntry, error) {
	return r.access.ListBySubject(ctx, subject, since)
}

// CountByAction counts entries in [from, to) by action.
func (r *Recorder) CountByAction(ctx context.Context, from, to time.Time) (map[auditlog.Action]int64, error) {
	return r.store.CountByAction(ctx, from, to)
}

// CountBySensitivity counts entries in [from, to) by sensitivity.
func (r *Recorder) CountBySensitivity(ctx context.Context, from, to time.Time) (map[auditlog.Sensitivity]int64, error) {
	return r.store.CountBySensitivity(ctx, from, to)
}

// CountAccess counts access log entries in [from, to).
func (r *Recorder) CountAccess(ctx context.Context, from, to time.Time) (int64, error) {
	return r.access.CountBetween(ctx, from, to)
}

func (r *Recorder) newEntry(ctx context.Context, actor id.Actor, meta requestmeta.Metadata) auditlog.Entry {
	entry := auditlog.Entry{
		ID:         id.NewEntryID(),
		Actor:      actor.Ref(),
		Timestamp:  requestcontext.Now(ctx),
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
		SessionKey: meta.SessionKey,
		RequestID:  requestcontext.RequestID(ctx),
	}
	if info, ok := meta.ClientInfo(); ok {
		entry.Extra = map[string]any{"client": info.Map()}
	}
	return entry
}

func (r *Recorder) persist(ctx context.Context, entry auditlog.Entry) *auditlog.Warning {
	start := time.Now()
	if err := r.store.Append(ctx, entry); err != nil {
		return r.fail(ctx, "entry", entry.Action, entry.EntityType, entry.EntityID, err)
	}
	if r.metrics != nil {
		r.metrics.PersistDuration.Observe(time.Since(start).Seconds())
		r.metrics.EntriesWritten.WithLabelValues(string(entry.Action), string(entry.Sensitivity)).Inc()
	}

	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, entry); err != nil {
			r.logger.WarnContext(ctx, "audit sink publish failed",
				"entry_id", entry.ID,
				"error", err,
			)
		}
	}
	return nil
}

func (r *Recorder) fail(ctx context.Context, kind string, action auditlog.Action, entityType, entityID string, err error) *auditlog.Warning {
	if r.metrics != nil {
		r.metrics.PersistFailures.WithLabelValues(kind).Inc()
	}
	r.logger.ErrorContext(ctx, "audit write failed",
		"kind", kind,
		"entity_type", entityType,
		"entity_id", entityID,
		"action", action,
		"error", err,
	)
	return &auditlog.Warning{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Err:        err,
	}
}

func describeMutation(m auditlog.Mutation) string {
	if m.Description != "" {
		return m.Description
	}
	subject := m.EntityRepr
	if subject == "" {
		subject = m.EntityType + " " + m.EntityID
	}
	switch {
	case m.Purge:
		return "permanently purged " + subject
	case m.Action == auditlog.ActionCreate:
		return "created " + subject
	case m.Action == auditlog.ActionUpdate:
		return "updated " + subject
	case m.Action == auditlog.ActionDelete:
		return "soft-deleted " + subject
	case m.Action == auditlog.ActionRestore:
		return "restored " + subject
	default:
		return string(m.Action) + " " + subject
	}
}

func mergeExtra(base, add map[string]any) map[string]any {
	if len(add) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]any, len(add))
	}
	for k, v := range add {
		base[k] = v
	}
	return base
}
