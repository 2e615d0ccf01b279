// Package governance is the operation surface collaborators call: record
// lifecycle, permission checks, role resolution, consent, audit logging,
// retention, and subject rights (export, anonymization).
//
// Every operation resolves the actor's role, asks the access evaluator,
// logs denials as ACCESS_DENIED, and runs the mutation with its audit entry
// inside one unit of work.
package governance

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"caregov/internal/access"
	auditrecorder "caregov/internal/audit"
	consentsvc "caregov/internal/consent/service"
	"caregov/internal/lifecycle/models"
	profile "caregov/internal/profile/models"
	profilesvc "caregov/internal/profile/service"
	"caregov/internal/retention"
	id "caregov/pkg/domain"
	dErrors "caregov/pkg/domain-errors"
	auditlog "caregov/pkg/platform/audit"
	txcontext "caregov/pkg/platform/tx"
	"caregov/pkg/requestmeta"
)

const tracerName = "caregov/internal/governance"

// Dependencies are the components the façade coordinates.
type Dependencies struct {
	Collections *Collections
	Profiles    *profilesvc.Service
	Evaluator   *access.Evaluator
	Consents    *consentsvc.Service
	Recorder    *auditrecorder.Recorder
	Sweeper     *retention.Sweeper
	// Runner wraps each mutation and its audit write. Defaults to NopRunner.
	Runner txcontext.Runner
}

// Service implements the governance operations.
type Service struct {
	collections *Collections
	profiles    *profilesvc.Service
	evaluator   *access.Evaluator
	consents    *consentsvc.Service
	recorder    *auditrecorder.Recorder
	sweeper     *retention.Sweeper
	runner      txcontext.Runner
	tracer      trace.Tracer
	logger      *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer(tracerName)
	}
}

func New(deps Dependencies, opts ...Option) *Service {
	s := &Service{
		collections: deps.Collections,
		profiles:    deps.Profiles,
		evaluator:   deps.Evaluator,
		consents:    deps.Consents,
		recorder:    deps.Recorder,
		sweeper:     deps.Sweeper,
		runner:      deps.Runner,
		tracer:      otel.Tracer(tracerName),
		logger:      slog.New(slog.DiscardHandler),
	}
	if s.runner == nil {
		s.runner = txcontext.NopRunner{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveRole returns the actor's active profile binding. The zero Role
// means the actor holds none.
func (s *Service) ResolveRole(ctx context.Context, actor id.Actor) (role profile.Role, err error) {
	ctx, span := s.start(ctx, "governance.ResolveRole", actor, "")
	defer func() { end(span, err) }()

	return s.profiles.Resolve(ctx, actor)
}

// CheckPermission evaluates the decision table without side effects.
// target is nil for collection-level checks.
func (s *Service) CheckPermission(ctx context.Context, actor id.Actor, entityType string, method access.Method, target access.Target) (access.Decision, error) {
	role, err := s.profiles.Resolve(ctx, actor)
	if err != nil {
		return access.Decision{}, err
	}
	return s.evaluator.Check(actor, role, entityType, method, target), nil
}

// authorize checks the decision table and logs a denial.
func (s *Service) authorize(ctx context.Context, actor id.Actor, role profile.Role, meta requestmeta.Metadata, entityType, entityID string, method access.Method, target access.Target) error {
	d := s.evaluator.Check(actor, role, entityType, method, target)
	if d.Allowed {
		return nil
	}
	s.logDenied(ctx, actor, meta, entityType, entityID, string(method), d)
	return d.Err()
}

// requireAdministrator admits the bootstrap actor and administrators only.
func (s *Service) requireAdministrator(ctx context.Context, actor id.Actor, role profile.Role, meta requestmeta.Metadata, entityType, entityID, operation string) error {
	if !actor.IsAuthenticated() {
		return s.authorize(ctx, actor, role, meta, entityType, entityID, access.MethodDelete, nil)
	}
	if isPrivileged(actor, role) {
		return nil
	}
	d := access.Decision{Code: access.CodeRoleNotPermitted, Reason: "only administrators may " + operation}
	s.logDenied(ctx, actor, meta, entityType, entityID, operation, d)
	return d.Err()
}

func (s *Service) logDenied(ctx context.Context, actor id.Actor, meta requestmeta.Metadata, entityType, entityID, operation string, d access.Decision) {
	s.recorder.LogAction(ctx, auditrecorder.ActionRecord{
		Action:      auditlog.ActionAccessDenied,
		EntityType:  entityType,
		EntityID:    entityID,
		Description: d.Reason,
		Extra: map[string]any{
			"code":      string(d.Code),
			"operation": operation,
		},
		Actor: actor,
		Meta:  meta,
	})
	s.logger.InfoContext(ctx, "access denied",
		"entity_type", entityType,
		"entity_id", entityID,
		"code", d.Code,
	)
}

// viewFor admits the all view for privileged actors only.
func (s *Service) viewFor(ctx context.Context, actor id.Actor, role profile.Role, meta requestmeta.Metadata, entityType string, requested models.View) (models.View, error) {
	if requested != models.ViewAll || isPrivileged(actor, role) {
		return requested, nil
	}
	d := access.Decision{Code: access.CodeRoleNotPermitted, Reason: "only administrators may view deleted records"}
	s.logDenied(ctx, actor, meta, entityType, "", "view_all", d)
	return requested, d.Err()
}

// mutationView is the view a non-read operation looks its target up in.
func mutationView(actor id.Actor, role profile.Role) models.View {
	if isPrivileged(actor, role) {
		return models.ViewAll
	}
	return models.ViewActive
}

func isPrivileged(actor id.Actor, role profile.Role) bool {
	return actor.IsAuthenticated() && (actor.Bootstrap || role.Is(profile.KindAdministrator))
}

func (s *Service) start(ctx context.Context, op string, actor id.Actor, entityType string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("actor_id", actor.ID.String())}
	if entityType != "" {
		attrs = append(attrs, attribute.String("entity_type", entityType))
	}
	return s.tracer.Start(ctx, op, trace.WithAttributes(attrs...))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, dErrors.Reason(err))
	}
	span.End()
}

// targetOf adapts a governed record for object-level checks.
func targetOf(rec models.Governed) access.Target {
	if t, ok := rec.(access.Target); ok {
		return t
	}
	return authoredRecord{rec.Governance()}
}

type authoredRecord struct {
	fields *models.Fields
}

func (r authoredRecord) OwnerID() id.ActorID { return r.fields.CreatedBy }

func (r authoredRecord) SubjectRef() (id.RecordID, bool) { return id.RecordID{}, false }

func subjectOf(rec models.Governed) (id.RecordID, bool) {
	return targetOf(rec).SubjectRef()
}
