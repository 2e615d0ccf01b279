// Package access decides whether an actor may perform an operation on a
// resource kind or a specific record.
package access

import (
	"fmt"

	"caregov/internal/profile/models"
	id "caregov/pkg/domain"
)

// Category groups resource kinds by who may touch them.
type Category int

const (
	// CategoryClinical covers subject profiles and the records about them.
	CategoryClinical Category = iota
	// CategoryAdministrative covers practitioner and administrator profiles.
	CategoryAdministrative
	// CategorySystem covers audit, access log, and retention resources.
	CategorySystem
)

// System resource kinds that are not governed records.
const (
	ResourceAuditEntry = "audit_entry"
	ResourceAccessLog  = "access_log"
	ResourceRetention  = "retention_sweep"
	ResourceConsent    = "subject_consent"
)

// Evaluator applies the role decision table. It holds no state beyond the
// resource categorization and is safe for concurrent use.
type Evaluator struct {
	categories map[string]Category
	metrics    *Metrics
}

type Option func(*Evaluator)

// WithCategory overrides the category of one resource kind.
func WithCategory(entityType string, c Category) Option {
	return func(e *Evaluator) {
		e.categories[entityType] = c
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Evaluator) {
		e.metrics = m
	}
}

func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		categories: map[string]Category{
			models.KindPractitioner.EntityType():  CategoryAdministrative,
			models.KindAdministrator.EntityType(): CategoryAdministrative,
			ResourceAuditEntry:                    CategorySystem,
			ResourceAccessLog:                     CategorySystem,
			ResourceRetention:                     CategorySystem,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CategoryOf returns the category of entityType. Unlisted kinds are clinical.
func (e *Evaluator) CategoryOf(entityType string) Category {
	if c, ok := e.categories[entityType]; ok {
		return c
	}
	return CategoryClinical
}

// Check evaluates the decision table. target is nil for collection-level
// checks. Precedence: bootstrap > administrator > practitioner > subject.
func (e *Evaluator) Check(actor id.Actor, role models.Role, entityType string, method Method, target Target) Decision {
	d := e.check(actor, role, entityType, method, target)
	if !d.Allowed {
		e.metrics.IncDenial(d.Code)
	}
	return d
}

func (e *Evaluator) check(actor id.Actor, role models.Role, entityType string, method Method, target Target) Decision {
	if !actor.IsAuthenticated() {
		return deny(CodeNotAuthenticated, "authentication credentials were not provided")
	}
	if actor.Bootstrap {
		return allow()
	}

	switch {
	case role.Is(models.KindAdministrator):
		return allow()
	case role.Is(models.KindPractitioner):
		return e.checkPractitioner(actor, entityType, method, target)
	case role.Is(models.KindSubject):
		return e.checkSubject(role, entityType, method, target)
	default:
		return deny(CodeRoleNotPermitted, "you do not have a profile that grants access to this resource")
	}
}

func (e *Evaluator) checkPractitioner(actor id.Actor, entityType string, method Method, target Target) Decision {
	if e.CategoryOf(entityType) != CategoryClinical {
		return deny(CodeRoleNotPermitted, fmt.Sprintf("practitioners are not permitted to manage %s records", entityType))
	}
	if target == nil || method.IsReadOnly() {
		return allow()
	}
	if owner := target.OwnerID(); !owner.IsNil() && owner == actor.ID {
		return allow()
	}
	return deny(CodeNotObjectOwner, "practitioners can only modify records they created")
}

func (e *Evaluator) checkSubject(role models.Role, entityType string, method Method, target Target) Decision {
	if e.CategoryOf(entityType) != CategoryClinical {
		return deny(CodeRoleNotPermitted, "subjects cannot access practitioner or administrator resources")
	}
	if !method.IsReadOnly() {
		if method == MethodPost && entityType == models.KindSubject.EntityType() {
			return deny(CodeRoleNotPermitted, models.CreatorRequirement(models.KindSubject))
		}
		return deny(CodeRoleNotPermitted, "subjects have read-only access")
	}
	if target == nil {
		return allow()
	}
	if ref, ok := target.SubjectRef(); ok && ref == role.Profile.ID {
		return allow()
	}
	return deny(CodeNotObjectOwner, "subjects can only access their own records")
}
