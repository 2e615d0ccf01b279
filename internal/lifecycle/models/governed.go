package models

import (
	"time"

	id "caregov/pkg/domain"
	dErrors "caregov/pkg/domain-errors"
)

// Governed is implemented by every entity whose lifecycle and audit trail
// are managed here. Implementations embed Fields and return a pointer to it.
type Governed interface {
	Governance() *Fields
	EntityType() string
}

// ProtectedFielder lets an entity name payload keys, beyond the governance
// fields, that updates may not set.
type ProtectedFielder interface {
	ProtectedFields() []string
}

// SelfValidator is implemented by entities with invariants of their own.
// Entities that only embed Fields satisfy it through promotion.
type SelfValidator interface {
	Validate() error
}

// Check runs the governance invariants, then the entity's own.
func Check(rec Governed) error {
	if err := rec.Governance().Validate(); err != nil {
		return err
	}
	if v, ok := rec.(SelfValidator); ok {
		return v.Validate()
	}
	return nil
}

// View selects which records a query sees.
type View int

const (
	// ViewActive excludes soft-deleted records. It is the default.
	ViewActive View = iota
	// ViewAll includes soft-deleted records.
	ViewAll
)

func (v View) String() string {
	if v == ViewAll {
		return "all"
	}
	return "active"
}

// Fields are the lifecycle and ownership columns shared by every governed record.
//
// Invariants:
//   - IsDeleted is true exactly when DeletedAt is set
//   - CreatedAt and CreatedBy are immutable after creation
//
// State transitions: active → soft-deleted → active (restore); purge removes
// the record from either state.
type Fields struct {
	ID        id.RecordID `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	CreatedBy id.ActorID  `json:"created_by"`
	UpdatedBy id.ActorID  `json:"updated_by"`
	DeletedBy id.ActorID  `json:"deleted_by"`
	IsDeleted bool        `json:"is_deleted"`
	DeletedAt *time.Time  `json:"deleted_at"`
}

// Governance returns f. Embedding Fields gives an entity this method.
func (f *Fields) Governance() *Fields { return f }

// protectedKeys are the JSON names of Fields; updates may not set them.
var protectedKeys = []string{
	"id", "created_at", "updated_at", "created_by",
	"updated_by", "deleted_by", "is_deleted", "deleted_at",
}

// CheckCreatePayload rejects governance keys in a create payload. Only
// created_by may be supplied by the caller.
func CheckCreatePayload(payload map[string]any) error {
	for _, k := range protectedKeys {
		if k == "created_by" {
			continue
		}
		if _, ok := payload[k]; ok {
			return dErrors.New(dErrors.CodeValidation, "field "+k+" is write-protected")
		}
	}
	return nil
}

// ProtectedKeys returns the governance field names plus any the entity adds.
func ProtectedKeys(rec Governed) map[string]bool {
	keys := make(map[string]bool, len(protectedKeys)+2)
	for _, k := range protectedKeys {
		keys[k] = true
	}
	if p, ok := rec.(ProtectedFielder); ok {
		for _, k := range p.ProtectedFields() {
			keys[k] = true
		}
	}
	return keys
}

// Validate checks the soft-delete invariant.
func (f *Fields) Validate() error {
	if f.ID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "record id is required")
	}
	if f.IsDeleted && f.DeletedAt == nil {
		return dErrors.New(dErrors.CodeValidation, "deleted record must have deleted_at")
	}
	if !f.IsDeleted && f.DeletedAt != nil {
		return dErrors.New(dErrors.CodeValidation, "active record must not have deleted_at")
	}
	return nil
}

// ApplyCreation stamps creation bookkeeping. CreatedBy set by the caller is
// kept; every other governance field starts from its initial state.
func (f *Fields) ApplyCreation(actor id.ActorID, now time.Time) {
	if f.ID.IsNil() {
		f.ID = id.NewRecordID()
	}
	if f.CreatedBy.IsNil() {
		f.CreatedBy = actor
	}
	f.CreatedAt = now
	f.UpdatedAt = now
	f.UpdatedBy = id.ActorID{}
	f.DeletedBy = id.ActorID{}
	f.IsDeleted = false
	f.DeletedAt = nil
}

// ApplyUpdate stamps update bookkeeping.
func (f *Fields) ApplyUpdate(actor id.ActorID, now time.Time) {
	f.UpdatedBy = actor
	f.UpdatedAt = now
}

// ApplySoftDelete marks the record deleted. A record that is already deleted
// keeps its original deletion stamp.
func (f *Fields) ApplySoftDelete(actor id.ActorID, now time.Time) {
	if f.IsDeleted {
		return
	}
	deletedAt := now
	f.IsDeleted = true
	f.DeletedAt = &deletedAt
	f.DeletedBy = actor
}

// CanRestore checks that the record is currently soft-deleted.
// Use with ApplyRestore in Execute callbacks.
func (f *Fields) CanRestore() error {
	if !f.IsDeleted {
		return dErrors.New(dErrors.CodeValidation, "record is not deleted")
	}
	return nil
}

// ApplyRestore clears the deletion stamp. Call CanRestore first.
func (f *Fields) ApplyRestore(actor id.ActorID, now time.Time) {
	f.IsDeleted = false
	f.DeletedAt = nil
	f.DeletedBy = id.ActorID{}
	f.ApplyUpdate(actor, now)
}
