package audit

import (
	"context"
	"time"

	id "caregov/pkg/domain"
)

// Action is what happened to the audited entity.
type Action string

const (
	ActionCreate       Action = "CREATE"
	ActionUpdate       Action = "UPDATE"
	ActionDelete       Action = "DELETE"
	ActionRestore      Action = "RESTORE"
	ActionView         Action = "VIEW"
	ActionExport       Action = "EXPORT"
	ActionLogin        Action = "LOGIN"
	ActionLogout       Action = "LOGOUT"
	ActionAccessDenied Action = "ACCESS_DENIED"
)

var validActions = map[Action]bool{
	ActionCreate: true, ActionUpdate: true, ActionDelete: true,
	ActionRestore: true, ActionView: true, ActionExport: true,
	ActionLogin: true, ActionLogout: true, ActionAccessDenied: true,
}

func (a Action) IsValid() bool { return validActions[a] }

// Actions lists every action in declaration order.
func Actions() []Action {
	return []Action{
		ActionCreate, ActionUpdate, ActionDelete, ActionRestore, ActionView,
		ActionExport, ActionLogin, ActionLogout, ActionAccessDenied,
	}
}

// Sensitivity grades how much harm disclosure of the audited entity could cause.
type Sensitivity string

const (
	SensitivityLow      Sensitivity = "LOW"
	SensitivityMedium   Sensitivity = "MEDIUM"
	SensitivityHigh     Sensitivity = "HIGH"
	SensitivityCritical Sensitivity = "CRITICAL"
)

var sensitivityRank = map[Sensitivity]int{
	SensitivityLow:      1,
	SensitivityMedium:   2,
	SensitivityHigh:     3,
	SensitivityCritical: 4,
}

func (s Sensitivity) IsValid() bool { return sensitivityRank[s] > 0 }

// AtLeast returns the higher of s and floor.
func (s Sensitivity) AtLeast(floor Sensitivity) Sensitivity {
	if sensitivityRank[s] < sensitivityRank[floor] {
		return floor
	}
	return s
}

// Sensitivities lists every level from lowest to highest.
func Sensitivities() []Sensitivity {
	return []Sensitivity{SensitivityLow, SensitivityMedium, SensitivityHigh, SensitivityCritical}
}

// FieldChange is the before and after value of one changed field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Entry is an immutable audit trail record. Only the retention sweep
// removes entries.
type Entry struct {
	ID            id.EntryID             `json:"id"`
	Actor         *id.ActorID            `json:"actor,omitempty"`
	Action        Action                 `json:"action"`
	Timestamp     time.Time              `json:"timestamp"`
	EntityType    string                 `json:"entity_type"`
	EntityID      string                 `json:"entity_id,omitempty"`
	EntityRepr    string                 `json:"entity_repr,omitempty"`
	ChangedFields map[string]FieldChange `json:"changed_fields,omitempty"`
	OldValues     map[string]any         `json:"old_values,omitempty"`
	NewValues     map[string]any         `json:"new_values,omitempty"`
	IPAddress     string                 `json:"ip_address,omitempty"`
	UserAgent     string                 `json:"user_agent,omitempty"`
	SessionKey    string                 `json:"session_key,omitempty"`
	Sensitivity   Sensitivity            `json:"sensitivity_level"`
	Description   string                 `json:"description,omitempty"`
	Extra         map[string]any         `json:"extra,omitempty"`
	RequestID     string                 `json:"request_id,omitempty"`
}

// AccessType is how subject data was accessed.
type AccessType string

const (
	AccessView     AccessType = "VIEW"
	AccessDownload AccessType = "DOWNLOAD"
	AccessExport   AccessType = "EXPORT"
	AccessPrint    AccessType = "PRINT"
	AccessSearch   AccessType = "SEARCH"
)

var validAccessTypes = map[AccessType]bool{
	AccessView: true, AccessDownload: true, AccessExport: true, AccessPrint: true, AccessSearch: true,
}

func (t AccessType) IsValid() bool { return validAccessTypes[t] }

// AccessLogEntry records a read of subject data for data-protection reporting.
type AccessLogEntry struct {
	ID             id.EntryID  `json:"id"`
	Actor          *id.ActorID `json:"actor,omitempty"`
	SubjectID      id.RecordID `json:"subject_id"`
	AccessType     AccessType  `json:"access_type"`
	Timestamp      time.Time   `json:"timestamp"`
	FieldsAccessed []string    `json:"fields_accessed,omitempty"`
	Purpose        string      `json:"purpose"`
	LegalBasis     string      `json:"legal_basis"`
	IPAddress      string      `json:"ip_address,omitempty"`
	UserAgent      string      `json:"user_agent,omitempty"`
}

// Filter narrows audit entry listings. Zero fields match everything.
type Filter struct {
	EntityType string
	EntityID   string
	Actor      *id.ActorID
	Action     Action
	From       time.Time
	To         time.Time
}

// Matches reports whether e satisfies the filter. From is inclusive, To exclusive.
func (f Filter) Matches(e Entry) bool {
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.Actor != nil && (e.Actor == nil || *e.Actor != *f.Actor) {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
		return false
	}
	return true
}

// Store persists audit entries. It exposes no update and no per-entry delete.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, filter Filter) ([]Entry, error)
	CountBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountByAction(ctx context.Context, from, to time.Time) (map[Action]int64, error)
	CountBySensitivity(ctx context.Context, from, to time.Time) (map[Sensitivity]int64, error)
}

// AccessStore persists access log entries.
type AccessStore interface {
	Append(ctx context.Context, entry AccessLogEntry) error
	ListBySubject(ctx context.Context, subject id.RecordID, since time.Time) ([]AccessLogEntry, error)
	CountBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountBetween(ctx context.Context, from, to time.Time) (int64, error)
}

// Sink receives entries after they were persisted. Sink failures never
// affect the audited operation.
type Sink interface {
	Publish(ctx context.Context, entry Entry) error
}
