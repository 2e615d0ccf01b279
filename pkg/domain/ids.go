package domain

import (
	"github.com/google/uuid"

	dErrors "caregov/pkg/domain-errors"
)

// Typed identifiers. Distinct types keep a subject's record ID from being
// passed where an actor ID is expected.
type (
	// ActorID identifies an authenticated principal supplied by the identity provider.
	ActorID uuid.UUID
	// RecordID identifies any governed record, profiles included.
	RecordID uuid.UUID
	// ConsentID identifies a consent record.
	ConsentID uuid.UUID
	// EntryID identifies an audit entry or access log entry.
	EntryID uuid.UUID
)

func NewActorID() ActorID     { return ActorID(uuid.New()) }
func NewRecordID() RecordID   { return RecordID(uuid.New()) }
func NewConsentID() ConsentID { return ConsentID(uuid.New()) }
func NewEntryID() EntryID     { return EntryID(uuid.New()) }

func (id ActorID) String() string   { return uuid.UUID(id).String() }
func (id RecordID) String() string  { return uuid.UUID(id).String() }
func (id ConsentID) String() string { return uuid.UUID(id).String() }
func (id EntryID) String() string   { return uuid.UUID(id).String() }

func (id ActorID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id RecordID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id ConsentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }

// ParseActorID parses external input into an ActorID.
// Errors: CodeInvalidInput for empty, malformed, or nil UUIDs.
func ParseActorID(s string) (ActorID, error) {
	u, err := parseUUID(s, "actor ID")
	return ActorID(u), err
}

// ParseRecordID parses external input into a RecordID.
func ParseRecordID(s string) (RecordID, error) {
	u, err := parseUUID(s, "record ID")
	return RecordID(u), err
}

// ParseConsentID parses external input into a ConsentID.
func ParseConsentID(s string) (ConsentID, error) {
	u, err := parseUUID(s, "consent ID")
	return ConsentID(u), err
}

// ParseEntryID parses external input into an EntryID.
func ParseEntryID(s string) (EntryID, error) {
	u, err := parseUUID(s, "entry ID")
	return EntryID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}

// MarshalText encodes the nil ID as an empty string so nullable actor
// references serialize as "" rather than the all-zero UUID.
func (id ActorID) MarshalText() ([]byte, error) {
	if id.IsNil() {
		return []byte{}, nil
	}
	return []byte(id.String()), nil
}

func (id *ActorID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = ActorID(uuid.Nil)
		return nil
	}
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid actor ID")
	}
	*id = ActorID(u)
	return nil
}

func (id RecordID) MarshalText() ([]byte, error) {
	if id.IsNil() {
		return []byte{}, nil
	}
	return []byte(id.String()), nil
}

func (id *RecordID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = RecordID(uuid.Nil)
		return nil
	}
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid record ID")
	}
	*id = RecordID(u)
	return nil
}

func (id ConsentID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ConsentID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid consent ID")
	}
	*id = ConsentID(u)
	return nil
}

func (id EntryID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *EntryID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid entry ID")
	}
	*id = EntryID(u)
	return nil
}
