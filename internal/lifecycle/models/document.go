package models

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	id "caregov/pkg/domain"
)

// SubjectKey is the attribute that links a record to a subject profile.
const SubjectKey = "subject_id"

// entityTypeKey carries the collection name inside the serialized payload.
const entityTypeKey = "entity_type"

// Document is a governed record with free-form attributes. Clinical
// collections (conditions, appointments, alerts) are stored as documents.
// It serializes flat: governance fields and attributes share one object.
type Document struct {
	Fields
	Type       string
	Attributes map[string]any
}

// NewDocument builds a document of the given type.
func NewDocument(entityType string, attrs map[string]any) *Document {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return &Document{Type: entityType, Attributes: attrs}
}

func (d *Document) EntityType() string { return d.Type }

func (d *Document) ProtectedFields() []string { return []string{entityTypeKey} }

// OwnerID is the actor that authored the document.
func (d *Document) OwnerID() id.ActorID { return d.CreatedBy }

// SubjectRef returns the subject profile the document is about, if any.
func (d *Document) SubjectRef() (id.RecordID, bool) {
	raw, ok := d.Attributes[SubjectKey].(string)
	if !ok || raw == "" {
		return id.RecordID{}, false
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return id.RecordID{}, false
	}
	return id.RecordID(u), true
}

func (d *Document) String() string {
	if name, ok := d.Attributes["name"].(string); ok && name != "" {
		return fmt.Sprintf("%s %q", d.Type, name)
	}
	return fmt.Sprintf("%s %s", d.Type, d.ID)
}

func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Attributes)+len(protectedKeys)+1)
	for k, v := range d.Attributes {
		out[k] = v
	}
	raw, err := json.Marshal(&d.Fields)
	if err != nil {
		return nil, err
	}
	var governance map[string]any
	if err := json.Unmarshal(raw, &governance); err != nil {
		return nil, err
	}
	for k, v := range governance {
		out[k] = v
	}
	out[entityTypeKey] = d.Type
	return json.Marshal(out)
}

func (d *Document) UnmarshalJSON(b []byte) error {
	var all map[string]any
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	var fields Fields
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	d.Fields = fields
	if t, ok := all[entityTypeKey].(string); ok {
		d.Type = t
	}
	d.Attributes = make(map[string]any, len(all))
	for k, v := range all {
		if k == entityTypeKey {
			continue
		}
		if isGovernanceKey(k) {
			continue
		}
		d.Attributes[k] = v
	}
	return nil
}

func isGovernanceKey(k string) bool {
	for _, p := range protectedKeys {
		if p == k {
			return true
		}
	}
	return false
}
