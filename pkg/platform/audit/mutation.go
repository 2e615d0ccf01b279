package audit

import (
	"fmt"

	id "caregov/pkg/domain"
	"caregov/pkg/requestmeta"
)

// Mutation describes one state transition of a governed record, captured
// around the write so the recorder can diff it.
type Mutation struct {
	Action     Action
	EntityType string
	EntityID   string
	EntityRepr string
	Before     any
	After      any
	Actor      id.Actor
	Meta       requestmeta.Metadata
	// Purge marks the terminal entry written before a record is destroyed.
	Purge bool
	// Description overrides the generated description when set.
	Description string
	Extra       map[string]any
}

// Warning reports an audit write that failed after the audited operation
// succeeded. It is returned alongside the operation result, never as an error.
type Warning struct {
	Action     Action
	EntityType string
	EntityID   string
	Err        error
}

func (w *Warning) String() string {
	if w == nil {
		return ""
	}
	return fmt.Sprintf("audit write failed for %s %s/%s: %v", w.Action, w.EntityType, w.EntityID, w.Err)
}
