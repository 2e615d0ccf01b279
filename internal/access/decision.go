package access

import (
	id "caregov/pkg/domain"
	dErrors "caregov/pkg/domain-errors"
)

// Method is an HTTP-like operation verb.
type Method string

const (
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
)

// IsReadOnly reports whether the method never mutates state.
func (m Method) IsReadOnly() bool {
	switch m {
	case MethodGet, MethodHead, MethodOptions:
		return true
	}
	return false
}

// Code is the machine-readable reason behind a denial.
type Code string

const (
	CodeNotAuthenticated Code = "not_authenticated"
	CodeRoleNotPermitted Code = "role_not_permitted"
	CodeNotObjectOwner   Code = "not_object_owner"
	CodeConsentRequired  Code = "consent_required"
)

// Decision is the outcome of an access check. Denials always carry a
// user-facing reason.
type Decision struct {
	Allowed bool
	Reason  string
	Code    Code
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(code Code, reason string) Decision {
	return Decision{Code: code, Reason: reason}
}

// ConsentRequired is the denial for a read lacking valid consent.
func ConsentRequired(reason string) Decision {
	return deny(CodeConsentRequired, reason)
}

// Err converts a denial into a coded error. Allowed decisions return nil.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Code {
	case CodeNotAuthenticated:
		return dErrors.New(dErrors.CodeUnauthorized, d.Reason)
	case CodeConsentRequired:
		return dErrors.New(dErrors.CodeConsentRequired, d.Reason)
	default:
		return dErrors.New(dErrors.CodeForbidden, d.Reason)
	}
}

// Target is the record an object-level check runs against.
type Target interface {
	// OwnerID is the actor who authored the record.
	OwnerID() id.ActorID
	// SubjectRef is the subject profile the record belongs to, if any.
	SubjectRef() (id.RecordID, bool)
}
