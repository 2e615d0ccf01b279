package models

import (
	"fmt"
	"time"

	id "caregov/pkg/domain"
)

// Status is the stored state of a consent record. EXPIRED is derived from
// ExpiresAt and reported by EffectiveStatus.
type Status string

const (
	StatusGranted Status = "GRANTED"
	StatusRevoked Status = "REVOKED"
	StatusExpired Status = "EXPIRED"
)

func Statuses() []Status {
	return []Status{StatusGranted, StatusRevoked, StatusExpired}
}

// EntityType is the audit entity type of consent records.
const EntityType = "subject_consent"

// Record captures one consent decision of a subject for one consent type.
type Record struct {
	ID               id.ConsentID   `json:"id"`
	SubjectID        id.RecordID    `json:"subject_id"`
	Type             id.ConsentType `json:"consent_type"`
	Status           Status         `json:"status"`
	GrantedAt        time.Time      `json:"granted_at"`
	RevokedAt        *time.Time     `json:"revoked_at"`
	ExpiresAt        *time.Time     `json:"expires_at"`
	Purpose          string         `json:"purpose"`
	DataCategories   []string       `json:"data_categories"`
	LegalBasis       string         `json:"legal_basis"`
	ConsentText      string         `json:"consent_text"`
	EvidenceRef      string         `json:"evidence_ref,omitempty"`
	RevocationReason string         `json:"revocation_reason,omitempty"`
	IPAddress        string         `json:"ip_address,omitempty"`
	UserAgent        string         `json:"user_agent,omitempty"`
}

// IsValid reports whether the consent authorizes processing at now.
// Revoked consent is never valid, whatever its expiry.
func (r *Record) IsValid(now time.Time) bool {
	if r.Status != StatusGranted {
		return false
	}
	return r.ExpiresAt == nil || now.Before(*r.ExpiresAt)
}

// EffectiveStatus reports EXPIRED for a granted record past its expiry.
func (r *Record) EffectiveStatus(now time.Time) Status {
	if r.Status == StatusGranted && !r.IsValid(now) {
		return StatusExpired
	}
	return r.Status
}

// Revoke marks the record revoked. Revoking twice keeps the first stamp.
func (r *Record) Revoke(now time.Time, reason string) {
	if r.Status == StatusRevoked {
		return
	}
	r.Status = StatusRevoked
	r.RevokedAt = &now
	r.RevocationReason = reason
}

// SubjectRef is the subject the consent belongs to.
func (r *Record) SubjectRef() (id.RecordID, bool) { return r.SubjectID, true }

// OwnerID is unset: consent records are owned by their subject.
func (r *Record) OwnerID() id.ActorID { return id.ActorID{} }

func (r *Record) String() string {
	return fmt.Sprintf("%s consent of subject %s (%s)", r.Type, r.SubjectID, r.Status)
}
