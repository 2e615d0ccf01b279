package models

import (
	"fmt"

	lifecycle "caregov/internal/lifecycle/models"
	id "caregov/pkg/domain"
	dErrors "caregov/pkg/domain-errors"
)

// Kind is one of the three mutually exclusive profile kinds an actor can hold.
type Kind string

const (
	KindSubject       Kind = "SUBJECT"
	KindPractitioner  Kind = "PRACTITIONER"
	KindAdministrator Kind = "ADMINISTRATOR"
)

// Kinds lists profile kinds in resolution order.
func Kinds() []Kind {
	return []Kind{KindSubject, KindPractitioner, KindAdministrator}
}

func (k Kind) IsValid() bool {
	switch k {
	case KindSubject, KindPractitioner, KindAdministrator:
		return true
	}
	return false
}

// EntityType is the collection name profiles of this kind are stored under.
func (k Kind) EntityType() string {
	switch k {
	case KindSubject:
		return "subject_profile"
	case KindPractitioner:
		return "practitioner_profile"
	case KindAdministrator:
		return "administrator_profile"
	}
	return ""
}

// KindForEntityType maps a collection name back to its profile kind.
func KindForEntityType(entityType string) (Kind, bool) {
	for _, k := range Kinds() {
		if k.EntityType() == entityType {
			return k, true
		}
	}
	return "", false
}

// PractitionerRole is a practitioner's professional title.
type PractitionerRole string

const (
	RoleDentist              PractitionerRole = "DENTIST"
	RoleNurse                PractitionerRole = "NURSE"
	RoleCommunityHealthAgent PractitionerRole = "COMMUNITY_HEALTH_AGENT"
)

var practitionerRoleTitles = map[PractitionerRole]string{
	RoleDentist:              "Dentist",
	RoleNurse:                "Nurse",
	RoleCommunityHealthAgent: "Community Health Agent",
}

func (r PractitionerRole) IsValid() bool {
	_, ok := practitionerRoleTitles[r]
	return ok
}

// Title is the human-readable role name.
func (r PractitionerRole) Title() string {
	return practitionerRoleTitles[r]
}

// ActorKey is the payload key holding the bound actor.
const ActorKey = "actor_id"

// Profile binds an authenticated actor to one profile kind. The binding is
// fixed at creation and ends only when the profile is purged.
type Profile struct {
	lifecycle.Fields
	Kind             Kind             `json:"kind"`
	Actor            id.ActorID       `json:"actor_id"`
	DisplayName      string           `json:"display_name"`
	Email            string           `json:"email,omitempty"`
	Phone            string           `json:"phone,omitempty"`
	PractitionerRole PractitionerRole `json:"practitioner_role,omitempty"`
	Anonymized       bool             `json:"anonymized,omitempty"`
}

func (p *Profile) EntityType() string { return p.Kind.EntityType() }

// ProtectedFields keeps the binding itself out of reach of updates.
func (p *Profile) ProtectedFields() []string { return []string{"kind", ActorKey} }

// OwnerID is the profile's author. The bound actor is Actor.
func (p *Profile) OwnerID() id.ActorID { return p.CreatedBy }

// SubjectRef is the profile itself for subject profiles.
func (p *Profile) SubjectRef() (id.RecordID, bool) {
	if p.Kind != KindSubject {
		return id.RecordID{}, false
	}
	return p.ID, true
}

func (p *Profile) String() string {
	if p.DisplayName == "" {
		return fmt.Sprintf("%s profile %s", p.Kind, p.ID)
	}
	return fmt.Sprintf("%s profile %q", p.Kind, p.DisplayName)
}

// Validate checks the binding and role fields.
func (p *Profile) Validate() error {
	if !p.Kind.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid profile kind")
	}
	if p.Actor.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "profile must be bound to an actor")
	}
	switch {
	case p.Kind == KindPractitioner && !p.PractitionerRole.IsValid():
		return dErrors.New(dErrors.CodeValidation, "practitioner profile requires a role: DENTIST, NURSE or COMMUNITY_HEALTH_AGENT")
	case p.Kind != KindPractitioner && p.PractitionerRole != "":
		return dErrors.New(dErrors.CodeValidation, "only practitioner profiles carry a practitioner role")
	}
	return nil
}

// Role is the resolved profile binding of an actor. The zero value means
// the actor holds no profile.
type Role struct {
	Kind    Kind
	Profile *Profile
}

func (r Role) IsNone() bool { return r.Profile == nil }

func (r Role) Is(k Kind) bool { return r.Profile != nil && r.Kind == k }

func (r Role) String() string {
	if r.IsNone() {
		return "NONE"
	}
	return string(r.Kind)
}

// CanCreate reports whether a creator holding role may create a profile of kind.
func CanCreate(creator Role, kind Kind) bool {
	switch kind {
	case KindSubject:
		return creator.Is(KindAdministrator) || creator.Is(KindPractitioner)
	case KindPractitioner:
		return creator.Is(KindAdministrator)
	}
	return false
}

// CreatorRequirement names the role required to create a profile of kind.
func CreatorRequirement(kind Kind) string {
	switch kind {
	case KindAdministrator:
		return "administrator profiles can only be created by the bootstrap actor"
	case KindPractitioner:
		return "practitioner profiles can only be created by an administrator"
	default:
		return "subject profiles can only be created by a practitioner or manager"
	}
}
