package domain

// Actor is the authenticated principal an operation runs as.
// The zero value is the anonymous actor used for pre-authentication events.
//
// Bootstrap marks the super-privileged principal that seeds the first
// administrator. It bypasses every access check.
type Actor struct {
	ID        ActorID
	Bootstrap bool
	Name      string
}

// Anonymous returns the actor used before authentication (e.g. a failed login).
func Anonymous() Actor { return Actor{} }

// IsAuthenticated reports whether the actor carries a stable identity.
func (a Actor) IsAuthenticated() bool {
	return !a.ID.IsNil()
}

// Ref returns the actor ID as a nullable reference.
func (a Actor) Ref() *ActorID {
	if !a.IsAuthenticated() {
		return nil
	}
	id := a.ID
	return &id
}
