package domain

import (
	"errors"
	"time"
)

// Identity is an account row keyed by its address (email or phone-derived
// handle). Lifecycle state is carried by Kind, not by a role label: ephemeral
// identities are convertible ghosts, permanent identities are verified.
type Identity struct {
	ID        string
	Key       string // email or phone-derived handle; unique
	Phone     string
	FirstName string
	LastName  string
	Kind      Kind
	Roles     []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Kind distinguishes identity lifecycle state.
type Kind string

const (
	KindEphemeral Kind = "ephemeral"
	KindPermanent Kind = "permanent"
)

// Validate validates the identity for persistence. Returns an error
// describing the first validation failure.
func (i *Identity) Validate() error {
	if i.Key == "" {
		return errors.New("key is required")
	}
	if i.Kind != KindEphemeral && i.Kind != KindPermanent {
		return errors.New("kind must be ephemeral or permanent")
	}
	return nil
}

// HasRole reports whether the identity carries the given role label.
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Target is a contact point an OTP challenge or login is addressed to.
// At least one of Email or Phone must be set unless anonymous challenges
// are allowed.
type Target struct {
	Email string
	Phone string
}

// Empty reports whether the target carries no contact point.
func (t Target) Empty() bool {
	return t.Email == "" && t.Phone == ""
}

// Key derives the identity key for the target: the email when present,
// otherwise a handle synthesized from the phone number.
func (t Target) Key() string {
	if t.Email != "" {
		return t.Email
	}
	if t.Phone != "" {
		return t.Phone + "@mobile.login"
	}
	return ""
}
