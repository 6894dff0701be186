// Package store defines the identity store: the shared source of truth for
// identity records. Mutations that change or remove an identity key (rename,
// merge, force delete) require an elevated context acquired via
// privilege.RunElevated; ordinary callers cannot perform them.
package store

import (
	"context"
	"errors"
	"time"

	"ghostauth/internal/identity/domain"
)

// Sentinel errors returned by store implementations.
var (
	// ErrConflict is returned when a create or plain rename collides with an
	// existing key.
	ErrConflict = errors.New("identity key already exists")
	// ErrNotFound is returned when the referenced identity does not exist.
	ErrNotFound = errors.New("identity not found")
	// ErrElevationRequired is returned when a privileged mutation is called
	// without an elevated context.
	ErrElevationRequired = errors.New("operation requires privilege elevation")
)

// Store is the identity store contract.
type Store interface {
	// Exists reports whether an identity with the given key exists.
	Exists(ctx context.Context, key string) (bool, error)
	// Get returns the identity for key, or nil if not found.
	Get(ctx context.Context, key string) (*domain.Identity, error)
	// KeyByID returns the current key of the identity with the given id, or
	// "" if not found. Keys change across rename/merge; ids are stable.
	KeyByID(ctx context.Context, id string) (string, error)
	// Create persists a new identity. Returns ErrConflict if the key is taken.
	Create(ctx context.Context, i *domain.Identity) error
	// SetRoles replaces the identity's role set and lifecycle kind.
	SetRoles(ctx context.Context, key string, kind domain.Kind, roles []string) error
	// UpdateProfile sets the display name parts; empty values leave the
	// existing ones untouched.
	UpdateProfile(ctx context.Context, key, firstName, lastName string) error
	// Rename changes the identity's key. With merge=false it fails with
	// ErrConflict if newKey exists; with merge=true it reassigns the old
	// identity's owned records to the existing newKey identity and deletes
	// the old row. Requires elevation.
	Rename(ctx context.Context, oldKey, newKey string, merge bool) error
	// Delete removes the identity. force also removes owned records.
	// Requires elevation.
	Delete(ctx context.Context, key string, force bool) error
	// ListEphemeralBefore returns ephemeral identities created before cutoff
	// whose key matches the given address domain and whose role set contains
	// role.
	ListEphemeralBefore(ctx context.Context, cutoff time.Time, emailDomain, role string) ([]*domain.Identity, error)
}
