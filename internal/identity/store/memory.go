package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"ghostauth/internal/identity/domain"
	"ghostauth/internal/privilege"
)

// MemoryStore is an in-memory Store implementation used in tests and local
// development. Safe for concurrent use.
type MemoryStore struct {
	mu sync.Mutex
	m  map[string]*domain.Identity // by key

	// OnMerge, when set, is called inside Rename(merge=true) with the old and
	// surviving identity ids so record ownership held outside this store
	// (e.g. bearer tokens) can follow the merge.
	OnMerge func(ctx context.Context, oldID, newID string) error
}

// NewMemoryStore returns an empty in-memory identity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]*domain.Identity)}
}

// Exists reports whether an identity with the given key exists.
func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[key]
	return ok, nil
}

// Get returns a copy of the identity for key, or nil if not found.
func (s *MemoryStore) Get(ctx context.Context, key string) (*domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyIdentity(s.m[key]), nil
}

// KeyByID returns the current key of the identity with the given id, or "".
func (s *MemoryStore) KeyByID(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, i := range s.m {
		if i.ID == id {
			return i.Key, nil
		}
	}
	return "", nil
}

// Create persists a new identity. Returns ErrConflict if the key is taken.
func (s *MemoryStore) Create(ctx context.Context, i *domain.Identity) error {
	if err := i.Validate(); err != nil {
		return err
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	if i.UpdatedAt.IsZero() {
		i.UpdatedAt = i.CreatedAt
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[i.Key]; ok {
		return ErrConflict
	}
	s.m[i.Key] = copyIdentity(i)
	return nil
}

// SetRoles replaces the identity's role set and lifecycle kind.
func (s *MemoryStore) SetRoles(ctx context.Context, key string, kind domain.Kind, roles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.m[key]
	if !ok {
		return ErrNotFound
	}
	i.Kind = kind
	i.Roles = append([]string(nil), roles...)
	i.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateProfile sets the display name parts; empty values leave the existing
// ones untouched.
func (s *MemoryStore) UpdateProfile(ctx context.Context, key, firstName, lastName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.m[key]
	if !ok {
		return ErrNotFound
	}
	if firstName != "" {
		i.FirstName = firstName
	}
	if lastName != "" {
		i.LastName = lastName
	}
	i.UpdatedAt = time.Now().UTC()
	return nil
}

// Rename changes the identity's key, merging into an existing identity when
// merge is true. Requires elevation.
func (s *MemoryStore) Rename(ctx context.Context, oldKey, newKey string, merge bool) error {
	if !privilege.Elevated(ctx) {
		return ErrElevationRequired
	}
	s.mu.Lock()
	old, ok := s.m[oldKey]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	target, targetExists := s.m[newKey]
	if targetExists && !merge {
		s.mu.Unlock()
		return ErrConflict
	}
	if targetExists {
		delete(s.m, oldKey)
		onMerge := s.OnMerge
		s.mu.Unlock()
		if onMerge != nil {
			return onMerge(ctx, old.ID, target.ID)
		}
		return nil
	}
	delete(s.m, oldKey)
	old.Key = newKey
	old.UpdatedAt = time.Now().UTC()
	s.m[newKey] = old
	s.mu.Unlock()
	return nil
}

// Delete removes the identity. Requires elevation.
func (s *MemoryStore) Delete(ctx context.Context, key string, force bool) error {
	if !privilege.Elevated(ctx) {
		return ErrElevationRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; !ok {
		return ErrNotFound
	}
	delete(s.m, key)
	return nil
}

// ListEphemeralBefore returns ephemeral identities created before cutoff whose
// key matches the address domain and whose role set contains role.
func (s *MemoryStore) ListEphemeralBefore(ctx context.Context, cutoff time.Time, emailDomain, role string) ([]*domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Identity
	for _, i := range s.m {
		if i.Kind != domain.KindEphemeral {
			continue
		}
		if !i.CreatedAt.Before(cutoff) {
			continue
		}
		if !strings.HasSuffix(i.Key, "@"+emailDomain) {
			continue
		}
		if !i.HasRole(role) {
			continue
		}
		out = append(out, copyIdentity(i))
	}
	return out, nil
}

func copyIdentity(i *domain.Identity) *domain.Identity {
	if i == nil {
		return nil
	}
	c := *i
	c.Roles = append([]string(nil), i.Roles...)
	return &c
}
