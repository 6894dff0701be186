package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"ghostauth/internal/identity/domain"
	"ghostauth/internal/privilege"
)

// PostgresStore implements Store over the identities table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns an identity store backed by the given db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const identityColumns = "id, email, phone, first_name, last_name, kind, roles, created_at, updated_at"

// Exists reports whether an identity with the given key exists.
func (s *PostgresStore) Exists(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM identities WHERE email = $1", key).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get returns the identity for key, or nil if not found.
func (s *PostgresStore) Get(ctx context.Context, key string) (*domain.Identity, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+identityColumns+" FROM identities WHERE email = $1", key)
	return scanIdentity(row)
}

// KeyByID returns the current key of the identity with the given id, or "".
func (s *PostgresStore) KeyByID(ctx context.Context, id string) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx, "SELECT email FROM identities WHERE id = $1", id).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return key, err
}

// Create persists a new identity. Returns ErrConflict if the key is taken.
func (s *PostgresStore) Create(ctx context.Context, i *domain.Identity) error {
	if err := i.Validate(); err != nil {
		return err
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	if i.UpdatedAt.IsZero() {
		i.UpdatedAt = i.CreatedAt
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (id, email, phone, first_name, last_name, kind, roles, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (email) DO NOTHING`,
		i.ID, i.Key, i.Phone, i.FirstName, i.LastName, string(i.Kind), joinRoles(i.Roles), i.CreatedAt, i.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// SetRoles replaces the identity's role set and lifecycle kind.
func (s *PostgresStore) SetRoles(ctx context.Context, key string, kind domain.Kind, roles []string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE identities SET kind = $2, roles = $3, updated_at = $4 WHERE email = $1",
		key, string(kind), joinRoles(roles), time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateProfile sets the display name parts; empty values leave the existing
// ones untouched.
func (s *PostgresStore) UpdateProfile(ctx context.Context, key, firstName, lastName string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE identities
		SET first_name = CASE WHEN $2 = '' THEN first_name ELSE $2 END,
		    last_name  = CASE WHEN $3 = '' THEN last_name ELSE $3 END,
		    updated_at = $4
		WHERE email = $1`,
		key, firstName, lastName, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Rename changes the identity's key, merging into an existing identity when
// merge is true. Requires elevation.
func (s *PostgresStore) Rename(ctx context.Context, oldKey, newKey string, merge bool) error {
	if !privilege.Elevated(ctx) {
		return ErrElevationRequired
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var oldID string
	err = tx.QueryRowContext(ctx, "SELECT id FROM identities WHERE email = $1 FOR UPDATE", oldKey).Scan(&oldID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var newID string
	err = tx.QueryRowContext(ctx, "SELECT id FROM identities WHERE email = $1 FOR UPDATE", newKey).Scan(&newID)
	targetExists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	switch {
	case targetExists && !merge:
		return ErrConflict
	case targetExists:
		// Merge: hand the ghost's owned records to the target, then drop the
		// ghost row.
		if _, err := tx.ExecContext(ctx, "UPDATE bearer_tokens SET owner_id = $1 WHERE owner_id = $2", newID, oldID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE otp_challenges SET bound_identity_id = $1 WHERE bound_identity_id = $2", newID, oldID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM identities WHERE id = $1", oldID); err != nil {
			return err
		}
	default:
		if _, err := tx.ExecContext(ctx,
			"UPDATE identities SET email = $2, updated_at = $3 WHERE id = $1",
			oldID, newKey, time.Now().UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Delete removes the identity. Owned bearer tokens follow via ON DELETE
// CASCADE when force is set; without force the delete fails while owned
// records remain. Requires elevation.
func (s *PostgresStore) Delete(ctx context.Context, key string, force bool) error {
	if !privilege.Elevated(ctx) {
		return ErrElevationRequired
	}
	if !force {
		var n int
		err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(1) FROM bearer_tokens t
			JOIN identities i ON i.id = t.owner_id
			WHERE i.email = $1`, key).Scan(&n)
		if err != nil {
			return err
		}
		if n > 0 {
			return errors.New("identity has owned records; use force")
		}
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM identities WHERE email = $1", key)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListEphemeralBefore returns ephemeral identities created before cutoff whose
// key matches the address domain and whose role set contains role.
func (s *PostgresStore) ListEphemeralBefore(ctx context.Context, cutoff time.Time, emailDomain, role string) ([]*domain.Identity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+identityColumns+` FROM identities
		WHERE kind = $1 AND created_at < $2 AND email LIKE $3
		ORDER BY created_at`,
		string(domain.KindEphemeral), cutoff, "%@"+emailDomain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Identity
	for rows.Next() {
		i, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		if i != nil && i.HasRole(role) {
			out = append(out, i)
		}
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*domain.Identity, error) {
	var i domain.Identity
	var kind, roles string
	err := row.Scan(&i.ID, &i.Key, &i.Phone, &i.FirstName, &i.LastName, &kind, &roles, &i.CreatedAt, &i.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	i.Kind = domain.Kind(kind)
	i.Roles = splitRoles(roles)
	return &i, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func joinRoles(roles []string) string {
	return strings.Join(roles, ",")
}

func splitRoles(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
