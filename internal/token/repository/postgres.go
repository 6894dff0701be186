package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ghostauth/internal/token/domain"
)

// PostgresRepository implements Repository over the bearer_tokens table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a bearer token repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const tokenColumns = "id, access_hash, refresh_hash, owner_id, client_id, scopes, status, issued_at, access_expires_at, refresh_expires_at, revoked_at"

// Create persists the token.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.BearerToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bearer_tokens (id, access_hash, refresh_hash, owner_id, client_id, scopes, status, issued_at, access_expires_at, refresh_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.AccessHash, t.RefreshHash, t.OwnerID, t.ClientID, t.Scopes, string(t.Status), t.IssuedAt, t.AccessExpiresAt, t.RefreshExpiresAt)
	return err
}

// GetActiveByRefreshHash returns the Active token with the given refresh hash, or nil.
func (r *PostgresRepository) GetActiveByRefreshHash(ctx context.Context, hash string) (*domain.BearerToken, error) {
	return r.getActiveBy(ctx, "refresh_hash", hash)
}

// GetActiveByAccessHash returns the Active token with the given access hash, or nil.
func (r *PostgresRepository) GetActiveByAccessHash(ctx context.Context, hash string) (*domain.BearerToken, error) {
	return r.getActiveBy(ctx, "access_hash", hash)
}

func (r *PostgresRepository) getActiveBy(ctx context.Context, column, hash string) (*domain.BearerToken, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM bearer_tokens WHERE "+column+" = $1 AND status = $2",
		hash, string(domain.StatusActive))
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// Revoke marks the token revoked. No-op if already revoked.
func (r *PostgresRepository) Revoke(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE bearer_tokens SET status = $2, revoked_at = $3 WHERE id = $1 AND status = $4",
		id, string(domain.StatusRevoked), time.Now().UTC(), string(domain.StatusActive))
	return err
}

// ListActiveIDsByOwner returns ids of Active tokens owned by ownerID.
func (r *PostgresRepository) ListActiveIDsByOwner(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id FROM bearer_tokens WHERE owner_id = $1 AND status = $2",
		ownerID, string(domain.StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RevokeByIDs marks the given tokens revoked and returns how many transitioned.
func (r *PostgresRepository) RevokeByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n := 0
	for _, id := range ids {
		res, err := r.db.ExecContext(ctx,
			"UPDATE bearer_tokens SET status = $2, revoked_at = $3 WHERE id = $1 AND status = $4",
			id, string(domain.StatusRevoked), time.Now().UTC(), string(domain.StatusActive))
		if err != nil {
			return n, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return n, err
		}
		n += int(affected)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*domain.BearerToken, error) {
	var t domain.BearerToken
	var status string
	var revoked sql.NullTime
	err := row.Scan(&t.ID, &t.AccessHash, &t.RefreshHash, &t.OwnerID, &t.ClientID, &t.Scopes, &status, &t.IssuedAt, &t.AccessExpiresAt, &t.RefreshExpiresAt, &revoked)
	if err != nil {
		return nil, err
	}
	t.Status = domain.Status(status)
	if revoked.Valid {
		t.RevokedAt = &revoked.Time
	}
	return &t, nil
}
