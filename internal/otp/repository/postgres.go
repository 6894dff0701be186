package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	identitydomain "ghostauth/internal/identity/domain"
	"ghostauth/internal/otp/domain"
)

// PostgresRepository implements Repository over the otp_challenges table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an OTP challenge repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const challengeColumns = "id, code_hash, email, phone, purpose, status, delivery_method, COALESCE(bound_identity_id::text, ''), created_at, expires_at"

// Create persists the challenge. The challenge must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.Challenge) error {
	var bound any
	if c.BoundIdentityID != "" {
		bound = c.BoundIdentityID
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO otp_challenges (id, code_hash, email, phone, purpose, status, delivery_method, bound_identity_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.CodeHash, c.Email, c.Phone, string(c.Purpose), string(c.Status), c.DeliveryMethod, bound, c.CreatedAt, c.ExpiresAt)
	return err
}

// FindValidByCodeHash returns the Valid challenge matching the code hash,
// purpose, and target, or nil if none.
func (r *PostgresRepository) FindValidByCodeHash(ctx context.Context, codeHash string, purpose domain.Purpose, target identitydomain.Target) (*domain.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM otp_challenges
		WHERE code_hash = $1 AND purpose = $2 AND status = $3`
	args := []any{codeHash, string(purpose), string(domain.StatusValid)}
	switch {
	case target.Email != "":
		query += " AND email = $4"
		args = append(args, target.Email)
	case target.Phone != "":
		query += " AND phone = $4"
		args = append(args, target.Phone)
	}
	query += " ORDER BY created_at DESC LIMIT 1"

	row := r.db.QueryRowContext(ctx, query, args...)
	c, err := scanChallenge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// ExpireValidByTarget transitions all Valid challenges for the target and
// purpose to Expired, except the one with exceptID.
func (r *PostgresRepository) ExpireValidByTarget(ctx context.Context, target identitydomain.Target, purpose domain.Purpose, exceptID string) (int, error) {
	query := `UPDATE otp_challenges SET status = $1
		WHERE status = $2 AND purpose = $3 AND id::text <> $4`
	args := []any{string(domain.StatusExpired), string(domain.StatusValid), string(purpose), exceptID}
	if target.Email != "" {
		args = append(args, target.Email)
		query += fmt.Sprintf(" AND email = $%d", len(args))
	}
	if target.Phone != "" {
		args = append(args, target.Phone)
		query += fmt.Sprintf(" AND phone = $%d", len(args))
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

// TransitionStatus moves the challenge from one status to another, returning
// false if it was not in the from status.
func (r *PostgresRepository) TransitionStatus(ctx context.Context, id string, from, to domain.Status) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE otp_challenges SET status = $3 WHERE id = $1 AND status = $2",
		id, string(from), string(to))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CountCreatedSince counts challenges created for the target at or after since.
func (r *PostgresRepository) CountCreatedSince(ctx context.Context, target identitydomain.Target, since time.Time) (int, error) {
	query := "SELECT COUNT(1) FROM otp_challenges WHERE created_at >= $1"
	args := []any{since}
	switch {
	case target.Email != "":
		query += " AND email = $2"
		args = append(args, target.Email)
	case target.Phone != "":
		query += " AND phone = $2"
		args = append(args, target.Phone)
	}
	var n int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// ListValidExpiredBefore returns Valid challenges whose expiry has passed at now.
func (r *PostgresRepository) ListValidExpiredBefore(ctx context.Context, now time.Time) ([]*domain.Challenge, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+challengeColumns+` FROM otp_challenges
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at`,
		string(domain.StatusValid), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row rowScanner) (*domain.Challenge, error) {
	var c domain.Challenge
	var purpose, status string
	err := row.Scan(&c.ID, &c.CodeHash, &c.Email, &c.Phone, &purpose, &status, &c.DeliveryMethod, &c.BoundIdentityID, &c.CreatedAt, &c.ExpiresAt)
	if err != nil {
		return nil, err
	}
	c.Purpose = domain.Purpose(purpose)
	c.Status = domain.Status(status)
	return &c, nil
}
