package repository

import (
	"context"
	"database/sql"

	"ghostauth/internal/audit/domain"
)

// PostgresRepository implements Repository over the audit_logs table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the audit log entry.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor, action, resource, metadata, ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Actor, a.Action, a.Resource, a.Metadata, a.IP, a.CreatedAt)
	return err
}

// ListByAction returns entries for the given action, newest first.
func (r *PostgresRepository) ListByAction(ctx context.Context, action string, limit, offset int32) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, actor, action, resource, metadata, ip, created_at
		FROM audit_logs WHERE action = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		action, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		if err := rows.Scan(&a.ID, &a.Actor, &a.Action, &a.Resource, &a.Metadata, &a.IP, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
