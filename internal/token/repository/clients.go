package repository

import (
	"context"
	"database/sql"
	"errors"

	"ghostauth/internal/token/domain"
)

// PostgresClientRepository implements ClientRepository over oauth_clients.
type PostgresClientRepository struct {
	db *sql.DB
}

// NewPostgresClientRepository returns a client repository that uses the given db.
func NewPostgresClientRepository(db *sql.DB) *PostgresClientRepository {
	return &PostgresClientRepository{db: db}
}

// Get returns the client for id, or nil if not found.
func (r *PostgresClientRepository) Get(ctx context.Context, id string) (*domain.Client, error) {
	var c domain.Client
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, secret_hash, created_at FROM oauth_clients WHERE id = $1", id).
		Scan(&c.ID, &c.Name, &c.SecretHash, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create persists a new client.
func (r *PostgresClientRepository) Create(ctx context.Context, c *domain.Client) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO oauth_clients (id, name, secret_hash, created_at) VALUES ($1, $2, $3, $4)",
		c.ID, c.Name, c.SecretHash, c.CreatedAt)
	return err
}
