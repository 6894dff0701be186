package repository

import (
	"context"

	"ghostauth/internal/token/domain"
)

// Repository defines persistence for bearer tokens. Tokens transition to
// revoked and are never deleted here.
type Repository interface {
	// Create persists the token. The token must have ID set.
	Create(ctx context.Context, t *domain.BearerToken) error
	// GetActiveByRefreshHash returns the Active token with the given refresh
	// hash, or nil if none.
	GetActiveByRefreshHash(ctx context.Context, hash string) (*domain.BearerToken, error)
	// GetActiveByAccessHash returns the Active token with the given access
	// hash, or nil if none.
	GetActiveByAccessHash(ctx context.Context, hash string) (*domain.BearerToken, error)
	// Revoke marks the token revoked. No-op if already revoked.
	Revoke(ctx context.Context, id string) error
	// ListActiveIDsByOwner returns ids of Active tokens owned by ownerID.
	ListActiveIDsByOwner(ctx context.Context, ownerID string) ([]string, error)
	// RevokeByIDs marks the given tokens revoked and returns how many
	// transitioned. Already-revoked ids are skipped.
	RevokeByIDs(ctx context.Context, ids []string) (int, error)
}

// ClientRepository defines persistence for registered clients.
type ClientRepository interface {
	// Get returns the client for id, or nil if not found.
	Get(ctx context.Context, id string) (*domain.Client, error)
	// Create persists a new client.
	Create(ctx context.Context, c *domain.Client) error
}
