// Package token issues, refreshes, and revokes opaque bearer token pairs
// bound to an identity and a registered client. Refresh is rotation: the
// presented token is always revoked before a replacement is minted.
package token

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ghostauth/internal/audit"
	"ghostauth/internal/identity/store"
	"ghostauth/internal/keymutex"
	"ghostauth/internal/security"
	"ghostauth/internal/token/domain"
	"ghostauth/internal/token/repository"
)

// Sentinel errors for the token issuer.
var (
	ErrUnknownClient       = errors.New("client is not registered")
	ErrInvalidRefreshToken = errors.New("invalid or revoked refresh token")
	ErrRefreshExpired      = errors.New("refresh token has expired; login again")
	ErrInvalidAccessToken  = errors.New("invalid or expired access token")
)

// DefaultScopes is applied to issued tokens.
const DefaultScopes = "all"

// Issuer mints and rotates bearer token pairs.
type Issuer struct {
	tokens     repository.Repository
	clients    repository.ClientRepository
	identities store.Store
	accessTTL  time.Duration
	refreshTTL time.Duration
	locks      *keymutex.Mutex
	auditor    audit.Recorder
	log        zerolog.Logger
}

// NewIssuer returns an Issuer with the given dependencies.
func NewIssuer(tokens repository.Repository, clients repository.ClientRepository, identities store.Store, accessTTL, refreshTTL time.Duration, auditor audit.Recorder, log zerolog.Logger) *Issuer {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Issuer{
		tokens:     tokens,
		clients:    clients,
		identities: identities,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		locks:      keymutex.New(),
		auditor:    auditor,
		log:        log,
	}
}

// Issue mints a fresh pair for the identity with the given key, bound to
// clientRef. Fails with ErrUnknownClient if the client is not registered and
// store.ErrNotFound if the identity does not exist.
func (i *Issuer) Issue(ctx context.Context, identityKey, clientRef string) (*domain.Pair, error) {
	ident, err := i.identities.Get(ctx, identityKey)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, store.ErrNotFound
	}
	client, err := i.clients.Get(ctx, clientRef)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, ErrUnknownClient
	}
	return i.mint(ctx, ident.ID, ident.Key, client.ID)
}

func (i *Issuer) mint(ctx context.Context, ownerID, ownerKey, clientID string) (*domain.Pair, error) {
	access, err := security.GenerateSecret(security.SecretLength)
	if err != nil {
		return nil, err
	}
	refresh, err := security.GenerateSecret(security.SecretLength)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	t := &domain.BearerToken{
		ID:               uuid.New().String(),
		AccessHash:       security.HashSecret(access),
		RefreshHash:      security.HashSecret(refresh),
		OwnerID:          ownerID,
		ClientID:         clientID,
		Scopes:           DefaultScopes,
		Status:           domain.StatusActive,
		IssuedAt:         now,
		AccessExpiresAt:  now.Add(i.accessTTL),
		RefreshExpiresAt: now.Add(i.refreshTTL),
	}
	if err := i.tokens.Create(ctx, t); err != nil {
		return nil, err
	}
	return &domain.Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(i.accessTTL.Seconds()),
		OwnerKey:     ownerKey,
		ClientID:     clientID,
	}, nil
}

// Refresh rotates the pair identified by refreshToken: the presented token is
// revoked first, then a replacement is minted for the same owner and client.
// The presented token is invalidated even when minting the replacement fails.
func (i *Issuer) Refresh(ctx context.Context, refreshToken string) (*domain.Pair, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	hash := security.HashSecret(refreshToken)
	t, err := i.tokens.GetActiveByRefreshHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrInvalidRefreshToken
	}

	// Revoke-then-issue must be atomic per chain: serialize concurrent
	// refreshes for the same owner and client.
	unlock := i.locks.Lock(t.OwnerID + "|" + t.ClientID)
	defer unlock()

	// Re-check under the lock. A concurrent refresh holding the lock first
	// may have revoked the presented token between lookup and acquisition;
	// without this, both callers would mint and the same refresh secret
	// would rotate twice.
	t, err = i.tokens.GetActiveByRefreshHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrInvalidRefreshToken
	}

	now := time.Now().UTC()
	if now.After(t.RefreshExpiresAt) {
		if err := i.tokens.Revoke(ctx, t.ID); err != nil {
			return nil, err
		}
		return nil, ErrRefreshExpired
	}
	if err := i.tokens.Revoke(ctx, t.ID); err != nil {
		return nil, err
	}

	// The owner may have been renamed since issuance; the key on the pair is
	// informational, so a failed reverse lookup is tolerated.
	ownerKey, _ := i.identities.KeyByID(ctx, t.OwnerID)
	pair, err := i.mint(ctx, t.OwnerID, ownerKey, t.ClientID)
	if err != nil {
		return nil, err
	}
	i.auditor.LogEvent(ctx, ownerKey, audit.ActionTokenRefreshed, t.ID, t.ClientID)
	return pair, nil
}

// RevokeAllForIdentity transitions every Active token owned by the identity
// to Revoked. Idempotent: revoking an identity with no active tokens is a
// no-op. Returns how many tokens were revoked.
func (i *Issuer) RevokeAllForIdentity(ctx context.Context, ownerID string) (int, error) {
	ids, err := i.tokens.ListActiveIDsByOwner(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	n, err := i.tokens.RevokeByIDs(ctx, ids)
	if err != nil {
		return n, err
	}
	if n > 0 {
		i.auditor.LogEvent(ctx, "", audit.ActionTokensRevoked, ownerID, "")
	}
	return n, nil
}

// RevokeByIDs revokes the given token ids. Used by the conversion engine,
// which snapshots a ghost's active tokens before the identity mutation.
func (i *Issuer) RevokeByIDs(ctx context.Context, ids []string) (int, error) {
	return i.tokens.RevokeByIDs(ctx, ids)
}

// ActiveTokenIDs returns ids of the identity's active tokens.
func (i *Issuer) ActiveTokenIDs(ctx context.Context, ownerID string) ([]string, error) {
	return i.tokens.ListActiveIDsByOwner(ctx, ownerID)
}

// ValidateAccess returns the stored token for an access secret if it is
// active and unexpired; otherwise ErrInvalidAccessToken.
func (i *Issuer) ValidateAccess(ctx context.Context, accessToken string) (*domain.BearerToken, error) {
	if accessToken == "" {
		return nil, ErrInvalidAccessToken
	}
	t, err := i.tokens.GetActiveByAccessHash(ctx, security.HashSecret(accessToken))
	if err != nil {
		return nil, err
	}
	if t == nil || time.Now().UTC().After(t.AccessExpiresAt) {
		return nil, ErrInvalidAccessToken
	}
	return t, nil
}
