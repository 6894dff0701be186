// Package ghost creates ephemeral identities and their initial credentials,
// letting an unauthenticated actor use the API immediately.
package ghost

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ghostauth/internal/audit"
	identitydomain "ghostauth/internal/identity/domain"
	"ghostauth/internal/identity/store"
	tokendomain "ghostauth/internal/token/domain"
)

// ErrFeatureDisabled is returned when ghost sessions are turned off.
var ErrFeatureDisabled = errors.New("ghost feature is disabled")

// TokenIssuer is the minimal token issuer needed by the ghost service.
type TokenIssuer interface {
	Issue(ctx context.Context, identityKey, clientRef string) (*tokendomain.Pair, error)
}

// Options is the ghost policy surface, derived from config.
type Options struct {
	Enabled     bool
	Role        string // role label tagged onto ephemeral identities
	EmailDomain string // domain for synthesized addresses
	ClientID    string // registered client the initial pair is bound to
}

// Session is the result of creating a ghost session.
type Session struct {
	Identity *identitydomain.Identity
	Tokens   *tokendomain.Pair
}

// Service creates ghost sessions.
type Service struct {
	store   store.Store
	issuer  TokenIssuer
	opts    Options
	auditor audit.Recorder
	log     zerolog.Logger
}

// NewService returns a ghost session service.
func NewService(st store.Store, issuer TokenIssuer, opts Options, auditor audit.Recorder, log zerolog.Logger) *Service {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Service{store: st, issuer: issuer, opts: opts, auditor: auditor, log: log}
}

// CreateGhostSession creates (or reuses) an ephemeral identity and mints its
// initial token pair. With no email given a fresh unique address is
// synthesized, so anonymous calls never collide; with an explicit email the
// call is idempotent and reuses the existing ghost identity for that key.
func (s *Service) CreateGhostSession(ctx context.Context, email string) (*Session, error) {
	if !s.opts.Enabled {
		return nil, ErrFeatureDisabled
	}
	if email == "" {
		email = "ghost_" + uuid.New().String()[:8] + "@" + s.opts.EmailDomain
	}

	now := time.Now().UTC()
	ident := &identitydomain.Identity{
		ID:        uuid.New().String(),
		Key:       email,
		FirstName: "Ghost",
		LastName:  "User",
		Kind:      identitydomain.KindEphemeral,
		Roles:     []string{s.opts.Role},
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.store.Create(ctx, ident)
	switch {
	case errors.Is(err, store.ErrConflict):
		existing, gerr := s.store.Get(ctx, email)
		if gerr != nil {
			return nil, gerr
		}
		if existing == nil {
			return nil, err
		}
		// Only ephemeral identities may be reused; handing a session to a
		// permanent account would bypass verification.
		if existing.Kind != identitydomain.KindEphemeral {
			return nil, store.ErrConflict
		}
		ident = existing
	case err != nil:
		return nil, err
	default:
		s.auditor.LogEvent(ctx, ident.Key, audit.ActionGhostCreated, ident.ID, "")
	}

	tokens, err := s.issuer.Issue(ctx, ident.Key, s.opts.ClientID)
	if err != nil {
		s.log.Error().Err(err).Str("identity", ident.Key).Msg("ghost session token issuance failed")
		return nil, err
	}
	return &Session{Identity: ident, Tokens: tokens}, nil
}
