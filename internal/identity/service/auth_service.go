// Package service exposes the login flow: OTP-verified find-or-create for
// permanent identities, with ghost callers routed through conversion.
package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ghostauth/internal/audit"
	"ghostauth/internal/config"
	"ghostauth/internal/convert"
	"ghostauth/internal/identity/domain"
	"ghostauth/internal/identity/store"
	"ghostauth/internal/otp"
	otpdomain "ghostauth/internal/otp/domain"
	tokendomain "ghostauth/internal/token/domain"
)

// ErrMissingTarget is returned when neither email nor phone is supplied.
var ErrMissingTarget = errors.New("an email or phone number is required")

// OTPVerifier is the slice of the OTP manager the auth service needs.
type OTPVerifier interface {
	Verify(ctx context.Context, code string, target domain.Target, purpose otpdomain.Purpose) (*otp.VerifyResult, error)
}

// TokenIssuer mints token pairs for authenticated identities.
type TokenIssuer interface {
	Issue(ctx context.Context, identityKey, clientRef string) (*tokendomain.Pair, error)
}

// Converter runs ghost-to-permanent conversions.
type Converter interface {
	Convert(ctx context.Context, ghostKey, targetKey string, profile *convert.Profile, code string) (*convert.Result, error)
}

// LoginResult is the outcome of a login. Tokens is nil when no client context
// exists or issuance failed after the identity work succeeded.
type LoginResult struct {
	IdentityKey string
	Created     bool
	Converted   bool
	Tokens      *tokendomain.Pair
}

// AuthService implements the login flow.
type AuthService struct {
	store       store.Store
	otp         OTPVerifier
	tokens      TokenIssuer
	converter   Converter
	defaultRole string
	pinnedID    string
	auditor     audit.Recorder
	log         zerolog.Logger
}

// NewAuthService returns an AuthService wired from config.
func NewAuthService(st store.Store, verifier OTPVerifier, tokens TokenIssuer, converter Converter, cfg *config.Config, auditor audit.Recorder, log zerolog.Logger) *AuthService {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	role := cfg.DefaultRole
	if role == "" {
		role = convert.FallbackRole
	}
	return &AuthService{
		store:       st,
		otp:         verifier,
		tokens:      tokens,
		converter:   converter,
		defaultRole: role,
		pinnedID:    cfg.ClientID,
		auditor:     auditor,
		log:         log,
	}
}

// Login authenticates a contact point with an OTP code. When actorKey names
// an ephemeral identity, the call is a conversion of that ghost into the
// target. Otherwise the code is verified and a permanent identity is found or
// created for the target, with tokens issued when a client is known.
func (s *AuthService) Login(ctx context.Context, actorKey, code string, target domain.Target, profile *convert.Profile, clientRef string) (*LoginResult, error) {
	if target.Empty() {
		return nil, ErrMissingTarget
	}
	key := target.Key()

	if actorKey != "" && s.converter != nil {
		actor, err := s.store.Get(ctx, actorKey)
		if err != nil {
			return nil, err
		}
		if actor != nil && actor.Kind == domain.KindEphemeral {
			res, err := s.converter.Convert(ctx, actorKey, key, profile, code)
			if err != nil {
				return nil, err
			}
			return &LoginResult{
				IdentityKey: res.IdentityKey,
				Converted:   true,
				Tokens:      res.Tokens,
			}, nil
		}
	}

	if _, err := s.otp.Verify(ctx, code, target, otpdomain.PurposeLogin); err != nil {
		return nil, err
	}

	ident, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	created := false
	if ident == nil {
		ident = &domain.Identity{
			ID:    uuid.New().String(),
			Key:   key,
			Phone: target.Phone,
			Kind:  domain.KindPermanent,
			Roles: []string{s.defaultRole},
		}
		if profile != nil {
			ident.FirstName = profile.FirstName
			ident.LastName = profile.LastName
		}
		if err := s.store.Create(ctx, ident); err != nil {
			if errors.Is(err, store.ErrConflict) {
				// Concurrent login for the same target; use the winner's row.
				ident, err = s.store.Get(ctx, key)
				if err != nil {
					return nil, err
				}
				if ident == nil {
					return nil, store.ErrNotFound
				}
			} else {
				return nil, err
			}
		} else {
			created = true
			s.auditor.LogEvent(ctx, key, audit.ActionOTPVerified, key, "signup")
		}
	}

	res := &LoginResult{IdentityKey: ident.Key, Created: created}
	client := clientRef
	if s.pinnedID != "" {
		client = s.pinnedID
	}
	if client != "" && s.tokens != nil {
		pair, err := s.tokens.Issue(ctx, ident.Key, client)
		if err != nil {
			// The identity side of login already succeeded; return it
			// without tokens rather than failing the whole call.
			s.log.Error().Err(err).Str("identity", ident.Key).Msg("token issuance after login failed")
		} else {
			res.Tokens = pair
		}
	}
	return res, nil
}
