// Package convert turns a ghost identity into a permanent one: it validates
// the OTP challenge, merges or renames the ghost into the target key,
// transitions roles, revokes the ghost's stale tokens, and issues fresh ones.
package convert

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"ghostauth/internal/audit"
	"ghostauth/internal/config"
	identitydomain "ghostauth/internal/identity/domain"
	"ghostauth/internal/identity/store"
	"ghostauth/internal/otp"
	otpdomain "ghostauth/internal/otp/domain"
	"ghostauth/internal/privilege"
	tokendomain "ghostauth/internal/token/domain"
)

// Sentinel errors for the conversion engine.
var (
	ErrGhostNotFound = errors.New("ghost identity does not exist")
	ErrOTPRequired   = errors.New("a code is required for conversion")
)

// FallbackRole is assigned when no target role is configured, so a converted
// identity never ends up with an empty role set.
const FallbackRole = "Member"

// OTPVerifier is the minimal OTP manager needed by the engine.
type OTPVerifier interface {
	Verify(ctx context.Context, code string, target identitydomain.Target, purpose otpdomain.Purpose) (*otp.VerifyResult, error)
}

// TokenManager is the minimal token issuer needed by the engine.
type TokenManager interface {
	Issue(ctx context.Context, identityKey, clientRef string) (*tokendomain.Pair, error)
	ActiveTokenIDs(ctx context.Context, ownerID string) ([]string, error)
	RevokeByIDs(ctx context.Context, ids []string) (int, error)
}

// Options is the conversion policy surface, derived from config.
type Options struct {
	EnforceOTP   bool
	RevokeTokens bool
	GhostRole    string
	TargetRole   string // empty falls back to FallbackRole
	ClientID     string // empty skips token issuance (no client context)
}

// OptionsFromConfig derives engine options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		EnforceOTP:   cfg.OTPEnforceOnConversion,
		RevokeTokens: cfg.RevokeTokensOnConversion,
		GhostRole:    cfg.GhostRole,
		TargetRole:   cfg.DefaultRole,
		ClientID:     cfg.ClientID,
	}
}

// Profile carries optional display name updates applied during conversion.
type Profile struct {
	FirstName string
	LastName  string
}

// Result is the outcome of a conversion. Tokens is nil when no client
// context is available or when issuance failed after a completed conversion
// (partial success).
type Result struct {
	IdentityKey   string
	Merged        bool
	Roles         []string
	Tokens        *tokendomain.Pair
	TokensRevoked int
}

// Engine orchestrates conversions.
type Engine struct {
	store   store.Store
	otp     OTPVerifier
	tokens  TokenManager
	opts    Options
	auditor audit.Recorder
	log     zerolog.Logger
}

// NewEngine returns a conversion engine.
func NewEngine(st store.Store, verifier OTPVerifier, tokens TokenManager, opts Options, auditor audit.Recorder, log zerolog.Logger) *Engine {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Engine{store: st, otp: verifier, tokens: tokens, opts: opts, auditor: auditor, log: log}
}

// Convert merges or renames the ghost identified by ghostKey into targetKey.
// The target pre-existing means merge (ghost records are reassigned and the
// ghost row deleted); otherwise the ghost row is renamed in place. Any OTP
// verification failure aborts before state changes. A role-transition failure
// after the identity mutation is surfaced as an error describing the degraded
// state; it is not rolled back. Token issuance failure never fails a
// completed conversion.
func (e *Engine) Convert(ctx context.Context, ghostKey, targetKey string, profile *Profile, code string) (*Result, error) {
	ghost, err := e.store.Get(ctx, ghostKey)
	if err != nil {
		return nil, err
	}
	if ghost == nil {
		return nil, ErrGhostNotFound
	}

	if e.opts.EnforceOTP {
		if code == "" {
			return nil, ErrOTPRequired
		}
		// Ownership of the target address is what the code proves, so it is
		// verified against the target, not the ghost.
		if _, err := e.otp.Verify(ctx, code, targetFor(targetKey), otpdomain.PurposeConversion); err != nil {
			return nil, err
		}
	}

	// Snapshot the ghost's active tokens before the mutation: after a merge
	// the rows belong to the target, and after a rename the ghost key no
	// longer resolves.
	var staleTokenIDs []string
	if e.opts.RevokeTokens && e.tokens != nil {
		staleTokenIDs, err = e.tokens.ActiveTokenIDs(ctx, ghost.ID)
		if err != nil {
			return nil, err
		}
	}

	merged, err := e.store.Exists(ctx, targetKey)
	if err != nil {
		return nil, err
	}

	// The caller may be the ghost itself, which cannot rename or delete
	// identities; elevation is scoped to exactly this mutation.
	err = privilege.RunElevated(ctx, func(ctx context.Context) error {
		return e.store.Rename(ctx, ghostKey, targetKey, merged)
	})
	if err != nil {
		return nil, err
	}

	roles, err := e.transitionRoles(ctx, targetKey)
	if err != nil {
		return nil, fmt.Errorf("identity %s converted but role transition failed (degraded state): %w", targetKey, err)
	}
	if profile != nil && (profile.FirstName != "" || profile.LastName != "") {
		if err := e.store.UpdateProfile(ctx, targetKey, profile.FirstName, profile.LastName); err != nil {
			return nil, fmt.Errorf("identity %s converted but profile update failed: %w", targetKey, err)
		}
	}

	revoked := 0
	if len(staleTokenIDs) > 0 {
		revoked, err = e.tokens.RevokeByIDs(ctx, staleTokenIDs)
		if err != nil {
			return nil, fmt.Errorf("identity %s converted but stale token revocation failed: %w", targetKey, err)
		}
		e.auditor.LogEvent(ctx, targetKey, audit.ActionTokensRevoked, ghostKey, fmt.Sprintf("revoked=%d", revoked))
	}

	res := &Result{
		IdentityKey:   targetKey,
		Merged:        merged,
		Roles:         roles,
		TokensRevoked: revoked,
	}
	if e.opts.ClientID != "" && e.tokens != nil {
		pair, err := e.tokens.Issue(ctx, targetKey, e.opts.ClientID)
		if err != nil {
			// Conversion already succeeded; report partial success.
			e.log.Error().Err(err).Str("identity", targetKey).Msg("token issuance after conversion failed")
		} else {
			res.Tokens = pair
		}
	}

	e.auditor.LogEvent(ctx, targetKey, audit.ActionIdentityConverted, ghostKey, fmt.Sprintf("merged=%t", merged))
	return res, nil
}

// transitionRoles strips the ghost role, adds the configured target role, and
// marks the identity permanent. The role set is never left empty.
func (e *Engine) transitionRoles(ctx context.Context, key string) ([]string, error) {
	ident, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, store.ErrNotFound
	}
	target := e.opts.TargetRole
	if target == "" {
		target = FallbackRole
	}
	var roles []string
	for _, r := range ident.Roles {
		if r != e.opts.GhostRole {
			roles = append(roles, r)
		}
	}
	has := false
	for _, r := range roles {
		if r == target {
			has = true
			break
		}
	}
	if !has {
		roles = append(roles, target)
	}
	if err := e.store.SetRoles(ctx, key, identitydomain.KindPermanent, roles); err != nil {
		return nil, err
	}
	return roles, nil
}

func targetFor(key string) identitydomain.Target {
	return identitydomain.Target{Email: key}
}
