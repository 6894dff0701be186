// Package otp generates, stores, and verifies one-time passcodes. It owns the
// expiry and attempt-limit policy and the single-active-challenge invariant:
// at most one Valid challenge exists per (target, purpose) at any instant.
package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ghostauth/internal/audit"
	"ghostauth/internal/config"
	"ghostauth/internal/delivery"
	identitydomain "ghostauth/internal/identity/domain"
	"ghostauth/internal/identity/store"
	"ghostauth/internal/keymutex"
	"ghostauth/internal/otp/domain"
	"ghostauth/internal/otp/repository"
	"ghostauth/internal/security"
)

// Sentinel errors for the OTP manager. Callers must not surface which lookup
// detail failed beyond these buckets.
var (
	ErrMissingContact = errors.New("a contact point matching the delivery method is required")
	ErrRateLimited    = errors.New("maximum OTP attempts reached; try again in an hour")
	ErrInvalidCode    = errors.New("invalid code")
	ErrCodeExpired    = errors.New("code has expired")
)

// rateWindow is the sliding window the attempt cap is measured over.
const rateWindow = time.Hour

// Options is the policy surface of the manager, derived from config.
type Options struct {
	Length         int
	Alphabet       string // config.OTPAlphabetNumeric or ...Alphanumeric
	Delivery       string // config.DeliveryEmail, ...SMS, or ...Both
	Expiry         time.Duration
	MaxPerHour     int
	AllowAnonymous bool
	Sandbox        bool
	SandboxCode    string
	SendTimeout    time.Duration
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	alphabet := AlphabetNumeric
	if cfg.OTPAlphabet == config.OTPAlphabetAlphanumeric {
		alphabet = AlphabetAlphanumeric
	}
	return Options{
		Length:         cfg.OTPLength,
		Alphabet:       alphabet,
		Delivery:       cfg.OTPDelivery,
		Expiry:         cfg.OTPExpiry(),
		MaxPerHour:     cfg.OTPMaxPerHour,
		AllowAnonymous: cfg.OTPAllowAnonymous,
		Sandbox:        cfg.SandboxMode,
		SandboxCode:    cfg.SandboxCode,
		SendTimeout:    cfg.DeliveryTimeoutDuration(),
	}
}

// RatePolicy decides whether another challenge may be created for a target.
type RatePolicy interface {
	Allow(ctx context.Context, target identitydomain.Target) error
}

// WindowPolicy is the default RatePolicy: it counts challenges created for
// the target within the sliding window and rejects at the configured cap.
type WindowPolicy struct {
	Repo repository.Repository
	Max  int
}

// Allow implements RatePolicy.
func (p WindowPolicy) Allow(ctx context.Context, target identitydomain.Target) error {
	n, err := p.Repo.CountCreatedSince(ctx, target, time.Now().UTC().Add(-rateWindow))
	if err != nil {
		return err
	}
	if n >= p.Max {
		return ErrRateLimited
	}
	return nil
}

// GenerateResult is the outcome of Generate. When Sandbox is true the
// ChallengeID is empty and must not be treated as usable.
type GenerateResult struct {
	Code        string
	ChallengeID string
	Delivered   bool
	Sandbox     bool
}

// VerifyResult is the outcome of a successful Verify.
type VerifyResult struct {
	Valid   bool
	Sandbox bool
	// BoundIdentityID is the identity the challenge was bound to at
	// generation time, if any.
	BoundIdentityID string
}

// Manager generates and verifies challenges.
type Manager struct {
	repo       repository.Repository
	identities store.Store // read-only, to bind challenges to known identities
	channel    delivery.Channel
	rate       RatePolicy
	opts       Options
	locks      *keymutex.Mutex
	auditor    audit.Recorder
	log        zerolog.Logger
}

// NewManager returns an OTP manager. identities and channel may be nil (no
// binding, no delivery); rate may be nil to use the default window policy.
func NewManager(repo repository.Repository, identities store.Store, channel delivery.Channel, rate RatePolicy, opts Options, auditor audit.Recorder, log zerolog.Logger) *Manager {
	if rate == nil {
		rate = WindowPolicy{Repo: repo, Max: opts.MaxPerHour}
	}
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Manager{
		repo:       repo,
		identities: identities,
		channel:    channel,
		rate:       rate,
		opts:       opts,
		locks:      keymutex.New(),
		auditor:    auditor,
		log:        log,
	}
}

// Generate creates a new challenge for the target and purpose, invalidating
// any prior Valid challenge for the same pair, and best-effort delivers the
// code unless deliver is false. Delivery failure does not fail generation.
//
// In sandbox mode the fixed configured code is returned immediately: nothing
// is persisted and nothing is delivered.
func (m *Manager) Generate(ctx context.Context, target identitydomain.Target, purpose domain.Purpose, deliver bool) (*GenerateResult, error) {
	if purpose == "" {
		purpose = domain.PurposeLogin
	}
	if m.opts.Sandbox {
		return &GenerateResult{Code: m.opts.SandboxCode, Sandbox: true}, nil
	}
	if !m.opts.AllowAnonymous {
		if (m.opts.Delivery == config.DeliveryEmail || m.opts.Delivery == config.DeliveryBoth) && target.Email == "" {
			return nil, ErrMissingContact
		}
		if (m.opts.Delivery == config.DeliverySMS || m.opts.Delivery == config.DeliveryBoth) && target.Phone == "" {
			return nil, ErrMissingContact
		}
	}
	if err := m.rate.Allow(ctx, target); err != nil {
		return nil, err
	}

	code, err := GenerateCode(m.opts.Length, m.opts.Alphabet)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	c := &domain.Challenge{
		ID:             uuid.New().String(),
		CodeHash:       security.HashSecret(code),
		Email:          target.Email,
		Phone:          target.Phone,
		Purpose:        purpose,
		Status:         domain.StatusValid,
		DeliveryMethod: m.opts.Delivery,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.opts.Expiry),
	}
	if m.identities != nil {
		if key := target.Key(); key != "" {
			if ident, err := m.identities.Get(ctx, key); err == nil && ident != nil {
				c.BoundIdentityID = ident.ID
			}
		}
	}

	// Invalidate-then-create must be atomic per target: serialize concurrent
	// generates for the same key.
	unlock := m.locks.Lock(lockKey(target, purpose))
	err = func() error {
		defer unlock()
		if _, err := m.repo.ExpireValidByTarget(ctx, target, purpose, c.ID); err != nil {
			return err
		}
		return m.repo.Create(ctx, c)
	}()
	if err != nil {
		return nil, err
	}

	delivered := false
	if deliver && m.channel != nil {
		sendCtx, cancel := context.WithTimeout(ctx, m.opts.SendTimeout)
		delivered = m.channel.Send(sendCtx, target, string(purpose), code)
		cancel()
		if !delivered {
			m.log.Warn().Str("purpose", string(purpose)).Msg("otp generated but delivery failed")
		}
	}

	m.auditor.LogEvent(ctx, target.Key(), audit.ActionOTPGenerated, c.ID, string(purpose))
	return &GenerateResult{Code: code, ChallengeID: c.ID, Delivered: delivered}, nil
}

// Verify checks code against the Valid challenge for target and purpose. On
// success the challenge is atomically transitioned to Consumed, so presenting
// the same code again fails with ErrInvalidCode. Expiry is re-checked here:
// an expired challenge is transitioned to Expired and ErrCodeExpired is
// returned.
//
// In sandbox mode the code is compared byte-for-byte against the configured
// fixed code and no state is touched.
func (m *Manager) Verify(ctx context.Context, code string, target identitydomain.Target, purpose domain.Purpose) (*VerifyResult, error) {
	if purpose == "" {
		purpose = domain.PurposeLogin
	}
	if m.opts.Sandbox {
		if subtle.ConstantTimeCompare([]byte(code), []byte(m.opts.SandboxCode)) == 1 {
			return &VerifyResult{Valid: true, Sandbox: true}, nil
		}
		return nil, ErrInvalidCode
	}
	if code == "" {
		return nil, ErrInvalidCode
	}
	// A target-less lookup matches by code+purpose alone; allow it only when
	// anonymous challenges are explicitly enabled.
	if target.Empty() && !m.opts.AllowAnonymous {
		return nil, ErrInvalidCode
	}

	c, err := m.repo.FindValidByCodeHash(ctx, security.HashSecret(code), purpose, target)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrInvalidCode
	}

	now := time.Now().UTC()
	if c.ExpiredAt(now) {
		_, _ = m.repo.TransitionStatus(ctx, c.ID, domain.StatusValid, domain.StatusExpired)
		return nil, ErrCodeExpired
	}

	// Consuming is the replay guard: only one caller can win the transition.
	ok, err := m.repo.TransitionStatus(ctx, c.ID, domain.StatusValid, domain.StatusConsumed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCode
	}

	m.auditor.LogEvent(ctx, target.Key(), audit.ActionOTPVerified, c.ID, string(purpose))
	return &VerifyResult{Valid: true, BoundIdentityID: c.BoundIdentityID}, nil
}

func lockKey(target identitydomain.Target, purpose domain.Purpose) string {
	return target.Email + "|" + target.Phone + "|" + string(purpose)
}
