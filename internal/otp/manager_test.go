package otp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ghostauth/internal/config"
	identitydomain "ghostauth/internal/identity/domain"
	"ghostauth/internal/identity/store"
	"ghostauth/internal/otp/domain"
	"ghostauth/internal/security"
)

type memChallengeRepo struct {
	mu sync.Mutex
	m  map[string]*domain.Challenge
}

func newMemChallengeRepo() *memChallengeRepo {
	return &memChallengeRepo{m: make(map[string]*domain.Challenge)}
}

func (r *memChallengeRepo) Create(ctx context.Context, c *domain.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.m[c.ID] = &cp
	return nil
}

func (r *memChallengeRepo) FindValidByCodeHash(ctx context.Context, codeHash string, purpose domain.Purpose, target identitydomain.Target) (*domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.m {
		if c.Status != domain.StatusValid || c.CodeHash != codeHash || c.Purpose != purpose {
			continue
		}
		if target.Email != "" && c.Email != target.Email {
			continue
		}
		if target.Phone != "" && c.Phone != target.Phone {
			continue
		}
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (r *memChallengeRepo) ExpireValidByTarget(ctx context.Context, target identitydomain.Target, purpose domain.Purpose, exceptID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.m {
		if c.Status != domain.StatusValid || c.Purpose != purpose || c.ID == exceptID {
			continue
		}
		if c.Email != target.Email || c.Phone != target.Phone {
			continue
		}
		c.Status = domain.StatusExpired
		n++
	}
	return n, nil
}

func (r *memChallengeRepo) TransitionStatus(ctx context.Context, id string, from, to domain.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.m[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	return true, nil
}

func (r *memChallengeRepo) CountCreatedSince(ctx context.Context, target identitydomain.Target, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.m {
		if c.Email == target.Email && c.Phone == target.Phone && !c.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *memChallengeRepo) ListValidExpiredBefore(ctx context.Context, now time.Time) ([]*domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Challenge
	for _, c := range r.m {
		if c.Status == domain.StatusValid && c.ExpiresAt.Before(now) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memChallengeRepo) get(id string) *domain.Challenge {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m[id]
}

type fakeChannel struct {
	mu    sync.Mutex
	sent  []string
	fails bool
}

func (f *fakeChannel) Send(ctx context.Context, target identitydomain.Target, purpose, code string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails {
		return false
	}
	f.sent = append(f.sent, code)
	return true
}

func defaultOpts() Options {
	return Options{
		Length:      6,
		Alphabet:    AlphabetNumeric,
		Delivery:    config.DeliveryEmail,
		Expiry:      10 * time.Minute,
		MaxPerHour:  5,
		SendTimeout: time.Second,
	}
}

func emailTarget(addr string) identitydomain.Target {
	return identitydomain.Target{Email: addr}
}

func TestManager_GenerateAndVerify(t *testing.T) {
	repo := newMemChallengeRepo()
	ch := &fakeChannel{}
	m := NewManager(repo, nil, ch, nil, defaultOpts(), nil, zerolog.Nop())
	ctx := context.Background()
	target := emailTarget("alice@example.com")

	res, err := m.Generate(ctx, target, domain.PurposeLogin, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(res.Code) != 6 || strings.Trim(res.Code, "0123456789") != "" {
		t.Fatalf("code = %q, want 6 digits", res.Code)
	}
	if !res.Delivered {
		t.Fatal("expected delivery")
	}
	stored := repo.get(res.ChallengeID)
	if stored == nil {
		t.Fatal("challenge not persisted")
	}
	if stored.CodeHash == res.Code {
		t.Fatal("code stored in clear")
	}
	if stored.CodeHash != security.HashSecret(res.Code) {
		t.Fatal("stored hash does not match code")
	}

	v, err := m.Verify(ctx, res.Code, target, domain.PurposeLogin)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !v.Valid {
		t.Fatal("expected valid result")
	}
	if repo.get(res.ChallengeID).Status != domain.StatusConsumed {
		t.Fatal("challenge not consumed")
	}

	// Replaying a consumed code fails.
	if _, err := m.Verify(ctx, res.Code, target, domain.PurposeLogin); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("replay err = %v, want ErrInvalidCode", err)
	}
}

func TestManager_GenerateExpiresPrior(t *testing.T) {
	repo := newMemChallengeRepo()
	m := NewManager(repo, nil, nil, nil, defaultOpts(), nil, zerolog.Nop())
	ctx := context.Background()
	target := emailTarget("alice@example.com")

	first, err := m.Generate(ctx, target, domain.PurposeLogin, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := m.Generate(ctx, target, domain.PurposeLogin, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if repo.get(first.ChallengeID).Status != domain.StatusExpired {
		t.Fatal("prior challenge still valid after regeneration")
	}
	if repo.get(second.ChallengeID).Status != domain.StatusValid {
		t.Fatal("fresh challenge not valid")
	}
	if _, err := m.Verify(ctx, first.Code, target, domain.PurposeLogin); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("stale code err = %v, want ErrInvalidCode", err)
	}
}

func TestManager_RateLimit(t *testing.T) {
	repo := newMemChallengeRepo()
	opts := defaultOpts()
	opts.MaxPerHour = 3
	m := NewManager(repo, nil, nil, nil, opts, nil, zerolog.Nop())
	ctx := context.Background()
	target := emailTarget("alice@example.com")

	for i := 0; i < 3; i++ {
		if _, err := m.Generate(ctx, target, domain.PurposeLogin, false); err != nil {
			t.Fatalf("generate %d: %v", i, err)
		}
	}
	if _, err := m.Generate(ctx, target, domain.PurposeLogin, false); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	// The cap is per target.
	if _, err := m.Generate(ctx, emailTarget("bob@example.com"), domain.PurposeLogin, false); err != nil {
		t.Fatalf("other target: %v", err)
	}
}

func TestManager_VerifyLazyExpiry(t *testing.T) {
	repo := newMemChallengeRepo()
	opts := defaultOpts()
	opts.Expiry = -time.Minute
	m := NewManager(repo, nil, nil, nil, opts, nil, zerolog.Nop())
	ctx := context.Background()
	target := emailTarget("alice@example.com")

	res, err := m.Generate(ctx, target, domain.PurposeLogin, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := m.Verify(ctx, res.Code, target, domain.PurposeLogin); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("err = %v, want ErrCodeExpired", err)
	}
	// Verify marked the overdue challenge expired.
	if repo.get(res.ChallengeID).Status != domain.StatusExpired {
		t.Fatal("overdue challenge not transitioned to expired")
	}
}

func TestManager_Sandbox(t *testing.T) {
	repo := newMemChallengeRepo()
	ch := &fakeChannel{}
	opts := defaultOpts()
	opts.Sandbox = true
	opts.SandboxCode = "000141"
	m := NewManager(repo, nil, ch, nil, opts, nil, zerolog.Nop())
	ctx := context.Background()
	target := emailTarget("alice@example.com")

	res, err := m.Generate(ctx, target, domain.PurposeLogin, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Code != "000141" || !res.Sandbox {
		t.Fatalf("res = %+v, want sandbox code", res)
	}
	if len(repo.m) != 0 {
		t.Fatal("sandbox generate must not persist")
	}
	if len(ch.sent) != 0 {
		t.Fatal("sandbox generate must not deliver")
	}

	v, err := m.Verify(ctx, "000141", target, domain.PurposeLogin)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !v.Valid || !v.Sandbox {
		t.Fatalf("v = %+v, want sandbox valid", v)
	}
	if _, err := m.Verify(ctx, "999999", target, domain.PurposeLogin); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("wrong code err = %v, want ErrInvalidCode", err)
	}
}

func TestManager_MissingContact(t *testing.T) {
	m := NewManager(newMemChallengeRepo(), nil, nil, nil, defaultOpts(), nil, zerolog.Nop())
	if _, err := m.Generate(context.Background(), identitydomain.Target{}, domain.PurposeLogin, false); !errors.Is(err, ErrMissingContact) {
		t.Fatalf("err = %v, want ErrMissingContact", err)
	}

	opts := defaultOpts()
	opts.Delivery = config.DeliveryBoth
	m = NewManager(newMemChallengeRepo(), nil, nil, nil, opts, nil, zerolog.Nop())
	if _, err := m.Generate(context.Background(), emailTarget("alice@example.com"), domain.PurposeLogin, false); !errors.Is(err, ErrMissingContact) {
		t.Fatalf("both-channel without phone err = %v, want ErrMissingContact", err)
	}
}

func TestManager_AnonymousVerifyDisabled(t *testing.T) {
	repo := newMemChallengeRepo()
	m := NewManager(repo, nil, nil, nil, defaultOpts(), nil, zerolog.Nop())
	ctx := context.Background()

	res, err := m.Generate(ctx, emailTarget("alice@example.com"), domain.PurposeLogin, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	// Target-less verification is rejected unless anonymous challenges are on.
	if _, err := m.Verify(ctx, res.Code, identitydomain.Target{}, domain.PurposeLogin); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("err = %v, want ErrInvalidCode", err)
	}
}

func TestManager_AnonymousAllowed(t *testing.T) {
	repo := newMemChallengeRepo()
	opts := defaultOpts()
	opts.AllowAnonymous = true
	m := NewManager(repo, nil, nil, nil, opts, nil, zerolog.Nop())
	ctx := context.Background()

	res, err := m.Generate(ctx, identitydomain.Target{}, domain.PurposeSignUp, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	v, err := m.Verify(ctx, res.Code, identitydomain.Target{}, domain.PurposeSignUp)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !v.Valid {
		t.Fatal("expected valid result")
	}
}

func TestManager_DeliveryFailureNonFatal(t *testing.T) {
	repo := newMemChallengeRepo()
	ch := &fakeChannel{fails: true}
	m := NewManager(repo, nil, ch, nil, defaultOpts(), nil, zerolog.Nop())
	ctx := context.Background()
	target := emailTarget("alice@example.com")

	res, err := m.Generate(ctx, target, domain.PurposeLogin, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Delivered {
		t.Fatal("expected delivery failure to be reported")
	}
	// The code is still usable.
	if _, err := m.Verify(ctx, res.Code, target, domain.PurposeLogin); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestManager_BindsKnownIdentity(t *testing.T) {
	repo := newMemChallengeRepo()
	identities := store.NewMemoryStore()
	if err := identities.Create(context.Background(), &identitydomain.Identity{
		ID:    "id-7",
		Key:   "alice@example.com",
		Kind:  identitydomain.KindPermanent,
		Roles: []string{"Member"},
	}); err != nil {
		t.Fatalf("create identity: %v", err)
	}
	m := NewManager(repo, identities, nil, nil, defaultOpts(), nil, zerolog.Nop())
	ctx := context.Background()
	target := emailTarget("alice@example.com")

	res, err := m.Generate(ctx, target, domain.PurposeLogin, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	v, err := m.Verify(ctx, res.Code, target, domain.PurposeLogin)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if v.BoundIdentityID != "id-7" {
		t.Fatalf("bound identity = %q, want id-7", v.BoundIdentityID)
	}
}
