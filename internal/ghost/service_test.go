package ghost

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	identitydomain "ghostauth/internal/identity/domain"
	"ghostauth/internal/identity/store"
	tokendomain "ghostauth/internal/token/domain"
)

type fakeIssuer struct {
	mu     sync.Mutex
	issued []string
	err    error
}

func (f *fakeIssuer) Issue(ctx context.Context, identityKey, clientRef string) (*tokendomain.Pair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.issued = append(f.issued, identityKey)
	return &tokendomain.Pair{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", OwnerKey: identityKey, ClientID: clientRef}, nil
}

func defaultGhostOpts() Options {
	return Options{
		Enabled:     true,
		Role:        "Ghost",
		EmailDomain: "guest.local",
		ClientID:    "web",
	}
}

func TestService_CreateGhostSession(t *testing.T) {
	st := store.NewMemoryStore()
	issuer := &fakeIssuer{}
	s := NewService(st, issuer, defaultGhostOpts(), nil, zerolog.Nop())
	ctx := context.Background()

	sess, err := s.CreateGhostSession(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasSuffix(sess.Identity.Key, "@guest.local") {
		t.Fatalf("key = %q, want synthesized @guest.local address", sess.Identity.Key)
	}
	if sess.Identity.Kind != identitydomain.KindEphemeral {
		t.Fatalf("kind = %q, want ephemeral", sess.Identity.Kind)
	}
	if !sess.Identity.HasRole("Ghost") {
		t.Fatalf("roles = %v, want Ghost", sess.Identity.Roles)
	}
	if sess.Tokens == nil || sess.Tokens.OwnerKey != sess.Identity.Key {
		t.Fatalf("tokens = %+v", sess.Tokens)
	}
	if stored, _ := st.Get(ctx, sess.Identity.Key); stored == nil {
		t.Fatal("identity not persisted")
	}
}

func TestService_AnonymousCallsNeverCollide(t *testing.T) {
	st := store.NewMemoryStore()
	s := NewService(st, &fakeIssuer{}, defaultGhostOpts(), nil, zerolog.Nop())
	ctx := context.Background()

	a, err := s.CreateGhostSession(ctx, "")
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := s.CreateGhostSession(ctx, "")
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	if a.Identity.Key == b.Identity.Key {
		t.Fatalf("both sessions got key %q", a.Identity.Key)
	}
}

func TestService_ExplicitEmailIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	s := NewService(st, &fakeIssuer{}, defaultGhostOpts(), nil, zerolog.Nop())
	ctx := context.Background()

	first, err := s.CreateGhostSession(ctx, "visitor@guest.local")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := s.CreateGhostSession(ctx, "visitor@guest.local")
	if err != nil {
		t.Fatalf("repeat create: %v", err)
	}
	if first.Identity.ID != second.Identity.ID {
		t.Fatal("repeat call created a second identity")
	}
	// Each call still gets its own credentials.
	if second.Tokens == nil {
		t.Fatal("repeat call got no tokens")
	}
}

func TestService_RefusesPermanentKey(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.Create(context.Background(), &identitydomain.Identity{
		ID:    "perm-1",
		Key:   "alice@example.com",
		Kind:  identitydomain.KindPermanent,
		Roles: []string{"Member"},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s := NewService(st, &fakeIssuer{}, defaultGhostOpts(), nil, zerolog.Nop())

	if _, err := s.CreateGhostSession(context.Background(), "alice@example.com"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("err = %v, want store.ErrConflict", err)
	}
}

func TestService_Disabled(t *testing.T) {
	opts := defaultGhostOpts()
	opts.Enabled = false
	s := NewService(store.NewMemoryStore(), &fakeIssuer{}, opts, nil, zerolog.Nop())

	if _, err := s.CreateGhostSession(context.Background(), ""); !errors.Is(err, ErrFeatureDisabled) {
		t.Fatalf("err = %v, want ErrFeatureDisabled", err)
	}
}

func TestService_IssueFailure(t *testing.T) {
	st := store.NewMemoryStore()
	s := NewService(st, &fakeIssuer{err: errors.New("client gone")}, defaultGhostOpts(), nil, zerolog.Nop())

	if _, err := s.CreateGhostSession(context.Background(), ""); err == nil {
		t.Fatal("expected error when issuance fails")
	}
}
