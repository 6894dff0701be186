package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"ghostauth/internal/config"
	"ghostauth/internal/convert"
	"ghostauth/internal/identity/domain"
	"ghostauth/internal/identity/store"
	"ghostauth/internal/otp"
	otpdomain "ghostauth/internal/otp/domain"
	tokendomain "ghostauth/internal/token/domain"
)

type fakeVerifier struct {
	accept string
	calls  int
}

func (f *fakeVerifier) Verify(ctx context.Context, code string, target domain.Target, purpose otpdomain.Purpose) (*otp.VerifyResult, error) {
	f.calls++
	if code != f.accept {
		return nil, otp.ErrInvalidCode
	}
	return &otp.VerifyResult{Valid: true}, nil
}

type fakeIssuer struct {
	clients []string
	err     error
}

func (f *fakeIssuer) Issue(ctx context.Context, identityKey, clientRef string) (*tokendomain.Pair, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.clients = append(f.clients, clientRef)
	return &tokendomain.Pair{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", OwnerKey: identityKey, ClientID: clientRef}, nil
}

type fakeConverter struct {
	lastGhost  string
	lastTarget string
	lastCode   string
}

func (f *fakeConverter) Convert(ctx context.Context, ghostKey, targetKey string, profile *convert.Profile, code string) (*convert.Result, error) {
	f.lastGhost, f.lastTarget, f.lastCode = ghostKey, targetKey, code
	return &convert.Result{IdentityKey: targetKey, Merged: false}, nil
}

func testConfig() *config.Config {
	return &config.Config{DefaultRole: "Member"}
}

func TestAuthService_LoginCreatesIdentity(t *testing.T) {
	st := store.NewMemoryStore()
	issuer := &fakeIssuer{}
	svc := NewAuthService(st, &fakeVerifier{accept: "123456"}, issuer, nil, testConfig(), nil, zerolog.Nop())
	ctx := context.Background()

	res, err := svc.Login(ctx, "", "123456", domain.Target{Email: "alice@example.com"}, &convert.Profile{FirstName: "Alice"}, "web")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !res.Created || res.Converted {
		t.Fatalf("res = %+v, want fresh non-converted identity", res)
	}
	if res.Tokens == nil {
		t.Fatal("expected tokens")
	}

	ident, _ := st.Get(ctx, "alice@example.com")
	if ident == nil {
		t.Fatal("identity not created")
	}
	if ident.Kind != domain.KindPermanent || !ident.HasRole("Member") {
		t.Fatalf("identity = %+v", ident)
	}
	if ident.FirstName != "Alice" {
		t.Fatalf("first name = %q", ident.FirstName)
	}
}

func TestAuthService_LoginExistingIdentity(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.Create(context.Background(), &domain.Identity{
		ID:    "id-1",
		Key:   "alice@example.com",
		Kind:  domain.KindPermanent,
		Roles: []string{"Member", "Admin"},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := NewAuthService(st, &fakeVerifier{accept: "123456"}, &fakeIssuer{}, nil, testConfig(), nil, zerolog.Nop())

	res, err := svc.Login(context.Background(), "", "123456", domain.Target{Email: "alice@example.com"}, nil, "web")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Created {
		t.Fatal("existing identity reported as created")
	}
	ident, _ := st.Get(context.Background(), "alice@example.com")
	if !ident.HasRole("Admin") {
		t.Fatal("existing roles clobbered by login")
	}
}

func TestAuthService_LoginWrongCode(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewAuthService(st, &fakeVerifier{accept: "123456"}, &fakeIssuer{}, nil, testConfig(), nil, zerolog.Nop())

	if _, err := svc.Login(context.Background(), "", "999999", domain.Target{Email: "alice@example.com"}, nil, "web"); !errors.Is(err, otp.ErrInvalidCode) {
		t.Fatalf("err = %v, want otp.ErrInvalidCode", err)
	}
	if ident, _ := st.Get(context.Background(), "alice@example.com"); ident != nil {
		t.Fatal("identity created despite failed verification")
	}
}

func TestAuthService_LoginMissingTarget(t *testing.T) {
	svc := NewAuthService(store.NewMemoryStore(), &fakeVerifier{accept: "123456"}, &fakeIssuer{}, nil, testConfig(), nil, zerolog.Nop())
	if _, err := svc.Login(context.Background(), "", "123456", domain.Target{}, nil, "web"); !errors.Is(err, ErrMissingTarget) {
		t.Fatalf("err = %v, want ErrMissingTarget", err)
	}
}

func TestAuthService_LoginPhoneTarget(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewAuthService(st, &fakeVerifier{accept: "123456"}, &fakeIssuer{}, nil, testConfig(), nil, zerolog.Nop())

	res, err := svc.Login(context.Background(), "", "123456", domain.Target{Phone: "+15550100"}, nil, "web")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.IdentityKey != "+15550100@mobile.login" {
		t.Fatalf("key = %q, want synthesized mobile handle", res.IdentityKey)
	}
	ident, _ := st.Get(context.Background(), res.IdentityKey)
	if ident == nil || ident.Phone != "+15550100" {
		t.Fatalf("identity = %+v", ident)
	}
}

func TestAuthService_GhostActorRoutedToConversion(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.Create(context.Background(), &domain.Identity{
		ID:    "ghost-1",
		Key:   "ghost_ab12cd34@guest.local",
		Kind:  domain.KindEphemeral,
		Roles: []string{"Ghost"},
	}); err != nil {
		t.Fatalf("seed ghost: %v", err)
	}
	verifier := &fakeVerifier{accept: "123456"}
	conv := &fakeConverter{}
	svc := NewAuthService(st, verifier, &fakeIssuer{}, conv, testConfig(), nil, zerolog.Nop())

	res, err := svc.Login(context.Background(), "ghost_ab12cd34@guest.local", "123456", domain.Target{Email: "alice@example.com"}, nil, "web")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !res.Converted {
		t.Fatal("ghost caller not routed to conversion")
	}
	if conv.lastGhost != "ghost_ab12cd34@guest.local" || conv.lastTarget != "alice@example.com" || conv.lastCode != "123456" {
		t.Fatalf("converter got %q -> %q code %q", conv.lastGhost, conv.lastTarget, conv.lastCode)
	}
	// The conversion engine owns verification on this path.
	if verifier.calls != 0 {
		t.Fatal("auth service double-verified the code")
	}
}

func TestAuthService_PermanentActorNotConverted(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.Create(context.Background(), &domain.Identity{
		ID:    "perm-1",
		Key:   "bob@example.com",
		Kind:  domain.KindPermanent,
		Roles: []string{"Member"},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	conv := &fakeConverter{}
	svc := NewAuthService(st, &fakeVerifier{accept: "123456"}, &fakeIssuer{}, conv, testConfig(), nil, zerolog.Nop())

	res, err := svc.Login(context.Background(), "bob@example.com", "123456", domain.Target{Email: "alice@example.com"}, nil, "web")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Converted || conv.lastGhost != "" {
		t.Fatal("permanent actor was routed to conversion")
	}
}

func TestAuthService_ClientPinning(t *testing.T) {
	cfg := testConfig()
	cfg.ClientID = "pinned"
	issuer := &fakeIssuer{}
	svc := NewAuthService(store.NewMemoryStore(), &fakeVerifier{accept: "123456"}, issuer, nil, cfg, nil, zerolog.Nop())

	if _, err := svc.Login(context.Background(), "", "123456", domain.Target{Email: "alice@example.com"}, nil, "caller-supplied"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if len(issuer.clients) != 1 || issuer.clients[0] != "pinned" {
		t.Fatalf("issued for clients %v, want the pinned id", issuer.clients)
	}
}

func TestAuthService_PartialSuccessOnIssueFailure(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewAuthService(st, &fakeVerifier{accept: "123456"}, &fakeIssuer{err: errors.New("client gone")}, nil, testConfig(), nil, zerolog.Nop())

	res, err := svc.Login(context.Background(), "", "123456", domain.Target{Email: "alice@example.com"}, nil, "web")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Tokens != nil {
		t.Fatal("tokens present despite issuance failure")
	}
	if ident, _ := st.Get(context.Background(), "alice@example.com"); ident == nil {
		t.Fatal("identity creation rolled back on token failure")
	}
}

func TestAuthService_NoClientNoTokens(t *testing.T) {
	issuer := &fakeIssuer{}
	svc := NewAuthService(store.NewMemoryStore(), &fakeVerifier{accept: "123456"}, issuer, nil, testConfig(), nil, zerolog.Nop())

	res, err := svc.Login(context.Background(), "", "123456", domain.Target{Email: "alice@example.com"}, nil, "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Tokens != nil || len(issuer.clients) != 0 {
		t.Fatal("tokens issued without a client context")
	}
}
