package interceptors

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	tokendomain "ghostauth/internal/token/domain"
)

type fakeValidator struct {
	token   string
	ownerID string
}

func (f *fakeValidator) ValidateAccess(ctx context.Context, accessToken string) (*tokendomain.BearerToken, error) {
	if accessToken != f.token {
		return nil, errors.New("invalid or expired access token")
	}
	return &tokendomain.BearerToken{ID: "t1", OwnerID: f.ownerID, Status: tokendomain.StatusActive}, nil
}

type fakeResolver map[string]string

func (f fakeResolver) KeyByID(ctx context.Context, id string) (string, error) {
	return f[id], nil
}

func withAuthHeader(ctx context.Context, value string) context.Context {
	return metadata.NewIncomingContext(ctx, metadata.Pairs("authorization", value))
}

func callInfo(method string) *grpc.UnaryServerInfo {
	return &grpc.UnaryServerInfo{FullMethod: method}
}

func TestAuthUnary_ValidToken(t *testing.T) {
	ic := AuthUnary(&fakeValidator{token: "secret", ownerID: "id-1"}, fakeResolver{"id-1": "alice@example.com"}, nil)
	ctx := withAuthHeader(context.Background(), "Bearer secret")

	var gotKey, gotID string
	_, err := ic(ctx, nil, callInfo("/ghost.v1.Auth/Whoami"), func(ctx context.Context, req interface{}) (interface{}, error) {
		gotKey, _ = ActorKey(ctx)
		gotID, _ = ActorID(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("intercept: %v", err)
	}
	if gotKey != "alice@example.com" || gotID != "id-1" {
		t.Fatalf("actor = %q/%q", gotKey, gotID)
	}
}

func TestAuthUnary_MissingToken(t *testing.T) {
	ic := AuthUnary(&fakeValidator{token: "secret", ownerID: "id-1"}, fakeResolver{}, nil)

	_, err := ic(context.Background(), nil, callInfo("/ghost.v1.Auth/Whoami"), func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatal("handler reached without a token")
		return nil, nil
	})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %v, want Unauthenticated", status.Code(err))
	}
}

func TestAuthUnary_InvalidToken(t *testing.T) {
	ic := AuthUnary(&fakeValidator{token: "secret", ownerID: "id-1"}, fakeResolver{}, nil)
	ctx := withAuthHeader(context.Background(), "Bearer wrong")

	_, err := ic(ctx, nil, callInfo("/ghost.v1.Auth/Whoami"), func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatal("handler reached with a bad token")
		return nil, nil
	})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %v, want Unauthenticated", status.Code(err))
	}
}

func TestAuthUnary_PublicMethodWithoutToken(t *testing.T) {
	public := map[string]bool{"/ghost.v1.Auth/Login": true}
	ic := AuthUnary(&fakeValidator{token: "secret", ownerID: "id-1"}, fakeResolver{}, public)

	called := false
	_, err := ic(context.Background(), nil, callInfo("/ghost.v1.Auth/Login"), func(ctx context.Context, req interface{}) (interface{}, error) {
		called = true
		if _, ok := ActorKey(ctx); ok {
			t.Fatal("anonymous call has an actor")
		}
		return nil, nil
	})
	if err != nil || !called {
		t.Fatalf("err = %v, called = %t", err, called)
	}
}

func TestAuthUnary_PublicMethodResolvesActor(t *testing.T) {
	// A ghost presenting its token on a public method (e.g. Login for
	// conversion) must still be recognized.
	public := map[string]bool{"/ghost.v1.Auth/Login": true}
	ic := AuthUnary(&fakeValidator{token: "secret", ownerID: "ghost-1"}, fakeResolver{"ghost-1": "ghost_ab@guest.local"}, public)
	ctx := withAuthHeader(context.Background(), "bearer secret")

	_, err := ic(ctx, nil, callInfo("/ghost.v1.Auth/Login"), func(ctx context.Context, req interface{}) (interface{}, error) {
		if key, _ := ActorKey(ctx); key != "ghost_ab@guest.local" {
			t.Fatalf("actor = %q", key)
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("intercept: %v", err)
	}
}

func TestExtractBearer(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"  Bearer   abc  ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tc := range cases {
		ctx := withAuthHeader(context.Background(), tc.header)
		if got := extractBearer(ctx); got != tc.want {
			t.Errorf("extractBearer(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
	if got := extractBearer(context.Background()); got != "" {
		t.Errorf("extractBearer(no metadata) = %q, want empty", got)
	}
}
