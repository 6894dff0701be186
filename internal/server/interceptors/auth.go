package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	tokendomain "ghostauth/internal/token/domain"
)

const bearerPrefix = "bearer "

// AccessValidator resolves an opaque access token to its active bearer token
// record.
type AccessValidator interface {
	ValidateAccess(ctx context.Context, accessToken string) (*tokendomain.BearerToken, error)
}

// KeyResolver maps a stable identity id to its current key.
type KeyResolver interface {
	KeyByID(ctx context.Context, id string) (string, error)
}

// AuthUnary returns a unary server interceptor that validates the Bearer
// access token from gRPC metadata and sets the actor identity in context.
// publicMethods is the set of full method names that do not require a token
// (e.g. Login, GenerateOTP, CreateGhostSession, health checks). A valid token
// on a public method still resolves the actor, which is how ghost callers are
// recognized during conversion.
func AuthUnary(tokens AccessValidator, identities KeyResolver, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		token := extractBearer(ctx)
		public := publicMethods[info.FullMethod]

		if token == "" {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		bt, err := tokens.ValidateAccess(ctx, token)
		if err != nil {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		key, err := identities.KeyByID(ctx, bt.OwnerID)
		if err != nil || key == "" {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		ctx = WithActor(ctx, key, bt.OwnerID)
		return handler(ctx, req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing
// or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
