package interceptors

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	"ghostauth/internal/audit"
)

// AuditUnary returns a unary server interceptor that records an audit entry
// after each authenticated RPC. skipMethods is the set of full method names
// to not audit (health checks). Recording is best-effort and never fails the
// RPC; unauthenticated calls are skipped since the domain services audit
// those flows themselves.
func AuditUnary(rec audit.Recorder, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if rec == nil || skipMethods[info.FullMethod] {
			return resp, err
		}
		actor, ok := ActorKey(ctx)
		if !ok || actor == "" {
			return resp, err
		}
		rec.LogEvent(ctx, actor, "rpc"+strings.ReplaceAll(info.FullMethod, "/", "."), info.FullMethod, "")
		return resp, err
	}
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for,
// x-real-ip) or peer, or "unknown". It satisfies audit.IPExtractor.
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				if i := strings.Index(s, ","); i > 0 {
					s = strings.TrimSpace(s[:i])
				}
				return s
			}
		}
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				return s
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
