// Package server assembles the gRPC server: the interceptor chain (access
// log, bearer auth, audit), the OTel stats handler, and the standard health
// service.
package server

import (
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"ghostauth/internal/audit"
	"ghostauth/internal/server/interceptors"
)

// Deps holds the dependencies the server assembly needs. Tokens and
// Identities drive bearer auth; Auditor records per-RPC audit entries (nil
// disables the interceptor).
type Deps struct {
	Tokens     interceptors.AccessValidator
	Identities interceptors.KeyResolver
	Auditor    audit.Recorder
	Log        zerolog.Logger
	// Public lists additional full method names reachable without a bearer
	// token. Health methods are always public.
	Public map[string]bool
}

var healthMethods = map[string]bool{
	"/grpc.health.v1.Health/Check": true,
	"/grpc.health.v1.Health/Watch": true,
}

// New returns the configured gRPC server and its health reporter. The caller
// flips the health status once its dependencies are ready.
func New(deps Deps) (*grpc.Server, *health.Server) {
	public := make(map[string]bool, len(healthMethods)+len(deps.Public))
	for m := range healthMethods {
		public[m] = true
	}
	for m := range deps.Public {
		public[m] = true
	}
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.LoggingUnary(deps.Log, healthMethods),
			interceptors.AuthUnary(deps.Tokens, deps.Identities, public),
			interceptors.AuditUnary(deps.Auditor, healthMethods),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)
	return s, hs
}
