// server runs the service endpoints: a JSON API for the identity operations,
// a gRPC endpoint carrying bearer-token authentication, per-RPC audit, the
// standard health service, and OTLP trace/log export. Configure via env or a
// .env file (see internal/config).
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"ghostauth/internal/audit"
	auditrepo "ghostauth/internal/audit/repository"
	"ghostauth/internal/config"
	"ghostauth/internal/convert"
	"ghostauth/internal/db"
	"ghostauth/internal/delivery"
	"ghostauth/internal/ghost"
	"ghostauth/internal/identity/service"
	identitystore "ghostauth/internal/identity/store"
	"ghostauth/internal/otp"
	otprepo "ghostauth/internal/otp/repository"
	"ghostauth/internal/server"
	"ghostauth/internal/server/httpapi"
	"ghostauth/internal/server/interceptors"
	"ghostauth/internal/telemetry/otel"
	"ghostauth/internal/token"
	tokenrepo "ghostauth/internal/token/repository"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "ghostauth").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "ghostauth", cfg.OTLPInsecure)
	if err != nil {
		log.Fatal().Err(err).Msg("telemetry")
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	defer conn.Close()

	store := identitystore.NewPostgresStore(conn)
	auditor := audit.NewLogger(
		auditrepo.NewPostgresRepository(conn),
		audit.NewOTelEmitter(providers.LoggerProvider),
		interceptors.ClientIP,
		log,
	)
	issuer := token.NewIssuer(
		tokenrepo.NewPostgresRepository(conn),
		tokenrepo.NewPostgresClientRepository(conn),
		store,
		cfg.AccessTTL(),
		cfg.RefreshTTL(),
		auditor,
		log,
	)
	otps := otp.NewManager(
		otprepo.NewPostgresRepository(conn),
		store,
		deliveryChannel(cfg, log),
		nil,
		otp.OptionsFromConfig(cfg),
		auditor,
		log,
	)
	engine := convert.NewEngine(store, otps, issuer, convert.OptionsFromConfig(cfg), auditor, log)
	ghosts := ghost.NewService(store, issuer, ghost.Options{
		Enabled:     cfg.GhostEnabled,
		Role:        cfg.GhostRole,
		EmailDomain: cfg.GhostEmailDomain,
		ClientID:    cfg.ClientID,
	}, auditor, log)
	auth := service.NewAuthService(store, otps, issuer, engine, cfg, auditor, log)

	mux := http.NewServeMux()
	httpapi.New(otps, auth, engine, ghosts, issuer, store, log).Register(mux)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s, hs := server.New(server.Deps{
		Tokens:     issuer,
		Identities: store,
		Auditor:    auditor,
		Log:        log,
	})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("listen")
	}
	defer lis.Close()

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC server listening")
		if err := s.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("serve")
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP API listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http serve")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	s.GracefulStop()
	log.Info().Msg("stopped")
}

// deliveryChannel assembles the OTP delivery channels the config enables.
// Returns nil when the configured method has no transport configured, in
// which case codes are generated but not delivered.
func deliveryChannel(cfg *config.Config, log zerolog.Logger) delivery.Channel {
	var channels delivery.Fanout
	if cfg.OTPDelivery == config.DeliveryEmail || cfg.OTPDelivery == config.DeliveryBoth {
		channels = append(channels, delivery.NewEmailSender(cfg.SMTPAddr, cfg.SMTPFrom, log))
	}
	if cfg.OTPDelivery == config.DeliverySMS || cfg.OTPDelivery == config.DeliveryBoth {
		channels = append(channels, delivery.NewSMSSender(cfg.SMSAPIKey, cfg.SMSBaseURL, cfg.SMSSender, log))
	}
	if len(channels) == 0 {
		return nil
	}
	return channels
}
