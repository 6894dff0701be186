// sweeper runs the periodic cleanup jobs: expiring overdue OTP challenges
// and deleting ghost identities past their retention window. Set
// SWEEP_INTERVAL to tune the cadence; GRPC_ADDR is required by config but
// unused (e.g. set to :0).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"ghostauth/internal/config"
	"ghostauth/internal/db"
	identitystore "ghostauth/internal/identity/store"
	otprepo "ghostauth/internal/otp/repository"
	"ghostauth/internal/sweeper"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "ghostauth-sweeper").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sw := sweeper.New(
		identitystore.NewPostgresStore(conn),
		otprepo.NewPostgresRepository(conn),
		cfg,
		log,
	)

	every := cfg.SweepEvery()
	log.Info().Dur("interval", every).Bool("ghost_cleanup", cfg.GhostAutoCleanup).Msg("sweeper started")
	sw.Run(ctx, every)
	log.Info().Msg("sweeper stopped")
}
