// migrate brings the database schema up to date from the embedded SQL files.
// Pass -down to roll everything back instead.
package main

import (
	"errors"
	"flag"
	"os"

	"github.com/rs/zerolog"

	"ghostauth/internal/config"
	"ghostauth/internal/db/migrate"
)

func main() {
	down := flag.Bool("down", false, "roll all migrations back instead of applying")
	flag.Parse()

	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "ghostauth").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	apply, label := migrate.Up, "up"
	if *down {
		apply, label = migrate.Down, "down"
	}
	if err := apply(cfg.DatabaseURL); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Str("direction", label).Msg("schema already at target version")
			return
		}
		log.Fatal().Err(err).Str("direction", label).Msg("migrate")
	}
	log.Info().Str("direction", label).Msg("migrations applied")
}
