// Command migrate applies or rolls back the session store schema.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/ent0n29/voiceauditor/internal/config"
	"github.com/ent0n29/voiceauditor/internal/logging"
	"github.com/ent0n29/voiceauditor/internal/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("migrate failed")
	}
}

func run(args []string) error {
	var direction, databaseURL string
	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flagSet.StringVar(&direction, "direction", "up", "migration direction: up or down")
	flagSet.StringVar(&databaseURL, "database-url", "", "Postgres DSN (default: DATABASE_URL)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Init(logging.Config{})
		return err
	}
	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if databaseURL == "" {
		databaseURL = cfg.DatabaseURL
	}
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL or --database-url is required")
	}
	if err := store.Migrate(databaseURL, direction); err != nil {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}
	logger.Info().Str("direction", direction).Msg("migrate finished")
	return nil
}
