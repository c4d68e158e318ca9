// Command migrate applies the warehouse schema and exits.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/pawnstats/pawnstats/internal/config"
	"github.com/pawnstats/pawnstats/internal/logx"
	"github.com/pawnstats/pawnstats/internal/warehouse"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logx.NewLogger(cfg.Logging.Level)
	ctx := context.Background()

	store, err := warehouse.New(ctx, cfg.Postgres.ConnString(), cfg.Postgres.MaxConns, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect warehouse")
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("apply schema")
	}
	logger.Info().Msg("migration complete")
}
