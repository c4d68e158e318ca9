package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pawnstats/pawnstats/internal/config"
	"github.com/pawnstats/pawnstats/internal/eco"
	"github.com/pawnstats/pawnstats/internal/lichess"
	"github.com/pawnstats/pawnstats/internal/logx"
	"github.com/pawnstats/pawnstats/internal/pipeline"
	"github.com/pawnstats/pawnstats/internal/source"
	"github.com/pawnstats/pawnstats/internal/warehouse"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		pgnPath    = flag.String("pgn", "", "ingest a local .pgn/.pgn.zst dump instead of the API")
		usersFlag  = flag.String("users", "", "comma-separated usernames (overrides config)")
		maxGames   = flag.Int("max-games", 0, "stop once this many records have been fetched, at the next batch boundary (0 = no cap)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logx.NewLogger(cfg.Logging.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := warehouse.New(ctx, cfg.Postgres.ConnString(), cfg.Postgres.MaxConns, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect warehouse")
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ensure schema")
	}

	cp, err := pipeline.NewCheckpoint(cfg.Pipeline.Checkpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("open checkpoint")
	}

	src, cleanup, err := buildSource(cfg, cp, *pgnPath, *usersFlag, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build source")
	}
	defer cleanup()

	var openings *eco.Database
	if cfg.Pipeline.ECODir != "" {
		openings = eco.NewDatabase()
		if err := openings.LoadDir(cfg.Pipeline.ECODir); err != nil {
			logger.Fatal().Err(err).Msg("load opening database")
		}
		logger.Info().Int("openings", openings.Count()).Msg("opening database loaded")
	}

	loader := warehouse.NewLoader(store, warehouse.NewResolver(), logger)
	pl := pipeline.New(src, loader, cp, pipeline.Options{
		BatchSize:      cfg.Pipeline.BatchSize,
		Workers:        cfg.Pipeline.Workers,
		UpsetThreshold: cfg.Pipeline.UpsetThreshold,
		BatchRetries:   cfg.Pipeline.BatchRetries,
		RatedOnly:      cfg.Source.RatedOnly,
		TimeClasses:    cfg.Source.PerfTypes,
		MaxGames:       *maxGames,
		Openings:       openings,
	}, logger)

	sum, err := pl.Run(ctx)

	ev := logger.Info()
	if err != nil {
		ev = logger.Error().Err(err)
	}
	ev.Str("run_id", sum.RunID).
		Str("state", sum.State).
		Int("fetched", sum.Fetched).
		Int("parsed", sum.Parsed).
		Int("parse_skipped", sum.ParseSkipped).
		Int("filtered", sum.Filtered).
		Int("loaded", sum.Loaded).
		Int("duplicates", sum.Duplicates).
		Int("load_skipped", sum.LoadSkipped).
		Int("upsets", sum.Upsets).
		Int("players_created", sum.PlayersCreated).
		Int("openings_created", sum.OpeningsCreated).
		Int("batches", sum.Batches).
		Dur("elapsed", sum.Elapsed).
		Msg("ingest finished")

	if err != nil {
		os.Exit(1)
	}
}

// buildSource picks the file source when -pgn is given, otherwise the API
// stream over the configured users, both resuming from the checkpoint.
func buildSource(cfg *config.Config, cp *pipeline.Checkpoint, pgnPath, usersFlag string, logger zerolog.Logger) (pipeline.Source, func(), error) {
	if pgnPath != "" {
		fs, err := source.Open(pgnPath, cp.Resume())
		if err != nil {
			return nil, nil, err
		}
		return fs, func() { fs.Close() }, nil
	}

	var users []string
	if usersFlag != "" {
		users = strings.Split(usersFlag, ",")
		for i := range users {
			users[i] = strings.TrimSpace(users[i])
		}
	} else {
		var err error
		users, err = cfg.Source.Usernames()
		if err != nil {
			return nil, nil, err
		}
	}
	if len(users) == 0 {
		return nil, nil, errors.New("no users configured (source.users, source.user_file, or -users)")
	}

	since, _ := cfg.Source.SinceTime()
	until, _ := cfg.Source.UntilTime()

	client := lichess.NewClient(lichess.Options{
		BaseURL:    cfg.Source.BaseURL,
		Token:      cfg.Source.Token,
		Timeout:    time.Duration(cfg.Source.TimeoutS) * time.Second,
		PageSize:   cfg.Source.PageSize,
		MaxRetries: cfg.Source.Retries,
		RatedOnly:  cfg.Source.RatedOnly,
		PerfTypes:  cfg.Source.PerfTypes,
		Until:      until,
	}, logger)

	return lichess.NewGameStream(client, users, cp.Resume(), since.UnixMilli(), logger), func() {}, nil
}
