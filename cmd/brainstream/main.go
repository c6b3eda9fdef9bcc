package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/japanese-wolf/brain-stream/internal/app"
	"github.com/japanese-wolf/brain-stream/internal/platform/config"
	db "github.com/japanese-wolf/brain-stream/internal/storage"
)

func main() {
	exitCode := 0
	defer func() { os.Exit(exitCode) }()

	mode := flag.String("mode", "serve", "Service mode (serve, collect, rebuild)")
	once := flag.Bool("once", false, "Run once and exit (collect and rebuild modes)")

	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.AppEnv)
	setLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database := openDatabase(ctx, cfg, &logger)
	if database != nil {
		defer database.Close()
	}

	application, err := app.New(ctx, cfg, database, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}

	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close application")
		}
	}()

	if !*once {
		go func() {
			if err := application.StartServer(ctx); err != nil {
				logger.Error().Err(err).Msg("http server error")
			}
		}()
	}

	if err := runMode(ctx, application, *mode, *once); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("application stopped")
			return
		}

		logger.Error().Err(err).Msg("application error")

		exitCode = 1
	}
}

// openDatabase connects and migrates when a DSN is configured, otherwise
// returns nil and the engine runs in memory.
func openDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *db.DB {
	if cfg.Database.PostgresDSN == "" {
		logger.Warn().Msg("POSTGRES_DSN not set, running without persistence")

		return nil
	}

	poolOpts := db.PoolOptions{
		MaxConns:          cfg.Database.MaxConnections,
		MinConns:          cfg.Database.MinConnections,
		MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
	}

	database, err := db.NewWithOptions(ctx, cfg.Database.PostgresDSN, poolOpts, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	if err := database.Migrate(ctx); err != nil {
		database.Close()
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	return database
}

func newLogger(appEnv string) zerolog.Logger {
	if appEnv == "local" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func setLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(parsed)
}

func runMode(ctx context.Context, application *app.App, mode string, once bool) error {
	switch mode {
	case "serve":
		return application.RunServe(ctx)
	case "collect":
		return application.RunCollect(ctx, once)
	case "rebuild":
		return application.RunRebuild(ctx, once)
	default:
		log.Fatalf("Usage: %s --mode=[serve|collect|rebuild] [--once]", os.Args[0])

		return nil
	}
}
