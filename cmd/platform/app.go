package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/swasthyasetu/platform/internal/audit"
	"github.com/swasthyasetu/platform/internal/kurrentdb"
	"github.com/swasthyasetu/platform/internal/seed"
	"github.com/swasthyasetu/platform/internal/shared/config"
	"github.com/swasthyasetu/platform/internal/shared/database"
	"github.com/swasthyasetu/platform/internal/shared/events"
	"github.com/swasthyasetu/platform/internal/shared/types"
	"github.com/swasthyasetu/platform/internal/store"
	"github.com/swasthyasetu/platform/internal/tsa"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Clock  types.Clock

	DB        *database.DB
	KurrentDB *kurrentdb.Client
	Bus       *events.Bus
	Publisher events.Publisher

	Store       store.Store
	AuditRepo   audit.Repository
	AuditWriter *audit.Writer
	Witness     audit.Witness
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "swasthyasetu").Logger()
}

// needsPostgres reports whether any configured backend lives in PostgreSQL
func needsPostgres(cfg *config.Config) bool {
	return cfg.Store.Backend == "postgres" || cfg.Audit.Backend == "postgres"
}

// newApp connects every configured backend. A configured backend that is
// unreachable is an error.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	app := &App{
		Config:    cfg,
		Logger:    logger,
		Clock:     types.SystemClock{},
		Publisher: events.NopPublisher{},
	}

	if needsPostgres(cfg) {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		app.DB = db

		applied, err := database.Migrate(ctx, db.Pool, logger)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		if applied > 0 {
			logger.Info().Int("applied", applied).Msg("database migrations applied")
		}
	}

	if cfg.KurrentDB.Enabled {
		client, err := kurrentdb.NewClient(kurrentdb.FromConfig(cfg.KurrentDB))
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("create kurrentdb client: %w", err)
		}
		app.KurrentDB = client
		if err := client.Connect(ctx); err != nil {
			app.Close()
			return nil, fmt.Errorf("connect kurrentdb: %w", err)
		}
		app.Bus = events.NewBus(client, cfg.KurrentDB.StreamPrefix)
		app.Publisher = app.Bus
		logger.Info().
			Str("host", cfg.KurrentDB.Host).
			Int("port", cfg.KurrentDB.Port).
			Msg("kurrentdb event bus initialized")
	}

	switch cfg.Store.Backend {
	case "postgres":
		app.Store = store.NewPostgresStore(app.DB.Pool)
	default:
		app.Store = store.NewMemoryStore()
	}

	switch cfg.Audit.Backend {
	case "postgres":
		app.AuditRepo = audit.NewPostgresRepository(app.DB.Pool)
	case "kurrentdb":
		app.AuditRepo = audit.NewKurrentDBRepository(app.KurrentDB, cfg.KurrentDB.StreamPrefix)
	default:
		app.AuditRepo = audit.NewMemoryRepository()
	}
	if err := app.AuditRepo.Initialize(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("initialize audit log: %w", err)
	}

	app.AuditWriter = audit.NewWriter(app.AuditRepo, app.Clock, audit.WriterConfig{
		WriteTimeout: cfg.Audit.WriteTimeout,
		MaxAttempts:  cfg.Audit.MaxAttempts,
		RetryBackoff: cfg.Audit.RetryBackoff,
	}, logger)

	witness, err := newWitness(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Witness = witness

	logger.Info().
		Str("store", cfg.Store.Backend).
		Str("audit", cfg.Audit.Backend).
		Str("witness", string(witness.Type())).
		Msg("backends ready")

	return app, nil
}

func newWitness(cfg *config.Config) (audit.Witness, error) {
	if audit.WitnessType(cfg.Audit.WitnessType) != audit.WitnessTypeRFC3161TSA {
		return audit.NewLocalWitness(), nil
	}
	server, err := tsa.NewServerWithGeneratedCert(cfg.TSA.OrgName)
	if err != nil {
		return nil, fmt.Errorf("start timestamp authority: %w", err)
	}
	return audit.NewRFC3161Witness(server), nil
}

// LoadSeed applies the embedded demo dataset once per version
func (a *App) LoadSeed(ctx context.Context) (*seed.Result, error) {
	ds, err := seed.Demo()
	if err != nil {
		return nil, err
	}
	return seed.NewLoader(a.Store, a.AuditWriter, a.AuditRepo, a.Logger).Load(ctx, ds)
}

// Close releases backend connections
func (a *App) Close() {
	if a.KurrentDB != nil {
		if err := a.KurrentDB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close kurrentdb client")
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
