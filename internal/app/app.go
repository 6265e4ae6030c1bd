// Package app wires the configured store and services for the binaries.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/animus-labs/animus-evals/internal/platform/database"
	"github.com/animus-labs/animus-evals/internal/platform/env"
	"github.com/animus-labs/animus-evals/internal/platform/objectstore"
	"github.com/animus-labs/animus-evals/internal/repo/sqlstore"
	"github.com/animus-labs/animus-evals/internal/service/datasets"
	"github.com/animus-labs/animus-evals/internal/service/experiments"
	"github.com/animus-labs/animus-evals/internal/service/export"
)

type Config struct {
	Database    database.Config
	Experiments experiments.Config
	// Migrate applies pending schema migrations on Open.
	Migrate bool
}

func ConfigFromEnv() (Config, error) {
	db, err := database.ConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("database config: %w", err)
	}
	exp, err := experiments.ConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("experiments config: %w", err)
	}
	migrate, err := env.Bool("DATABASE_AUTO_MIGRATE", false)
	if err != nil {
		return Config{}, err
	}
	return Config{Database: db, Experiments: exp, Migrate: migrate}, nil
}

type App struct {
	DB          *sql.DB
	Dialect     database.Dialect
	Store       *sqlstore.Store
	Datasets    *datasets.Service
	Experiments *experiments.Service
	Logger      *slog.Logger
}

// Open connects to the database and builds the services. reg may be nil.
func Open(ctx context.Context, cfg Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, dialect, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		applied, err := sqlstore.Migrate(ctx, db, dialect, logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("schema migrated", "applied", applied, "dialect", dialect.Name())
	}

	store := sqlstore.New(db, dialect)
	ds := datasets.New(store.Datasets(), store.Examples(), logger)
	exp, err := experiments.New(store.Experiments(), store.Runs(), store.Annotations(), ds, cfg.Experiments, experiments.Options{
		Logger:  logger,
		Metrics: experiments.NewMetrics(reg),
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &App{DB: db, Dialect: dialect, Store: store, Datasets: ds, Experiments: exp, Logger: logger}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// Ping is a readiness check on the database.
func (a *App) Ping(ctx context.Context) error {
	if a == nil || a.DB == nil {
		return errors.New("database not initialized")
	}
	checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
	defer cancel()
	return a.DB.PingContext(checkCtx)
}

// Exporter connects to object storage, creating the buckets when ensure is set.
func (a *App) Exporter(ctx context.Context, cfg objectstore.Config, ensure bool) (*export.Exporter, *minio.Client, error) {
	client, err := objectstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("object store client: %w", err)
	}
	if ensure {
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := objectstore.EnsureBuckets(startupCtx, client, cfg); err != nil {
			return nil, nil, fmt.Errorf("object store unavailable: %w", err)
		}
	}
	exporter, err := export.New(objectstore.NewMinioStore(client), a.Experiments, export.Config{
		DatasetsBucket:    cfg.BucketDatasets,
		ExperimentsBucket: cfg.BucketExperiments,
		KeyPrefix:         cfg.KeyPrefix,
	}, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	return exporter, client, nil
}
