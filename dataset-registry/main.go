package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/animus-labs/animus-evals/internal/app"
	"github.com/animus-labs/animus-evals/internal/platform/auth"
	"github.com/animus-labs/animus-evals/internal/platform/env"
	"github.com/animus-labs/animus-evals/internal/platform/httpserver"
	"github.com/animus-labs/animus-evals/internal/platform/objectstore"
	"github.com/animus-labs/animus-evals/internal/platform/telemetry"
)

const serviceName = "dataset-registry"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpCfg, err := httpserver.ConfigFromEnv(serviceName, "DATASET_REGISTRY", ":8081")
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	uploadMaxMiB, err := env.Int("DATASET_REGISTRY_UPLOAD_MAX_MIB", 250)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	exportEnabled, err := env.Bool("DATASET_REGISTRY_EXPORT_ENABLED", false)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	authn, err := auth.New(ctx, authCfg)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		os.Exit(1)
	}
	if authn == nil {
		logger.Warn("authentication disabled", "service", serviceName)
	}

	traceCfg, err := telemetry.ConfigFromEnv(serviceName)
	if err != nil {
		logger.Error("invalid telemetry config", "error", err)
		os.Exit(2)
	}
	shutdownTracing, err := telemetry.Init(ctx, traceCfg)
	if err != nil {
		logger.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	appCfg, err := app.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}
	if appCfg.Database.ApplicationName == "" {
		appCfg.Database.ApplicationName = serviceName
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.Open(ctx, appCfg, logger, reg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = a.Close() }()

	checks := []httpserver.ReadinessCheck{{Name: a.Dialect.Name(), Check: a.Ping}}
	var exporter snapshotExporter
	if exportEnabled {
		storeCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid object store config", "error", err)
			os.Exit(2)
		}
		exp, client, err := a.Exporter(ctx, storeCfg, true)
		if err != nil {
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		exporter = exp
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "minio",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return objectstore.CheckBuckets(checkCtx, client, storeCfg)
			},
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks(serviceName, checks...))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	api := newDatasetRegistryAPI(logger, a.Datasets, exporter, int64(uploadMaxMiB)<<20)
	api.register(mux)

	protected := auth.Middleware{
		Logger:        logger,
		Authenticator: authn,
		Policy:        auth.DefaultPolicy,
		SkipPrefixes:  []string{"/healthz", "/readyz", "/metrics"},
	}.Wrap(mux)
	handler := httpserver.Wrap(logger, serviceName, httpserver.NewMetrics(reg), protected)
	if err := httpserver.Run(ctx, logger, httpCfg, handler); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
