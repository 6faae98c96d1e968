// Package main is the entry point for the sigproxy HTTP server.
//
// It loads the configuration, starts tracing and metrics, builds the engine
// client and coverage searcher, mounts the HTTP routes and serves until
// SIGINT or SIGTERM. Shutdown drains in-flight requests and then stops the
// engine daemon.
//
// Usage:
//
//	sigproxy [server]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"sigproxy/internal/api/handlers"
	"sigproxy/internal/config"
	"sigproxy/internal/core"
	"sigproxy/internal/coverage"
	"sigproxy/internal/engine"
	"sigproxy/internal/observability"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run(args []string) error {
	if err := parseArgs(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(newSecretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg)
	logger.Info("sigproxy starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"engine_mode", cfg.Engine.Mode,
	)

	ctx := context.Background()
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFrom(cfg), logger)
	if err != nil {
		return fmt.Errorf("initialising tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, logger)

	srv, err := buildServer(ctx, cfg, logger, prometheus.NewRegistry())
	if err != nil {
		return err
	}

	return runHTTPServer(srv, cfg, logger)
}

// parseArgs accepts an optional "server" subcommand and nothing else.
func parseArgs(args []string) error {
	switch {
	case len(args) == 0:
		return nil
	case len(args) == 1 && args[0] == "server":
		return nil
	default:
		return fmt.Errorf("usage: sigproxy [server]; unexpected arguments %q", args)
	}
}

// newSecretProvider picks where _SSM_PARAM pointers are resolved. Local runs
// and SECRET_PROVIDER=env read them from the environment.
func newSecretProvider() config.SecretProvider {
	appEnv := os.Getenv("APP_ENV")
	if appEnv == "" || appEnv == "local" || os.Getenv("SECRET_PROVIDER") == "env" {
		return config.NewEnvVarProvider()
	}
	return config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
}

// buildServer wires the engine, the coverage search and the HTTP surface.
// The engine client is closed by srv.Shutdown.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*core.Server, error) {
	recorder, metricsHandler, err := observability.NewRecorder(ctx, cfg, reg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating metrics recorder: %w", err)
	}

	client, err := engine.NewClient(engine.Config{
		ExecPath:        cfg.Engine.ExecPath,
		TerrainPath:     cfg.Engine.TerrainPath,
		Mode:            cfg.Engine.Mode,
		CallTimeout:     cfg.Engine.CallTimeout,
		BreakerFailures: cfg.Engine.BreakerFailures,
		BreakerCooldown: cfg.Engine.BreakerCooldown,
	},
		engine.WithLogger(logger),
		engine.WithRecorder(recorder),
	)
	if err != nil {
		return nil, fmt.Errorf("creating engine client: %w", err)
	}

	searcher := coverage.NewSearcher(client, coverage.H3Grid{}, coverage.Config{
		Workers:       cfg.Coverage.Workers,
		MaxRings:      cfg.Coverage.MaxRings,
		MinResolution: cfg.Coverage.MinResolution,
		MaxResolution: cfg.Coverage.MaxResolution,
	},
		coverage.WithLogger(logger),
		coverage.WithRecorder(recorder),
	)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = recorder
	srv.MetricsHandler = metricsHandler
	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{ProbeName: "engine", Fn: client.Ping})
	srv.OnShutdown(client)

	engineHandler := handlers.NewEngineHandler(client, srv.Validator, logger)
	coverageHandler := handlers.NewCoverageHandler(searcher, srv.Validator, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		engineHandler.RegisterRoutes,
		coverageHandler.RegisterRoutes,
	)

	srv.MountRoutes()
	return srv, nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	// WriteTimeout leaves room past the request deadline for the error body.
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			_ = srv.Shutdown(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger builds the process logger. DEBUG forces the debug level and
// source locations.
func newLogger(cfg *config.Config) *slog.Logger {
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if cfg.Debug {
		lvl = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: lvl, AddSource: cfg.Debug}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler).With("service", cfg.Service)
}
