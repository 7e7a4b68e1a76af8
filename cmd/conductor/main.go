// Command conductor runs the job scheduler with its HTTP API.
//
// Configuration comes from an optional YAML file (-config or
// CONDUCTOR_CONFIG), a .env file in the working directory and CONDUCTOR_*
// environment variables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xraph/conductor/api"
	audithook "github.com/xraph/conductor/audit_hook"
	"github.com/xraph/conductor/config"
	"github.com/xraph/conductor/engine"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/store"
	bunstore "github.com/xraph/conductor/store/bun"
	"github.com/xraph/conductor/store/memory"
	mongostore "github.com/xraph/conductor/store/mongo"
	"github.com/xraph/conductor/store/postgres"
	redisstore "github.com/xraph/conductor/store/redis"
	"github.com/xraph/conductor/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "conductor:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("CONDUCTOR_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			logger.Warn("close store", slog.String("error", cerr.Error()))
		}
	}()

	reg := job.NewRegistry()
	registerTasks(reg)

	engOpts := []engine.Option{
		engine.WithConfig(cfg.Engine),
		engine.WithAdmission(cfg.Admission),
		engine.WithLogger(logger),
	}
	if cfg.Log.Audit {
		engOpts = append(engOpts, engine.WithExtension(
			audithook.New(audithook.NewLogRecorder(logger), audithook.WithLogger(logger)),
		))
	}

	eng, err := engine.New(s, reg, engOpts...)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	apiOpts := []api.Option{api.WithLogger(logger)}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.New(eng, apiOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.String("error", err.Error()))
	}
	return eng.Stop(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory store; jobs do not survive a restart")
		return memory.New(), nil
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.DSN, sqlite.WithLogger(logger))
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.DSN, postgres.WithLogger(logger))
	case config.DriverBunPostgres:
		return bunstore.OpenPostgres(cfg.DSN, bunstore.WithLogger(logger)), nil
	case config.DriverRedis:
		return redisstore.Open(ctx, cfg.DSN, redisstore.WithLogger(logger))
	case config.DriverMongo:
		return mongostore.Open(ctx, cfg.DSN, mongostore.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
