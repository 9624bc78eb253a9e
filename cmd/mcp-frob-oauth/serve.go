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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	oauth "github.com/giantswarm/mcp-frob-oauth"
	"github.com/giantswarm/mcp-frob-oauth/instrumentation"
	"github.com/giantswarm/mcp-frob-oauth/internal/config"
	"github.com/giantswarm/mcp-frob-oauth/legacy"
	"github.com/giantswarm/mcp-frob-oauth/security"
	"github.com/giantswarm/mcp-frob-oauth/server"
	"github.com/giantswarm/mcp-frob-oauth/storage"
	"github.com/giantswarm/mcp-frob-oauth/storage/memory"
	"github.com/giantswarm/mcp-frob-oauth/storage/redis"
	"github.com/giantswarm/mcp-frob-oauth/storage/valkey"
)

const shutdownTimeout = 15 * time.Second

// PathMetrics serves Prometheus metrics when the prometheus exporter is on
const PathMetrics = "/metrics"

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(os.Stderr, cfg.Log)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, logger)
		},
	}
}

// openStore connects the configured KV backend. The returned function
// releases it.
func openStore(cfg config.StorageConfig, logger *slog.Logger) (storage.KV, func(), error) {
	switch cfg.Backend {
	case config.BackendValkey:
		store, err := valkey.New(valkey.Config{
			Address:  cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to valkey: %w", err)
		}
		return store, store.Close, nil

	case config.BackendRedis:
		store, err := redis.New(redis.Config{
			Address:  cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store, func() { _ = store.Close() }, nil

	default:
		store := memory.New()
		store.SetLogger(logger)
		logger.Warn("Using in-memory storage; pending sign-ins and tokens are lost on restart")
		return store, store.Stop, nil
	}
}

// buildHandler assembles the bridge from cfg and returns the HTTP handler
// serving it.
func buildHandler(cfg *config.Config, kv storage.KV, inst *instrumentation.Instrumentation, logger *slog.Logger) (http.Handler, error) {
	sessionCfg := storage.SessionStoreConfig{
		KeyPrefix: cfg.Storage.KeyPrefix,
		Logger:    logger,
	}
	key, err := cfg.EncryptionKey()
	if err != nil {
		return nil, err
	}
	if key != nil {
		enc, err := security.NewEncryptor(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		sessionCfg.Cipher = enc
	} else {
		logger.Warn("Legacy tokens are stored unencrypted; set storage.encryption_key to encrypt them at rest")
	}

	sessions, err := storage.NewSessionStore(kv, sessionCfg)
	if err != nil {
		return nil, err
	}
	sessions.SetInstrumentation(inst)
	if !sessions.SupportsAtomicConsume() {
		logger.Warn("Storage backend cannot redeem codes atomically")
	}

	legacyClient, err := legacy.NewClient(cfg.LegacyClientConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create legacy API client: %w", err)
	}

	srv, err := server.New(legacyClient, sessions, cfg.ServerConfig(), logger)
	if err != nil {
		return nil, err
	}
	srv.SetInstrumentation(inst)
	srv.SetAuditor(security.NewAuditor(logger, cfg.Security.AuditLogging))

	h := oauth.NewHandler(srv, logger)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	if cfg.Telemetry.MetricsExporter == instrumentation.ExporterPrometheus {
		mux.Handle("GET "+PathMetrics, promhttp.Handler())
	}
	return security.RequestIDMiddleware(mux), nil
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	inst, err := instrumentation.New(cfg.InstrumentationConfig(version))
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to shut down instrumentation", "error", err)
		}
	}()

	kv, closeStore, err := openStore(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if m, ok := kv.(*memory.Store); ok {
		m.SetInstrumentation(inst)
	}

	handler, err := buildHandler(cfg, kv, inst, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting frob OAuth bridge",
			"addr", cfg.ListenAddr,
			"issuer", cfg.Issuer,
			"storage", cfg.Storage.Backend,
			"version", version)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
