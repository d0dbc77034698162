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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/auth"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/config"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/observability"
	"github.com/Najia-afk/Aria-moltbot-sub001/internal/transport"
)

const defaultConfigPath = "aria.yaml"

// buildServeCmd wires "ariad serve", the primary production entrypoint:
// load config, build the Runtime, start the scheduler/heartbeat, and serve
// the REST/WebSocket API and the Prometheus metrics endpoint until a
// shutdown signal arrives.
func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Aria orchestration server",
		Long: `Start the Aria orchestration server.

The server will:
1. Load and validate configuration
2. Connect to Postgres and wire the LLM gateway, agent pool, and tool registry
3. Start the cron scheduler and heartbeat monitor
4. Serve the REST + WebSocket API and Prometheus metrics endpoint

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := config.NewRuntime(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Close(shutdownCtx); err != nil {
			logger.Error("runtime shutdown failed", "err", err)
		}
	}()

	rt.Scheduler.SetMetricsHook(observability.NewSchedulerGauges(prometheus.DefaultRegisterer))

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}

	if cfg.Observability.TracingEnabled {
		tp := observability.NewTracerProvider(cfg.Observability.ServiceName)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	poolGauges := observability.NewPoolGauges(prometheus.DefaultRegisterer)
	stopPoolObserver := observePoolStatus(rt, poolGauges, logger)
	defer stopPoolObserver()

	authSvc := auth.NewService(auth.Config{
		APIKey:      cfg.Auth.APIKey,
		AdminKey:    cfg.Auth.AdminKey,
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
	}, logger)

	apiServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler: transport.New(rt, authSvc, logger).Handler(),
	}
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: promhttp.Handler(),
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("api server listening", "addr", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		logger.Info("metrics server listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	return nil
}

// observePoolStatus polls the agent pool on a fixed interval and updates
// the Prometheus gauges, returning a stop function.
func observePoolStatus(rt *config.Runtime, gauges *observability.PoolGauges, logger *slog.Logger) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				gauges.Observe(rt.Pool.Status())
			}
		}
	}()
	return func() { close(done) }
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
