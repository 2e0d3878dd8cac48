package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/freema/askshell/internal/config"
	"github.com/freema/askshell/internal/history"
	"github.com/freema/askshell/internal/intake"
	"github.com/freema/askshell/internal/redisclient"
	"github.com/freema/askshell/internal/runlogs"
	"github.com/freema/askshell/internal/server"
	"github.com/freema/askshell/internal/shell"
	"github.com/freema/askshell/internal/stream"
	"github.com/freema/askshell/internal/submit"
	"github.com/freema/askshell/internal/tracing"
	"github.com/freema/askshell/internal/webhook"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin API, the Redis intake and the log cleaner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	slog.Info("starting askshell", "version", version)

	shutdownTracing, err := tracing.Setup(parent, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Endpoint:     cfg.Tracing.Endpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		ServiceName:  "askshell",
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	var (
		rdb      *redisclient.Client
		handlers []shell.Handler
	)
	if cfg.Redis.URL != "" {
		rdb, err = redisclient.New(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(parent, 5*time.Second)
		err := rdb.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		slog.Info("redis connected")
		handlers = append(handlers, stream.NewPublisher(rdb, cfg.Redis.HistoryTTL))
	}

	var store *history.Store
	if cfg.History.Path != "" {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		handlers = append(handlers, history.NewRecorder(store))
	}

	sched := newScheduler(cfg, handlers...)
	defer sched.Shutdown()

	pool, err := shell.NewRunPool(sched, shell.RunPoolOptions{
		MaxConcurrentSubmits: cfg.Runner.RunPool.MaxConcurrentSubmits,
		ExitWaitTimeout:      cfg.Runner.RunPool.ExitWaitTimeout,
	})
	if err != nil {
		return err
	}

	var sender *webhook.Sender
	if cfg.Webhooks.HMACSecret != "" {
		sender = webhook.NewSender(cfg.Webhooks.HMACSecret, cfg.Webhooks.RetryCount, cfg.Webhooks.RetryDelay)
	}
	service := submit.NewService(sched, pool, sender, store)

	ctx, cancel := shell.InterruptContext(parent)
	defer cancel()

	cleaner := runlogs.NewCleaner(sched.Options().LogDirs, func(path string) bool {
		for _, run := range sched.ActiveRuns() {
			if run.OutputDir() == path {
				return true
			}
		}
		return false
	}, runlogs.CleanerConfig{
		Interval:              cfg.Logs.CleanInterval,
		TTL:                   cfg.Logs.TTL,
		DiskWarningThreshold:  int64(cfg.Logs.DiskWarningThresholdMB) << 20,
		DiskCriticalThreshold: int64(cfg.Logs.DiskCriticalThresholdMB) << 20,
	})
	go cleaner.Start(ctx)

	if cfg.Intake.Enabled {
		listener := intake.NewListener(rdb, service, cfg.Intake.QueueName, cfg.Intake.ResultTTL)
		go listener.Start(ctx)
	}

	srv := server.New(cfg, sched, service, rdb, version)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received", "cause", context.Cause(ctx))
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	slog.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if err := service.Close(); err != nil {
		slog.Warn("runs still in flight at shutdown", "error", err)
	}
	sched.StopRunsAndPool("server shutdown", false)
	slog.Info("shutdown complete")
	return nil
}
