package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cho1y0/neulbom/internal/app"
	"github.com/cho1y0/neulbom/internal/config"
	"github.com/cho1y0/neulbom/internal/observe"
)

func newServeCmd(configPath *string) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(*configPath, watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "reload thresholds and log level when the config file changes")
	return cmd
}

func serve(configPath string, watch bool) error {
	cfg, level, err := loadConfig(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", configPath)
		}
		return err
	}
	slog.Info("neulbom starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"mode", cfg.Server.Mode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}

	application, err := app.New(ctx, cfg, providers,
		app.WithLogLevel(level),
		app.WithVersion(version),
		app.WithMetricsHandler(tel.Handler),
	)
	if err != nil {
		return err
	}

	if watch {
		w, err := config.NewWatcher(configPath, application.ApplyConfig)
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	runErr := application.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if runErr != nil {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}
