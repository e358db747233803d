package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"autopost/internal/app"
	"autopost/internal/config"
	"autopost/internal/logging"
)

var (
	configPath = flag.String("config", "config.toml", "Path to configuration file")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := logging.SetupDefault(os.Stdout, level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	logger.Info("Loading configuration", "path", *configPath)

	cfgStore, err := config.NewStore(*configPath)
	if err != nil {
		return err
	}

	reloadChan := make(chan os.Signal, 1)
	signal.Notify(reloadChan, syscall.SIGHUP)
	go func() {
		for range reloadChan {
			if err := cfgStore.Reload(); err != nil {
				logger.Warn("Reload rejected", "error", err)
			}
		}
	}()

	service, err := app.Build(ctx, cfgStore, logger)
	if err != nil {
		return err
	}

	logger.Info("Starting service", "name", service.Name())

	errChan := make(chan error, 1)
	go func() {
		if err := service.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		cfg := cfgStore.Current()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
			config.Duration(cfg.App.ShutdownTimeout))
		defer shutdownCancel()

		if err := service.Stop(shutdownCtx); err != nil {
			return err
		}
	}

	logger.Info("Service stopped")
	return nil
}
