package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/samijaber1/aegis-telemetry/internal/api"
	"github.com/samijaber1/aegis-telemetry/internal/app"
	"github.com/samijaber1/aegis-telemetry/internal/config"
	"github.com/samijaber1/aegis-telemetry/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file (yaml, json or toml)")
	addr := flag.String("addr", "", "HTTP listen address, overrides server.addr")
	noScheduler := flag.Bool("no-scheduler", false, "serve the API without running monitoring cycles")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid logging configuration: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, !*noScheduler, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, withScheduler bool, logger *zap.Logger) error {
	logger.Info("starting telemetry server",
		zap.String("addr", cfg.Server.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.Int("endpoints", len(cfg.Endpoints)),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	a, err := app.New(cfg, store, prometheus.DefaultRegisterer, logger)
	if err != nil {
		store.Close()
		return err
	}
	defer a.Close()

	if withScheduler {
		if err := a.Scheduler.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer a.Scheduler.Stop()
	}

	if a.RuleWatcher != nil {
		go func() {
			if err := a.RuleWatcher.Run(ctx); err != nil {
				logger.Error("rule watcher stopped", zap.Error(err))
			}
		}()
	}

	srv := api.NewServer(api.Deps{
		Store:     a.Store,
		Ingestor:  a.Ingestor,
		Reporter:  a.Reporter,
		Retention: a.Retention,
		Scheduler: a.Scheduler,
		Metrics:   a.Metrics,
		Gatherer:  prometheus.DefaultGatherer,
	}, cfg.Server.Addr, api.Options{
		SummaryDays:       cfg.SummaryWindowDays,
		TrendDays:         cfg.TrendWindowDays,
		ReportWindowHours: cfg.ReportWindowHours,
	}, logger)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil

	case sig := <-shutdown:
		logger.Info("received signal", zap.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		logger.Info("shutting down http server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down server", zap.Error(err))
		}
		stop()
	}

	logger.Info("shutdown complete")
	return nil
}
