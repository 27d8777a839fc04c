package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/openquant/backtest/internal/backtest"
	"github.com/openquant/backtest/internal/config"
	"github.com/openquant/backtest/internal/httpapi"
	"github.com/openquant/backtest/internal/logger"
	"github.com/openquant/backtest/internal/marketdata"
	"github.com/openquant/backtest/internal/progress"
	"github.com/openquant/backtest/internal/scheduler"
	"github.com/openquant/backtest/internal/service"
	"github.com/openquant/backtest/internal/store"
	"github.com/openquant/backtest/internal/strategy"
	"github.com/openquant/backtest/internal/strategy/builtins"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML configuration file")
	flag.Parse()

	// .env is optional; environment overrides still apply without it.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}

	log := logger.New(&logger.Config{
		Level:  logger.ParseLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
	})
	logger.SetDefault(log)
	log = log.Component("server")

	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatal("failed to open store", "path", cfg.Storage.SQLitePath, "error", err)
	}
	defer st.Close()

	registry := strategy.NewRegistry()
	builtins.RegisterAll(registry)

	sched := scheduler.NewConcurrencyManager(cfg.Scheduler.MaxConcurrent)
	tracker := progress.NewTracker()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker.StartSweeper(time.Hour, progress.DefaultStaleAfter, ctx.Done())

	svc := service.New(ctx, st, sched, tracker, registry,
		marketdata.NewCSVSource(cfg.Storage.DataDir),
		backtest.Options{
			CheckpointInterval: cfg.Engine.CheckpointInterval,
			ProgressInterval:   cfg.Engine.ProgressInterval,
			EquitySampleEvery:  cfg.Engine.EquitySampleEvery,
			MaxCurvePoints:     cfg.Engine.MaxCurvePoints,
		})

	if err := svc.RecoverInterrupted(ctx, cfg.Engine.RecoveryGrace); err != nil {
		log.Error("startup recovery failed", "error", err)
	}

	srv := httpapi.NewServer(svc, cfg.Server)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}

	svc.Shutdown()
	log.Info("server stopped")
}
