// Package main is the entry point for the portfolio rebalancing optimizer.
// It wires the two sqlite stores, the LP solver cascade and the HTTP API,
// then runs until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/modules/backtest"
	"github.com/aristath/rebalancer/internal/modules/rebalance"
	rebalancehandlers "github.com/aristath/rebalancer/internal/modules/rebalance/handlers"
	"github.com/aristath/rebalancer/internal/modules/regime"
	"github.com/aristath/rebalancer/internal/modules/scenarios"
	"github.com/aristath/rebalancer/internal/modules/tuning"
	"github.com/aristath/rebalancer/internal/reliability"
	"github.com/aristath/rebalancer/internal/scheduler"
	"github.com/aristath/rebalancer/internal/server"
	"github.com/aristath/rebalancer/pkg/logger"
)

func main() {
	restore := flag.String("restore", "", "restore a backup archive into the data directory before starting (\"latest\" or an archive name)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting rebalancer")

	// Restore runs before the databases are opened so the restored files are
	// what the rest of startup sees.
	if *restore != "" {
		if !cfg.Backup.Enabled() {
			log.Fatal().Msg("Restore requested but no object store configured")
		}
		s3Client, err := reliability.NewS3Client(context.Background(), cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create backup client")
		}
		archiveName := *restore
		if archiveName == "latest" {
			archiveName = ""
		}
		backups := reliability.NewBackupService(nil, s3Client, cfg.DataDir, log)
		if err := backups.RestoreBackup(context.Background(), archiveName, cfg.DataDir); err != nil {
			log.Fatal().Err(err).Msg("Restore failed")
		}
	}

	// Databases
	historyDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "history.db"),
		Profile: database.ProfileHistory,
		Name:    "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer historyDB.Close()

	resultsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "results.db"),
		Profile: database.ProfileResults,
		Name:    "results",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open results database")
	}
	defer resultsDB.Close()

	databases := []*database.DB{historyDB, resultsDB}
	for _, db := range databases {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Migration failed")
		}
	}

	// Services
	histRepo := scenarios.NewRepository(historyDB, log)
	builder := scenarios.NewBuilder(histRepo, 0, log)
	detector := regime.NewDetector(20, 60, 10, log)
	optimizer := rebalance.NewOptimizer(rebalance.Options{
		AcceptInaccurate: cfg.AcceptInaccurate,
	}, log)
	results := backtest.NewRepository(resultsDB, log)
	backtests := backtest.NewService(builder, histRepo, detector, optimizer, results, log)
	tuner := tuning.NewService(backtests, 4, log)
	maintenance := reliability.NewMaintenanceService(databases, log)

	// Background jobs
	sched := scheduler.New(log)
	if cfg.RebalanceSchedule != "" {
		job := scheduler.NewRebalanceJob(cfg, backtests, histRepo, results, log)
		if err := sched.AddJob(cfg.RebalanceSchedule, job); err != nil {
			log.Fatal().Err(err).Msg("Failed to register rebalance job")
		}
	}
	if cfg.Backup.Enabled() {
		s3Client, err := reliability.NewS3Client(context.Background(), cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create backup client")
		}
		backups := reliability.NewBackupService(databases, s3Client, cfg.DataDir, log)
		job := scheduler.NewBackupJob(backups, cfg.Backup.Retention, log)
		if err := sched.AddJob(cfg.Backup.Schedule, job); err != nil {
			log.Fatal().Err(err).Msg("Failed to register backup job")
		}
	} else {
		log.Info().Msg("Backups disabled, no object store configured")
	}
	if err := sched.AddJob("0 0 2 * * *", scheduler.NewMaintenanceJob(maintenance, false)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register daily maintenance job")
	}
	if err := sched.AddJob("0 0 4 * * 0", scheduler.NewMaintenanceJob(maintenance, true)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register weekly maintenance job")
	}
	sched.Start()

	// HTTP server
	srv := server.New(server.Deps{
		Cfg:       cfg,
		Optimize:  rebalancehandlers.New(optimizer, log),
		Backtests: backtests,
		Results:   results,
		Tuner:     tuner,
		History:   histRepo,
		Databases: databases,
		Log:       log,
	})
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
