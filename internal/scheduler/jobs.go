package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/modules/backtest"
	"github.com/aristath/rebalancer/internal/modules/scenarios"
	"github.com/aristath/rebalancer/internal/reliability"
)

// RebalanceJob optimizes the configured universe against the latest
// available return date and persists the decision as a scheduled run. The
// previously adopted portfolio is loaded from the results store, so the
// position carries across restarts.
type RebalanceJob struct {
	cfg       *config.Config
	backtests *backtest.Service
	histRepo  *scenarios.Repository
	results   *backtest.Repository
	log       zerolog.Logger
}

// NewRebalanceJob creates the scheduled rebalance job.
func NewRebalanceJob(
	cfg *config.Config,
	backtests *backtest.Service,
	histRepo *scenarios.Repository,
	results *backtest.Repository,
	log zerolog.Logger,
) *RebalanceJob {
	return &RebalanceJob{
		cfg:       cfg,
		backtests: backtests,
		histRepo:  histRepo,
		results:   results,
		log:       log.With().Str("job", "scheduled_rebalance").Logger(),
	}
}

// Name returns the job name.
func (j *RebalanceJob) Name() string { return "scheduled_rebalance" }

// Run executes one scheduled rebalance.
func (j *RebalanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	latest, err := j.histRepo.LatestDate(j.cfg.Benchmark)
	if err != nil {
		return err
	}
	if latest == "" {
		return fmt.Errorf("no return history for benchmark %s", j.cfg.Benchmark)
	}

	req := &backtest.Request{
		Universe:  j.cfg.Universe,
		Benchmark: j.cfg.Benchmark,
		StartDate: latest,
		EndDate:   latest,
		Params: backtest.Params{
			LambdaLPM1:         j.cfg.LambdaLPM1,
			LambdaCVaR:         j.cfg.LambdaCVaR,
			LambdaBeta:         j.cfg.LambdaBeta,
			Kappa:              j.cfg.Kappa,
			CVaRAlpha:          j.cfg.CVaRAlpha,
			BetaTarget:         j.cfg.BetaTarget,
			RebalanceThreshold: j.cfg.RebalanceThreshold,
			ScenarioWindow:     j.cfg.ScenarioWindow,
			BetaWindow:         j.cfg.BetaWindow,
		},
	}

	// Resume from the last scheduled decision when its universe matches.
	if prev, err := j.results.LatestRecord(backtest.KindScheduled); err != nil {
		j.log.Warn().Err(err).Msg("Could not load previous portfolio, starting equal-weighted")
	} else if prev != nil && len(prev.Solution.AssetWeights) == len(j.cfg.Universe) {
		req.InitialWeights = prev.Solution.AssetWeights
		req.InitialCash = prev.Solution.CashWeight
	}

	summary, err := j.backtests.Run(ctx, req, backtest.KindScheduled, nil)
	if err != nil {
		return err
	}

	j.log.Info().
		Str("run_id", summary.RunID).
		Str("date", latest).
		Int("rebalances", summary.NRebalances).
		Msg("Scheduled rebalance completed")
	return nil
}

// BackupJob ships a database backup off-site and rotates old ones.
type BackupJob struct {
	backups   *reliability.BackupService
	retention int
	log       zerolog.Logger
}

// NewBackupJob creates the backup job.
func NewBackupJob(backups *reliability.BackupService, retention int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backups:   backups,
		retention: retention,
		log:       log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name.
func (j *BackupJob) Name() string { return "backup" }

// Run creates and uploads a backup, then applies retention.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := j.backups.CreateAndUploadBackup(ctx); err != nil {
		return err
	}
	return j.backups.RotateOldBackups(ctx, j.retention)
}

// MaintenanceJob runs database maintenance. One instance is registered for
// the daily pass and one for the weekly pass.
type MaintenanceJob struct {
	maintenance *reliability.MaintenanceService
	weekly      bool
}

// NewMaintenanceJob creates a maintenance job. weekly selects the heavier
// VACUUM pass.
func NewMaintenanceJob(maintenance *reliability.MaintenanceService, weekly bool) *MaintenanceJob {
	return &MaintenanceJob{maintenance: maintenance, weekly: weekly}
}

// Name returns the job name.
func (j *MaintenanceJob) Name() string {
	if j.weekly {
		return "weekly_maintenance"
	}
	return "daily_maintenance"
}

// Run executes the selected maintenance pass.
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	if j.weekly {
		return j.maintenance.RunWeekly(ctx)
	}
	return j.maintenance.RunDaily(ctx)
}
