package backtest

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/modules/rebalance"
)

// Repository persists run summaries and per-date solutions to the results
// database.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a results repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "results_repository").Logger(),
	}
}

// SaveRecord stores one per-date decision. The fallback's infinite objective
// is stored as NULL.
func (r *Repository) SaveRecord(rec *Record) error {
	weights, err := json.Marshal(rec.Solution.AssetWeights)
	if err != nil {
		return fmt.Errorf("failed to encode asset weights: %w", err)
	}

	var objective sql.NullFloat64
	if !math.IsInf(rec.Solution.ObjectiveValue, 0) {
		objective = sql.NullFloat64{Float64: rec.Solution.ObjectiveValue, Valid: true}
	}

	_, err = r.db.Conn().Exec(`
		INSERT INTO solutions (
			run_id, date, asset_weights, cash_weight, objective_value,
			lpm1_value, cvar_value, turnover, beta_penalty, solver_status,
			stress_weight, rebalanced
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, date) DO UPDATE SET
			asset_weights = excluded.asset_weights,
			cash_weight = excluded.cash_weight,
			objective_value = excluded.objective_value,
			lpm1_value = excluded.lpm1_value,
			cvar_value = excluded.cvar_value,
			turnover = excluded.turnover,
			beta_penalty = excluded.beta_penalty,
			solver_status = excluded.solver_status,
			stress_weight = excluded.stress_weight,
			rebalanced = excluded.rebalanced
	`,
		rec.RunID, rec.Date, string(weights), rec.Solution.CashWeight, objective,
		rec.Solution.LPM1Value, rec.Solution.CVaRValue, rec.Solution.Turnover,
		rec.Solution.BetaPenalty, string(rec.Solution.SolverStatus),
		rec.StressWeight, boolToInt(rec.Rebalanced),
	)
	if err != nil {
		return fmt.Errorf("failed to save solution for %s: %w", rec.Date, err)
	}
	return nil
}

// Records returns every persisted decision for a run, in date order.
func (r *Repository) Records(runID string) ([]Record, error) {
	rows, err := r.db.Conn().Query(`
		SELECT date, asset_weights, cash_weight, objective_value, lpm1_value,
		       cvar_value, turnover, beta_penalty, solver_status,
		       stress_weight, rebalanced
		FROM solutions WHERE run_id = ? ORDER BY date ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query solutions for run %s: %w", runID, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec        Record
			weights    string
			objective  sql.NullFloat64
			status     string
			rebalanced int
		)
		if err := rows.Scan(
			&rec.Date, &weights, &rec.Solution.CashWeight, &objective,
			&rec.Solution.LPM1Value, &rec.Solution.CVaRValue,
			&rec.Solution.Turnover, &rec.Solution.BetaPenalty, &status,
			&rec.StressWeight, &rebalanced,
		); err != nil {
			return nil, fmt.Errorf("failed to scan solution row: %w", err)
		}
		if err := json.Unmarshal([]byte(weights), &rec.Solution.AssetWeights); err != nil {
			return nil, fmt.Errorf("corrupt asset weights for run %s date %s: %w", runID, rec.Date, err)
		}
		rec.RunID = runID
		rec.Solution.SolverStatus = rebalance.Status(status)
		rec.Solution.ObjectiveValue = math.Inf(1)
		if objective.Valid {
			rec.Solution.ObjectiveValue = objective.Float64
		}
		rec.Rebalanced = rebalanced != 0
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LatestRecord returns the most recent decision across all runs of the
// given kind, or (nil, nil) when none exists. The scheduled job uses it to
// carry the adopted portfolio across process restarts.
func (r *Repository) LatestRecord(kind Kind) (*Record, error) {
	row := r.db.Conn().QueryRow(`
		SELECT s.run_id, s.date, s.asset_weights, s.cash_weight,
		       s.objective_value, s.lpm1_value, s.cvar_value, s.turnover,
		       s.beta_penalty, s.solver_status, s.stress_weight, s.rebalanced
		FROM solutions s
		JOIN runs r ON r.run_id = s.run_id
		WHERE r.kind = ?
		ORDER BY s.date DESC, s.created_at DESC
		LIMIT 1
	`, string(kind))

	var (
		rec        Record
		weights    string
		objective  sql.NullFloat64
		status     string
		rebalanced int
	)
	err := row.Scan(
		&rec.RunID, &rec.Date, &weights, &rec.Solution.CashWeight, &objective,
		&rec.Solution.LPM1Value, &rec.Solution.CVaRValue,
		&rec.Solution.Turnover, &rec.Solution.BetaPenalty, &status,
		&rec.StressWeight, &rebalanced,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest %s record: %w", kind, err)
	}
	if err := json.Unmarshal([]byte(weights), &rec.Solution.AssetWeights); err != nil {
		return nil, fmt.Errorf("corrupt asset weights in latest %s record: %w", kind, err)
	}
	rec.Solution.SolverStatus = rebalance.Status(status)
	rec.Solution.ObjectiveValue = math.Inf(1)
	if objective.Valid {
		rec.Solution.ObjectiveValue = objective.Float64
	}
	rec.Rebalanced = rebalanced != 0
	return &rec, nil
}

// SaveRun upserts a run summary.
func (r *Repository) SaveRun(run *RunSummary) error {
	symbols, err := json.Marshal(run.Symbols)
	if err != nil {
		return fmt.Errorf("failed to encode run symbols: %w", err)
	}
	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("failed to encode run params: %w", err)
	}

	_, err = r.db.Conn().Exec(`
		INSERT INTO runs (
			run_id, kind, symbols, benchmark, params, n_dates, n_rebalances,
			total_turnover, avg_turnover, avg_lpm1, avg_cvar, beta_mean,
			beta_stddev, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			n_dates = excluded.n_dates,
			n_rebalances = excluded.n_rebalances,
			total_turnover = excluded.total_turnover,
			avg_turnover = excluded.avg_turnover,
			avg_lpm1 = excluded.avg_lpm1,
			avg_cvar = excluded.avg_cvar,
			beta_mean = excluded.beta_mean,
			beta_stddev = excluded.beta_stddev,
			finished_at = excluded.finished_at
	`,
		run.RunID, string(run.Kind), string(symbols), run.Benchmark,
		string(params), run.NDates, run.NRebalances, run.TotalTurnover,
		run.AvgTurnover, run.AvgLPM1, run.AvgCVaR, run.BetaMean,
		run.BetaStddev, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.RunID, err)
	}
	return nil
}

// Run loads a run summary by ID, returning (nil, nil) when absent.
func (r *Repository) Run(runID string) (*RunSummary, error) {
	row := r.db.Conn().QueryRow(`
		SELECT run_id, kind, symbols, benchmark, params, n_dates,
		       n_rebalances, total_turnover, avg_turnover, avg_lpm1,
		       avg_cvar, beta_mean, beta_stddev, started_at,
		       COALESCE(finished_at, '')
		FROM runs WHERE run_id = ?
	`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// Runs returns the most recent run summaries.
func (r *Repository) Runs(limit int) ([]RunSummary, error) {
	rows, err := r.db.Conn().Query(`
		SELECT run_id, kind, symbols, benchmark, params, n_dates,
		       n_rebalances, total_turnover, avg_turnover, avg_lpm1,
		       avg_cvar, beta_mean, beta_stddev, started_at,
		       COALESCE(finished_at, '')
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunSummary, error) {
	var (
		run     RunSummary
		kind    string
		symbols string
		params  string
	)
	if err := row.Scan(
		&run.RunID, &kind, &symbols, &run.Benchmark, &params, &run.NDates,
		&run.NRebalances, &run.TotalTurnover, &run.AvgTurnover, &run.AvgLPM1,
		&run.AvgCVaR, &run.BetaMean, &run.BetaStddev, &run.StartedAt,
		&run.FinishedAt,
	); err != nil {
		return nil, err
	}
	run.Kind = Kind(kind)
	if err := json.Unmarshal([]byte(symbols), &run.Symbols); err != nil {
		return nil, fmt.Errorf("corrupt symbols for run %s: %w", run.RunID, err)
	}
	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return nil, fmt.Errorf("corrupt params for run %s: %w", run.RunID, err)
	}
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
