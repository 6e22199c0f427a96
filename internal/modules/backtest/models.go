// Package backtest replays the optimizer over historical dates, persisting
// every decision to the results store.
package backtest

import "github.com/aristath/rebalancer/internal/modules/rebalance"

// Params are the optimizer parameters held fixed across a run.
type Params struct {
	LambdaLPM1   float64 `json:"lambda_lpm1"`
	LambdaCVaR   float64 `json:"lambda_cvar"`
	LambdaBeta   float64 `json:"lambda_beta"`
	Kappa        float64 `json:"kappa"`
	LPMThreshold float64 `json:"lpm_threshold"`
	CVaRAlpha    float64 `json:"cvar_alpha"`
	BetaTarget   float64 `json:"beta_target"`

	// RebalanceThreshold suppresses trades whose total turnover falls
	// below it; small optimal adjustments are not worth their costs.
	RebalanceThreshold float64 `json:"rebalance_threshold"`

	ScenarioWindow int `json:"scenario_window"`
	BetaWindow     int `json:"beta_window"`
}

// Request describes a backtest run.
type Request struct {
	Universe  []string `json:"symbols"`
	Benchmark string   `json:"benchmark"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`

	// InitialWeights is optional; an empty slice starts equal-weighted
	// with zero cash.
	InitialWeights []float64 `json:"initial_weights,omitempty"`
	InitialCash    float64   `json:"initial_cash,omitempty"`

	Params Params `json:"params"`
}

// Kind labels how a run was initiated.
type Kind string

const (
	KindBacktest  Kind = "backtest"
	KindScheduled Kind = "scheduled"
	KindTuning    Kind = "tuning"
)

// Record is one persisted per-date decision.
type Record struct {
	RunID        string             `json:"run_id"`
	Date         string             `json:"date"`
	StressWeight float64            `json:"stress_weight"`
	Rebalanced   bool               `json:"rebalanced"`
	Solution     rebalance.Solution `json:"solution"`
}

// RunSummary aggregates a finished run.
type RunSummary struct {
	RunID         string   `json:"run_id"`
	Kind          Kind     `json:"kind"`
	Symbols       []string `json:"symbols"`
	Benchmark     string   `json:"benchmark"`
	Params        Params   `json:"params"`
	NDates        int      `json:"n_dates"`
	NRebalances   int      `json:"n_rebalances"`
	TotalTurnover float64  `json:"total_turnover"`
	AvgTurnover   float64  `json:"avg_turnover"`
	AvgLPM1       float64  `json:"avg_lpm1"`
	AvgCVaR       float64  `json:"avg_cvar"`
	BetaMean      float64  `json:"beta_mean"`
	BetaStddev    float64  `json:"beta_stddev"`
	StartedAt     string   `json:"started_at"`
	FinishedAt    string   `json:"finished_at"`
}

// Progress is emitted after each processed date.
type Progress struct {
	RunID      string  `json:"run_id"`
	Date       string  `json:"date"`
	Step       int     `json:"step"`
	TotalSteps int     `json:"total_steps"`
	Rebalanced bool    `json:"rebalanced"`
	Turnover   float64 `json:"turnover"`
}

// ProgressFunc receives incremental run progress. A nil ProgressFunc is
// accepted everywhere and means no reporting.
type ProgressFunc func(Progress)
