// Package rebalance implements the downside-risk portfolio rebalancing
// optimizer: a validated problem model, an LP reformulation of the
// non-smooth risk objective, a cascading solver layer, and solution
// extraction with a do-not-rebalance fallback.
package rebalance

import "fmt"

// ValidationError reports a malformed Problem field. It is returned to the
// caller directly and never converted into a fallback Solution: bad input is
// a programming or data error, not an optimization outcome.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid problem: field %q: %s", e.Field, e.Reason)
}

// Problem is one rebalancing instance: scenario matrices, the previous
// portfolio, and the risk hyperparameters. It is immutable once validated.
// Field names follow the wire record exchanged with the data/valuation side.
type Problem struct {
	NAssets    int `json:"n_assets"`
	NScenarios int `json:"n_scenarios"`

	// AssetScenarios is T x N: per-scenario returns for each asset.
	AssetScenarios     [][]float64 `json:"asset_scenarios"`
	BenchmarkScenarios []float64   `json:"benchmark_scenarios"`
	CashScenarios      []float64   `json:"cash_scenarios"`

	PrevWeights []float64 `json:"prev_weights"`
	PrevCash    float64   `json:"prev_cash"`

	AssetBetas   []float64 `json:"asset_betas"`
	StressWeight float64   `json:"stress_weight"`

	LambdaLPM1   float64 `json:"lambda_lpm1"`
	LambdaCVaR   float64 `json:"lambda_cvar"`
	LambdaBeta   float64 `json:"lambda_beta"`
	Kappa        float64 `json:"kappa"`
	LPMThreshold float64 `json:"lpm_threshold"`
	CVaRAlpha    float64 `json:"cvar_alpha"`
	BetaTarget   float64 `json:"beta_target"`
}

// Validate checks dimensional consistency and value ranges. It returns a
// *ValidationError naming the first offending field; it never coerces.
func (p *Problem) Validate() error {
	if p.NAssets <= 0 {
		return &ValidationError{Field: "n_assets", Reason: "must be positive"}
	}
	if p.NScenarios <= 0 {
		return &ValidationError{Field: "n_scenarios", Reason: "must be positive"}
	}
	if len(p.AssetScenarios) != p.NScenarios {
		return &ValidationError{
			Field:  "asset_scenarios",
			Reason: fmt.Sprintf("expected %d rows, got %d", p.NScenarios, len(p.AssetScenarios)),
		}
	}
	for t, row := range p.AssetScenarios {
		if len(row) != p.NAssets {
			return &ValidationError{
				Field:  "asset_scenarios",
				Reason: fmt.Sprintf("row %d has %d columns, expected %d", t, len(row), p.NAssets),
			}
		}
	}
	if len(p.BenchmarkScenarios) != p.NScenarios {
		return &ValidationError{
			Field:  "benchmark_scenarios",
			Reason: fmt.Sprintf("expected length %d, got %d", p.NScenarios, len(p.BenchmarkScenarios)),
		}
	}
	if len(p.CashScenarios) != p.NScenarios {
		return &ValidationError{
			Field:  "cash_scenarios",
			Reason: fmt.Sprintf("expected length %d, got %d", p.NScenarios, len(p.CashScenarios)),
		}
	}
	if len(p.PrevWeights) != p.NAssets {
		return &ValidationError{
			Field:  "prev_weights",
			Reason: fmt.Sprintf("expected length %d, got %d", p.NAssets, len(p.PrevWeights)),
		}
	}
	if len(p.AssetBetas) != p.NAssets {
		return &ValidationError{
			Field:  "asset_betas",
			Reason: fmt.Sprintf("expected length %d, got %d", p.NAssets, len(p.AssetBetas)),
		}
	}
	if p.StressWeight < 0 {
		return &ValidationError{Field: "stress_weight", Reason: "must be >= 0"}
	}
	if p.LambdaLPM1 < 0 {
		return &ValidationError{Field: "lambda_lpm1", Reason: "must be >= 0"}
	}
	if p.LambdaCVaR < 0 {
		return &ValidationError{Field: "lambda_cvar", Reason: "must be >= 0"}
	}
	if p.LambdaBeta < 0 {
		return &ValidationError{Field: "lambda_beta", Reason: "must be >= 0"}
	}
	if p.Kappa < 0 {
		return &ValidationError{Field: "kappa", Reason: "must be >= 0"}
	}
	if p.CVaRAlpha <= 0 || p.CVaRAlpha >= 1 {
		return &ValidationError{Field: "cvar_alpha", Reason: "must be in (0, 1)"}
	}
	return nil
}
