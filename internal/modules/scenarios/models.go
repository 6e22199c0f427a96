// Package scenarios builds the scenario matrices the optimizer consumes from
// the sqlite return history loaded by the external data fetchers.
package scenarios

// ReturnPoint is one daily return observation for a symbol.
type ReturnPoint struct {
	Date   string  `json:"date"` // YYYY-MM-DD
	Return float64 `json:"return"`
}

// Set is an aligned scenario window for a universe of assets plus its
// benchmark: the raw material of one rebalancing problem. Sets are cached in
// msgpack form, keyed by universe, window and end date.
type Set struct {
	AssetList []string `msgpack:"assets" json:"assets"`
	Benchmark string   `msgpack:"benchmark" json:"benchmark"`
	Dates     []string `msgpack:"dates" json:"dates"`

	// AssetScenarios is T x N, rows aligned with Dates.
	AssetScenarios     [][]float64 `msgpack:"asset_scenarios" json:"asset_scenarios"`
	BenchmarkScenarios []float64   `msgpack:"benchmark_scenarios" json:"benchmark_scenarios"`
	CashScenarios      []float64   `msgpack:"cash_scenarios" json:"cash_scenarios"`

	// AssetBetas are estimated against the benchmark over the beta window.
	AssetBetas []float64 `msgpack:"asset_betas" json:"asset_betas"`
}

// NumScenarios returns T.
func (s *Set) NumScenarios() int { return len(s.Dates) }

// NumAssets returns N.
func (s *Set) NumAssets() int { return len(s.AssetList) }
