package tuning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/rebalancer/internal/modules/backtest"
)

func TestExpand_CartesianProduct(t *testing.T) {
	base := backtest.Params{LambdaLPM1: 1, LambdaCVaR: 2, Kappa: 0.1, CVaRAlpha: 0.9}
	grid := &Grid{
		LambdaLPM1s: []float64{0.5, 1.0, 2.0},
		Kappas:      []float64{0.01, 0.05},
	}

	points := expand(base, grid)
	require.Len(t, points, 6)

	for _, p := range points {
		// Untouched dimensions keep the base value.
		assert.Equal(t, 2.0, p.LambdaCVaR)
		assert.Equal(t, 0.9, p.CVaRAlpha)
	}
	assert.Equal(t, 0.5, points[0].LambdaLPM1)
	assert.Equal(t, 0.01, points[0].Kappa)
	assert.Equal(t, 2.0, points[5].LambdaLPM1)
	assert.Equal(t, 0.05, points[5].Kappa)
}

func TestExpand_EmptyGridUsesBase(t *testing.T) {
	base := backtest.Params{LambdaLPM1: 1, Kappa: 0.1}
	points := expand(base, &Grid{})
	require.Len(t, points, 1)
	assert.Equal(t, base, points[0])
}

func TestScore_CompositeWeighting(t *testing.T) {
	candidates := []backtest.Params{{}, {}, {}}
	summaries := []backtest.RunSummary{
		{RunID: "low", AvgCVaR: 0.01, AvgLPM1: 0.001, AvgTurnover: 0.1},
		{RunID: "mid", AvgCVaR: 0.02, AvgLPM1: 0.002, AvgTurnover: 0.2},
		{RunID: "high", AvgCVaR: 0.03, AvgLPM1: 0.003, AvgTurnover: 0.3},
	}

	results := score(candidates, summaries)
	require.Len(t, results, 3)

	// Best on every metric scores zero, worst scores one.
	assert.InDelta(t, 0.0, results[0].Score, 1e-12)
	assert.InDelta(t, 0.5, results[1].Score, 1e-12)
	assert.InDelta(t, 1.0, results[2].Score, 1e-12)
}

func TestScore_TurnoverCarriesLessWeight(t *testing.T) {
	candidates := []backtest.Params{{}, {}}
	// Candidate A wins on both risk metrics but loses on turnover.
	summaries := []backtest.RunSummary{
		{RunID: "a", AvgCVaR: 0.01, AvgLPM1: 0.001, AvgTurnover: 0.9},
		{RunID: "b", AvgCVaR: 0.02, AvgLPM1: 0.002, AvgTurnover: 0.1},
	}

	results := score(candidates, summaries)
	assert.Less(t, results[0].Score, results[1].Score)
	assert.Equal(t, "a", results[0].RunID)
}

func TestNormalize_ConstantMetric(t *testing.T) {
	out := normalize([]float64{0.5, 0.5, 0.5})
	for _, v := range out {
		assert.InDelta(t, 0.5, v, 1e-12)
	}
}
