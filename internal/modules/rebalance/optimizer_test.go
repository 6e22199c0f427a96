package rebalance

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const weightTol = 1e-6

func newTestOptimizer() *Optimizer {
	return NewOptimizer(DefaultOptions(), zerolog.Nop())
}

func TestOptimize_ReferenceScenario(t *testing.T) {
	sol, err := newTestOptimizer().Optimize(validProblem())
	require.NoError(t, err)
	require.True(t, sol.Rebalanced(), "status was %s", sol.SolverStatus)

	sum := sol.CashWeight
	for _, w := range sol.AssetWeights {
		sum += w
		assert.GreaterOrEqual(t, w, -weightTol)
	}
	assert.InDelta(t, 1.0, sum, weightTol)
	assert.GreaterOrEqual(t, sol.CashWeight, -weightTol)
	assert.False(t, math.IsInf(sol.ObjectiveValue, 1))
}

func TestOptimize_ValidationErrorProducesNoSolution(t *testing.T) {
	p := validProblem()
	p.CVaRAlpha = 2

	sol, err := newTestOptimizer().Optimize(p)
	require.Error(t, err)
	assert.Nil(t, sol)

	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestOptimize_FallbackIdentity(t *testing.T) {
	p := validProblem()
	alwaysInfeasible := &fakeBackend{name: "stuck", raw: &RawSolution{Status: StatusInfeasible}}
	opt := NewOptimizer(Options{Backends: []Backend{alwaysInfeasible}, AcceptInaccurate: true}, zerolog.Nop())

	sol, err := opt.Optimize(p)
	require.NoError(t, err)

	assert.Equal(t, p.PrevWeights, sol.AssetWeights, "previous weights pass through verbatim")
	assert.Equal(t, p.PrevCash, sol.CashWeight)
	assert.True(t, math.IsInf(sol.ObjectiveValue, 1))
	assert.Zero(t, sol.LPM1Value)
	assert.Zero(t, sol.CVaRValue)
	assert.Zero(t, sol.Turnover)
	assert.Zero(t, sol.BetaPenalty)
	assert.Equal(t, StatusInfeasible, sol.SolverStatus)
	assert.False(t, sol.Rebalanced())
}

func TestOptimize_FallbackDoesNotAliasPrevWeights(t *testing.T) {
	p := validProblem()
	opt := NewOptimizer(Options{Backends: []Backend{&fakeBackend{name: "stuck", raw: &RawSolution{Status: StatusInfeasible}}}}, zerolog.Nop())

	sol, err := opt.Optimize(p)
	require.NoError(t, err)

	sol.AssetWeights[0] = 99
	assert.Equal(t, 0.5, p.PrevWeights[0], "caller state must stay untouched")
}

func TestOptimize_TurnoverConsistency(t *testing.T) {
	sol, err := newTestOptimizer().Optimize(validProblem())
	require.NoError(t, err)
	require.True(t, sol.Rebalanced())

	p := validProblem()
	direct := 0.0
	for i, w := range sol.AssetWeights {
		direct += math.Abs(w - p.PrevWeights[i])
	}
	assert.InDelta(t, direct, sol.Turnover, weightTol)
}

// TestOptimize_ZeroTurnoverIdempotence: with every risk term off and a
// positive turnover charge, the cheapest portfolio is the one already held.
func TestOptimize_ZeroTurnoverIdempotence(t *testing.T) {
	p := validProblem()
	p.PrevWeights = []float64{0.4, 0.5}
	p.PrevCash = 0.1
	p.LambdaLPM1 = 0
	p.LambdaCVaR = 0
	p.LambdaBeta = 0
	p.Kappa = 0.5

	sol, err := newTestOptimizer().Optimize(p)
	require.NoError(t, err)
	require.True(t, sol.Rebalanced())

	for i, w := range sol.AssetWeights {
		assert.InDelta(t, p.PrevWeights[i], w, weightTol, "asset %d", i)
	}
	assert.InDelta(t, p.PrevCash, sol.CashWeight, weightTol)
	assert.InDelta(t, 0.0, sol.Turnover, weightTol)
}

// TestOptimize_MonotonicBetaPenalty: cranking the stress weight can only pull
// the achieved beta closer to its target.
func TestOptimize_MonotonicBetaPenalty(t *testing.T) {
	deviation := func(stress float64) float64 {
		p := validProblem()
		p.StressWeight = stress
		// Remove the turnover anchor so the beta term can actually move weights.
		p.Kappa = 0.001

		sol, err := newTestOptimizer().Optimize(p)
		require.NoError(t, err)
		require.True(t, sol.Rebalanced())

		beta := 0.0
		for i, w := range sol.AssetWeights {
			beta += w * p.AssetBetas[i]
		}
		return math.Abs(beta - p.BetaTarget)
	}

	low := deviation(0.01)
	high := deviation(100)
	assert.LessOrEqual(t, high, low+weightTol)
}

func TestOptimize_SingleScenario(t *testing.T) {
	p := validProblem()
	p.NScenarios = 1
	p.AssetScenarios = [][]float64{{0.01, -0.02}}
	p.BenchmarkScenarios = []float64{0.005}
	p.CashScenarios = []float64{0.0}

	sol, err := newTestOptimizer().Optimize(p)
	require.NoError(t, err)
	require.True(t, sol.Rebalanced(), "T=1 must not error, got %s", sol.SolverStatus)

	sum := sol.CashWeight
	for _, w := range sol.AssetWeights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, weightTol)
}

// TestOptimize_ComponentsMatchObjective cross-checks that the extracted
// component metrics recombine into the reported objective value.
func TestOptimize_ComponentsMatchObjective(t *testing.T) {
	p := validProblem()
	sol, err := newTestOptimizer().Optimize(p)
	require.NoError(t, err)
	require.True(t, sol.Rebalanced())

	recombined := p.LambdaLPM1*sol.LPM1Value +
		p.LambdaCVaR*sol.CVaRValue +
		p.Kappa*sol.Turnover +
		p.LambdaBeta*sol.BetaPenalty

	assert.InDelta(t, sol.ObjectiveValue, recombined, 1e-8)
}
