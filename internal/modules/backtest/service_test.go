package backtest

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/modules/rebalance"
	"github.com/aristath/rebalancer/internal/modules/regime"
	"github.com/aristath/rebalancer/internal/modules/scenarios"
)

func newTestDB(t *testing.T, name string, profile database.Profile) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// newTestService wires a full stack over in-test databases with ten days of
// gently varying returns for two assets and a benchmark.
func newTestService(t *testing.T) (*Service, *Repository) {
	t.Helper()

	historyDB := newTestDB(t, "history", database.ProfileHistory)
	resultsDB := newTestDB(t, "results", database.ProfileResults)

	histRepo := scenarios.NewRepository(historyDB, zerolog.Nop())
	for symbol, scale := range map[string]float64{"AAA": 1.0, "BBB": -0.5, "BENCH": 0.6} {
		var points []scenarios.ReturnPoint
		for day := 1; day <= 10; day++ {
			r := scale * 0.01
			if day%2 == 0 {
				r = -r / 2
			}
			points = append(points, scenarios.ReturnPoint{
				Date:   fmt.Sprintf("2024-01-%02d", day),
				Return: r,
			})
		}
		require.NoError(t, histRepo.UpsertReturns(symbol, points))
	}

	builder := scenarios.NewBuilder(histRepo, 0.0001, zerolog.Nop())
	detector := regime.NewDetector(2, 3, 10, zerolog.Nop())
	optimizer := rebalance.NewOptimizer(rebalance.DefaultOptions(), zerolog.Nop())
	results := NewRepository(resultsDB, zerolog.Nop())

	svc := NewService(builder, histRepo, detector, optimizer, results, zerolog.Nop())
	return svc, results
}

func testRequest() *Request {
	return &Request{
		Universe:  []string{"AAA", "BBB"},
		Benchmark: "BENCH",
		StartDate: "2024-01-06",
		EndDate:   "2024-01-08",
		Params: Params{
			LambdaLPM1:     1.0,
			LambdaCVaR:     0.5,
			LambdaBeta:     0.1,
			Kappa:          0.01,
			LPMThreshold:   0,
			CVaRAlpha:      0.8,
			BetaTarget:     0.5,
			ScenarioWindow: 3,
			BetaWindow:     5,
		},
	}
}

func TestService_RunPersistsDecisions(t *testing.T) {
	svc, results := newTestService(t)

	var steps []Progress
	summary, err := svc.Run(context.Background(), testRequest(), KindBacktest, func(p Progress) {
		steps = append(steps, p)
	})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.NDates)
	assert.Equal(t, KindBacktest, summary.Kind)
	assert.NotEmpty(t, summary.RunID)
	assert.NotEmpty(t, summary.FinishedAt)
	require.Len(t, steps, 3)
	assert.Equal(t, 3, steps[2].TotalSteps)
	assert.Equal(t, summary.RunID, steps[0].RunID)

	records, err := results.Records(summary.RunID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, rec := range records {
		total := rec.Solution.CashWeight
		for _, w := range rec.Solution.AssetWeights {
			total += w
			assert.GreaterOrEqual(t, w, -1e-9)
		}
		assert.InDelta(t, 1.0, total, 1e-6)
	}

	loaded, err := results.Run(summary.RunID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, summary.Symbols, loaded.Symbols)
	assert.Equal(t, summary.NRebalances, loaded.NRebalances)
	assert.InDelta(t, summary.TotalTurnover, loaded.TotalTurnover, 1e-9)
}

func TestService_ThresholdSuppressesTrades(t *testing.T) {
	svc, results := newTestService(t)

	req := testRequest()
	// Total turnover can never exceed 2, so every trade is suppressed.
	req.Params.RebalanceThreshold = 3
	req.InitialWeights = []float64{0.4, 0.4}
	req.InitialCash = 0.2

	summary, err := svc.Run(context.Background(), req, KindBacktest, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.NRebalances)
	assert.Zero(t, summary.TotalTurnover)

	records, err := results.Records(summary.RunID)
	require.NoError(t, err)
	for _, rec := range records {
		assert.False(t, rec.Rebalanced)
	}
}

func TestService_CancelledContext(t *testing.T) {
	svc, _ := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Run(ctx, testRequest(), KindBacktest, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestService_EmptyUniverse(t *testing.T) {
	svc, _ := newTestService(t)

	req := testRequest()
	req.Universe = nil
	_, err := svc.Run(context.Background(), req, KindBacktest, nil)
	assert.Error(t, err)
}

func TestRepository_FallbackObjectiveRoundTripsAsNull(t *testing.T) {
	resultsDB := newTestDB(t, "results", database.ProfileResults)
	repo := NewRepository(resultsDB, zerolog.Nop())

	rec := &Record{
		RunID: "run-1",
		Date:  "2024-02-01",
		Solution: rebalance.Solution{
			AssetWeights:   []float64{0.5, 0.5},
			CashWeight:     0,
			ObjectiveValue: math.Inf(1),
			SolverStatus:   rebalance.StatusError,
		},
	}
	require.NoError(t, repo.SaveRecord(rec))

	records, err := repo.Records("run-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, math.IsInf(records[0].Solution.ObjectiveValue, 1))
	assert.False(t, records[0].Rebalanced)
	assert.Equal(t, []float64{0.5, 0.5}, records[0].Solution.AssetWeights)
}
