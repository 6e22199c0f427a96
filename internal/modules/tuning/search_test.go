package tuning

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/modules/backtest"
	"github.com/aristath/rebalancer/internal/modules/rebalance"
	"github.com/aristath/rebalancer/internal/modules/regime"
	"github.com/aristath/rebalancer/internal/modules/scenarios"
)

func newSearchFixture(t *testing.T) *Service {
	t.Helper()

	open := func(name string, profile database.Profile) *database.DB {
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

	histRepo := scenarios.NewRepository(open("history", database.ProfileHistory), zerolog.Nop())
	for symbol, scale := range map[string]float64{"AAA": 1.0, "BBB": 0.4, "BENCH": 0.7} {
		var points []scenarios.ReturnPoint
		for day := 1; day <= 8; day++ {
			r := scale * 0.01
			if day%3 == 0 {
				r = -r
			}
			points = append(points, scenarios.ReturnPoint{
				Date:   fmt.Sprintf("2024-03-%02d", day),
				Return: r,
			})
		}
		require.NoError(t, histRepo.UpsertReturns(symbol, points))
	}

	svc := backtest.NewService(
		scenarios.NewBuilder(histRepo, 0, zerolog.Nop()),
		histRepo,
		regime.NewDetector(2, 3, 10, zerolog.Nop()),
		rebalance.NewOptimizer(rebalance.DefaultOptions(), zerolog.Nop()),
		backtest.NewRepository(open("results", database.ProfileResults), zerolog.Nop()),
		zerolog.Nop(),
	)
	return NewService(svc, 2, zerolog.Nop())
}

func TestSearch_RunsEveryGridPoint(t *testing.T) {
	tuner := newSearchFixture(t)

	req := &backtest.Request{
		Universe:  []string{"AAA", "BBB"},
		Benchmark: "BENCH",
		StartDate: "2024-03-05",
		EndDate:   "2024-03-07",
		Params: backtest.Params{
			LambdaLPM1:     1.0,
			LambdaCVaR:     0.5,
			LambdaBeta:     0.1,
			Kappa:          0.01,
			CVaRAlpha:      0.8,
			BetaTarget:     0.7,
			ScenarioWindow: 3,
			BetaWindow:     4,
		},
	}
	grid := &Grid{Kappas: []float64{0.005, 0.05}, LambdaBetas: []float64{0.05, 0.5}}

	report, err := tuner.Search(context.Background(), req, grid)
	require.NoError(t, err)
	require.Len(t, report.Results, 4)

	// Best-first ordering, and the best entry is the head of the list.
	for i := 1; i < len(report.Results); i++ {
		assert.LessOrEqual(t, report.Results[i-1].Score, report.Results[i].Score)
	}
	assert.Equal(t, report.Best.RunID, report.Results[0].RunID)

	seen := map[string]bool{}
	for _, res := range report.Results {
		assert.NotEmpty(t, res.RunID)
		assert.False(t, seen[res.RunID], "run IDs must be unique")
		seen[res.RunID] = true
		assert.Equal(t, 3, res.Summary.NDates)
	}
}

func TestSearch_EmptyUniverseFails(t *testing.T) {
	tuner := newSearchFixture(t)

	req := &backtest.Request{
		Benchmark: "BENCH",
		StartDate: "2024-03-05",
		EndDate:   "2024-03-07",
		Params:    backtest.Params{ScenarioWindow: 3, BetaWindow: 3, CVaRAlpha: 0.8},
	}
	_, err := tuner.Search(context.Background(), req, &Grid{})
	assert.Error(t, err)
}
