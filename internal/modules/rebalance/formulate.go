package rebalance

import "gonum.org/v1/gonum/mat"

// Formulate rewrites a validated Problem as a standard-form LP. Every
// non-smooth objective piece (hinge shortfall, tail expectation, absolute
// turnover, absolute beta deviation) becomes a nonnegative slack bounded from
// below by one-sided linear rows; minimization pressure makes each slack
// tight at the optimum, so no conditional logic appears anywhere in the
// program.
//
// Row layout (all equalities after adding surplus columns):
//
//	row 0                     sum(w) + wc = 1
//	rows 1 .. T               sLPM[t] >= tau - a[t]
//	rows T+1 .. 2T            u[t] >= -a[t] - eta
//	rows 2T+1 .. 2T+N         z[i] >= w[i] - prev[i]
//	rows 2T+N+1 .. 2T+2N      z[i] >= prev[i] - w[i]
//	row 2T+2N+1               v >= betas.w - betaTarget
//	row 2T+2N+2               v >= betaTarget - betas.w
//
// where a[t] = R[t].w + rc[t]*wc - bench[t] is the active scenario return.
func Formulate(p *Problem) *Program {
	n, t := p.NAssets, p.NScenarios
	cols := newColumns(n, t)
	rows := 1 + 2*t + 2*n + 2

	a := mat.NewDense(rows, cols.total, nil)
	b := make([]float64, rows)
	obj := make([]float64, cols.total)

	// Objective: lpm1 + cvar + turnover + beta penalty. Surplus columns are
	// free of charge.
	for i := 0; i < t; i++ {
		obj[cols.sLPM+i] = p.LambdaLPM1 / float64(t)
		obj[cols.u+i] = p.LambdaCVaR / ((1 - p.CVaRAlpha) * float64(t))
	}
	obj[cols.etaPlus] = p.LambdaCVaR
	obj[cols.etaMinus] = -p.LambdaCVaR
	for i := 0; i < n; i++ {
		obj[cols.z+i] = p.Kappa
	}
	obj[cols.v] = p.LambdaBeta * p.StressWeight

	// Full investment: sum(w) + wc = 1.
	for i := 0; i < n; i++ {
		a.Set(0, cols.w+i, 1)
	}
	a.Set(0, cols.wc, 1)
	b[0] = 1

	surplus := cols.surplus

	// Downside shortfall epigraph: sLPM[t] + a[t] - surplus = tau, with the
	// benchmark constant moved to the right-hand side.
	for s := 0; s < t; s++ {
		row := 1 + s
		for i := 0; i < n; i++ {
			a.Set(row, cols.w+i, p.AssetScenarios[s][i])
		}
		a.Set(row, cols.wc, p.CashScenarios[s])
		a.Set(row, cols.sLPM+s, 1)
		a.Set(row, surplus, -1)
		surplus++
		b[row] = p.LPMThreshold + p.BenchmarkScenarios[s]
	}

	// CVaR epigraph (Rockafellar-Uryasev): u[t] + a[t] + eta - surplus = 0.
	for s := 0; s < t; s++ {
		row := 1 + t + s
		for i := 0; i < n; i++ {
			a.Set(row, cols.w+i, p.AssetScenarios[s][i])
		}
		a.Set(row, cols.wc, p.CashScenarios[s])
		a.Set(row, cols.etaPlus, 1)
		a.Set(row, cols.etaMinus, -1)
		a.Set(row, cols.u+s, 1)
		a.Set(row, surplus, -1)
		surplus++
		b[row] = p.BenchmarkScenarios[s]
	}

	// Turnover L1: w[i] - z[i] <= prev[i] and w[i] + z[i] >= prev[i].
	for i := 0; i < n; i++ {
		row := 1 + 2*t + i
		a.Set(row, cols.w+i, 1)
		a.Set(row, cols.z+i, -1)
		a.Set(row, surplus, 1)
		surplus++
		b[row] = p.PrevWeights[i]
	}
	for i := 0; i < n; i++ {
		row := 1 + 2*t + n + i
		a.Set(row, cols.w+i, 1)
		a.Set(row, cols.z+i, 1)
		a.Set(row, surplus, -1)
		surplus++
		b[row] = p.PrevWeights[i]
	}

	// Beta deviation L1: betas.w - v <= betaTarget and betas.w + v >= betaTarget.
	rowUp := 1 + 2*t + 2*n
	for i := 0; i < n; i++ {
		a.Set(rowUp, cols.w+i, p.AssetBetas[i])
	}
	a.Set(rowUp, cols.v, -1)
	a.Set(rowUp, surplus, 1)
	surplus++
	b[rowUp] = p.BetaTarget

	rowDown := rowUp + 1
	for i := 0; i < n; i++ {
		a.Set(rowDown, cols.w+i, p.AssetBetas[i])
	}
	a.Set(rowDown, cols.v, 1)
	a.Set(rowDown, surplus, -1)
	b[rowDown] = p.BetaTarget

	return &Program{
		Cols:         cols,
		Obj:          obj,
		A:            a,
		B:            b,
		nAssets:      n,
		nScenarios:   t,
		cvarAlpha:    p.CVaRAlpha,
		stressWeight: p.StressWeight,
	}
}
