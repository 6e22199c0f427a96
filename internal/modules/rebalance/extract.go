package rebalance

import "math"

// extract maps the cascade's terminal state into a Solution.
//
// For accepted statuses the four component metrics are recomputed from the
// optimized slack and auxiliary variables rather than re-derived from the
// weights, so they are guaranteed consistent with the reported objective:
// the shortfall slacks equal the per-scenario hinge values, eta plus the
// scaled tail slacks equal the CVaR estimate, and the turnover and beta
// slacks are tight at the optimum by minimization pressure.
func extract(p *Problem, prog *Program, raw *RawSolution, acceptInaccurate bool) *Solution {
	if raw == nil || !raw.Status.Accepted(acceptInaccurate) {
		status := StatusError
		if raw != nil {
			status = raw.Status
		}
		return fallbackSolution(p, status)
	}

	cols := prog.Cols
	x := raw.X

	weights := make([]float64, prog.nAssets)
	copy(weights, x[cols.w:cols.w+prog.nAssets])
	cash := x[cols.wc]

	t := float64(prog.nScenarios)
	var sumShortfall, sumTail, turnover float64
	for s := 0; s < prog.nScenarios; s++ {
		sumShortfall += x[cols.sLPM+s]
		sumTail += x[cols.u+s]
	}
	for i := 0; i < prog.nAssets; i++ {
		turnover += x[cols.z+i]
	}
	eta := x[cols.etaPlus] - x[cols.etaMinus]

	return &Solution{
		AssetWeights:   weights,
		CashWeight:     cash,
		ObjectiveValue: raw.Objective,
		LPM1Value:      sumShortfall / t,
		CVaRValue:      eta + sumTail/((1-prog.cvarAlpha)*t),
		Turnover:       turnover,
		BetaPenalty:    prog.stressWeight * x[cols.v],
		SolverStatus:   raw.Status,
	}
}

// fallbackSolution is the do-not-rebalance outcome: the previous weights are
// passed through verbatim (same backing values, freshly copied), the
// objective is +Inf and every component metric is zero.
func fallbackSolution(p *Problem, status Status) *Solution {
	weights := make([]float64, len(p.PrevWeights))
	copy(weights, p.PrevWeights)
	return &Solution{
		AssetWeights:   weights,
		CashWeight:     p.PrevCash,
		ObjectiveValue: math.Inf(1),
		SolverStatus:   status,
	}
}
