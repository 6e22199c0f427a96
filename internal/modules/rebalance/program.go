package rebalance

import "gonum.org/v1/gonum/mat"

// columns tracks where each named variable block starts in the standard-form
// column space. The free CVaR threshold eta is split into etaPlus - etaMinus
// because standard form only admits nonnegative variables; every inequality
// row carries its own surplus column so that all constraints are equalities.
type columns struct {
	w        int // asset weights, N
	wc       int // cash weight, 1
	sLPM     int // downside shortfall slacks, T
	etaPlus  int // positive part of eta, 1
	etaMinus int // negative part of eta, 1
	u        int // tail-loss slacks, T
	z        int // absolute turnover slacks, N
	v        int // absolute beta deviation slack, 1
	surplus  int // first surplus column, 2T+2N+2 of them
	total    int
}

func newColumns(nAssets, nScenarios int) columns {
	var c columns
	n, t := nAssets, nScenarios
	c.w = 0
	c.wc = c.w + n
	c.sLPM = c.wc + 1
	c.etaPlus = c.sLPM + t
	c.etaMinus = c.etaPlus + 1
	c.u = c.etaMinus + 1
	c.z = c.u + t
	c.v = c.z + n
	c.surplus = c.v + 1
	c.total = c.surplus + 2*t + 2*n + 2
	return c
}

// Program is one rebalancing instance rewritten as a standard-form linear
// program: minimize Obj'x subject to A x = B, x >= 0. It is owned by a single
// solve call and discarded after extraction.
type Program struct {
	Cols columns
	Obj  []float64
	A    *mat.Dense
	B    []float64

	// Kept for component extraction.
	nAssets      int
	nScenarios   int
	cvarAlpha    float64
	stressWeight float64
}

// NumVariables returns the width of the column space, surplus included.
func (pr *Program) NumVariables() int { return pr.Cols.total }

// NumConstraints returns the number of equality rows.
func (pr *Program) NumConstraints() int { return len(pr.B) }
