package rebalance

import (
	"encoding/json"
	"math"
)

// Solution is the outcome of one optimizer invocation. On an accepted solve
// the weights are the optimized portfolio and the component metrics are read
// off the optimized slack variables; on any failure it is the previous
// portfolio passed through untouched, with an infinite objective and zeroed
// components, so the caller's safest action (do not rebalance) is also the
// default one.
type Solution struct {
	AssetWeights   []float64 `json:"asset_weights"`
	CashWeight     float64   `json:"cash_weight"`
	ObjectiveValue float64   `json:"objective_value"`
	LPM1Value      float64   `json:"lpm1_value"`
	CVaRValue      float64   `json:"cvar_value"`
	Turnover       float64   `json:"turnover"`
	BetaPenalty    float64   `json:"beta_penalty"`
	SolverStatus   Status    `json:"solver_status"`
}

// Rebalanced reports whether the solution carries an optimized portfolio
// rather than the do-not-rebalance fallback.
func (s *Solution) Rebalanced() bool {
	return s.SolverStatus == StatusOptimal || s.SolverStatus == StatusOptimalInaccurate
}

// solutionJSON is the wire shape of Solution. The fallback objective is
// +Inf, which encoding/json cannot represent, so it travels as null.
type solutionJSON struct {
	AssetWeights   []float64 `json:"asset_weights"`
	CashWeight     float64   `json:"cash_weight"`
	ObjectiveValue *float64  `json:"objective_value"`
	LPM1Value      float64   `json:"lpm1_value"`
	CVaRValue      float64   `json:"cvar_value"`
	Turnover       float64   `json:"turnover"`
	BetaPenalty    float64   `json:"beta_penalty"`
	SolverStatus   Status    `json:"solver_status"`
}

// MarshalJSON encodes an infinite objective as null.
func (s Solution) MarshalJSON() ([]byte, error) {
	out := solutionJSON{
		AssetWeights: s.AssetWeights,
		CashWeight:   s.CashWeight,
		LPM1Value:    s.LPM1Value,
		CVaRValue:    s.CVaRValue,
		Turnover:     s.Turnover,
		BetaPenalty:  s.BetaPenalty,
		SolverStatus: s.SolverStatus,
	}
	if !math.IsInf(s.ObjectiveValue, 0) {
		v := s.ObjectiveValue
		out.ObjectiveValue = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a null objective back to +Inf.
func (s *Solution) UnmarshalJSON(data []byte) error {
	var in solutionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s.AssetWeights = in.AssetWeights
	s.CashWeight = in.CashWeight
	s.LPM1Value = in.LPM1Value
	s.CVaRValue = in.CVaRValue
	s.Turnover = in.Turnover
	s.BetaPenalty = in.BetaPenalty
	s.SolverStatus = in.SolverStatus
	if in.ObjectiveValue != nil {
		s.ObjectiveValue = *in.ObjectiveValue
	} else {
		s.ObjectiveValue = math.Inf(1)
	}
	return nil
}
