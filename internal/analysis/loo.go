// Package analysis holds model-comparison measures computed from posterior
// draws.
package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"falseneg/internal/errors"
)

// LOO is an importance-sampling leave-one-out estimate of out-of-sample
// predictive accuracy.
type LOO struct {
	Elpd      float64   // expected log pointwise predictive density
	PLoo      float64   // effective number of parameters
	Pointwise []float64 // per-record elpd contributions
}

// ElpdLOO computes importance-sampling LOO from a pointwise log-likelihood
// matrix indexed [draw][record]. All sums run through log-sum-exp; no
// density is ever exponentiated at full magnitude.
func ElpdLOO(loglik [][]float64) (LOO, error) {
	if len(loglik) == 0 || len(loglik[0]) == 0 {
		return LOO{}, errors.New(errors.CodeInternalError, "empty log-likelihood matrix")
	}
	nDraws := len(loglik)
	nRecords := len(loglik[0])
	logS := math.Log(float64(nDraws))

	col := make([]float64, nDraws)
	neg := make([]float64, nDraws)
	out := LOO{Pointwise: make([]float64, nRecords)}

	for i := 0; i < nRecords; i++ {
		for d := 0; d < nDraws; d++ {
			col[d] = loglik[d][i]
			neg[d] = -loglik[d][i]
		}
		lpd := floats.LogSumExp(col) - logS
		// Harmonic-mean importance weights: elpd_i = -log E[1/p(y_i|theta)].
		elpd := -(floats.LogSumExp(neg) - logS)
		out.Pointwise[i] = elpd
		out.Elpd += elpd
		out.PLoo += lpd - elpd
	}
	return out, nil
}
