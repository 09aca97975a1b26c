// Package diagnostics computes cross-chain convergence diagnostics for
// pooled MCMC output: split-R-hat and effective sample size per parameter,
// plus the structured warnings attached to a run's result.
package diagnostics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"falseneg/domain/scenario"
	"falseneg/internal/errors"
	"falseneg/ports"
)

// Thresholds for flagging a run as provisional.
const (
	RHatThreshold    = 1.05
	ESSFraction      = 0.10 // minimum ESS as a fraction of total draws
	AcceptanceMargin = 0.15 // acceptance this far below target suggests divergences
)

// Convergence holds per-parameter diagnostics across chains. Insufficient
// marks runs whose retained budget is too small to split; such runs carry
// no R-hat/ESS values and are reported as non-converged, never as errors.
type Convergence struct {
	RHat         []float64
	ESS          []float64
	MaxRHat      float64
	MinESS       float64
	Insufficient bool
}

// Evaluate computes split-R-hat and ESS for every parameter. Each chain is
// split in half, so a single-chain run still yields a (weaker) R-hat.
// Draws per chain must match; odd trailing draws are dropped by the split.
func Evaluate(chains [][][]float64) (Convergence, error) {
	if len(chains) == 0 || len(chains[0]) == 0 || len(chains[0][0]) == 0 {
		return Convergence{}, errors.New(errors.CodeInternalError, "no draws for convergence diagnostics")
	}
	if len(chains[0]) < 4 {
		return Convergence{Insufficient: true}, nil
	}
	nParams := len(chains[0][0])
	conv := Convergence{
		RHat: make([]float64, nParams),
		ESS:  make([]float64, nParams),
	}
	conv.MaxRHat = math.Inf(-1)
	conv.MinESS = math.Inf(1)

	for p := 0; p < nParams; p++ {
		split := splitTraces(chains, p)
		rhat := splitRHat(split)
		ess := effectiveSampleSize(split)
		conv.RHat[p] = rhat
		conv.ESS[p] = ess
		if rhat > conv.MaxRHat {
			conv.MaxRHat = rhat
		}
		if ess < conv.MinESS {
			conv.MinESS = ess
		}
	}
	return conv, nil
}

// splitTraces extracts parameter p from every chain and splits each chain
// into two halves of equal length.
func splitTraces(chains [][][]float64, p int) [][]float64 {
	half := len(chains[0]) / 2
	for _, c := range chains {
		if len(c)/2 < half {
			half = len(c) / 2
		}
	}
	var out [][]float64
	for _, c := range chains {
		first := make([]float64, half)
		second := make([]float64, half)
		for i := 0; i < half; i++ {
			first[i] = c[i][p]
			second[i] = c[len(c)-half+i][p]
		}
		out = append(out, first, second)
	}
	return out
}

// splitRHat is the potential scale reduction factor over split traces.
func splitRHat(traces [][]float64) float64 {
	m := float64(len(traces))
	n := float64(len(traces[0]))

	means := make([]float64, len(traces))
	w := 0.0
	for i, t := range traces {
		means[i] = stat.Mean(t, nil)
		w += stat.Variance(t, nil)
	}
	w /= m
	b := n * stat.Variance(means, nil)

	if w == 0 {
		// Degenerate traces (e.g. a point-mass posterior): by convention
		// perfectly mixed rather than infinitely bad.
		return 1
	}
	varPlus := (n-1)/n*w + b/n
	return math.Sqrt(varPlus / w)
}

// effectiveSampleSize follows the Stan approach: combined autocorrelations
// across split traces, truncated by Geyer's initial monotone positive
// sequence.
func effectiveSampleSize(traces [][]float64) float64 {
	m := float64(len(traces))
	n := len(traces[0])

	means := make([]float64, len(traces))
	w := 0.0
	for i, t := range traces {
		means[i] = stat.Mean(t, nil)
		w += stat.Variance(t, nil)
	}
	w /= m
	b := float64(n) * stat.Variance(means, nil)
	varPlus := float64(n-1)/float64(n)*w + b/float64(n)
	if varPlus == 0 {
		return m * float64(n)
	}

	// Mean autocovariance across traces at each lag.
	acov := func(lag int) float64 {
		s := 0.0
		for i, t := range traces {
			mu := means[i]
			a := 0.0
			for j := 0; j+lag < n; j++ {
				a += (t[j] - mu) * (t[j+lag] - mu)
			}
			s += a / float64(n)
		}
		return s / m
	}

	rho := func(lag int) float64 {
		return 1 - (w-acov(lag))/varPlus
	}

	// Geyer initial monotone positive sequence over paired lags.
	tau := 1.0
	prevPair := math.Inf(1)
	for lag := 1; lag+1 < n; lag += 2 {
		pair := rho(lag) + rho(lag+1)
		if pair < 0 {
			break
		}
		if pair > prevPair {
			pair = prevPair
		}
		prevPair = pair
		tau += 2 * pair
	}

	ess := m * float64(n) / tau
	if ess > m*float64(n) {
		ess = m * float64(n)
	}
	return ess
}

// Build assembles the run diagnostics from the convergence measures and
// the engine's per-chain statistics. Predictive-accuracy fields are filled
// in by the caller once pointwise likelihoods are available.
func Build(conv Convergence, stats []ports.ChainStats, cfg ports.SamplerConfig) scenario.Diagnostics {
	d := scenario.Diagnostics{
		MaxSplitRHat: conv.MaxRHat,
		MinESS:       conv.MinESS,
		Converged:    true,
	}

	saturated := false
	meanAcc, meanDepth := 0.0, 0.0
	for _, s := range stats {
		meanAcc += s.AcceptanceRate
		meanDepth += s.MeanTreeDepth
		saturated = saturated || s.DepthSaturated
	}
	if len(stats) > 0 {
		meanAcc /= float64(len(stats))
		meanDepth /= float64(len(stats))
	}
	d.AcceptanceRate = meanAcc
	d.MeanTreeDepth = meanDepth
	d.TreeDepthSaturated = saturated

	total := float64(cfg.Chains * cfg.Retained())
	if conv.Insufficient {
		d.Converged = false
		d.Warnings = append(d.Warnings,
			fmt.Sprintf("only %d draws retained per chain: too few for split R-hat and ESS", cfg.Retained()))
	} else {
		if conv.MaxRHat > RHatThreshold {
			d.Converged = false
			d.Warnings = append(d.Warnings,
				fmt.Sprintf("split R-hat %.3f above %.2f: chains have not mixed", conv.MaxRHat, RHatThreshold))
		}
		if conv.MinESS < ESSFraction*total {
			d.Warnings = append(d.Warnings,
				fmt.Sprintf("effective sample size %.0f below %.0f%% of %d draws", conv.MinESS, ESSFraction*100, int(total)))
		}
	}
	if meanAcc < cfg.AdaptDelta-AcceptanceMargin {
		d.Warnings = append(d.Warnings,
			fmt.Sprintf("acceptance rate %.2f well below target %.2f: divergent transitions likely", meanAcc, cfg.AdaptDelta))
	}
	if saturated {
		d.Warnings = append(d.Warnings,
			fmt.Sprintf("tree depth saturated at maximum %d", cfg.MaxTreeDepth))
	}
	return d
}
