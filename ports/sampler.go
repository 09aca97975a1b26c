package ports

import (
	"context"
)

// Model is the differentiable log-posterior a Sampler consumes. Observe
// returns the log density at an unconstrained parameter vector; Gradient
// returns its gradient at the point of the preceding Observe call.
type Model interface {
	Observe(x []float64) float64
	Gradient() []float64
}

// SamplerConfig carries the MCMC controls for one run. Validated by the
// caller before any sampling work begins.
type SamplerConfig struct {
	Chains       int     `json:"chains"`
	Iter         int     `json:"iter"`   // total iterations per chain
	Warmup       int     `json:"warmup"` // discarded adaptation iterations
	AdaptDelta   float64 `json:"adapt_delta"`
	MaxTreeDepth int     `json:"max_treedepth"`
	StepSize     float64 `json:"step_size"` // initial leapfrog step size
	Seed         int64   `json:"seed"`
}

// Retained returns the number of post-warmup draws per chain.
func (c SamplerConfig) Retained() int { return c.Iter - c.Warmup }

// ChainStats are the per-chain statistics the engine reports. Convergence
// quality across chains (split-R-hat, ESS) is computed downstream from the
// raw draws.
type ChainStats struct {
	AcceptanceRate  float64 `json:"acceptance_rate"`
	MeanTreeDepth   float64 `json:"mean_tree_depth"`
	DepthSaturated  bool    `json:"depth_saturated"`
	AdaptedStepSize float64 `json:"adapted_step_size"`
}

// SamplerResult is the raw output of one run: retained draws per chain on
// the unconstrained scale, plus per-chain statistics. Chains are
// independent until the caller pools them.
type SamplerResult struct {
	Chains [][][]float64 // chain -> draw -> parameter vector
	Stats  []ChainStats
}

// Draws flattens all chains into one pooled draw collection. Callers must
// confirm cross-chain convergence before treating the pool as a sample of
// the posterior.
func (r *SamplerResult) Draws() [][]float64 {
	var out [][]float64
	for _, c := range r.Chains {
		out = append(out, c...)
	}
	return out
}

// Sampler drives a gradient-based MCMC engine against a model. newModel
// must return a fresh model per call: models cache gradient state between
// Observe and Gradient, so chains running in parallel may never share an
// instance.
type Sampler interface {
	Sample(ctx context.Context, newModel func() Model, init []float64, cfg SamplerConfig) (*SamplerResult, error)
}
