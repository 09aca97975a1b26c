// Package mcmc drives the infergo No-U-Turn sampler against a
// differentiable log-posterior. It implements ports.Sampler.
package mcmc

import (
	"context"
	"math"
	"math/rand"

	"bitbucket.org/dtolpin/infergo/infer"
	"golang.org/x/sync/errgroup"

	"falseneg/internal"
	"falseneg/internal/errors"
	"falseneg/ports"
)

// Dual-averaging constants (Hoffman & Gelman 2014 defaults).
const (
	daGamma = 0.05
	daT0    = 10.0
	daKappa = 0.75

	warmupSegments = 10
	initJitter     = 0.5
)

// NUTSSampler runs C independent NUTS chains per call. Warmup adapts the
// leapfrog step size toward the target acceptance rate (adapt_delta) by
// dual averaging over warmup segments; retained draws come from a single
// post-warmup pass at the adapted step size.
type NUTSSampler struct {
	log *internal.Logger
}

// NewNUTSSampler creates the sampler driver.
func NewNUTSSampler(log *internal.Logger) *NUTSSampler {
	return &NUTSSampler{log: log.WithPrefix("nuts")}
}

// Sample produces cfg.Retained() draws per chain. Chains are independent
// goroutines; each receives its own model instance from newModel, so the
// gradient state a model caches between Observe and Gradient is never
// shared. Draws are pooled by the caller only after convergence has been
// checked.
func (s *NUTSSampler) Sample(ctx context.Context, newModel func() ports.Model, init []float64, cfg ports.SamplerConfig) (*ports.SamplerResult, error) {
	result := &ports.SamplerResult{
		Chains: make([][][]float64, cfg.Chains),
		Stats:  make([]ports.ChainStats, cfg.Chains),
	}

	g, ctx := errgroup.WithContext(ctx)
	for c := 0; c < cfg.Chains; c++ {
		c := c
		g.Go(func() error {
			rng := rand.New(rand.NewSource(cfg.Seed + int64(c)))
			draws, stats, err := s.runChain(ctx, newModel(), init, cfg, rng)
			if err != nil {
				return errors.SamplingError("chain failed", err)
			}
			result.Chains[c] = draws
			result.Stats[c] = stats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *NUTSSampler) runChain(ctx context.Context, m ports.Model, init []float64, cfg ports.SamplerConfig, rng *rand.Rand) ([][]float64, ports.ChainStats, error) {
	x := jitter(init, rng)
	eps := cfg.StepSize

	// Warmup: dual averaging over segments. Each segment runs the engine
	// at a fixed step size and feeds the realized acceptance rate back.
	segLen := cfg.Warmup / warmupSegments
	if segLen > 0 {
		mu := math.Log(10 * eps)
		logEpsBar, hBar := math.Log(eps), 0.0
		for seg := 0; seg < warmupSegments; seg++ {
			if err := ctx.Err(); err != nil {
				return nil, ports.ChainStats{}, err
			}
			nuts := newNUTS(eps, cfg.MaxTreeDepth)
			last, err := burn(nuts, m, x, segLen)
			if err != nil {
				return nil, ports.ChainStats{}, err
			}
			x = last
			acc := acceptance(nuts)

			k := float64(seg + 1)
			hBar = (1-1/(k+daT0))*hBar + (cfg.AdaptDelta-acc)/(k+daT0)
			logEps := mu - math.Sqrt(k)/daGamma*hBar
			w := math.Pow(k, -daKappa)
			logEpsBar = w*logEps + (1-w)*logEpsBar
			eps = math.Exp(logEps)
		}
		eps = math.Exp(logEpsBar)
	}

	// Sampling pass at the adapted step size.
	nuts := newNUTS(eps, cfg.MaxTreeDepth)
	samples := make(chan []float64)
	nuts.Sample(m, x, samples)
	stopped := false
	stop := func() {
		if !stopped {
			nuts.Stop()
			stopped = true
		}
	}
	defer stop()

	// The remainder of the warmup budget is burned here so every chain
	// discards exactly cfg.Warmup iterations.
	for i := warmupSegments * segLen; i < cfg.Warmup; i++ {
		if _, ok := <-samples; !ok {
			return nil, ports.ChainStats{}, errors.New(errors.CodeSamplingError, "sampler stopped during warmup")
		}
	}

	retained := make([][]float64, 0, cfg.Retained())
	for i := 0; i < cfg.Retained(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, ports.ChainStats{}, err
		}
		draw, ok := <-samples
		if !ok {
			return nil, ports.ChainStats{}, errors.New(errors.CodeSamplingError, "sampler stopped before the run completed")
		}
		kept := make([]float64, len(draw))
		copy(kept, draw)
		retained = append(retained, kept)
	}

	// The engine keeps computing trajectories until stopped, mutating its
	// acceptance and depth counters; halt it before reading them.
	stop()

	stats := ports.ChainStats{
		AcceptanceRate:  acceptance(nuts),
		MeanTreeDepth:   nuts.MeanDepth(),
		AdaptedStepSize: eps,
	}
	stats.DepthSaturated = stats.MeanTreeDepth >= float64(cfg.MaxTreeDepth)-0.5
	s.log.Debug("chain done: eps=%.4g accept=%.3f depth=%.2f", eps, stats.AcceptanceRate, stats.MeanTreeDepth)
	return retained, stats, nil
}

func newNUTS(eps float64, maxDepth int) *infer.NUTS {
	return &infer.NUTS{
		Eps:      eps,
		MaxDepth: maxDepth,
	}
}

// burn advances the chain n iterations and returns the last state.
func burn(nuts *infer.NUTS, m ports.Model, x []float64, n int) ([]float64, error) {
	samples := make(chan []float64)
	nuts.Sample(m, x, samples)
	defer nuts.Stop()
	last := x
	for i := 0; i < n; i++ {
		draw, ok := <-samples
		if !ok {
			return nil, errors.New(errors.CodeSamplingError, "sampler stopped during warmup segment")
		}
		last = draw
	}
	out := make([]float64, len(last))
	copy(out, last)
	return out, nil
}

func acceptance(nuts *infer.NUTS) float64 {
	total := nuts.NAcc + nuts.NRej
	if total == 0 {
		return 0
	}
	return float64(nuts.NAcc) / float64(total)
}

// jitter perturbs the initial point so chains start from distinct states.
func jitter(init []float64, rng *rand.Rand) []float64 {
	x := make([]float64, len(init))
	for i, v := range init {
		x[i] = v + (rng.Float64()-0.5)*2*initJitter
	}
	return x
}
