package mcmc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"falseneg/domain/dataset"
	"falseneg/domain/model"
	"falseneg/internal"
	"falseneg/internal/aggregate"
	"falseneg/ports"
)

// stdNormal targets an independent standard normal in every dimension,
// with the same Observe-then-Gradient calling convention the posterior
// uses.
type stdNormal struct {
	dim  int
	grad []float64
}

func newStdNormal(dim int) *stdNormal {
	return &stdNormal{dim: dim, grad: make([]float64, dim)}
}

func (m *stdNormal) Observe(x []float64) float64 {
	lp := 0.0
	for i, v := range x {
		lp -= 0.5 * v * v
		m.grad[i] = -v
	}
	return lp
}

func (m *stdNormal) Gradient() []float64 {
	out := make([]float64, len(m.grad))
	copy(out, m.grad)
	return out
}

func testLogger() *internal.Logger {
	return internal.NewLogger(internal.LogLevelError)
}

func TestSampleShapes(t *testing.T) {
	cfg := ports.SamplerConfig{
		Chains: 3, Iter: 120, Warmup: 40,
		AdaptDelta: 0.8, MaxTreeDepth: 8, StepSize: 0.2, Seed: 7,
	}
	res, err := NewNUTSSampler(testLogger()).Sample(
		context.Background(),
		func() ports.Model { return newStdNormal(2) },
		[]float64{0, 0}, cfg)
	require.NoError(t, err)

	require.Len(t, res.Chains, 3)
	require.Len(t, res.Stats, 3)
	for _, chain := range res.Chains {
		require.Len(t, chain, cfg.Retained())
		for _, draw := range chain {
			require.Len(t, draw, 2)
		}
	}
	assert.Len(t, res.Draws(), 3*cfg.Retained())
	for _, s := range res.Stats {
		assert.Greater(t, s.AcceptanceRate, 0.0)
		assert.Greater(t, s.AdaptedStepSize, 0.0)
	}
}

func TestStandardNormalMoments(t *testing.T) {
	cfg := ports.SamplerConfig{
		Chains: 2, Iter: 900, Warmup: 300,
		AdaptDelta: 0.8, MaxTreeDepth: 10, StepSize: 0.2, Seed: 42,
	}
	res, err := NewNUTSSampler(testLogger()).Sample(
		context.Background(),
		func() ports.Model { return newStdNormal(3) },
		[]float64{0, 0, 0}, cfg)
	require.NoError(t, err)

	pooled := res.Draws()
	for d := 0; d < 3; d++ {
		xs := make([]float64, len(pooled))
		for i, draw := range pooled {
			xs[i] = draw[d]
		}
		assert.InDelta(t, 0, stat.Mean(xs, nil), 0.2, "dimension %d mean", d)
		assert.InDelta(t, 1, stat.StdDev(xs, nil), 0.25, "dimension %d sd", d)
	}
}

func TestChainsDivergeFromJitteredStarts(t *testing.T) {
	cfg := ports.SamplerConfig{
		Chains: 2, Iter: 30, Warmup: 10,
		AdaptDelta: 0.8, MaxTreeDepth: 6, StepSize: 0.2, Seed: 1,
	}
	res, err := NewNUTSSampler(testLogger()).Sample(
		context.Background(),
		func() ports.Model { return newStdNormal(2) },
		[]float64{0, 0}, cfg)
	require.NoError(t, err)
	assert.NotEqual(t, res.Chains[0][0], res.Chains[1][0])
}

// countingNormal counts Observe calls so tests can tell whether an engine
// is still running.
type countingNormal struct {
	inner *stdNormal
	calls *atomic.Int64
}

func (m countingNormal) Observe(x []float64) float64 {
	m.calls.Add(1)
	return m.inner.Observe(x)
}

func (m countingNormal) Gradient() []float64 { return m.inner.Gradient() }

func TestEnginesStoppedBeforeSampleReturns(t *testing.T) {
	var calls atomic.Int64
	cfg := ports.SamplerConfig{
		Chains: 2, Iter: 40, Warmup: 10,
		AdaptDelta: 0.8, MaxTreeDepth: 6, StepSize: 0.2, Seed: 5,
	}
	_, err := NewNUTSSampler(testLogger()).Sample(
		context.Background(),
		func() ports.Model { return countingNormal{inner: newStdNormal(2), calls: &calls} },
		[]float64{0, 0}, cfg)
	require.NoError(t, err)

	// Every chain's engine is stopped and drained before Sample returns;
	// no trajectory may touch the models afterwards.
	before := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, calls.Load())
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := ports.SamplerConfig{
		Chains: 2, Iter: 200, Warmup: 100,
		AdaptDelta: 0.8, MaxTreeDepth: 8, StepSize: 0.2, Seed: 1,
	}
	_, err := NewNUTSSampler(testLogger()).Sample(
		ctx,
		func() ports.Model { return newStdNormal(2) },
		[]float64{0, 0}, cfg)
	require.Error(t, err)
}

func TestPosteriorAttackRateRecovery(t *testing.T) {
	if testing.Short() {
		t.Skip("full posterior run")
	}
	ds, err := dataset.FromRows([]dataset.Record{
		{Study: "alpha", Day: 0, Tested: 20, Positive: 7},
		{Study: "alpha", Day: 3, Tested: 20, Positive: 16},
		{Study: "alpha", Day: 8, Tested: 20, Positive: 12},
		{Study: "beta", Day: 1, Tested: 25, Positive: 12},
		{Study: "beta", Day: 5, Tested: 25, Positive: 19},
		{Study: "beta", Day: 12, Tested: 25, Positive: 10},
	}, 21)
	require.NoError(t, err)
	attack := dataset.AttackObservation{Exposed: 686, Positive: 77}

	post := model.NewPosterior(ds, attack, 5)
	cfg := ports.SamplerConfig{
		Chains: 2, Iter: 1200, Warmup: 500,
		AdaptDelta: 0.9, MaxTreeDepth: 10, StepSize: 0.05, Seed: 99,
	}
	res, err := NewNUTSSampler(testLogger()).Sample(
		context.Background(),
		func() ports.Model { return model.NewPosterior(ds, attack, 5) },
		post.InitialPoint(), cfg)
	require.NoError(t, err)

	raw := res.Draws()
	rates := make([]float64, 0, len(raw))
	draws := make([]model.Draw, len(raw))
	for i, x := range raw {
		draws[i] = post.DecodeDraw(x)
		rates = append(rates, draws[i].AttackRate)
	}
	mean := stat.Mean(rates, nil)

	// The cohort binomial dominates the Beta(1,1) prior, so the posterior
	// attack rate sits near the raw 77/686 proportion.
	assert.InDelta(t, 77.0/686.0, mean, 0.03)
	for _, s := range res.Stats {
		assert.Greater(t, s.AcceptanceRate, 0.4)
	}

	series, _, err := aggregate.Summarize(draws, 21, 1.0)
	require.NoError(t, err)

	// Sensitivity improves toward the symptom-onset window, so the
	// false-omission rate a day after exposure exceeds the rate at the
	// incubation period.
	assert.Greater(t,
		series[1].FalseOmissionRate.Median,
		series[5].FalseOmissionRate.Median)

	// Days covered only by extrapolation carry wider intervals than days
	// with direct observations.
	widthAt := func(d int) float64 {
		return series[d].Sensitivity.Hi - series[d].Sensitivity.Lo
	}
	assert.Greater(t, widthAt(2), widthAt(8))
}
