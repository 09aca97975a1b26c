package app

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"falseneg/domain/dataset"
	"falseneg/domain/scenario"
	"falseneg/internal"
	"falseneg/internal/config"
	"falseneg/ports"
)

// fakeSampler emits deterministic draws around the initial point, so the
// runner's plumbing can be tested without real MCMC.
type fakeSampler struct{}

func (fakeSampler) Sample(_ context.Context, _ func() ports.Model, init []float64, cfg ports.SamplerConfig) (*ports.SamplerResult, error) {
	rng := rand.New(rand.NewSource(cfg.Seed))
	res := &ports.SamplerResult{
		Chains: make([][][]float64, cfg.Chains),
		Stats:  make([]ports.ChainStats, cfg.Chains),
	}
	for c := 0; c < cfg.Chains; c++ {
		draws := make([][]float64, cfg.Retained())
		for i := range draws {
			x := make([]float64, len(init))
			for j := range x {
				x[j] = init[j] + rng.NormFloat64()*0.1
			}
			draws[i] = x
		}
		res.Chains[c] = draws
		res.Stats[c] = ports.ChainStats{AcceptanceRate: 0.99, MeanTreeDepth: 5, AdaptedStepSize: cfg.StepSize}
	}
	return res, nil
}

type fakeArchive struct {
	mu    sync.Mutex
	saved []string
	fail  bool
}

func (a *fakeArchive) SaveRun(_ context.Context, r *scenario.Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return assert.AnError
	}
	a.saved = append(a.saved, r.Label)
	return nil
}

func (a *fakeArchive) Close() error { return nil }

func testDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.FromRows([]dataset.Record{
		{Study: "alpha", Day: 1, Tested: 10, Positive: 6},
		{Study: "alpha", Day: 4, Tested: 10, Positive: 8},
		{Study: "beta", Day: 2, Tested: 15, Positive: 10},
		{Study: "beta", Day: 7, Tested: 15, Positive: 9},
	}, 21)
	require.NoError(t, err)
	return ds
}

func testSamplerConfig() config.SamplerConfig {
	return config.SamplerConfig{
		Chains: 2, Iter: 60, Warmup: 20,
		AdaptDelta: 0.99, MaxTreeDepth: 10, StepSize: 0.05, Seed: 1,
	}
}

func newTestRunner(t *testing.T, archive ports.RunArchive) *ScenarioRunner {
	t.Helper()
	return NewScenarioRunner(
		testDataset(t),
		dataset.AttackObservation{Exposed: 686, Positive: 77},
		fakeSampler{},
		archive,
		testSamplerConfig(),
		2,
		internal.NewLogger(internal.LogLevelError),
	)
}

func TestRunAllCompletesAllScenarios(t *testing.T) {
	runner := newTestRunner(t, nil)
	scenarios := scenario.DefaultSet(21)

	batch, err := runner.RunAll(context.Background(), scenarios)
	require.NoError(t, err)
	assert.Empty(t, batch.Failures)
	require.Len(t, batch.Results, len(scenarios))

	for i, res := range batch.Results {
		assert.Equal(t, scenarios[i].Label, res.Label, "results keep scenario input order")
		assert.NotEmpty(t, res.RunID)
		assert.Len(t, res.Days, 22)
		assert.Equal(t, scenario.StatusAggregated, runner.Status(res.Label))
	}

	runner.MarkReported(batch.Results[0].Label)
	assert.Equal(t, scenario.StatusReported, runner.Status(batch.Results[0].Label))
}

func TestScenarioIndependence(t *testing.T) {
	runner := newTestRunner(t, nil)
	data := runner.data
	before := data.Records()

	scenarios := scenario.DefaultSet(21)
	first, err := runner.RunAll(context.Background(), scenarios)
	require.NoError(t, err)

	// The shared dataset is untouched by any scenario.
	assert.Equal(t, before, data.Records())

	// Re-running the full batch reproduces the baseline exactly: the
	// attack-rate variants never mutate the baseline's inputs.
	second, err := newTestRunner(t, nil).RunAll(context.Background(), scenarios)
	require.NoError(t, err)
	assert.Equal(t, first.Results[0].Days, second.Results[0].Days)
	assert.Equal(t, first.Results[0].AttackRate, second.Results[0].AttackRate)
}

func TestFailingScenarioAbortsOnlyItself(t *testing.T) {
	runner := newTestRunner(t, nil)
	scenarios := []scenario.Scenario{
		{Label: "baseline", Hyper: scenario.Hyperparams{Horizon: 21, Incubation: 5, Specificity: 1, AttackScale: 1}},
		{Label: "broken", Hyper: scenario.Hyperparams{Horizon: 21, Incubation: 5, Specificity: 0, AttackScale: 1}},
	}

	batch, err := runner.RunAll(context.Background(), scenarios)
	require.NoError(t, err)
	require.Len(t, batch.Results, 1)
	assert.Equal(t, "baseline", batch.Results[0].Label)
	require.Contains(t, batch.Failures, "broken")
	assert.Equal(t, scenario.StatusFailed, runner.Status("broken"))
	assert.Equal(t, scenario.StatusAggregated, runner.Status("baseline"))
}

func TestArchiveReceivesCompletedRuns(t *testing.T) {
	archive := &fakeArchive{}
	runner := newTestRunner(t, archive)
	scenarios := scenario.DefaultSet(21)[:3]

	batch, err := runner.RunAll(context.Background(), scenarios)
	require.NoError(t, err)
	assert.Len(t, batch.Results, 3)
	assert.ElementsMatch(t, []string{"baseline", "specificity 90%", "half attack rate"}, archive.saved)
}

func TestArchiveFailureDoesNotFailRun(t *testing.T) {
	runner := newTestRunner(t, &fakeArchive{fail: true})
	batch, err := runner.RunAll(context.Background(), scenario.DefaultSet(21)[:1])
	require.NoError(t, err)
	assert.Len(t, batch.Results, 1)
	assert.Empty(t, batch.Failures)
}

func TestTinyRetainedBudgetStillYieldsFullSeries(t *testing.T) {
	// iter > warmup >= 0 is a valid configuration even when only a few
	// draws are retained; the run must complete with a full day series
	// and a non-converged annotation, not a fatal error.
	runner := newTestRunner(t, nil)
	runner.sampCfg.Iter = 23
	runner.sampCfg.Warmup = 20

	batch, err := runner.RunAll(context.Background(), scenario.DefaultSet(21)[:1])
	require.NoError(t, err)
	require.Empty(t, batch.Failures)
	require.Len(t, batch.Results, 1)

	res := batch.Results[0]
	assert.Len(t, res.Days, 22)
	assert.False(t, res.Diagnostics.Converged)
	require.NotEmpty(t, res.Diagnostics.Warnings)
	assert.Contains(t, res.Diagnostics.Warnings[0], "too few")
}

func TestRunAllRejectsBadSamplerConfig(t *testing.T) {
	runner := newTestRunner(t, nil)
	runner.sampCfg.Warmup = runner.sampCfg.Iter
	_, err := runner.RunAll(context.Background(), scenario.DefaultSet(21))
	require.Error(t, err)
}

func TestRunAllRejectsEmptyScenarioList(t *testing.T) {
	runner := newTestRunner(t, nil)
	_, err := runner.RunAll(context.Background(), nil)
	require.Error(t, err)
}

func TestAttackRateScaling(t *testing.T) {
	runner := newTestRunner(t, nil)
	scenarios := []scenario.Scenario{
		{Label: "baseline", Hyper: scenario.Hyperparams{Horizon: 21, Incubation: 5, Specificity: 1, AttackScale: 1}},
		{Label: "quadruple attack rate", Hyper: scenario.Hyperparams{Horizon: 21, Incubation: 5, Specificity: 1, AttackScale: 4}},
	}
	batch, err := runner.RunAll(context.Background(), scenarios)
	require.NoError(t, err)
	require.Len(t, batch.Results, 2)

	// The fake sampler centers draws on the data-informed initial point,
	// so the scaled cohort shifts the posterior attack rate upward.
	assert.Greater(t,
		batch.Results[1].AttackRate.Median,
		batch.Results[0].AttackRate.Median)
}
