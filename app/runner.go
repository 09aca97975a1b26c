package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"falseneg/domain/dataset"
	"falseneg/domain/model"
	"falseneg/domain/scenario"
	"falseneg/internal"
	"falseneg/internal/aggregate"
	"falseneg/internal/analysis"
	"falseneg/internal/config"
	"falseneg/internal/diagnostics"
	"falseneg/internal/errors"
	"falseneg/ports"
)

// ScenarioRunner drives the sensitivity-analysis batch: every scenario is
// sampled, diagnosed and aggregated independently. Scenarios share only
// the read-only dataset; a failing scenario aborts itself and nothing
// else, and each completed result is published atomically.
type ScenarioRunner struct {
	data    *dataset.Dataset
	attack  dataset.AttackObservation
	sampler ports.Sampler
	archive ports.RunArchive // nil disables archiving
	sampCfg config.SamplerConfig
	limit   *semaphore.Weighted
	log     *internal.Logger

	mu     sync.Mutex
	status map[string]scenario.Status
}

// BatchResult collects the batch outcome. Results holds completed runs in
// scenario input order; Failures maps scenario labels to their fatal
// errors. Convergence problems are never failures; they annotate results.
type BatchResult struct {
	Results  []*scenario.Result
	Failures map[string]error
	Elapsed  time.Duration
}

// NewScenarioRunner wires the runner. maxParallel bounds concurrently
// sampling scenarios; archive may be nil.
func NewScenarioRunner(
	data *dataset.Dataset,
	attack dataset.AttackObservation,
	sampler ports.Sampler,
	archive ports.RunArchive,
	sampCfg config.SamplerConfig,
	maxParallel int,
	log *internal.Logger,
) *ScenarioRunner {
	return &ScenarioRunner{
		data:    data,
		attack:  attack,
		sampler: sampler,
		archive: archive,
		sampCfg: sampCfg,
		limit:   semaphore.NewWeighted(int64(maxParallel)),
		log:     log.WithPrefix("runner"),
		status:  make(map[string]scenario.Status),
	}
}

// Status reports a scenario's lifecycle state.
func (r *ScenarioRunner) Status(label string) scenario.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.status[label]; ok {
		return s
	}
	return scenario.StatusConfigured
}

func (r *ScenarioRunner) transition(label string, to scenario.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	from, ok := r.status[label]
	if !ok {
		from = scenario.StatusConfigured
	}
	if !from.CanTransition(to) {
		r.log.Warn("scenario %q: illegal transition %s -> %s ignored", label, from, to)
		return
	}
	r.status[label] = to
}

// RunAll executes the batch. Sampler settings are validated once up front
// (a bad sampler configuration fails the whole batch before any work);
// per-scenario hyperparameter problems fail only their scenario.
func (r *ScenarioRunner) RunAll(ctx context.Context, scenarios []scenario.Scenario) (*BatchResult, error) {
	start := time.Now()
	if err := config.ValidateSampler(r.sampCfg); err != nil {
		return nil, err
	}
	if len(scenarios) == 0 {
		return nil, errors.ConfigInvalid("no scenarios to run")
	}

	results := make([]*scenario.Result, len(scenarios))
	failures := make(map[string]error)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, sc := range scenarios {
		r.mu.Lock()
		r.status[sc.Label] = scenario.StatusConfigured
		r.mu.Unlock()

		wg.Add(1)
		go func(i int, sc scenario.Scenario) {
			defer wg.Done()
			if err := r.limit.Acquire(ctx, 1); err != nil {
				mu.Lock()
				failures[sc.Label] = err
				mu.Unlock()
				return
			}
			defer r.limit.Release(1)

			res, err := r.runOne(ctx, sc, int64(i))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.transition(sc.Label, scenario.StatusFailed)
				failures[sc.Label] = err
				r.log.Error("scenario %q failed: %v", sc.Label, err)
				return
			}
			// Completed results are published in one step.
			results[i] = res
		}(i, sc)
	}
	wg.Wait()

	batch := &BatchResult{Failures: failures, Elapsed: time.Since(start)}
	for _, res := range results {
		if res != nil {
			batch.Results = append(batch.Results, res)
		}
	}
	return batch, nil
}

// runOne takes one scenario through CONFIGURED -> SAMPLING -> AGGREGATED.
// REPORTED is set by MarkReported once the report artifacts are written.
func (r *ScenarioRunner) runOne(ctx context.Context, sc scenario.Scenario, offset int64) (*scenario.Result, error) {
	if err := sc.Hyper.Validate(); err != nil {
		return nil, err
	}
	attack := r.attack.Scale(sc.Hyper.AttackScale)
	if err := attack.Validate(); err != nil {
		return nil, err
	}

	post := model.NewPosterior(r.data, attack, sc.Hyper.Incubation)
	cfg := ports.SamplerConfig{
		Chains:       r.sampCfg.Chains,
		Iter:         r.sampCfg.Iter,
		Warmup:       r.sampCfg.Warmup,
		AdaptDelta:   r.sampCfg.AdaptDelta,
		MaxTreeDepth: r.sampCfg.MaxTreeDepth,
		StepSize:     r.sampCfg.StepSize,
		// Decorrelate chain seeds across scenarios.
		Seed: r.sampCfg.Seed + 1000*offset,
	}

	r.transition(sc.Label, scenario.StatusSampling)
	r.log.Info("scenario %q: sampling %d chains x %d iterations", sc.Label, cfg.Chains, cfg.Iter)
	// Fresh posterior per chain: the gradient cache is per-instance state.
	newModel := func() ports.Model {
		return model.NewPosterior(r.data, attack, sc.Hyper.Incubation)
	}
	sampled, err := r.sampler.Sample(ctx, newModel, post.InitialPoint(), cfg)
	if err != nil {
		return nil, err
	}

	conv, err := diagnostics.Evaluate(sampled.Chains)
	if err != nil {
		return nil, err
	}
	diag := diagnostics.Build(conv, sampled.Stats, cfg)

	raw := sampled.Draws()
	draws := make([]model.Draw, len(raw))
	loglik := make([][]float64, len(raw))
	for i, x := range raw {
		draws[i] = post.DecodeDraw(x)
		loglik[i] = post.PointwiseLogLik(x)
	}

	loo, err := analysis.ElpdLOO(loglik)
	if err != nil {
		return nil, err
	}
	diag.ElpdLOO = loo.Elpd
	diag.PLOO = loo.PLoo

	series, attackSummary, err := aggregate.Summarize(draws, sc.Hyper.Horizon, sc.Hyper.Specificity)
	if err != nil {
		return nil, err
	}
	r.transition(sc.Label, scenario.StatusAggregated)

	result := &scenario.Result{
		RunID:       uuid.NewString(),
		Label:       sc.Label,
		Hyper:       sc.Hyper,
		AttackRate:  attackSummary,
		Days:        series,
		Diagnostics: diag,
	}
	if !diag.Converged {
		r.log.Warn("scenario %q: provisional result, %v", sc.Label, diag.Warnings)
	}

	if r.archive != nil {
		if err := r.archive.SaveRun(ctx, result); err != nil {
			// Archive problems never lose a completed run.
			r.log.Warn("scenario %q: archive write failed: %v", sc.Label, err)
		}
	}
	return result, nil
}

// MarkReported records that a scenario's report artifacts were written.
func (r *ScenarioRunner) MarkReported(labels ...string) {
	for _, l := range labels {
		r.transition(l, scenario.StatusReported)
	}
}
