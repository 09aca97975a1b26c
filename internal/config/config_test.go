package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"falseneg/internal/errors"
)

func validConfig() Config {
	return Config{
		Data: DataConfig{
			TestFile:       "data/sensitivity-studies.csv",
			AttackExposed:  686,
			AttackPositive: 77,
			Horizon:        21,
		},
		Sampler: SamplerConfig{
			Chains:       4,
			Iter:         2500,
			Warmup:       1000,
			AdaptDelta:   0.99,
			MaxTreeDepth: 12,
			StepSize:     0.05,
		},
		Output:  OutputConfig{Dir: "out", DisplayDigits: 2},
		Runtime: RuntimeConfig{MaxParallelScenarios: 2},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsWarmupAtOrAboveIter(t *testing.T) {
	c := validConfig()
	c.Sampler.Warmup = c.Sampler.Iter
	err := c.Validate()
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))

	c.Sampler.Warmup = c.Sampler.Iter + 1
	assert.Error(t, c.Validate())

	c.Sampler.Warmup = -1
	assert.Error(t, c.Validate())
}

func TestValidateRejectsAdaptDeltaOutsideUnitInterval(t *testing.T) {
	for _, v := range []float64{0, 1, -0.5, 1.5} {
		c := validConfig()
		c.Sampler.AdaptDelta = v
		assert.Error(t, c.Validate(), "adapt_delta=%g", v)
	}
}

func TestValidateRejectsNegativeHorizon(t *testing.T) {
	c := validConfig()
	c.Data.Horizon = -1
	assert.Error(t, c.Validate())
}

func TestValidateRejectsBadAttackCounts(t *testing.T) {
	c := validConfig()
	c.Data.AttackExposed = 0
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Data.AttackPositive = c.Data.AttackExposed + 1
	assert.Error(t, c.Validate())
}

func TestValidateRejectsBadRuntime(t *testing.T) {
	c := validConfig()
	c.Runtime.MaxParallelScenarios = 0
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Sampler.Chains = 0
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Sampler.StepSize = 0
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Sampler.MaxTreeDepth = 0
	assert.Error(t, c.Validate())
}

func TestLoadDefaults(t *testing.T) {
	c := Load()
	assert.Equal(t, 686, c.Data.AttackExposed)
	assert.Equal(t, 77, c.Data.AttackPositive)
	assert.Equal(t, 21, c.Data.Horizon)
	assert.Equal(t, 0.99, c.Sampler.AdaptDelta)
	assert.NoError(t, c.Validate())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FALSENEG_CHAINS", "8")
	t.Setenv("FALSENEG_ADAPT_DELTA", "0.95")
	c := Load()
	assert.Equal(t, 8, c.Sampler.Chains)
	assert.Equal(t, 0.95, c.Sampler.AdaptDelta)
}
