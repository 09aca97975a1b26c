package config

import (
	"os"
	"strconv"

	"falseneg/internal/errors"
)

// Config represents the complete pipeline configuration. It is built once
// at startup and passed by value into the scenario runner; nothing in the
// pipeline mutates process-wide state.
type Config struct {
	Data    DataConfig
	Sampler SamplerConfig
	Output  OutputConfig
	Archive ArchiveConfig
	Runtime RuntimeConfig
}

// DataConfig holds dataset inputs
type DataConfig struct {
	// TestFile is the tabular file (CSV or XLSX) with per-study test
	// counts by day since symptom onset.
	TestFile string
	// Household-contact attack-rate observation (Bi et al. cohort).
	AttackExposed  int
	AttackPositive int
	// Horizon is the last modeled day since exposure.
	Horizon int
}

// SamplerConfig holds MCMC settings shared by all scenario runs
type SamplerConfig struct {
	Chains       int
	Iter         int
	Warmup       int
	AdaptDelta   float64
	MaxTreeDepth int
	StepSize     float64
	Seed         int64
}

// OutputConfig holds report destinations
type OutputConfig struct {
	Dir string
	// DisplayDigits controls decimal places for non-percentage values in
	// reports (percentages are always rounded to integers).
	DisplayDigits int
}

// ArchiveConfig holds the optional postgres run archive settings
type ArchiveConfig struct {
	DatabaseURL string // empty disables the archive
}

// RuntimeConfig holds batch scheduling limits
type RuntimeConfig struct {
	// MaxParallelScenarios bounds concurrently sampling scenarios.
	MaxParallelScenarios int
}

// Load builds a Config from environment variables with defaults suitable
// for the published analysis.
func Load() Config {
	return Config{
		Data: DataConfig{
			TestFile:       getEnv("FALSENEG_DATA_FILE", "data/sensitivity-studies.csv"),
			AttackExposed:  getEnvInt("FALSENEG_ATTACK_EXPOSED", 686),
			AttackPositive: getEnvInt("FALSENEG_ATTACK_POSITIVE", 77),
			Horizon:        getEnvInt("FALSENEG_HORIZON", 21),
		},
		Sampler: SamplerConfig{
			Chains:       getEnvInt("FALSENEG_CHAINS", 4),
			Iter:         getEnvInt("FALSENEG_ITER", 2500),
			Warmup:       getEnvInt("FALSENEG_WARMUP", 1000),
			AdaptDelta:   getEnvFloat("FALSENEG_ADAPT_DELTA", 0.99),
			MaxTreeDepth: getEnvInt("FALSENEG_MAX_TREEDEPTH", 12),
			StepSize:     getEnvFloat("FALSENEG_STEP_SIZE", 0.05),
			Seed:         int64(getEnvInt("FALSENEG_SEED", 1)),
		},
		Output: OutputConfig{
			Dir:           getEnv("FALSENEG_OUTPUT_DIR", "out"),
			DisplayDigits: getEnvInt("FALSENEG_DISPLAY_DIGITS", 2),
		},
		Archive: ArchiveConfig{
			DatabaseURL: getEnv("DATABASE_URL", ""),
		},
		Runtime: RuntimeConfig{
			MaxParallelScenarios: getEnvInt("FALSENEG_MAX_PARALLEL", 2),
		},
	}
}

// Validate rejects configurations before any sampling work begins.
func (c Config) Validate() error {
	if c.Data.TestFile == "" {
		return errors.ConfigInvalid("data file path is empty")
	}
	if c.Data.Horizon < 0 {
		return errors.Newf(errors.CodeConfigInvalid, "horizon must be non-negative, got %d", c.Data.Horizon)
	}
	if c.Data.AttackExposed <= 0 {
		return errors.Newf(errors.CodeConfigInvalid, "attack-rate exposed count must be positive, got %d", c.Data.AttackExposed)
	}
	if c.Data.AttackPositive < 0 || c.Data.AttackPositive > c.Data.AttackExposed {
		return errors.Newf(errors.CodeConfigInvalid, "attack-rate positive count %d outside [0, %d]",
			c.Data.AttackPositive, c.Data.AttackExposed)
	}
	if err := ValidateSampler(c.Sampler); err != nil {
		return err
	}
	if c.Runtime.MaxParallelScenarios < 1 {
		return errors.Newf(errors.CodeConfigInvalid, "max parallel scenarios must be at least 1, got %d",
			c.Runtime.MaxParallelScenarios)
	}
	if c.Output.Dir == "" {
		return errors.ConfigInvalid("output directory is empty")
	}
	return nil
}

// ValidateSampler checks the MCMC controls shared by every run.
func ValidateSampler(s SamplerConfig) error {
	if s.Chains < 1 {
		return errors.Newf(errors.CodeConfigInvalid, "chains must be at least 1, got %d", s.Chains)
	}
	if s.Warmup < 0 || s.Iter <= s.Warmup {
		return errors.Newf(errors.CodeConfigInvalid, "need iter > warmup >= 0, got iter=%d warmup=%d", s.Iter, s.Warmup)
	}
	if s.AdaptDelta <= 0 || s.AdaptDelta >= 1 {
		return errors.Newf(errors.CodeConfigInvalid, "adapt delta must lie in (0,1), got %g", s.AdaptDelta)
	}
	if s.MaxTreeDepth < 1 {
		return errors.Newf(errors.CodeConfigInvalid, "max tree depth must be at least 1, got %d", s.MaxTreeDepth)
	}
	if s.StepSize <= 0 {
		return errors.Newf(errors.CodeConfigInvalid, "step size must be positive, got %g", s.StepSize)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
