package scenario

import (
	"falseneg/internal/errors"
)

// Hyperparams fix everything outside the latent parameter vector for one
// run. Immutable for the duration of the run; changing any field means a
// new run.
type Hyperparams struct {
	Horizon     int     `json:"horizon"`      // T_max, last modeled day since exposure
	Incubation  int     `json:"incubation"`   // t_exp_symp, exposure-to-onset offset in days
	Specificity float64 `json:"specificity"`  // fixed, not estimated
	AttackScale float64 `json:"attack_scale"` // multiplier on the cohort positive count
}

// Validate rejects hyperparameter sets before any sampling work begins.
func (h Hyperparams) Validate() error {
	if h.Horizon < 0 {
		return errors.Newf(errors.CodeConfigInvalid, "horizon must be non-negative, got %d", h.Horizon)
	}
	if h.Incubation < 0 {
		return errors.Newf(errors.CodeConfigInvalid, "incubation period must be non-negative, got %d", h.Incubation)
	}
	if h.Specificity <= 0 || h.Specificity > 1 {
		return errors.Newf(errors.CodeConfigInvalid, "specificity must lie in (0,1], got %g", h.Specificity)
	}
	if h.AttackScale <= 0 {
		return errors.Newf(errors.CodeConfigInvalid, "attack-rate scale must be positive, got %g", h.AttackScale)
	}
	return nil
}

// Scenario is one sensitivity-analysis configuration: a label plus the
// hyperparameters it varies against the baseline.
type Scenario struct {
	Label string      `json:"label"`
	Hyper Hyperparams `json:"hyper"`
}

// DefaultSet enumerates the fixed sensitivity-analysis sweep: the baseline
// plus single-axis variations of specificity, attack rate and incubation
// period. All scenarios share identical sampler settings.
func DefaultSet(horizon int) []Scenario {
	base := Hyperparams{
		Horizon:     horizon,
		Incubation:  5,
		Specificity: 1.0,
		AttackScale: 1.0,
	}
	set := []Scenario{{Label: "baseline", Hyper: base}}

	spec90 := base
	spec90.Specificity = 0.9
	set = append(set, Scenario{Label: "specificity 90%", Hyper: spec90})

	for _, v := range []struct {
		label string
		scale float64
	}{
		{"half attack rate", 0.5},
		{"double attack rate", 2.0},
		{"quadruple attack rate", 4.0},
	} {
		h := base
		h.AttackScale = v.scale
		set = append(set, Scenario{Label: v.label, Hyper: h})
	}

	for _, days := range []int{3, 7} {
		h := base
		h.Incubation = days
		set = append(set, Scenario{Label: incubationLabel(days), Hyper: h})
	}
	return set
}

func incubationLabel(days int) string {
	switch days {
	case 3:
		return "incubation 3 days"
	case 7:
		return "incubation 7 days"
	default:
		return "incubation variant"
	}
}

// Status tracks a scenario through its lifecycle.
type Status string

const (
	StatusConfigured Status = "CONFIGURED"
	StatusSampling   Status = "SAMPLING"
	StatusAggregated Status = "AGGREGATED"
	StatusReported   Status = "REPORTED"
	StatusFailed     Status = "FAILED"
)

// CanTransition reports whether a status change follows the lifecycle
// CONFIGURED -> SAMPLING -> AGGREGATED -> REPORTED, with FAILED reachable
// from any live state.
func (s Status) CanTransition(to Status) bool {
	if to == StatusFailed {
		return s != StatusReported
	}
	switch s {
	case StatusConfigured:
		return to == StatusSampling
	case StatusSampling:
		return to == StatusAggregated
	case StatusAggregated:
		return to == StatusReported
	default:
		return false
	}
}
