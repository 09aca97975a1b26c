package scenario

import "encoding/json"

// Interval is a posterior summary: sample median bracketed by the 2.5th
// and 97.5th percentiles. Defined is false when every contributing draw
// was missing (e.g. relative risk with a zero attack rate).
type Interval struct {
	Median  float64 `json:"median"`
	Lo      float64 `json:"lo"`
	Hi      float64 `json:"hi"`
	Defined bool    `json:"defined"`
}

// MarshalJSON renders undefined intervals as null; their NaN placeholders
// are not representable in JSON.
func (iv Interval) MarshalJSON() ([]byte, error) {
	if !iv.Defined {
		return []byte("null"), nil
	}
	type plain Interval
	return json.Marshal(plain(iv))
}

// UnmarshalJSON accepts the null form emitted for undefined intervals.
func (iv *Interval) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*iv = Interval{}
		return nil
	}
	type plain Interval
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*iv = Interval(p)
	return nil
}

// DaySummary holds the per-day posterior summaries of the six derived
// epidemiological quantities.
type DaySummary struct {
	Day               int      `json:"day"`
	Sensitivity       Interval `json:"sensitivity"`
	NPV               Interval `json:"npv"`
	FalseNegativeRate Interval `json:"false_negative_rate"`
	FalseOmissionRate Interval `json:"false_omission_rate"`
	RelativeRisk      Interval `json:"relative_risk"`
	AbsoluteRiskDiff  Interval `json:"absolute_risk_diff"`
}

// Series is the per-day summary table for one run, days 0..Horizon
// contiguous ascending.
type Series []DaySummary

// Diagnostics annotate a run's draws with convergence quality. They never
// abort a run; consumers must treat a non-converged result as provisional.
type Diagnostics struct {
	AcceptanceRate     float64  `json:"acceptance_rate"`
	MeanTreeDepth      float64  `json:"mean_tree_depth"`
	TreeDepthSaturated bool     `json:"tree_depth_saturated"`
	MaxSplitRHat       float64  `json:"max_split_rhat"`
	MinESS             float64  `json:"min_ess"`
	ElpdLOO            float64  `json:"elpd_loo"`
	PLOO               float64  `json:"p_loo"`
	Converged          bool     `json:"converged"`
	Warnings           []string `json:"warnings,omitempty"`
}

// Result is a completed scenario run. Written atomically once the run
// finishes; immutable thereafter.
type Result struct {
	RunID       string      `json:"run_id"`
	Label       string      `json:"label"`
	Hyper       Hyperparams `json:"hyper"`
	AttackRate  Interval    `json:"attack_rate"`
	Days        Series      `json:"days"`
	Diagnostics Diagnostics `json:"diagnostics"`
}
