package model

import (
	"math"
)

// Draw is one posterior draw decoded onto the constrained scale.
type Draw struct {
	Beta       [4]float64 // cubic log-time curve coefficients
	SigmaU     float64    // between-study SD
	AttackRate float64
	U          []float64 // per-study random intercepts
}

// DecodeDraw maps a raw parameter vector from the sampler onto the
// constrained scale.
func (m *Posterior) DecodeDraw(x []float64) Draw {
	d := Draw{
		Beta:       [4]float64{x[idxBeta0], x[idxBeta1], x[idxBeta2], x[idxBeta3]},
		SigmaU:     math.Exp(x[idxLogSigmaU]),
		AttackRate: sigmoid(x[idxLogitAttack]),
		U:          make([]float64, len(x)-numFixed),
	}
	copy(d.U, x[numFixed:])
	return d
}

// SensitivityAt evaluates the population sensitivity curve (random effect
// at zero) at an exposure day. Always in [0,1].
func (d Draw) SensitivityAt(t int) float64 {
	z := Basis(t)
	eta := d.Beta[0]*z[0] + d.Beta[1]*z[1] + d.Beta[2]*z[2] + d.Beta[3]*z[3]
	return sigmoid(eta)
}

// NPV is the negative predictive value: P(uninfected | negative test).
// Deterministic in sensitivity, attack rate and the fixed specificity.
// The zero-denominator case arises only when a negative test carries no
// probability mass; it resolves to certainty of the majority state.
func NPV(sens, attackRate, specificity float64) float64 {
	num := (1 - attackRate) * specificity
	den := num + attackRate*(1-sens)
	if den == 0 {
		if attackRate == 0 {
			return 1 // no one infected, no false omissions possible
		}
		return 0
	}
	return num / den
}

// DayQuantities are the per-day epidemiological quantities derived from a
// single posterior draw. RelativeRisk is NaN when the draw's attack rate
// is zero (division by zero; reported as missing, never a crash).
type DayQuantities struct {
	Sensitivity       float64
	NPV               float64
	FalseNegativeRate float64
	FalseOmissionRate float64
	RelativeRisk      float64
	AbsoluteRiskDiff  float64
}

// QuantitiesAt derives the full set for one draw, one exposure day and a
// fixed scenario specificity.
func (d Draw) QuantitiesAt(t int, specificity float64) DayQuantities {
	sens := d.SensitivityAt(t)
	npv := NPV(sens, d.AttackRate, specificity)
	q := DayQuantities{
		Sensitivity:       sens,
		NPV:               npv,
		FalseNegativeRate: 1 - sens,
		FalseOmissionRate: 1 - npv,
		AbsoluteRiskDiff:  d.AttackRate - (1 - npv),
	}
	if d.AttackRate == 0 {
		q.RelativeRisk = math.NaN()
	} else {
		q.RelativeRisk = 1 - (1-npv)/d.AttackRate
	}
	return q
}
