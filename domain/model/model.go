package model

import (
	"math"

	"bitbucket.org/dtolpin/infergo/dist"

	"falseneg/domain/dataset"
)

// Parameter vector layout. The vector is unconstrained: the random-effect
// scale and the attack rate are sampled through log and logit transforms
// with their Jacobians folded into the posterior density.
const (
	idxBeta0 = iota
	idxBeta1
	idxBeta2
	idxBeta3
	idxLogSigmaU   // s, sigma_u = exp(s)
	idxLogitAttack // alpha, attack rate = sigmoid(alpha)
	numFixed       // first per-study random-effect offset
)

const (
	betaPriorSD   = 10.0 // weakly informative prior on the curve coefficients
	sigmaUPriorSD = 1.0  // half-normal scale on the between-study SD
)

// Posterior is the joint model of RT-PCR sensitivity by time since
// exposure and the household attack rate.
//
// Sensitivity follows a hierarchical logistic regression: for a record
// with n tested and k positive at exposure day t,
//
//	k ~ Binomial(n, p),  logit(p) = beta . z(t) + u[study]
//
// with z(t) = [1, log(t+1), log(t+1)^2, log(t+1)^3] and per-study random
// intercepts u ~ Normal(0, sigma_u). A record observed d days after
// symptom onset enters at exposure day t = d + incubation, so days before
// symptom onset are covered purely by the polynomial extrapolation. The
// attack rate carries a Beta(1,1) prior updated by the cohort binomial.
//
// Observe returns the log posterior; Gradient returns its analytic
// gradient at the point of the preceding Observe call, so the sampler
// needs no automatic differentiation pass.
type Posterior struct {
	data       *dataset.Dataset
	attack     dataset.AttackObservation
	incubation int

	basis [][4]float64 // z(record day + incubation), cached per record
	grad  []float64    // gradient of the last Observe
}

// NewPosterior builds the model for one scenario. incubation is the
// assumed exposure-to-onset offset in days (t_exp_symp).
func NewPosterior(data *dataset.Dataset, attack dataset.AttackObservation, incubation int) *Posterior {
	basis := make([][4]float64, data.Len())
	for i := 0; i < data.Len(); i++ {
		basis[i] = Basis(data.Record(i).Day + incubation)
	}
	return &Posterior{
		data:       data,
		attack:     attack,
		incubation: incubation,
		basis:      basis,
		grad:       make([]float64, numFixed+data.NumStudies()),
	}
}

// Basis evaluates the cubic log-time regression basis at an exposure day.
func Basis(t int) [4]float64 {
	l := math.Log(float64(t) + 1)
	return [4]float64{1, l, l * l, l * l * l}
}

// NumParams returns the dimension of the unconstrained parameter vector.
func (m *Posterior) NumParams() int { return numFixed + m.data.NumStudies() }

// Incubation returns the assumed exposure-to-onset offset in days.
func (m *Posterior) Incubation() int { return m.incubation }

// InitialPoint returns a data-informed starting point: flat curve, unit
// random-effect scale, attack rate at the raw cohort proportion.
func (m *Posterior) InitialPoint() []float64 {
	x := make([]float64, m.NumParams())
	p := float64(m.attack.Positive) / float64(m.attack.Exposed)
	// keep the logit finite for boundary cohorts
	p = math.Min(math.Max(p, 1e-3), 1-1e-3)
	x[idxLogitAttack] = math.Log(p / (1 - p))
	return x
}

// Observe returns the log posterior at x and caches its gradient.
func (m *Posterior) Observe(x []float64) float64 {
	g := m.grad
	for i := range g {
		g[i] = 0
	}
	ll := 0.0

	// Sensitivity likelihood, in log space throughout.
	for i := 0; i < m.data.Len(); i++ {
		r := m.data.Record(i)
		z := m.basis[i]
		j := numFixed + r.StudyIdx - 1
		eta := x[idxBeta0]*z[0] + x[idxBeta1]*z[1] + x[idxBeta2]*z[2] + x[idxBeta3]*z[3] + x[j]
		n, k := float64(r.Tested), float64(r.Positive)
		ll += lchoose(n, k) + k*eta - n*softplus(eta)
		score := k - n*sigmoid(eta)
		g[idxBeta0] += score * z[0]
		g[idxBeta1] += score * z[1]
		g[idxBeta2] += score * z[2]
		g[idxBeta3] += score * z[3]
		g[j] += score
	}

	// Coefficient priors.
	for i := idxBeta0; i <= idxBeta3; i++ {
		ll += dist.Normal.Logp(0, betaPriorSD, x[i])
		g[i] -= x[i] / (betaPriorSD * betaPriorSD)
	}

	// Random effects: u_j ~ Normal(0, sigma_u), sigma_u = exp(s) with a
	// half-normal prior and the +s change-of-variable term.
	s := x[idxLogSigmaU]
	sigmaU := math.Exp(s)
	for j := numFixed; j < len(x); j++ {
		u := x[j]
		ll += dist.Normal.Logp(0, sigmaU, u)
		g[j] -= u / (sigmaU * sigmaU)
		g[idxLogSigmaU] += u*u/(sigmaU*sigmaU) - 1
	}
	ll += dist.Normal.Logp(0, sigmaUPriorSD, sigmaU) + s
	g[idxLogSigmaU] += -sigmaU*sigmaU/(sigmaUPriorSD*sigmaUPriorSD) + 1

	// Attack rate: cohort binomial plus the Beta(1,1) prior expressed on
	// the logit scale (the uniform density reduces to the Jacobian).
	alpha := x[idxLogitAttack]
	ne, ke := float64(m.attack.Exposed), float64(m.attack.Positive)
	ll += lchoose(ne, ke) + ke*alpha - ne*softplus(alpha)
	g[idxLogitAttack] += ke - ne*sigmoid(alpha)
	ll += alpha - 2*softplus(alpha)
	g[idxLogitAttack] += 1 - 2*sigmoid(alpha)

	return ll
}

// Gradient returns the gradient of the log posterior at the point of the
// last Observe call.
func (m *Posterior) Gradient() []float64 {
	out := make([]float64, len(m.grad))
	copy(out, m.grad)
	return out
}

// PointwiseLogLik returns the per-record binomial log-likelihood at x,
// used for leave-one-out predictive accuracy.
func (m *Posterior) PointwiseLogLik(x []float64) []float64 {
	out := make([]float64, m.data.Len())
	for i := 0; i < m.data.Len(); i++ {
		r := m.data.Record(i)
		z := m.basis[i]
		eta := x[idxBeta0]*z[0] + x[idxBeta1]*z[1] + x[idxBeta2]*z[2] + x[idxBeta3]*z[3] + x[numFixed+r.StudyIdx-1]
		n, k := float64(r.Tested), float64(r.Positive)
		out[i] = lchoose(n, k) + k*eta - n*softplus(eta)
	}
	return out
}

// sigmoid is the standard logistic function, stable for large |x|.
func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// softplus computes log(1+exp(x)) without overflow.
func softplus(x float64) float64 {
	if x > 0 {
		return x + math.Log1p(math.Exp(-x))
	}
	return math.Log1p(math.Exp(x))
}

// lchoose is the log binomial coefficient.
func lchoose(n, k float64) float64 {
	ln, _ := math.Lgamma(n + 1)
	lk, _ := math.Lgamma(k + 1)
	lnk, _ := math.Lgamma(n - k + 1)
	return ln - lk - lnk
}
