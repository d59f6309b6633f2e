// Package stats implements the two-proportion significance tests used to
// call A/B test winners. All inputs are success counts over trial counts;
// rates are handled as proportions in [0, 1] internally and exposed as
// percentages where noted.
package stats

import (
	"errors"
	"math"
)

// ErrInvalidObservation reports counts that cannot form a proportion.
var ErrInvalidObservation = errors.New("invalid observation")

// Observation is one arm of a comparison: N trials with Successes hits.
type Observation struct {
	ID        string `json:"id"`
	Control   bool   `json:"control"`
	N         int    `json:"n"`
	Successes int    `json:"successes"`
}

// Rate returns the success proportion, 0 when N is 0.
func (o Observation) Rate() float64 {
	if o.N == 0 {
		return 0
	}
	return float64(o.Successes) / float64(o.N)
}

// Interval is a two-sided confidence interval on a proportion.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Comparison is the outcome of a two-proportion z-test between a control
// and a treatment arm.
type Comparison struct {
	ControlRate   float64  `json:"control_rate"`
	TreatmentRate float64  `json:"treatment_rate"`
	ZScore        float64  `json:"z_score"`
	PValue        float64  `json:"p_value"`
	Significant   bool     `json:"significant"`
	ControlCI     Interval `json:"control_ci"`
	TreatmentCI   Interval `json:"treatment_ci"`
	EffectSize    float64  `json:"effect_size"`
	Power         float64  `json:"power"`
}

// Compare runs a pooled two-proportion z-test of treatment against control
// at the given confidence level (e.g. 0.95). Degenerate inputs (an empty
// arm, or identical rates) produce a zero z-score and p-value 1 rather
// than an error, so callers can report "no signal yet" uniformly.
func Compare(control, treatment Observation, confidenceLevel float64) (*Comparison, error) {
	if control.N < 0 || treatment.N < 0 ||
		control.Successes < 0 || treatment.Successes < 0 ||
		control.Successes > control.N || treatment.Successes > treatment.N {
		return nil, ErrInvalidObservation
	}
	if confidenceLevel <= 0 || confidenceLevel >= 1 {
		return nil, ErrInvalidObservation
	}

	p1 := control.Rate()
	p2 := treatment.Rate()
	alpha := 1 - confidenceLevel

	out := &Comparison{
		ControlRate:   p1,
		TreatmentRate: p2,
		PValue:        1,
		ControlCI:     WilsonInterval(control.Successes, control.N, confidenceLevel),
		TreatmentCI:   WilsonInterval(treatment.Successes, treatment.N, confidenceLevel),
		EffectSize:    cohensH(p1, p2),
	}

	if control.N == 0 || treatment.N == 0 {
		return out, nil
	}

	n1 := float64(control.N)
	n2 := float64(treatment.N)
	pooled := float64(control.Successes+treatment.Successes) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se > 0 {
		out.ZScore = (p2 - p1) / se
		out.PValue = 2 * 0.5 * math.Erfc(math.Abs(out.ZScore)/math.Sqrt2)
	}
	out.Significant = out.PValue < alpha
	out.Power = achievedPower(p1, p2, n1, n2, alpha)
	return out, nil
}

// WilsonInterval computes the Wilson score interval for s successes in n
// trials. It stays inside [0, 1] even at extreme rates, unlike the normal
// approximation. A zero n yields the uninformative [0, 1].
func WilsonInterval(s, n int, confidenceLevel float64) Interval {
	if n <= 0 {
		return Interval{Lower: 0, Upper: 1}
	}
	z := zQuantile(1 - (1-confidenceLevel)/2)
	p := float64(s) / float64(n)
	nf := float64(n)

	denom := 1 + z*z/nf
	center := (p + z*z/(2*nf)) / denom
	margin := z * math.Sqrt(p*(1-p)/nf+z*z/(4*nf*nf)) / denom

	return Interval{
		Lower: math.Max(0, center-margin),
		Upper: math.Min(1, center+margin),
	}
}

// MinimumSampleSize returns the per-arm sample size needed to detect a
// change from baselineRate to targetRate with the given significance alpha
// and power. Returns 0 when the rates are equal (no effect to detect).
func MinimumSampleSize(baselineRate, targetRate, alpha, power float64) int {
	p1 := baselineRate
	p2 := targetRate
	if p1 == p2 {
		return 0
	}

	za := zQuantile(1 - alpha/2)
	zb := zQuantile(power)
	pbar := (p1 + p2) / 2

	num := za*math.Sqrt(2*pbar*(1-pbar)) + zb*math.Sqrt(p1*(1-p1)+p2*(1-p2))
	n := (num * num) / ((p2 - p1) * (p2 - p1))
	return int(math.Ceil(n))
}

// DetermineWinner picks the winning treatment against the control: the
// highest-rate treatment that is both statistically significant at the
// confidence level and strictly better than the control. Returns the
// empty string when no treatment qualifies; a significantly worse
// treatment is never a winner.
func DetermineWinner(control Observation, treatments []Observation, confidenceLevel float64) (string, error) {
	winnerID := ""
	winnerRate := 0.0
	for _, tr := range treatments {
		cmp, err := Compare(control, tr, confidenceLevel)
		if err != nil {
			return "", err
		}
		if !cmp.Significant || tr.Rate() <= control.Rate() {
			continue
		}
		if winnerID == "" || tr.Rate() > winnerRate {
			winnerID = tr.ID
			winnerRate = tr.Rate()
		}
	}
	return winnerID, nil
}

// cohensH is the arcsine-transformed effect size for two proportions.
func cohensH(p1, p2 float64) float64 {
	return 2*math.Asin(math.Sqrt(p2)) - 2*math.Asin(math.Sqrt(p1))
}

// achievedPower estimates post-hoc power for the observed rates and sizes
// using the unpooled standard error.
func achievedPower(p1, p2, n1, n2, alpha float64) float64 {
	se := math.Sqrt(p1*(1-p1)/n1 + p2*(1-p2)/n2)
	if se == 0 {
		return 0
	}
	zcrit := zQuantile(1 - alpha/2)
	z := math.Abs(p2-p1)/se - zcrit
	return normalCDF(z)
}

func normalCDF(z float64) float64 {
	return 0.5 * math.Erfc(-z/math.Sqrt2)
}

// zQuantile is the inverse standard normal CDF, via Acklam's rational
// approximation (relative error below 1.15e-9 across the open interval).
func zQuantile(p float64) float64 {
	if p <= 0 {
		return math.Inf(-1)
	}
	if p >= 1 {
		return math.Inf(1)
	}

	a := []float64{-3.969683028665376e+01, 2.209460984245205e+02, -2.759285104469687e+02,
		1.383577518672690e+02, -3.066479806614716e+01, 2.506628277459239e+00}
	b := []float64{-5.447609879822406e+01, 1.615858368580409e+02, -1.556989798598866e+02,
		6.680131188771972e+01, -1.328068155288572e+01}
	c := []float64{-7.784894002430293e-03, -3.223964580411365e-01, -2.400758277161838e+00,
		-2.549732539343734e+00, 4.374664141464968e+00, 2.938163982698783e+00}
	d := []float64{7.784695709041462e-03, 3.224671290700398e-01, 2.445134137142996e+00,
		3.754408661907416e+00}

	const pLow = 0.02425
	const pHigh = 1 - pLow

	switch {
	case p < pLow:
		q := math.Sqrt(-2 * math.Log(p))
		return (((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	case p <= pHigh:
		q := p - 0.5
		r := q * q
		return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
			(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
	default:
		q := math.Sqrt(-2 * math.Log(1-p))
		return -(((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	}
}
