package switchpoint

import (
	"fmt"
	"math"
)

// LogLikelihood computes the Poisson log-likelihood of a count sample under
// a fixed rate:
//
//	Σ (x·ln(λ) − λ − lnΓ(x+1))
//
// accumulated strictly left to right. The log-gamma form stays stable for
// counts far beyond the factorial range.
//
// Convention: 0·ln(0) is treated as 0. A rate of exactly zero is therefore
// legal and an all-zero sample scores 0 under it, which keeps zero-total
// segments valid during changepoint search. A positive count under rate
// zero has zero probability and yields -Inf. Negative or NaN rates are
// invalid input.
func LogLikelihood(sample []int, rate float64) (float64, error) {
	if rate < 0 || math.IsNaN(rate) {
		return 0, newInputError("log-likelihood", fmt.Sprintf("rate %g outside [0, inf)", rate))
	}
	logRate := math.Log(rate)
	ll := 0.0
	for i, x := range sample {
		if x < 0 {
			return 0, newInputError("log-likelihood", fmt.Sprintf("negative count %d at index %d", x, i))
		}
		term := -rate - lgamma(float64(x)+1)
		if x > 0 {
			term += float64(x) * logRate
		}
		ll += term
	}
	return ll, nil
}

// LogLikelihoodAtMLE evaluates the sample under its own fitted rate. This
// is the omitted-rate form: the rate defaults to MLE(sample).
func LogLikelihoodAtMLE(sample []int) (float64, error) {
	rate, err := MLE(sample)
	if err != nil {
		return 0, err
	}
	return LogLikelihood(sample, rate)
}

// lgamma strips the sign bit math.Lgamma reports; the gamma function is
// positive over the arguments used here (x+1 for non-negative counts).
func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

// likelihoodPrefixes holds running totals over a series: counts[i] and
// lgammas[i] cover the first i entries. Count prefixes are integers and
// exact; log-gamma prefixes accumulate left to right once, so any segment
// evaluation derived from them is independent of evaluation order.
type likelihoodPrefixes struct {
	counts  []int64
	lgammas []float64
}

func newLikelihoodPrefixes(sample []int) likelihoodPrefixes {
	counts := make([]int64, len(sample)+1)
	lgammas := make([]float64, len(sample)+1)
	for i, x := range sample {
		counts[i+1] = counts[i] + int64(x)
		lgammas[i+1] = lgammas[i] + lgamma(float64(x)+1)
	}
	return likelihoodPrefixes{counts: counts, lgammas: lgammas}
}

// segment returns the MLE rate and log-likelihood of sample[lo:hi) from
// the prefix totals: S·ln(λ) − m·λ − G, under the same 0·ln(0) convention
// as LogLikelihood. Bounds are the caller's responsibility.
func (p likelihoodPrefixes) segment(lo, hi int) (rate, ll float64) {
	m := hi - lo
	sum := p.counts[hi] - p.counts[lo]
	lg := p.lgammas[hi] - p.lgammas[lo]
	rate = float64(sum) / float64(m)
	ll = -float64(m)*rate - lg
	if sum > 0 {
		ll += float64(sum) * math.Log(rate)
	}
	return rate, ll
}
