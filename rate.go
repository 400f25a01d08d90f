package switchpoint

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// GammaPrior is a conjugate prior over a Poisson rate, parameterized by
// shape and rate. The zero value is the canonical uninformative prior
// (0, 0), under which the posterior mean reproduces the MLE exactly.
type GammaPrior struct {
	Shape float64 `json:"shape" yaml:"shape"`
	Rate  float64 `json:"rate" yaml:"rate"`
}

// GammaPosterior is the closed-form posterior over a Poisson rate after
// observing a count sample under a GammaPrior.
type GammaPosterior struct {
	Shape float64 `json:"shape"`
	Rate  float64 `json:"rate"`
}

// MLE returns the maximum-likelihood estimate of a Poisson rate, the
// arithmetic mean of the sample. The sample must be non-empty and hold
// only non-negative counts.
func MLE(sample []int) (float64, error) {
	if len(sample) == 0 {
		return 0, newInputError("mle", "empty sample")
	}
	sum, err := sumCounts("mle", sample)
	if err != nil {
		return 0, err
	}
	return float64(sum) / float64(len(sample)), nil
}

// Update folds a count sample into the prior, yielding the conjugate
// posterior (shape + total count, rate + sample size). An empty sample is
// allowed and returns the prior unchanged in distribution.
func (p GammaPrior) Update(sample []int) (GammaPosterior, error) {
	if p.Shape < 0 || p.Rate < 0 || math.IsNaN(p.Shape) || math.IsNaN(p.Rate) {
		return GammaPosterior{}, newInputError("update", fmt.Sprintf("prior (%g, %g) outside [0, inf)", p.Shape, p.Rate))
	}
	sum, err := sumCounts("update", sample)
	if err != nil {
		return GammaPosterior{}, err
	}
	return GammaPosterior{
		Shape: p.Shape + float64(sum),
		Rate:  p.Rate + float64(len(sample)),
	}, nil
}

// Mean returns the posterior mean shape/rate. When the rate is zero (an
// uninformative prior updated with an empty sample) the mean is undefined
// and NaN is returned.
func (g GammaPosterior) Mean() float64 {
	if g.Rate == 0 {
		return math.NaN()
	}
	return g.Shape / g.Rate
}

// CredibleInterval returns the equal-tailed interval covering the given
// probability mass, e.g. level 0.95 for a 95% interval. The posterior must
// be proper (shape and rate both positive).
func (g GammaPosterior) CredibleInterval(level float64) (lo, hi float64, err error) {
	if level <= 0 || level >= 1 {
		return 0, 0, newInputError("credible-interval", fmt.Sprintf("level %g outside (0, 1)", level))
	}
	if g.Shape <= 0 || g.Rate <= 0 {
		return 0, 0, newInputError("credible-interval", fmt.Sprintf("improper posterior (%g, %g)", g.Shape, g.Rate))
	}
	dist := distuv.Gamma{Alpha: g.Shape, Beta: g.Rate}
	tail := (1 - level) / 2
	return dist.Quantile(tail), dist.Quantile(1 - tail), nil
}

// RateEstimate bundles the point estimate and posterior for a single
// Poisson rate, derived fresh from one sample and immutable afterwards.
type RateEstimate struct {
	MLE       float64        `json:"mle"`
	Posterior GammaPosterior `json:"posterior"`
}

// EstimateRate computes the MLE and the conjugate posterior for a sample
// under the given prior.
func EstimateRate(sample []int, prior GammaPrior) (RateEstimate, error) {
	mle, err := MLE(sample)
	if err != nil {
		return RateEstimate{}, err
	}
	post, err := prior.Update(sample)
	if err != nil {
		return RateEstimate{}, err
	}
	return RateEstimate{MLE: mle, Posterior: post}, nil
}

// sumCounts validates non-negativity and totals a sample exactly.
func sumCounts(op string, sample []int) (int64, error) {
	var sum int64
	for i, c := range sample {
		if c < 0 {
			return 0, newInputError(op, fmt.Sprintf("negative count %d at index %d", c, i))
		}
		sum += int64(c)
	}
	return sum, nil
}
