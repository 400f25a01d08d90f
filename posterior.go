package switchpoint

import (
	"fmt"
	"math"
)

// Posterior is the normalized probability distribution over changepoint
// locations. Probs[i] is the probability of split tau = i+1 and the entries
// sum to 1 within floating tolerance.
type Posterior struct {
	Probs []float64 `json:"probs"`
}

// Normalize converts a log-likelihood profile into a posterior using the
// log-sum-exp stabilization: the maximum score is subtracted from every
// entry before exponentiating, so profiles thousands of log-units deep
// normalize without underflow. The distribution is the same under any shift
// constant; the maximum makes the largest exponential exactly 1 and the
// normalizing sum at least 1.
//
// A profile containing NaN, or containing no finite score at all, cannot be
// normalized and fails with ErrNumericalInstability. There is no
// best-effort fallback.
func Normalize(profile Profile) (Posterior, error) {
	n := len(profile.Scores)
	if n == 0 {
		return Posterior{}, newInputError("normalize", "empty profile")
	}

	maxScore := math.Inf(-1)
	for _, sc := range profile.Scores {
		if math.IsNaN(sc) {
			return Posterior{}, newInstabilityError("normalize", "NaN score in profile")
		}
		if sc > maxScore {
			maxScore = sc
		}
	}
	if math.IsInf(maxScore, -1) {
		return Posterior{}, newInstabilityError("normalize", "no finite score in profile")
	}
	if math.IsInf(maxScore, 1) {
		return Posterior{}, newInstabilityError("normalize", "infinite score in profile")
	}

	probs := make([]float64, n)
	sum := 0.0
	for i, sc := range profile.Scores {
		e := math.Exp(sc - maxScore)
		probs[i] = e
		sum += e
	}
	for i := range probs {
		probs[i] /= sum
	}
	return Posterior{Probs: probs}, nil
}

// MAP returns the maximum a-posteriori split index. Ties resolve to the
// smallest index deterministically. Returns 0 for an empty posterior.
func (p Posterior) MAP() int {
	if len(p.Probs) == 0 {
		return 0
	}
	best := 0
	for i := 1; i < len(p.Probs); i++ {
		if p.Probs[i] > p.Probs[best] {
			best = i
		}
	}
	return best + 1
}

// Prob returns the probability of split tau.
func (p Posterior) Prob(tau int) (float64, error) {
	if tau < 1 || tau > len(p.Probs) {
		return 0, newInputError("posterior", fmt.Sprintf("split index %d outside 1..%d", tau, len(p.Probs)))
	}
	return p.Probs[tau-1], nil
}

// CredibleInterval returns the equal-tailed interval [lo, hi] over the
// discrete split support covering at least the given probability mass:
// lo is the smallest tau whose cumulative probability reaches the lower
// tail, hi the smallest tau reaching the upper tail.
func (p Posterior) CredibleInterval(level float64) (lo, hi int, err error) {
	if level <= 0 || level >= 1 {
		return 0, 0, newInputError("credible-interval", fmt.Sprintf("level %g outside (0, 1)", level))
	}
	if len(p.Probs) == 0 {
		return 0, 0, newInputError("credible-interval", "empty posterior")
	}

	tail := (1 - level) / 2
	cdf := 0.0
	lo, hi = 0, 0
	for i, prob := range p.Probs {
		cdf += prob
		if lo == 0 && cdf >= tail {
			lo = i + 1
		}
		if cdf >= 1-tail {
			hi = i + 1
			break
		}
	}
	if hi == 0 {
		// Accumulated rounding can leave the upper tail unreached.
		hi = len(p.Probs)
	}
	if lo == 0 {
		lo = 1
	}
	return lo, hi, nil
}
