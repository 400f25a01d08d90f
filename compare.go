package switchpoint

import (
	"fmt"
	"math"
)

// Parameter counts of the compared models: the single-rate model fits one
// rate; the two-segment model fits a split index and one rate per segment.
const (
	SingleRateParams = 1
	TwoSegmentParams = 3
)

// ModelComparison records the evidence statistics of the single-rate model
// against the two-segment model at the MAP split. Lower AIC/ICOMP and a
// Bayes factor well above 1 favor the two-segment model; no accept/reject
// decision is made here.
type ModelComparison struct {
	LogLikelihoodSingle     float64 `json:"log_likelihood_single"`
	LogLikelihoodTwoSegment float64 `json:"log_likelihood_two_segment"`
	BayesFactor             float64 `json:"bayes_factor"`
	LogBayesFactor          float64 `json:"log_bayes_factor"`
	AICSingle               float64 `json:"aic_single"`
	AICTwoSegment           float64 `json:"aic_two_segment"`
	ICOMPSingle             float64 `json:"icomp_single"`
	ICOMPTwoSegment         float64 `json:"icomp_two_segment"`
}

// BayesFactor returns exp(logTwo − logSingle), the evidence ratio of the
// two-segment model over the single-rate model. Both exponentials are
// shifted by the larger log-likelihood first, making the larger exactly 1,
// and the ratio of the shifted exponentials is returned directly; the 0/0
// form cannot arise. For gaps beyond float range the result saturates at
// +Inf or 0 while LogBayesFactor retains the exact difference.
func BayesFactor(logSingle, logTwo float64) float64 {
	shift := math.Max(logSingle, logTwo)
	num := math.Exp(logTwo - shift)
	den := math.Exp(logSingle - shift)
	return num / den
}

// AIC returns the Akaike information criterion −2·logL + 2k for a model
// with k fitted parameters.
func AIC(logL float64, k int) float64 {
	return -2*logL + 2*float64(k)
}

// ICOMP returns the information-complexity criterion −2·logL + 2·C1 for a
// model with a single Poisson rate, where the supplied Fisher-information
// inverse is the scalar rate/n. For a scalar the trace and determinant
// coincide, so C1 vanishes for any value and the criterion collapses to
// −2·logL; the general multivariate C1 is deliberately not implemented.
// The Fisher inverse must be non-negative.
func ICOMP(logL, fisherInverse float64) (float64, error) {
	if fisherInverse < 0 || math.IsNaN(fisherInverse) {
		return 0, newInputError("icomp", fmt.Sprintf("fisher inverse %g outside [0, inf)", fisherInverse))
	}
	return -2*logL + 2*c1Scalar(fisherInverse), nil
}

// c1Scalar is the C1 complexity of a scalar Fisher-information inverse:
// (1/2)·ln(trace) − (1/2)·ln(det) with trace = det for a 1×1, identically
// zero.
func c1Scalar(fisherInverse float64) float64 {
	return 0
}

// Compare assembles the full comparison record. The Fisher-information
// inverses are rate/n for the single fit and for each segment fit; each
// contributes a scalar C1 of zero, so the two-segment ICOMP penalty is the
// sum of two zeros.
func Compare(logSingle, logTwo, fisherSingle, fisherPre, fisherPost float64) (ModelComparison, error) {
	icompSingle, err := ICOMP(logSingle, fisherSingle)
	if err != nil {
		return ModelComparison{}, err
	}
	for _, fi := range [2]float64{fisherPre, fisherPost} {
		if fi < 0 || math.IsNaN(fi) {
			return ModelComparison{}, newInputError("compare", fmt.Sprintf("fisher inverse %g outside [0, inf)", fi))
		}
	}
	icompTwo := -2*logTwo + 2*(c1Scalar(fisherPre)+c1Scalar(fisherPost))

	return ModelComparison{
		LogLikelihoodSingle:     logSingle,
		LogLikelihoodTwoSegment: logTwo,
		BayesFactor:             BayesFactor(logSingle, logTwo),
		LogBayesFactor:          logTwo - logSingle,
		AICSingle:               AIC(logSingle, SingleRateParams),
		AICTwoSegment:           AIC(logTwo, TwoSegmentParams),
		ICOMPSingle:             icompSingle,
		ICOMPTwoSegment:         icompTwo,
	}, nil
}
