package switchpoint

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AnalyzerConfig configures the full detection pipeline.
type AnalyzerConfig struct {
	// Prior is the Gamma prior applied to every rate fit. The zero value
	// is the canonical uninformative prior, under which posterior means
	// reproduce the MLEs.
	Prior GammaPrior `yaml:"prior"`

	// Search configures the changepoint search.
	Search SearchConfig `yaml:"search"`

	// CredibleLevel is the probability mass of reported credible
	// intervals. Defaults to 0.95.
	CredibleLevel float64 `yaml:"credible_level"`
}

// DefaultAnalyzerConfig returns the default pipeline configuration.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		Search:        DefaultSearchConfig(),
		CredibleLevel: 0.95,
	}
}

// Changepoint describes the detected shift location.
type Changepoint struct {
	// Tau is the MAP split index: the post-shift regime starts at
	// series index Tau.
	Tau int `json:"tau"`

	// Date is the first day of the post-shift regime, zero when the
	// series carries no start date.
	Date time.Time `json:"date,omitempty"`

	// Probability is the posterior mass at Tau.
	Probability float64 `json:"probability"`

	// IntervalLow and IntervalHigh bound the equal-tailed credible
	// interval over the split index.
	IntervalLow  int `json:"interval_low"`
	IntervalHigh int `json:"interval_high"`
}

// Analysis is the assembled result of one detection run: rate estimates for
// the whole series and for both regimes at the MAP split, the full score
// profile, the normalized posterior, and the model comparison.
type Analysis struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Series      CountSeries     `json:"series"`
	Rate        RateEstimate    `json:"rate"`
	Before      RateEstimate    `json:"before"`
	After       RateEstimate    `json:"after"`
	Profile     Profile         `json:"profile"`
	Posterior   Posterior       `json:"posterior"`
	Changepoint Changepoint     `json:"changepoint"`
	Comparison  ModelComparison `json:"comparison"`
}

// Analyzer runs the detection pipeline: rate estimation, exhaustive split
// search, posterior normalization, and model comparison. Analyzers are
// stateless and safe for concurrent use.
type Analyzer struct {
	config   AnalyzerConfig
	searcher *Searcher
}

// NewAnalyzer creates an analyzer, normalizing out-of-range settings.
func NewAnalyzer(config AnalyzerConfig) *Analyzer {
	if config.CredibleLevel <= 0 || config.CredibleLevel >= 1 {
		config.CredibleLevel = 0.95
	}
	return &Analyzer{
		config:   config,
		searcher: NewSearcher(config.Search),
	}
}

// Analyze runs the full pipeline over a series of at least two days.
func (a *Analyzer) Analyze(series CountSeries) (*Analysis, error) {
	if err := series.Validate(); err != nil {
		return nil, err
	}
	n := series.Len()
	if n < 2 {
		return nil, newInputError("analyze", fmt.Sprintf("series of length %d is too short", n))
	}

	rate, err := EstimateRate(series.Counts, a.config.Prior)
	if err != nil {
		return nil, err
	}

	profile, err := a.searcher.Evaluate(series)
	if err != nil {
		return nil, err
	}
	posterior, err := Normalize(profile)
	if err != nil {
		return nil, err
	}

	tau := posterior.MAP()
	lo, hi, err := posterior.CredibleInterval(a.config.CredibleLevel)
	if err != nil {
		return nil, err
	}

	before, err := EstimateRate(series.Counts[:tau], a.config.Prior)
	if err != nil {
		return nil, err
	}
	after, err := EstimateRate(series.Counts[tau:], a.config.Prior)
	if err != nil {
		return nil, err
	}

	logSingle, err := LogLikelihoodAtMLE(series.Counts)
	if err != nil {
		return nil, err
	}
	logTwo, err := profile.Score(tau)
	if err != nil {
		return nil, err
	}
	comparison, err := Compare(logSingle, logTwo,
		rate.MLE/float64(n),
		before.MLE/float64(tau),
		after.MLE/float64(n-tau))
	if err != nil {
		return nil, err
	}

	return &Analysis{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Series:    series,
		Rate:      rate,
		Before:    before,
		After:     after,
		Profile:   profile,
		Posterior: posterior,
		Changepoint: Changepoint{
			Tau:          tau,
			Date:         series.Date(tau),
			Probability:  posterior.Probs[tau-1],
			IntervalLow:  lo,
			IntervalHigh: hi,
		},
		Comparison: comparison,
	}, nil
}
