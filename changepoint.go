package switchpoint

import (
	"fmt"
	"sync"
)

// SearchMethod identifies how segment log-likelihoods are evaluated.
type SearchMethod int

const (
	// SearchMethodPrefixSum evaluates every split from running prefix
	// totals, O(n) overall.
	SearchMethodPrefixSum SearchMethod = iota
	// SearchMethodDirect refits and rescores both segments per split,
	// O(n²) overall. Kept as the reference the prefix form must agree with.
	SearchMethodDirect
)

// SearchConfig configures changepoint search.
type SearchConfig struct {
	// Method selects the evaluation strategy.
	Method SearchMethod `yaml:"method"`

	// Workers bounds the goroutines scoring candidate splits. Zero or one
	// keeps the search serial. The profile is identical at any setting:
	// workers own disjoint split ranges and every per-segment reduction
	// keeps a fixed left-to-right order.
	Workers int `yaml:"workers"`
}

// DefaultSearchConfig returns the default search configuration.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Method:  SearchMethodPrefixSum,
		Workers: 1,
	}
}

// Profile maps every candidate split to its unnormalized two-segment
// log-likelihood. Scores[i] holds split tau = i+1 over 1..n-1; tau = 0 and
// tau = n are not candidates and never appear.
type Profile struct {
	Scores []float64 `json:"scores"`
}

// NumSplits returns the number of candidate splits.
func (p Profile) NumSplits() int {
	return len(p.Scores)
}

// Score returns the score of split tau.
func (p Profile) Score(tau int) (float64, error) {
	if tau < 1 || tau > len(p.Scores) {
		return 0, newInputError("profile", fmt.Sprintf("split index %d outside 1..%d", tau, len(p.Scores)))
	}
	return p.Scores[tau-1], nil
}

// Searcher exhaustively evaluates the two-segment Poisson model over every
// valid split of a series.
type Searcher struct {
	config SearchConfig
}

// NewSearcher creates a searcher, normalizing out-of-range settings.
func NewSearcher(config SearchConfig) *Searcher {
	if config.Workers < 0 {
		config.Workers = 0
	}
	if config.Method != SearchMethodDirect {
		config.Method = SearchMethodPrefixSum
	}
	return &Searcher{config: config}
}

// Evaluate scores every candidate split tau in 1..n-1: the series is
// partitioned in order into [0:tau) and [tau:n), each segment's rate is
// fitted by MLE, and the segment log-likelihoods are summed. A series
// shorter than two days has no valid split.
func (s *Searcher) Evaluate(series CountSeries) (Profile, error) {
	if err := series.Validate(); err != nil {
		return Profile{}, err
	}
	n := series.Len()
	if n < 2 {
		return Profile{}, newInputError("search", fmt.Sprintf("series of length %d has no valid split", n))
	}

	scores := make([]float64, n-1)
	var err error
	switch s.config.Method {
	case SearchMethodDirect:
		err = s.forEachSplit(n-1, func(i int) error {
			tau := i + 1
			score, serr := splitScore(series.Counts[:tau], series.Counts[tau:])
			if serr != nil {
				return serr
			}
			scores[i] = score
			return nil
		})
	default:
		prefixes := newLikelihoodPrefixes(series.Counts)
		err = s.forEachSplit(n-1, func(i int) error {
			tau := i + 1
			_, ll1 := prefixes.segment(0, tau)
			_, ll2 := prefixes.segment(tau, n)
			scores[i] = ll1 + ll2
			return nil
		})
	}
	if err != nil {
		return Profile{}, err
	}
	return Profile{Scores: scores}, nil
}

// splitScore fits and scores one candidate split through the likelihood
// engine, the reference the prefix-sum path is held to.
func splitScore(pre, post []int) (float64, error) {
	rate1, err := MLE(pre)
	if err != nil {
		return 0, err
	}
	ll1, err := LogLikelihood(pre, rate1)
	if err != nil {
		return 0, err
	}
	rate2, err := MLE(post)
	if err != nil {
		return 0, err
	}
	ll2, err := LogLikelihood(post, rate2)
	if err != nil {
		return 0, err
	}
	return ll1 + ll2, nil
}

// forEachSplit runs fn for each split index, fanning out across workers
// when configured. Indices are assigned in contiguous chunks so each score
// slot has exactly one writer.
func (s *Searcher) forEachSplit(count int, fn func(i int) error) error {
	workers := s.config.Workers
	if workers > count {
		workers = count
	}
	if workers <= 1 {
		for i := 0; i < count; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	chunk := (count + workers - 1) / workers
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > count {
			hi = count
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				if err := fn(i); err != nil {
					errs[w] = err
					return
				}
			}
		}(w, lo, hi)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
