package switchpoint

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// SimConfig configures synthetic two-regime series generation.
type SimConfig struct {
	// Seed fixes the draw sequence; the same config always yields the
	// same series.
	Seed int64

	// Rate1 and Rate2 are the Poisson rates before and after the shift.
	Rate1 float64
	Rate2 float64

	// Days1 and Days2 are the regime lengths in days.
	Days1 int
	Days2 int

	// Start anchors the series to a calendar day; optional.
	Start time.Time
}

// SimulateShift draws a series with Days1 days at Rate1 followed by Days2
// days at Rate2. Useful for exercising detection end to end with a known
// true split at index Days1.
func SimulateShift(cfg SimConfig) (CountSeries, error) {
	if cfg.Days1 < 0 || cfg.Days2 < 0 {
		return CountSeries{}, newInputError("simulate", fmt.Sprintf("negative regime length (%d, %d)", cfg.Days1, cfg.Days2))
	}
	for _, r := range [2]float64{cfg.Rate1, cfg.Rate2} {
		if r < 0 || math.IsNaN(r) {
			return CountSeries{}, newInputError("simulate", fmt.Sprintf("rate %g outside [0, inf)", r))
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	counts := make([]int, 0, cfg.Days1+cfg.Days2)
	for i := 0; i < cfg.Days1; i++ {
		counts = append(counts, poissonDraw(rng, cfg.Rate1))
	}
	for i := 0; i < cfg.Days2; i++ {
		counts = append(counts, poissonDraw(rng, cfg.Rate2))
	}
	return CountSeries{Start: cfg.Start, Counts: counts}, nil
}

// poissonDraw samples one Poisson count: inverse-transform for small rates,
// a rounded normal approximation above.
func poissonDraw(rng *rand.Rand, lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	if lambda < 30 {
		limit := math.Exp(-lambda)
		k, p := 0, 1.0
		for p > limit {
			k++
			p *= rng.Float64()
		}
		return k - 1
	}
	n := int(math.Round(rng.NormFloat64()*math.Sqrt(lambda) + lambda))
	if n < 0 {
		return 0
	}
	return n
}
