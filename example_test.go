package switchpoint_test

import (
	"fmt"
	"time"

	"github.com/chronicle-db/switchpoint"
)

func Example() {
	// Eight days of counts with an abrupt rate shift halfway through.
	series, err := switchpoint.NewCountSeries(
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		[]int{10, 9, 11, 10, 50, 49, 51, 50},
	)
	if err != nil {
		panic(err)
	}

	analyzer := switchpoint.NewAnalyzer(switchpoint.DefaultAnalyzerConfig())
	analysis, err := analyzer.Analyze(series)
	if err != nil {
		panic(err)
	}

	fmt.Printf("Shift at day %d: %.1f -> %.1f events/day\n",
		analysis.Changepoint.Tau, analysis.Before.MLE, analysis.After.MLE)
	// Output: Shift at day 4: 10.0 -> 50.0 events/day
}

func ExampleEstimateRate() {
	// Under the uninformative prior the posterior mean reproduces the MLE.
	est, err := switchpoint.EstimateRate([]int{3, 5, 4}, switchpoint.GammaPrior{})
	if err != nil {
		panic(err)
	}

	fmt.Printf("MLE %.1f, posterior mean %.1f\n", est.MLE, est.Posterior.Mean())
	// Output: MLE 4.0, posterior mean 4.0
}

func ExampleGammaPrior_Update() {
	prior := switchpoint.GammaPrior{Shape: 2, Rate: 1}
	posterior, err := prior.Update([]int{3, 5, 4})
	if err != nil {
		panic(err)
	}

	fmt.Printf("Gamma(%g, %g), mean %.1f\n", posterior.Shape, posterior.Rate, posterior.Mean())
	// Output: Gamma(14, 4), mean 3.5
}

func ExamplePrepareSeries() {
	// Raw events bucket by calendar day; days without events zero-fill.
	events := []switchpoint.Event{
		{Time: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC), Count: 2},
		{Time: time.Date(2024, 3, 3, 17, 0, 0, 0, time.UTC), Count: 1},
	}

	series, report, err := switchpoint.PrepareSeries(events, switchpoint.PrepConfig{})
	if err != nil {
		panic(err)
	}

	fmt.Printf("%d days from %s: %v\n",
		report.Days, report.Start.Format("2006-01-02"), series.Counts)
	// Output: 3 days from 2024-03-01: [2 0 1]
}

func ExampleSimulateShift() {
	series, err := switchpoint.SimulateShift(switchpoint.SimConfig{
		Seed:  7,
		Rate1: 5,
		Rate2: 25,
		Days1: 30,
		Days2: 30,
	})
	if err != nil {
		panic(err)
	}

	fmt.Printf("%d days, true shift at day 30\n", series.Len())
	// Output: 60 days, true shift at day 30
}

func ExampleCountSeries_Split() {
	series, _ := switchpoint.NewCountSeries(time.Time{}, []int{4, 5, 40, 41})

	pre, post, err := series.Split(2)
	if err != nil {
		panic(err)
	}

	fmt.Println(pre, post)
	// Output: [4 5] [40 41]
}
