// Package switchpoint detects a single rate shift in a series of daily
// event counts.
//
// The series is modeled as independent Poisson draws with one unknown
// changepoint: counts before the shift share one rate, counts from the
// shift onward share another. Every candidate shift day is scored
// exactly, so the posterior over locations, the credible interval, and
// the model comparison come from a full enumeration rather than an
// approximation.
//
// # Basic Usage
//
// Analyze a series of daily counts with default configuration:
//
//	analyzer := switchpoint.NewAnalyzer(switchpoint.DefaultAnalyzerConfig())
//	analysis, err := analyzer.Analyze(switchpoint.CountSeries{
//	    Counts: []int{9, 11, 10, 8, 52, 47, 50, 49},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(analysis.Changepoint.Tau, analysis.Changepoint.Probability)
//
// Prepare a series from raw timestamped events first:
//
//	series, report, err := switchpoint.PrepareSeries(events, switchpoint.PrepConfig{
//	    TimeZone: "Europe/Berlin",
//	})
//
// # Features
//
// Detection Core:
//   - Poisson maximum-likelihood and conjugate Gamma rate estimation
//   - Exact log-likelihood scoring of every candidate shift day
//   - Prefix-sum evaluation with an O(n²) reference mode
//   - Log-sum-exp posterior normalization and credible intervals
//   - Bayes factor, AIC, and ICOMP model comparison
//
// Data Handling:
//   - Event-to-series preparation with calendar-day bucketing
//   - Duration, label, and window filters with zero-filled gaps
//   - In-memory and SQLite event stores
//   - Seeded two-regime series simulation
//
// Service Layer:
//   - Optional HTTP API with API key authentication and rate limiting
//   - Prometheus remote write ingestion and /metrics exposition
//   - WebSocket streaming of completed analyses
//   - Webhook notifications for qualifying shifts
//   - Analysis archive (file, memory, S3) with snappy compression and
//     AES-256-GCM encryption at rest
//
// # Configuration
//
// Use [Config] with [LoadConfig] for the full service, or configure
// components directly:
//
//	cfg := switchpoint.AnalyzerConfig{
//	    Prior:         switchpoint.GammaPrior{Shape: 2, Rate: 0.1},
//	    Search:        switchpoint.SearchConfig{Workers: 4},
//	    CredibleLevel: 0.9,
//	}
//
// Or use [DefaultAnalyzerConfig] for sensible defaults. The zero-value
// prior reproduces plain maximum-likelihood estimates.
package switchpoint
