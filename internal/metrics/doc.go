// Package metrics turns run events and outcomes into numbers.
//
// # Collector
//
// [Collector] is a [runner.Observer] that keeps live counters and
// HdrHistogram latency distributions while a run is in flight:
//
//	collector := metrics.NewCollector()
//	outcomes := pipeline.Run(ctx, specs, runner.RunOptions{
//		Submit: runner.SubmitOptions{Observer: collector},
//		Track:  runner.TrackOptions{Observer: collector},
//	})
//	stats := collector.Stats(0)
//
// # Report
//
// [Aggregate] is a pure function from outcomes to a [Report]: included
// units grouped by block, failure counts by stage, the observed inclusion
// rate and inclusion latency quantiles.
package metrics
