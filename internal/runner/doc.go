// Package runner fans work units out to a remote ledger and tracks them to a
// terminal outcome.
//
// Two phases share the same concurrency discipline: a weighted semaphore is
// acquired around every remote call and released on every exit path, so at
// most the configured number of Submit (or Poll) calls are in flight.
//
// # Submitting
//
// [SubmitMany] runs one goroutine per unit. Rejections classified as
// retryable by the [RetryPolicy] are retried with exponential backoff;
// every other rejection fails the unit immediately:
//
//	handles, failures := runner.SubmitMany(ctx, oracle, unit.Sequence(100, 512, 1), runner.SubmitOptions{
//		Concurrency:    8,
//		PerUnitTimeout: 30 * time.Second,
//		Retry:          runner.RetryPolicy{MaxRetries: 3, BackoffBase: 500 * time.Millisecond},
//	})
//
// Submit starts can be paced with RatePerSecond using either arrival model:
//   - [ArrivalModelUniform]: fixed spacing through a token bucket
//   - [ArrivalModelPoisson]: exponential inter-arrival times
//
// # Tracking
//
// [TrackAll] polls each handle every PollInterval until it is included or
// rejected, its PerHandleTimeout expires, or the OverallDeadline passes.
//
// # Pipeline
//
// [Pipeline] composes both phases and folds submit failures into the
// outcome set so every unit is accounted for exactly once.
//
// # Observers
//
// An [Observer] sees each attempt and each final outcome; the metrics
// collector and the progress reporter are both observers.
package runner
