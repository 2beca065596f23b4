package runner

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/torosent/blockprobe/internal/unit"
)

// DefaultPollInterval matches the block cadence of most data-availability layers.
const DefaultPollInterval = 2 * time.Second

// ArrivalModel selects how submits are spaced when a rate is set.
type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

// ErrInvalidConcurrency is returned by Validate when a concurrency cap is
// not positive.
var ErrInvalidConcurrency = errors.New("concurrency must be greater than 0")

// SubmitOptions configure SubmitMany. SubmitMany treats a Concurrency of
// zero or less as 1; use RunOptions.Validate to reject it instead.
type SubmitOptions struct {
	Concurrency    int           // max Submit calls in flight
	PerUnitTimeout time.Duration // bound on all attempts for one unit (0 means none)
	Retry          RetryPolicy

	RatePerSecond  float64 // submit start pacing (0 means unlimited)
	ArrivalModel   ArrivalModel
	RandomSeed     int64
	PoissonSampler func() float64                  // optional injection for tests
	LimiterFactory func(rps float64) *rate.Limiter // optional injection for tests

	Factory  unit.Factory
	Observer Observer
	Tracer   trace.Tracer
	Logger   zerolog.Logger
}

func (o *SubmitOptions) normalize() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.PerUnitTimeout < 0 {
		o.PerUnitTimeout = 0
	}
	if o.Retry.MaxRetries < 0 {
		o.Retry.MaxRetries = 0
	}
	if o.RatePerSecond < 0 {
		o.RatePerSecond = 0
	}
	if o.ArrivalModel == "" {
		o.ArrivalModel = ArrivalModelUniform
	}
	if o.RandomSeed == 0 {
		o.RandomSeed = time.Now().UnixNano()
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps float64) *rate.Limiter {
			if rps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// A burst of one keeps submits evenly spaced.
			return rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer("blockprobe")
	}
}

// TrackOptions configure TrackAll. TrackAll treats a Concurrency of zero
// or less as 1; use RunOptions.Validate to reject it instead.
type TrackOptions struct {
	Concurrency      int           // max handles tracked at once
	PollInterval     time.Duration // wait between polls of one handle (default 2s)
	PerHandleTimeout time.Duration // bound on tracking one handle (0 means none)
	OverallDeadline  time.Duration // bound on the whole tracking phase (0 means none)

	Observer Observer
	Tracer   trace.Tracer
	Logger   zerolog.Logger
}

func (o *TrackOptions) normalize() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.PerHandleTimeout < 0 {
		o.PerHandleTimeout = 0
	}
	if o.OverallDeadline < 0 {
		o.OverallDeadline = 0
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer("blockprobe")
	}
}
