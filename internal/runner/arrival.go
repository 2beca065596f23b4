package runner

import (
	"context"
	"math"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// pacer gates the start of each submit so the scheduler holds a target rate.
type pacer interface {
	Wait(ctx context.Context) error
}

// newPacer returns nil when no rate is set.
func newPacer(opt SubmitOptions) pacer {
	if opt.RatePerSecond <= 0 {
		return nil
	}
	if opt.ArrivalModel == ArrivalModelPoisson {
		sample := opt.PoissonSampler
		if sample == nil {
			sample = rand.New(rand.NewSource(opt.RandomSeed)).ExpFloat64
		}
		return &poissonPacer{
			mean:   float64(time.Second) / opt.RatePerSecond,
			sample: sample,
			now:    time.Now,
		}
	}
	return limiterPacer{limiter: opt.LimiterFactory(opt.RatePerSecond)}
}

// limiterPacer spaces submits evenly through a token bucket.
type limiterPacer struct {
	limiter *rate.Limiter
}

func (p limiterPacer) Wait(ctx context.Context) error {
	if p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}

// poissonPacer draws exponential gaps between submit starts. Gaps are laid
// out on a schedule anchored at the first submit, so time spent outside
// Wait does not stretch the run.
type poissonPacer struct {
	mean   float64 // nanoseconds between submits on average
	sample func() float64
	now    func() time.Time
	next   time.Time
}

func (p *poissonPacer) Wait(ctx context.Context) error {
	delay := p.reserve()
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// reserve claims the next slot on the schedule and returns how long to wait
// for it. A caller that fell behind schedule waits for nothing.
func (p *poissonPacer) reserve() time.Duration {
	now := p.now()
	if p.next.IsZero() {
		p.next = now
	}
	slot := p.next
	gap := p.mean * p.sample()
	if gap > math.MaxInt64 {
		gap = math.MaxInt64
	}
	p.next = slot.Add(time.Duration(gap))
	return slot.Sub(now)
}
