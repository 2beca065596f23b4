package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/torosent/blockprobe/internal/ledger"
	"github.com/torosent/blockprobe/internal/tracing"
	"github.com/torosent/blockprobe/internal/unit"
)

const reasonCancelled = "cancelled"

// SubmitMany submits every spec through s with at most opt.Concurrency
// Submit calls in flight. Each spec ends up in exactly one of the returned
// slices. Handles are in completion order; correlate them with Handle.UnitID.
func SubmitMany(ctx context.Context, s ledger.Submitter, specs []unit.Spec, opt SubmitOptions) ([]ledger.Handle, []ledger.Failure) {
	opt.normalize()

	sub := &submitter{
		target: s,
		opt:    opt,
		sem:    semaphore.NewWeighted(int64(opt.Concurrency)),
	}
	pace := newPacer(opt)

	var wg sync.WaitGroup
	// Scheduler: pacing happens here so a rate cap bounds submit starts, not
	// retries. A unit is only started once it holds a slot for its first
	// attempt, so time queued behind other units never counts against its
	// PerUnitTimeout.
	for i, spec := range specs {
		if ctx.Err() == nil && pace != nil {
			_ = pace.Wait(ctx)
		}
		if ctx.Err() == nil {
			_ = sub.sem.Acquire(ctx, 1)
		}
		if ctx.Err() != nil {
			for _, rest := range specs[i:] {
				sub.fail(ledger.Failure{
					Unit:   opt.Factory.Build(rest),
					Reason: reasonCancelled,
					Class:  ledger.Fatal,
					Err:    ctx.Err(),
				})
			}
			break
		}

		wg.Add(1)
		go func(spec unit.Spec) {
			defer wg.Done()
			sub.submitOne(ctx, opt.Factory.Build(spec))
		}(spec)
	}
	wg.Wait()

	return sub.handles, sub.failures
}

type submitter struct {
	target ledger.Submitter
	opt    SubmitOptions
	sem    *semaphore.Weighted

	mu       sync.Mutex
	handles  []ledger.Handle
	failures []ledger.Failure
}

// submitOne runs the attempts for u. The caller has already acquired the
// slot for the first attempt; later attempts acquire their own.
func (s *submitter) submitOne(ctx context.Context, u ledger.Unit) {
	unitCtx := ctx
	var deadline time.Time
	if s.opt.PerUnitTimeout > 0 {
		deadline = time.Now().Add(s.opt.PerUnitTimeout)
		var cancel context.CancelFunc
		unitCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	pastDeadline := func() bool {
		return !deadline.IsZero() && !time.Now().Before(deadline)
	}

	held := true
	defer func() {
		if held {
			s.sem.Release(1)
		}
	}()

	var handle ledger.Handle
	attempts, err := s.opt.Retry.Do(unitCtx, func(ctx context.Context, attempt int) error {
		if !held {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return err
			}
		}
		held = false
		defer s.sem.Release(1)

		spanCtx, span := tracing.StartSubmitSpan(ctx, s.opt.Tracer, u, attempt)
		start := time.Now()
		h, err := s.target.Submit(spanCtx, u)
		latency := time.Since(start)
		tracing.EndSpan(span, err, attribute.String("blockprobe.handle", h.ID))

		event := SubmitEvent{Unit: u, Attempt: attempt, Latency: latency, Err: err}
		if err != nil {
			event.Class = s.opt.Retry.Classify(err)
			s.opt.Logger.Debug().
				Int("unit", u.ID).
				Int("attempt", attempt).
				Stringer("class", event.Class).
				Str("reason", ledger.ReasonOf(err)).
				Msg("submit rejected")
		} else {
			h.UnitID = u.ID
			if h.SubmittedAt.IsZero() {
				h.SubmittedAt = start
			}
			handle = h
			event.Handle = h
		}
		s.opt.Observer.ObserveSubmit(event)
		return err
	})

	// A Submit that ignored its context and answered after the unit's
	// deadline still counts as a timeout.
	if err == nil && pastDeadline() {
		err = context.DeadlineExceeded
	}
	if err == nil {
		s.mu.Lock()
		s.handles = append(s.handles, handle)
		s.mu.Unlock()
		return
	}

	failure := ledger.Failure{
		Unit:     u,
		Reason:   ledger.ReasonOf(err),
		Class:    s.opt.Retry.Classify(err),
		Attempts: attempts,
		Err:      err,
	}
	switch {
	case ctx.Err() != nil:
		failure.Reason = reasonCancelled
		failure.Class = ledger.Fatal
	case unitCtx.Err() != nil || pastDeadline():
		failure.Reason = ledger.ErrSubmitTimeout.Error()
		failure.Class = ledger.Fatal
		failure.Err = errors.Join(ledger.ErrSubmitTimeout, err)
	}
	s.opt.Logger.Warn().
		Int("unit", u.ID).
		Int("attempts", attempts).
		Str("reason", failure.Reason).
		Msg("unit failed to submit")
	s.fail(failure)
}

func (s *submitter) fail(f ledger.Failure) {
	s.mu.Lock()
	s.failures = append(s.failures, f)
	s.mu.Unlock()
}
