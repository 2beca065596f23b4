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
)

// TrackAll polls every handle until it reaches a terminal status, its
// per-handle timeout expires, or the overall deadline passes. It returns
// exactly one outcome per handle, in input order.
//
// At most opt.Concurrency handles are tracked at once. A handle holds its
// slot from its first poll until it is terminal, and its PerHandleTimeout
// starts when it gets that slot, so handles queued behind others keep their
// full polling window.
func TrackAll(ctx context.Context, p ledger.Poller, handles []ledger.Handle, opt TrackOptions) []ledger.Outcome {
	opt.normalize()

	if opt.OverallDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opt.OverallDeadline)
		defer cancel()
	}

	t := &tracker{
		poller: p,
		opt:    opt,
		sem:    semaphore.NewWeighted(int64(opt.Concurrency)),
	}

	outcomes := make([]ledger.Outcome, len(handles))
	var wg sync.WaitGroup
	for i, h := range handles {
		if err := t.sem.Acquire(ctx, 1); err != nil {
			// Never admitted before the overall deadline.
			out := ledger.TimedOutOutcome(h)
			opt.Observer.ObserveOutcome(out)
			outcomes[i] = out
			continue
		}
		wg.Add(1)
		go func(i int, h ledger.Handle) {
			defer wg.Done()
			out := t.track(ctx, h)
			t.sem.Release(1)
			opt.Observer.ObserveOutcome(out)
			outcomes[i] = out
		}(i, h)
	}
	wg.Wait()
	return outcomes
}

type tracker struct {
	poller ledger.Poller
	opt    TrackOptions
	sem    *semaphore.Weighted
}

// track polls h on the caller's slot.
func (t *tracker) track(ctx context.Context, h ledger.Handle) ledger.Outcome {
	if t.opt.PerHandleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opt.PerHandleTimeout)
		defer cancel()
	}

	polls := 0
	timedOut := func() ledger.Outcome {
		out := ledger.TimedOutOutcome(h)
		out.Polls = polls
		return out
	}

	for {
		if ctx.Err() != nil {
			return timedOut()
		}
		polls++
		spanCtx, span := tracing.StartPollSpan(ctx, t.opt.Tracer, h, polls)
		start := time.Now()
		res, err := t.poller.Poll(spanCtx, h)
		latency := time.Since(start)
		tracing.EndSpan(span, err, attribute.String("blockprobe.status", res.Status.String()))

		t.opt.Observer.ObservePoll(PollEvent{Handle: h, Poll: polls, Latency: latency, Result: res, Err: err})

		if err != nil {
			if ctx.Err() != nil {
				return timedOut()
			}
			var rej *ledger.Rejection
			if errors.As(err, &rej) && rej.Class == ledger.Fatal {
				out := ledger.RejectedOutcome(h, ledger.ReasonOf(err))
				out.Polls = polls
				return out
			}
			t.opt.Logger.Debug().
				Str("handle", h.ID).
				Int("poll", polls).
				Err(err).
				Msg("poll failed; treating as pending")
		} else {
			switch res.Status {
			case ledger.Included:
				at := res.ConfirmedAt
				if at.IsZero() {
					at = time.Now()
				}
				out := ledger.IncludedOutcome(h, res.GroupKey, at)
				out.Polls = polls
				return out
			case ledger.Rejected:
				reason := res.Reason
				if reason == "" {
					reason = "rejected"
				}
				out := ledger.RejectedOutcome(h, reason)
				out.Polls = polls
				return out
			}
		}

		timer := time.NewTimer(t.opt.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return timedOut()
		case <-timer.C:
		}
	}
}
