// Package probe searches for the largest unit (payload size and batch count)
// a remote ledger accepts in a single submit, using nothing but the
// accept/reject answers of Submit.
package probe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/torosent/blockprobe/internal/ledger"
)

// Result is the largest accepted (size, count) pair.
type Result struct {
	Size     int           `json:"size" yaml:"size"`
	Count    int           `json:"count" yaml:"count"`
	Attempts int           `json:"attempts" yaml:"attempts"`
	Handle   ledger.Handle `json:"handle" yaml:"handle"`
	History  []Attempt     `json:"history" yaml:"history"`
}

// Probe runs one capacity search. It is not reusable across runs.
type Probe struct {
	submitter ledger.Submitter
	opt       Options
	history   History
	nextID    int
}

// New validates opt and returns a probe bound to s.
func New(s ledger.Submitter, opt Options) (*Probe, error) {
	if s == nil {
		return nil, errors.New("probe: submitter is required")
	}
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	opt.normalize()
	return &Probe{submitter: s, opt: opt}, nil
}

// History returns the attempts made so far.
func (p *Probe) History() []Attempt {
	return p.history.Entries()
}

// Run executes the search. It returns ledger.ErrNoFeasibleUnit when even
// MinCount at MinSize was rejected, or ctx.Err() when cancelled.
func (p *Probe) Run(ctx context.Context) (Result, error) {
	size := p.opt.StartSize
	count := p.opt.StartCount

	for {
		best, handle, ok, err := p.searchCount(ctx, size, count)
		if err != nil {
			return Result{Attempts: p.history.Len(), History: p.History()}, err
		}
		if ok {
			p.opt.Logger.Info().
				Int("size", size).
				Int("count", best).
				Int("attempts", p.history.Len()).
				Msg("capacity probe finished")
			return Result{
				Size:     size,
				Count:    best,
				Attempts: p.history.Len(),
				Handle:   handle,
				History:  p.History(),
			}, nil
		}

		if size <= p.opt.MinSize {
			return Result{Attempts: p.history.Len(), History: p.History()},
				fmt.Errorf("%w (min size %d, min count %d)", ledger.ErrNoFeasibleUnit, p.opt.MinSize, p.opt.MinCount)
		}
		next := size / p.opt.ShrinkDivisor
		if next < p.opt.MinSize {
			next = p.opt.MinSize
		}
		count = p.countForSize(next)
		p.opt.Logger.Info().
			Int("from", size).
			Int("to", next).
			Int("count", count).
			Msg("shrinking payload")
		size = next
	}
}

// searchCount halves the count from start until an attempt is accepted, then
// grows greedily. ok is false when the size has to shrink.
func (p *Probe) searchCount(ctx context.Context, size, start int) (int, ledger.Handle, bool, error) {
	n := start
	for {
		handle, rej, err := p.attempt(ctx, size, n)
		if err != nil {
			return 0, ledger.Handle{}, false, err
		}
		if rej == nil {
			best, h := p.grow(ctx, size, n, handle)
			return best, h, true, nil
		}
		if p.opt.IsSizeLimited != nil && p.opt.IsSizeLimited(rej) {
			p.opt.Logger.Debug().Int("size", size).Str("reason", rej.Reason).Msg("payload size limited")
			return 0, ledger.Handle{}, false, nil
		}
		if n <= p.opt.MinCount {
			return 0, ledger.Handle{}, false, nil
		}
		n /= 2
		if n < p.opt.MinCount {
			n = p.opt.MinCount
		}
	}
}

// grow tries larger counts until the first rejection or MaxCount. A
// cancelled context stops growth and keeps the last accepted count.
func (p *Probe) grow(ctx context.Context, size, accepted int, handle ledger.Handle) (int, ledger.Handle) {
	best := accepted
	for {
		next := p.nextCount(best)
		if next <= best {
			return best, handle
		}
		h, rej, err := p.attempt(ctx, size, next)
		if err != nil || rej != nil {
			return best, handle
		}
		best, handle = next, h
	}
}

func (p *Probe) nextCount(count int) int {
	next := int(math.Floor(float64(count)*p.opt.GrowthFactor)) + 1
	if next > p.opt.MaxCount {
		next = p.opt.MaxCount
	}
	return next
}

// countForSize scales StartCount down in proportion to how far the payload shrank.
func (p *Probe) countForSize(size int) int {
	ratio := int(math.Ceil(float64(p.opt.StartSize) / float64(size)))
	if ratio < 1 {
		ratio = 1
	}
	n := p.opt.StartCount / ratio
	if n < p.opt.MinCount {
		n = p.opt.MinCount
	}
	if n > p.opt.MaxCount {
		n = p.opt.MaxCount
	}
	return n
}

// attempt submits one unit. It returns a non-nil rejection when the unit
// was refused and an error only when ctx ended.
func (p *Probe) attempt(ctx context.Context, size, count int) (ledger.Handle, *ledger.Rejection, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Handle{}, nil, err
	}

	u := p.opt.Factory.Make(p.nextID, size, count)
	p.nextID++

	callCtx := ctx
	if p.opt.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.opt.AttemptTimeout)
		defer cancel()
	}

	start := time.Now()
	handle, err := p.submitter.Submit(callCtx, u)
	latency := time.Since(start)

	if err != nil && ctx.Err() != nil {
		return ledger.Handle{}, nil, ctx.Err()
	}

	var rej *ledger.Rejection
	if err != nil {
		if !errors.As(err, &rej) || rej.Class == ledger.Unclassified {
			reason := ledger.ReasonOf(err)
			if errors.Is(err, context.DeadlineExceeded) {
				reason = ledger.ErrSubmitTimeout.Error()
			}
			rej = &ledger.Rejection{Reason: reason, Class: ledger.Classify(err), Err: err}
		}
	}

	entry := p.history.Append(Attempt{
		Size:     size,
		Count:    count,
		Accepted: rej == nil,
		Reason:   reasonOf(rej),
		Class:    classOf(rej),
		Latency:  latency,
		At:       start,
	})

	event := p.opt.Logger.Debug()
	if rej != nil {
		event = event.Str("reason", rej.Reason).Stringer("class", rej.Class)
	}
	event.Int("seq", entry.Seq).
		Int("size", size).
		Int("count", count).
		Bool("accepted", entry.Accepted).
		Dur("latency", latency).
		Msg("probe attempt")

	return handle, rej, nil
}

func reasonOf(r *ledger.Rejection) string {
	if r == nil {
		return ""
	}
	return r.Reason
}

func classOf(r *ledger.Rejection) ledger.Classification {
	if r == nil {
		return ledger.Unclassified
	}
	return r.Class
}
