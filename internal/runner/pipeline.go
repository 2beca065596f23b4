package runner

import (
	"context"
	"fmt"
	"sort"

	"github.com/torosent/blockprobe/internal/ledger"
	"github.com/torosent/blockprobe/internal/unit"
)

// RunOptions configure both phases of a Pipeline run.
type RunOptions struct {
	Submit SubmitOptions
	Track  TrackOptions
}

// Validate rejects options that SubmitMany and TrackAll would otherwise
// coerce to a default.
func (o RunOptions) Validate() error {
	if o.Submit.Concurrency <= 0 {
		return fmt.Errorf("submit: %w (got %d)", ErrInvalidConcurrency, o.Submit.Concurrency)
	}
	if o.Track.Concurrency <= 0 {
		return fmt.Errorf("track: %w (got %d)", ErrInvalidConcurrency, o.Track.Concurrency)
	}
	return nil
}

// Pipeline submits units and tracks their inclusion.
type Pipeline struct {
	Submitter ledger.Submitter
	Poller    ledger.Poller
}

// NewPipeline returns a pipeline that both submits to and polls o.
func NewPipeline(o ledger.Oracle) Pipeline {
	return Pipeline{Submitter: o, Poller: o}
}

// Run submits every spec, tracks the accepted ones and returns one outcome
// per spec sorted by unit id. Submit failures become rejected outcomes at
// the submit stage.
func (p Pipeline) Run(ctx context.Context, specs []unit.Spec, opt RunOptions) []ledger.Outcome {
	handles, failures := SubmitMany(ctx, p.Submitter, specs, opt.Submit)

	opt.Submit.Logger.Info().
		Int("accepted", len(handles)).
		Int("failed", len(failures)).
		Msg("submit phase finished")

	outcomes := make([]ledger.Outcome, 0, len(specs))
	if len(handles) > 0 {
		outcomes = append(outcomes, TrackAll(ctx, p.Poller, handles, opt.Track)...)
	}

	observer := opt.Track.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	for _, f := range failures {
		out := ledger.SubmitFailedOutcome(f)
		observer.ObserveOutcome(out)
		outcomes = append(outcomes, out)
	}

	sort.SliceStable(outcomes, func(i, j int) bool {
		return outcomes[i].UnitID < outcomes[j].UnitID
	})
	return outcomes
}
