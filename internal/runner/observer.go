package runner

import (
	"time"

	"github.com/torosent/blockprobe/internal/ledger"
)

// SubmitEvent describes one Submit attempt.
type SubmitEvent struct {
	Unit    ledger.Unit
	Attempt int
	Latency time.Duration
	Handle  ledger.Handle
	Err     error
	Class   ledger.Classification
}

// PollEvent describes one Poll call.
type PollEvent struct {
	Handle  ledger.Handle
	Poll    int
	Latency time.Duration
	Result  ledger.PollResult
	Err     error
}

// Observer receives attempt-level events and final outcomes while a run is
// in flight. Implementations must be safe for concurrent use.
type Observer interface {
	ObserveSubmit(SubmitEvent)
	ObservePoll(PollEvent)
	ObserveOutcome(ledger.Outcome)
}

// Observers fans events out to every non-nil observer.
func Observers(obs ...Observer) Observer {
	list := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			list = append(list, o)
		}
	}
	if len(list) == 0 {
		return nopObserver{}
	}
	if len(list) == 1 {
		return list[0]
	}
	return list
}

type multiObserver []Observer

func (m multiObserver) ObserveSubmit(e SubmitEvent) {
	for _, o := range m {
		o.ObserveSubmit(e)
	}
}

func (m multiObserver) ObservePoll(e PollEvent) {
	for _, o := range m {
		o.ObservePoll(e)
	}
}

func (m multiObserver) ObserveOutcome(out ledger.Outcome) {
	for _, o := range m {
		o.ObserveOutcome(out)
	}
}

type nopObserver struct{}

func (nopObserver) ObserveSubmit(SubmitEvent)     {}
func (nopObserver) ObservePoll(PollEvent)         {}
func (nopObserver) ObserveOutcome(ledger.Outcome) {}
