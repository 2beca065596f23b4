// Package ledger defines the vocabulary shared by the probe, the submitter and
// the inclusion tracker: work units, submission handles, rejections and
// outcomes, plus the two capabilities every remote ledger adapter provides.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoFeasibleUnit is returned by the capacity probe when even the
	// smallest configured unit was rejected.
	ErrNoFeasibleUnit = errors.New("no feasible unit: every size down to the floor was rejected")

	// ErrSubmitTimeout marks a unit whose submit attempts did not finish
	// within the per-unit timeout.
	ErrSubmitTimeout = errors.New("timeout")
)

// Unit is one immutable work item handed to Submit exactly once.
type Unit struct {
	ID        int
	SizeBytes int
	Count     int
	Payload   []byte
}

// Handle identifies a unit that the remote service accepted.
type Handle struct {
	ID          string    `json:"id" yaml:"id"`
	UnitID      int       `json:"unit_id" yaml:"unit_id"`
	SubmittedAt time.Time `json:"submitted_at" yaml:"submitted_at"`
}

// Submitter sends a unit to the remote service. Rejections should be
// reported as *Rejection so callers can classify them.
type Submitter interface {
	Submit(ctx context.Context, u Unit) (Handle, error)
}

// Poller asks the remote service about the state of a submitted unit.
type Poller interface {
	Poll(ctx context.Context, h Handle) (PollResult, error)
}

// Oracle is a remote service that can both accept and confirm units.
type Oracle interface {
	Submitter
	Poller
}

// SubmitFunc adapts a function to the Submitter interface.
type SubmitFunc func(ctx context.Context, u Unit) (Handle, error)

func (f SubmitFunc) Submit(ctx context.Context, u Unit) (Handle, error) {
	return f(ctx, u)
}

// PollFunc adapts a function to the Poller interface.
type PollFunc func(ctx context.Context, h Handle) (PollResult, error)

func (f PollFunc) Poll(ctx context.Context, h Handle) (PollResult, error) {
	return f(ctx, h)
}

// Failure records a unit that never produced a handle.
type Failure struct {
	Unit     Unit
	Reason   string
	Class    Classification
	Attempts int
	Err      error
}

func (f Failure) String() string {
	return fmt.Sprintf("unit %d: %s (%s after %d attempts)", f.Unit.ID, f.Reason, f.Class, f.Attempts)
}
