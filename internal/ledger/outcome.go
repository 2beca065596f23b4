package ledger

import "time"

// PollStatus is the state reported by a single Poll call.
type PollStatus int

const (
	Pending PollStatus = iota
	Included
	Rejected
)

func (s PollStatus) String() string {
	switch s {
	case Included:
		return "included"
	case Rejected:
		return "rejected"
	default:
		return "pending"
	}
}

// Terminal reports whether further polling can change the status.
func (s PollStatus) Terminal() bool {
	return s == Included || s == Rejected
}

// PollResult is what a Poller observed for a handle.
type PollResult struct {
	Status      PollStatus
	GroupKey    string
	ConfirmedAt time.Time
	Reason      string
}

// OutcomeKind is the final classification of a unit in a report.
type OutcomeKind string

const (
	OutcomeIncluded OutcomeKind = "included"
	OutcomeRejected OutcomeKind = "rejected"
	OutcomeTimedOut OutcomeKind = "timed_out"
)

// Stage records where a rejection was observed.
type Stage string

const (
	StageSubmit Stage = "submit"
	StagePoll   Stage = "poll"
)

// Outcome is the immutable terminal record of one unit.
type Outcome struct {
	UnitID      int         `json:"unit_id" yaml:"unit_id"`
	HandleID    string      `json:"handle_id,omitempty" yaml:"handle_id,omitempty"`
	Kind        OutcomeKind `json:"kind" yaml:"kind"`
	Stage       Stage       `json:"stage,omitempty" yaml:"stage,omitempty"`
	GroupKey    string      `json:"group_key,omitempty" yaml:"group_key,omitempty"`
	Reason      string      `json:"reason,omitempty" yaml:"reason,omitempty"`
	SubmittedAt time.Time   `json:"submitted_at,omitempty" yaml:"submitted_at,omitempty"`
	ConfirmedAt time.Time   `json:"confirmed_at,omitempty" yaml:"confirmed_at,omitempty"`
	Polls       int         `json:"polls,omitempty" yaml:"polls,omitempty"`
}

// IncludedOutcome records a unit confirmed under groupKey.
func IncludedOutcome(h Handle, groupKey string, confirmedAt time.Time) Outcome {
	return Outcome{
		UnitID:      h.UnitID,
		HandleID:    h.ID,
		Kind:        OutcomeIncluded,
		GroupKey:    groupKey,
		SubmittedAt: h.SubmittedAt,
		ConfirmedAt: confirmedAt,
	}
}

// RejectedOutcome records a unit the remote service refused after accepting it.
func RejectedOutcome(h Handle, reason string) Outcome {
	return Outcome{
		UnitID:      h.UnitID,
		HandleID:    h.ID,
		Kind:        OutcomeRejected,
		Stage:       StagePoll,
		Reason:      reason,
		SubmittedAt: h.SubmittedAt,
	}
}

// TimedOutOutcome records a unit whose inclusion was never observed.
func TimedOutOutcome(h Handle) Outcome {
	return Outcome{
		UnitID:      h.UnitID,
		HandleID:    h.ID,
		Kind:        OutcomeTimedOut,
		SubmittedAt: h.SubmittedAt,
	}
}

// SubmitFailedOutcome folds a submit failure into the outcome set.
func SubmitFailedOutcome(f Failure) Outcome {
	return Outcome{
		UnitID: f.Unit.ID,
		Kind:   OutcomeRejected,
		Stage:  StageSubmit,
		Reason: f.Reason,
	}
}
