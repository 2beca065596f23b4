package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Classification tells the retry policy and the probe how to react to a
// rejected submit.
type Classification int

const (
	Unclassified Classification = iota
	SizeLimited
	RateLimited
	Transient
	Fatal
)

func (c Classification) String() string {
	switch c {
	case SizeLimited:
		return "size_limited"
	case RateLimited:
		return "rate_limited"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "unclassified"
	}
}

// Retryable reports whether a failure of this class may succeed on retry.
func (c Classification) Retryable() bool {
	return c == RateLimited || c == Transient
}

// Rejection is the error returned by Submit (and optionally Poll) when the
// remote service refused the operation.
type Rejection struct {
	Reason string
	Class  Classification
	Err    error
}

func (r *Rejection) Error() string {
	if r.Reason == "" && r.Err != nil {
		return fmt.Sprintf("rejected (%s): %v", r.Class, r.Err)
	}
	return fmt.Sprintf("rejected (%s): %s", r.Class, r.Reason)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// Reject builds a Rejection with the given class.
func Reject(class Classification, format string, args ...interface{}) *Rejection {
	return &Rejection{Reason: fmt.Sprintf(format, args...), Class: class}
}

// Classify extracts the classification carried by err. Context errors are
// fatal so retries stop once the caller gave up; any other unclassified
// error is treated as a transient transport failure.
func Classify(err error) Classification {
	if err == nil {
		return Unclassified
	}
	var rej *Rejection
	if errors.As(err, &rej) && rej.Class != Unclassified {
		return rej.Class
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fatal
	}
	return Transient
}

// ReasonOf returns the human-readable reason behind err.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var rej *Rejection
	if errors.As(err, &rej) && rej.Reason != "" {
		return rej.Reason
	}
	return strings.TrimSpace(err.Error())
}
