package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Classification
	}{
		{"nil", nil, Unclassified},
		{"rate limited", Reject(RateLimited, "slow down"), RateLimited},
		{"wrapped fatal", fmt.Errorf("submit: %w", Reject(Fatal, "bad namespace")), Fatal},
		{"size limited", Reject(SizeLimited, "payload too large"), SizeLimited},
		{"unclassified rejection", &Rejection{Reason: "odd"}, Transient},
		{"deadline", context.DeadlineExceeded, Fatal},
		{"canceled", fmt.Errorf("poll: %w", context.Canceled), Fatal},
		{"transport", errors.New("connection reset by peer"), Transient},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("%s: Classify() = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestClassificationRetryable(t *testing.T) {
	for _, c := range []Classification{RateLimited, Transient} {
		if !c.Retryable() {
			t.Errorf("%s should be retryable", c)
		}
	}
	for _, c := range []Classification{Unclassified, SizeLimited, Fatal} {
		if c.Retryable() {
			t.Errorf("%s should not be retryable", c)
		}
	}
}

func TestReasonOf(t *testing.T) {
	if got := ReasonOf(fmt.Errorf("wrap: %w", Reject(Fatal, "HTTP %d", 400))); got != "HTTP 400" {
		t.Errorf("ReasonOf() = %q", got)
	}
	if got := ReasonOf(errors.New(" boom ")); got != "boom" {
		t.Errorf("ReasonOf() = %q", got)
	}
	if got := ReasonOf(nil); got != "" {
		t.Errorf("ReasonOf(nil) = %q", got)
	}
}

func TestPollStatusTerminal(t *testing.T) {
	if Pending.Terminal() {
		t.Error("pending must not be terminal")
	}
	if !Included.Terminal() || !Rejected.Terminal() {
		t.Error("included and rejected must be terminal")
	}
}
