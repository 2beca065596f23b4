package probe_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/torosent/blockprobe/internal/ledger"
	"github.com/torosent/blockprobe/internal/probe"
)

type limitOracle struct {
	mu       sync.Mutex
	maxSize  int
	maxCount int
	calls    []ledger.Unit
}

func (o *limitOracle) Submit(ctx context.Context, u ledger.Unit) (ledger.Handle, error) {
	o.mu.Lock()
	o.calls = append(o.calls, u)
	o.mu.Unlock()
	if o.maxSize > 0 && u.SizeBytes > o.maxSize {
		return ledger.Handle{}, ledger.Reject(ledger.SizeLimited, "payload too large: %d bytes", u.SizeBytes)
	}
	if o.maxCount > 0 && u.Count > o.maxCount {
		return ledger.Handle{}, ledger.Reject(ledger.Transient, "batch of %d exceeds block gas", u.Count)
	}
	return ledger.Handle{ID: fmt.Sprintf("h-%d", u.ID), UnitID: u.ID}, nil
}

func TestProbeFindsCountLimit(t *testing.T) {
	oracle := &limitOracle{maxCount: 37}
	p, err := probe.New(oracle, probe.Options{StartSize: 4096, StartCount: 100})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Size != 4096 {
		t.Fatalf("expected size 4096, got %d", res.Size)
	}
	if res.Count < 34 || res.Count > 37 {
		t.Fatalf("expected count in [34,37], got %d", res.Count)
	}
	if res.Count != 35 {
		t.Fatalf("expected greedy growth to stop at 35, got %d", res.Count)
	}

	wantCounts := []int{100, 50, 25, 28, 31, 35, 39}
	if len(res.History) != len(wantCounts) {
		t.Fatalf("expected %d attempts, got %d", len(wantCounts), len(res.History))
	}
	for i, want := range wantCounts {
		if got := res.History[i].Count; got != want {
			t.Fatalf("attempt %d: expected count %d, got %d", i+1, want, got)
		}
		if res.History[i].Seq != i+1 {
			t.Fatalf("attempt %d: unexpected seq %d", i+1, res.History[i].Seq)
		}
	}
	if res.Attempts != len(wantCounts) {
		t.Fatalf("expected Attempts=%d, got %d", len(wantCounts), res.Attempts)
	}
	if res.Handle.ID == "" {
		t.Fatal("expected handle of the accepted unit")
	}
}

func TestProbeResultWasAccepted(t *testing.T) {
	oracle := &limitOracle{maxSize: 1000, maxCount: 12}
	p, err := probe.New(oracle, probe.Options{
		StartSize:     4096,
		StartCount:    64,
		IsSizeLimited: probe.SizeLimitedByClass,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	found := false
	for _, a := range res.History {
		if a.Size == res.Size && a.Count == res.Count {
			if !a.Accepted {
				t.Fatalf("result pair (%d,%d) recorded as rejected", res.Size, res.Count)
			}
			found = true
		}
		if a.Accepted && a.Size == res.Size && a.Count > res.Count {
			t.Fatalf("a larger count %d was accepted at size %d", a.Count, a.Size)
		}
	}
	if !found {
		t.Fatalf("result pair (%d,%d) not in history", res.Size, res.Count)
	}
	if res.Size > 1000 || res.Count > 12 {
		t.Fatalf("result (%d,%d) exceeds oracle limits", res.Size, res.Count)
	}
}

func TestProbeShrinksSizeAndResetsCount(t *testing.T) {
	oracle := &limitOracle{maxSize: 1024}
	p, err := probe.New(oracle, probe.Options{
		StartSize:     4096,
		StartCount:    100,
		IsSizeLimited: probe.SizeLimitedByClass,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Size != 1024 {
		t.Fatalf("expected size 1024, got %d", res.Size)
	}
	if res.Count != 100 {
		t.Fatalf("expected growth back to max count 100, got %d", res.Count)
	}

	h := res.History
	if len(h) < 3 {
		t.Fatalf("expected at least 3 attempts, got %d", len(h))
	}
	// one attempt per rejected size, then the count scales with the shrink ratio
	if h[0].Size != 4096 || h[0].Count != 100 || h[0].Accepted {
		t.Fatalf("unexpected first attempt %+v", h[0])
	}
	if h[1].Size != 2048 || h[1].Count != 50 {
		t.Fatalf("unexpected second attempt %+v", h[1])
	}
	if h[2].Size != 1024 || h[2].Count != 25 || !h[2].Accepted {
		t.Fatalf("unexpected third attempt %+v", h[2])
	}
	if h[0].Class != ledger.SizeLimited {
		t.Fatalf("expected size_limited class, got %s", h[0].Class)
	}
}

func TestProbeNoFeasibleUnit(t *testing.T) {
	var calls int
	reject := ledger.SubmitFunc(func(ctx context.Context, u ledger.Unit) (ledger.Handle, error) {
		calls++
		return ledger.Handle{}, ledger.Reject(ledger.Fatal, "always")
	})
	p, err := probe.New(reject, probe.Options{StartSize: 8, MinSize: 2, StartCount: 4})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	res, err := p.Run(context.Background())
	if !errors.Is(err, ledger.ErrNoFeasibleUnit) {
		t.Fatalf("expected ErrNoFeasibleUnit, got %v", err)
	}
	// size 8: 4,2,1  size 4: 2,1  size 2: 1
	if calls != 6 {
		t.Fatalf("expected 6 attempts, got %d", calls)
	}
	if res.Attempts != calls {
		t.Fatalf("expected Attempts=%d, got %d", calls, res.Attempts)
	}
	for _, a := range res.History {
		if a.Accepted {
			t.Fatalf("unexpected accepted attempt %+v", a)
		}
	}
}

func TestProbeMinCountRejectedTerminates(t *testing.T) {
	var calls int
	reject := ledger.SubmitFunc(func(ctx context.Context, u ledger.Unit) (ledger.Handle, error) {
		calls++
		if calls > 100 {
			t.Fatal("probe did not terminate")
		}
		return ledger.Handle{}, errors.New("connection reset")
	})
	p, err := probe.New(reject, probe.Options{StartSize: 64, MinSize: 64, StartCount: 3, MinCount: 3})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	res, err := p.Run(context.Background())
	if !errors.Is(err, ledger.ErrNoFeasibleUnit) {
		t.Fatalf("expected ErrNoFeasibleUnit, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
	if res.History[0].Reason != "connection reset" || res.History[0].Class != ledger.Transient {
		t.Fatalf("unexpected attempt record %+v", res.History[0])
	}
}

func TestProbeReasonMatcher(t *testing.T) {
	match := probe.SizeLimitedByReason("Too Large", " ")
	if !match(&ledger.Rejection{Reason: "tx too large for block"}) {
		t.Fatal("expected reason match")
	}
	if match(&ledger.Rejection{Reason: "nonce too low"}) {
		t.Fatal("unexpected match")
	}
	if match(nil) {
		t.Fatal("nil rejection must not match")
	}
}

func TestProbeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	submit := ledger.SubmitFunc(func(ctx context.Context, u ledger.Unit) (ledger.Handle, error) {
		cancel()
		return ledger.Handle{}, ctx.Err()
	})
	p, err := probe.New(submit, probe.Options{StartSize: 128, StartCount: 8})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(p.History()) != 0 {
		t.Fatalf("cancelled attempt should not be recorded, got %d", len(p.History()))
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name string
		opt  probe.Options
	}{
		{name: "zero start size", opt: probe.Options{}},
		{name: "min above start", opt: probe.Options{StartSize: 10, MinSize: 20}},
		{name: "min count above max", opt: probe.Options{StartSize: 10, MinCount: 5, MaxCount: 2}},
		{name: "shrinking growth", opt: probe.Options{StartSize: 10, GrowthFactor: 0.5}},
		{name: "divisor one", opt: probe.Options{StartSize: 10, ShrinkDivisor: 1}},
		{name: "negative timeout", opt: probe.Options{StartSize: 10, AttemptTimeout: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.opt.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
			if _, err := probe.New(&limitOracle{}, tt.opt); err == nil {
				t.Fatal("expected New to fail")
			}
		})
	}

	if _, err := probe.New(nil, probe.Options{StartSize: 1}); err == nil {
		t.Fatal("expected error for nil submitter")
	}
}
