package metrics_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/torosent/blockprobe/internal/ledger"
	"github.com/torosent/blockprobe/internal/metrics"
	"github.com/torosent/blockprobe/internal/runner"
)

func TestCollectorCountsEvents(t *testing.T) {
	c := metrics.NewCollector()

	c.ObserveSubmit(runner.SubmitEvent{Latency: 10 * time.Millisecond})
	c.ObserveSubmit(runner.SubmitEvent{Latency: 20 * time.Millisecond, Err: ledger.Reject(ledger.RateLimited, "429")})
	c.ObserveSubmit(runner.SubmitEvent{Latency: 30 * time.Millisecond, Err: errors.New("boom")})
	c.ObservePoll(runner.PollEvent{Latency: 5 * time.Millisecond})
	c.ObservePoll(runner.PollEvent{Latency: 5 * time.Millisecond, Err: errors.New("refused")})
	c.ObserveOutcome(ledger.Outcome{Kind: ledger.OutcomeIncluded})
	c.ObserveOutcome(ledger.Outcome{Kind: ledger.OutcomeTimedOut})

	stats := c.Stats(time.Second)

	if stats.SubmitAttempts != 3 || stats.SubmitErrors != 2 || stats.Accepted != 1 {
		t.Fatalf("unexpected submit counters %+v", stats)
	}
	if stats.Polls != 2 || stats.PollErrors != 1 {
		t.Fatalf("unexpected poll counters %+v", stats)
	}
	if stats.Included != 1 || stats.TimedOut != 1 || stats.Rejected != 0 {
		t.Fatalf("unexpected outcome counters %+v", stats)
	}
	if stats.SubmitsPerSec != 3 {
		t.Fatalf("expected 3 submits/sec, got %f", stats.SubmitsPerSec)
	}
	if stats.Errors["rate_limited"] != 1 {
		t.Fatalf("expected rate_limited bucket, got %v", stats.Errors)
	}
	if stats.SubmitP50 < 19*time.Millisecond || stats.SubmitP50 > 21*time.Millisecond {
		t.Fatalf("expected submit p50 ~20ms, got %s", stats.SubmitP50)
	}
}

func TestCollectorConcurrentObservers(t *testing.T) {
	c := metrics.NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.ObserveSubmit(runner.SubmitEvent{Latency: time.Millisecond})
				c.ObserveOutcome(ledger.Outcome{Kind: ledger.OutcomeIncluded})
			}
		}()
	}
	wg.Wait()
	stats := c.Stats(0)
	if stats.SubmitAttempts != 1000 || stats.Included != 1000 {
		t.Fatalf("lost updates: %+v", stats)
	}
}

func TestCollectorStatsJSON(t *testing.T) {
	c := metrics.NewCollector()
	c.ObserveSubmit(runner.SubmitEvent{Latency: 2 * time.Millisecond})
	data, err := json.Marshal(c.Stats(time.Second))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"submit_attempts", "submit_p50_ms", "duration_ms", "submits_per_sec"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
	if _, ok := decoded["errors"]; ok {
		t.Errorf("errors should be omitted when empty")
	}
}

func TestCollectorAsObserverInMulti(t *testing.T) {
	c := metrics.NewCollector()
	obs := runner.Observers(nil, c)
	obs.ObserveOutcome(ledger.Outcome{Kind: ledger.OutcomeRejected})
	if got := c.Stats(time.Second).Rejected; got != 1 {
		t.Fatalf("expected 1 rejected, got %d", got)
	}
}
