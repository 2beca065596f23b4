package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/torosent/blockprobe/internal/ledger"
	"github.com/torosent/blockprobe/internal/metrics"
	"github.com/torosent/blockprobe/internal/runner"
)

func TestFormatProgress(t *testing.T) {
	collector := metrics.NewCollector()
	collector.Start()

	for i := 0; i < 4; i++ {
		collector.ObserveSubmit(runner.SubmitEvent{Latency: 20 * time.Millisecond})
	}
	collector.ObserveSubmit(runner.SubmitEvent{Latency: time.Millisecond, Err: ledger.Reject(ledger.Fatal, "bad")})
	collector.ObservePoll(runner.PollEvent{Latency: 5 * time.Millisecond})
	collector.ObserveOutcome(ledger.Outcome{Kind: ledger.OutcomeIncluded})
	collector.ObserveOutcome(ledger.Outcome{Kind: ledger.OutcomeTimedOut})

	line := FormatProgress(collector.Stats(time.Second))
	for _, want := range []string{"Submitted: 5", "Accepted: 4", "Included: 1", "Timed out: 1", "Submits/s: 5.0", "Polls: 1"} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %q in %q", want, line)
		}
	}
	if !strings.Contains(line, "Top error: fatal (1)") {
		t.Errorf("expected top error in %q", line)
	}
	if !strings.HasPrefix(line, "\r") {
		t.Error("expected carriage return prefix")
	}
}

func TestProgressReporterStopWithoutStart(t *testing.T) {
	collector := metrics.NewCollector()
	var buf bytes.Buffer
	reporter := NewProgressReporter(collector, 100*time.Millisecond, &buf)
	reporter.Stop()
	reporter.Start()
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestProgressReporterWrites(t *testing.T) {
	collector := metrics.NewCollector()
	collector.Start()
	collector.ObserveSubmit(runner.SubmitEvent{Latency: time.Millisecond, Err: errors.New("boom")})

	var buf bytes.Buffer
	reporter := NewProgressReporter(collector, 20*time.Millisecond, &buf)
	reporter.Start()
	reporter.Start()
	time.Sleep(80 * time.Millisecond)
	reporter.Stop()
	reporter.Stop()

	if !strings.Contains(buf.String(), "Submitted: 1") {
		t.Errorf("Expected progress line, got %q", buf.String())
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Errorf("expected final newline, got %q", buf.String())
	}
}
