package output

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/torosent/blockprobe/internal/metrics"
)

// ProgressReporter rewrites a one-line run status at a fixed interval. When
// stopped it prints the final status and ends the line so later output
// starts on a fresh row.
type ProgressReporter struct {
	collector *metrics.Collector
	interval  time.Duration
	writer    io.Writer
	start     time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	stopped   chan struct{}
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(collector *metrics.Collector, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &ProgressReporter{
		collector: collector,
		interval:  interval,
		writer:    writer,
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Start begins printing in a background goroutine. Calling it again is a no-op.
func (p *ProgressReporter) Start() {
	p.startOnce.Do(func() {
		p.start = time.Now()
		go p.loop()
	})
}

// Stop halts updates and waits for the final line. It is safe to call
// without Start and more than once.
func (p *ProgressReporter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		started := true
		p.startOnce.Do(func() { started = false })
		if started {
			<-p.stopped
		}
	})
}

func (p *ProgressReporter) loop() {
	defer close(p.stopped)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.print()
		case <-p.stop:
			p.print()
			fmt.Fprintln(p.writer)
			return
		}
	}
}

func (p *ProgressReporter) print() {
	fmt.Fprint(p.writer, FormatProgress(p.collector.Stats(time.Since(p.start))))
}

// FormatProgress renders the single-line live status of a run.
func FormatProgress(stats metrics.Stats) string {
	line := fmt.Sprintf("\rSubmitted: %d | Accepted: %d | Included: %d | Rejected: %d | Timed out: %d | Submits/s: %.1f",
		stats.SubmitAttempts, stats.Accepted, stats.Included, stats.Rejected, stats.TimedOut, stats.SubmitsPerSec)
	if stats.Accepted > 0 {
		line += fmt.Sprintf(" | Submit P99 %.1fms", stats.SubmitP99Ms)
	}
	if stats.Polls > 0 {
		line += fmt.Sprintf(" | Polls: %d", stats.Polls)
	}
	if label, n := topError(stats.Errors); n > 0 {
		line += fmt.Sprintf(" | Top error: %s (%d)", label, n)
	}
	return line
}

// topError picks the most frequent error label, breaking ties by name so
// the line does not flicker between refreshes.
func topError(errs map[string]int64) (string, int64) {
	var label string
	var n int64
	for k, v := range errs {
		if v > n || (v == n && k < label) {
			label, n = k, v
		}
	}
	return label, n
}
