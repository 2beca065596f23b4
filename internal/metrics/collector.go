package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/torosent/blockprobe/internal/ledger"
	"github.com/torosent/blockprobe/internal/runner"
)

// Collector records live run metrics in a thread-safe manner. It implements
// runner.Observer.
type Collector struct {
	mu         sync.Mutex
	submitHist *hdrhistogram.Histogram
	pollHist   *hdrhistogram.Histogram

	submitAttempts int64
	submitErrors   int64
	accepted       int64
	polls          int64
	pollErrors     int64
	outcomes       map[ledger.OutcomeKind]int64
	errorsByLabel  map[string]int64
	start          time.Time
}

var _ runner.Observer = (*Collector)(nil)

// Stats is a point-in-time view of a Collector.
type Stats struct {
	SubmitAttempts int64 `json:"submit_attempts"`
	SubmitErrors   int64 `json:"submit_errors"`
	Accepted       int64 `json:"accepted"`
	Polls          int64 `json:"polls"`
	PollErrors     int64 `json:"poll_errors"`
	Included       int64 `json:"included"`
	Rejected       int64 `json:"rejected"`
	TimedOut       int64 `json:"timed_out"`

	SubmitP50 time.Duration `json:"-"`
	SubmitP99 time.Duration `json:"-"`
	PollP50   time.Duration `json:"-"`
	PollP99   time.Duration `json:"-"`
	Duration  time.Duration `json:"-"`

	SubmitsPerSec float64 `json:"submits_per_sec"`

	// JSON-friendly millisecond fields.
	SubmitP50Ms float64          `json:"submit_p50_ms"`
	SubmitP99Ms float64          `json:"submit_p99_ms"`
	PollP50Ms   float64          `json:"poll_p50_ms"`
	PollP99Ms   float64          `json:"poll_p99_ms"`
	DurationMs  float64          `json:"duration_ms"`
	Errors      map[string]int64 `json:"errors,omitempty"`
}

func NewCollector() *Collector {
	// Track call latencies from 1µs up to 60s with 3 significant figures.
	return &Collector{
		submitHist:    hdrhistogram.New(1, 60_000_000, 3),
		pollHist:      hdrhistogram.New(1, 60_000_000, 3),
		outcomes:      make(map[ledger.OutcomeKind]int64),
		errorsByLabel: make(map[string]int64),
		start:         time.Now(),
	}
}

// Start resets the clock used for rates.
func (c *Collector) Start() {
	c.mu.Lock()
	c.start = time.Now()
	c.mu.Unlock()
}

// ObserveSubmit records one Submit attempt.
func (c *Collector) ObserveSubmit(e runner.SubmitEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.submitAttempts++
	recordMicros(c.submitHist, e.Latency)
	if e.Err != nil {
		c.submitErrors++
		c.errorsByLabel[ErrorLabel(e.Err)]++
		return
	}
	c.accepted++
}

// ObservePoll records one Poll call.
func (c *Collector) ObservePoll(e runner.PollEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.polls++
	recordMicros(c.pollHist, e.Latency)
	if e.Err != nil {
		c.pollErrors++
	}
}

// ObserveOutcome records a final outcome.
func (c *Collector) ObserveOutcome(out ledger.Outcome) {
	c.mu.Lock()
	c.outcomes[out.Kind]++
	c.mu.Unlock()
}

// Stats computes the current statistics. A zero elapsed uses the time since Start.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elapsed <= 0 {
		elapsed = time.Since(c.start)
	}
	stats := Stats{
		SubmitAttempts: c.submitAttempts,
		SubmitErrors:   c.submitErrors,
		Accepted:       c.accepted,
		Polls:          c.polls,
		PollErrors:     c.pollErrors,
		Included:       c.outcomes[ledger.OutcomeIncluded],
		Rejected:       c.outcomes[ledger.OutcomeRejected],
		TimedOut:       c.outcomes[ledger.OutcomeTimedOut],
		Duration:       elapsed,
	}

	if c.submitHist.TotalCount() > 0 {
		stats.SubmitP50 = time.Duration(c.submitHist.ValueAtQuantile(50)) * time.Microsecond
		stats.SubmitP99 = time.Duration(c.submitHist.ValueAtQuantile(99)) * time.Microsecond
	}
	if c.pollHist.TotalCount() > 0 {
		stats.PollP50 = time.Duration(c.pollHist.ValueAtQuantile(50)) * time.Microsecond
		stats.PollP99 = time.Duration(c.pollHist.ValueAtQuantile(99)) * time.Microsecond
	}

	stats.SubmitP50Ms = toMs(stats.SubmitP50)
	stats.SubmitP99Ms = toMs(stats.SubmitP99)
	stats.PollP50Ms = toMs(stats.PollP50)
	stats.PollP99Ms = toMs(stats.PollP99)
	stats.DurationMs = toMs(elapsed)
	if elapsed > 0 && c.submitAttempts > 0 {
		stats.SubmitsPerSec = float64(c.submitAttempts) / elapsed.Seconds()
	}

	if len(c.errorsByLabel) > 0 {
		stats.Errors = make(map[string]int64, len(c.errorsByLabel))
		for k, v := range c.errorsByLabel {
			stats.Errors[k] = v
		}
	}
	return stats
}

func recordMicros(h *hdrhistogram.Histogram, latency time.Duration) {
	if latency <= 0 {
		return
	}
	us := latency.Microseconds()
	if us < h.LowestTrackableValue() {
		us = h.LowestTrackableValue()
	}
	if us > h.HighestTrackableValue() {
		us = h.HighestTrackableValue()
	}
	_ = h.RecordValue(us)
}
