package metrics

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/torosent/blockprobe/internal/ledger"
)

// Report summarizes the outcomes of one run.
type Report struct {
	RunID string `json:"run_id,omitempty" yaml:"run_id,omitempty"`

	Requested        int `json:"requested" yaml:"requested"`
	IncludedCount    int `json:"included_count" yaml:"included_count"`
	FailedCount      int `json:"failed_count" yaml:"failed_count"`
	RejectedAtSubmit int `json:"rejected_at_submit" yaml:"rejected_at_submit"`
	RejectedAtPoll   int `json:"rejected_at_poll" yaml:"rejected_at_poll"`
	TimedOutCount    int `json:"timed_out_count" yaml:"timed_out_count"`

	ByGroup map[string]int `json:"by_group" yaml:"by_group"`
	Groups  []GroupCount   `json:"-" yaml:"-"`
	Reasons []ReasonCount  `json:"failure_reasons,omitempty" yaml:"failure_reasons,omitempty"`

	ElapsedSeconds float64 `json:"elapsed_seconds" yaml:"elapsed_seconds"`
	RatePerSecond  float64 `json:"rate_per_second" yaml:"rate_per_second"`

	Latency LatencySummary `json:"inclusion_latency" yaml:"inclusion_latency"`
}

// LatencySummary holds inclusion latency (ConfirmedAt - SubmittedAt) quantiles.
type LatencySummary struct {
	Min  time.Duration `json:"-" yaml:"-"`
	Mean time.Duration `json:"-" yaml:"-"`
	P50  time.Duration `json:"-" yaml:"-"`
	P90  time.Duration `json:"-" yaml:"-"`
	P99  time.Duration `json:"-" yaml:"-"`
	Max  time.Duration `json:"-" yaml:"-"`

	// JSON-friendly millisecond fields.
	MinMs  float64 `json:"min_ms" yaml:"min_ms"`
	MeanMs float64 `json:"mean_ms" yaml:"mean_ms"`
	P50Ms  float64 `json:"p50_ms" yaml:"p50_ms"`
	P90Ms  float64 `json:"p90_ms" yaml:"p90_ms"`
	P99Ms  float64 `json:"p99_ms" yaml:"p99_ms"`
	MaxMs  float64 `json:"max_ms" yaml:"max_ms"`
}

// Aggregate folds outcomes into a Report. It has no side effects and
// returns the same Report for the same input.
func Aggregate(outcomes []ledger.Outcome) Report {
	report := Report{
		Requested: len(outcomes),
		ByGroup:   make(map[string]int),
	}
	if len(outcomes) == 0 {
		return report
	}

	var firstSubmit, lastConfirm time.Time
	reasons := make(map[string]int)
	latency := newLatencyHistogram()

	for _, out := range outcomes {
		if !out.SubmittedAt.IsZero() && (firstSubmit.IsZero() || out.SubmittedAt.Before(firstSubmit)) {
			firstSubmit = out.SubmittedAt
		}

		switch out.Kind {
		case ledger.OutcomeIncluded:
			report.IncludedCount++
			report.ByGroup[out.GroupKey]++
			if out.ConfirmedAt.After(lastConfirm) {
				lastConfirm = out.ConfirmedAt
			}
			if !out.SubmittedAt.IsZero() && !out.ConfirmedAt.IsZero() {
				latency.record(out.ConfirmedAt.Sub(out.SubmittedAt))
			}
		case ledger.OutcomeRejected:
			if out.Stage == ledger.StageSubmit {
				report.RejectedAtSubmit++
			} else {
				report.RejectedAtPoll++
			}
			reasons[out.Reason]++
		case ledger.OutcomeTimedOut:
			report.TimedOutCount++
		}
	}
	report.FailedCount = report.RejectedAtSubmit + report.RejectedAtPoll
	report.Groups = FlattenGroups(report.ByGroup)
	report.Reasons = FlattenReasons(reasons)
	report.Latency = latency.summary()

	if !firstSubmit.IsZero() && !lastConfirm.IsZero() {
		if elapsed := lastConfirm.Sub(firstSubmit); elapsed > 0 {
			report.ElapsedSeconds = elapsed.Seconds()
			report.RatePerSecond = float64(report.IncludedCount) / report.ElapsedSeconds
		}
	}
	return report
}

// latencyHistogram tracks durations from 1ms up to 24h with 3 significant figures.
type latencyHistogram struct {
	hist  *hdrhistogram.Histogram
	min   time.Duration
	max   time.Duration
	sum   time.Duration
	count int64
}

func newLatencyHistogram() *latencyHistogram {
	return &latencyHistogram{hist: hdrhistogram.New(1, 86_400_000, 3)}
}

func (l *latencyHistogram) record(d time.Duration) {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	if ms < l.hist.LowestTrackableValue() {
		ms = l.hist.LowestTrackableValue()
	}
	if ms > l.hist.HighestTrackableValue() {
		ms = l.hist.HighestTrackableValue()
	}
	_ = l.hist.RecordValue(ms)

	if l.count == 0 || d < l.min {
		l.min = d
	}
	if d > l.max {
		l.max = d
	}
	l.sum += d
	l.count++
}

func (l *latencyHistogram) summary() LatencySummary {
	if l.count == 0 {
		return LatencySummary{}
	}
	s := LatencySummary{
		Min:  l.min,
		Max:  l.max,
		Mean: time.Duration(int64(l.sum) / l.count),
		P50:  time.Duration(l.hist.ValueAtQuantile(50)) * time.Millisecond,
		P90:  time.Duration(l.hist.ValueAtQuantile(90)) * time.Millisecond,
		P99:  time.Duration(l.hist.ValueAtQuantile(99)) * time.Millisecond,
	}
	s.MinMs = toMs(s.Min)
	s.MeanMs = toMs(s.Mean)
	s.P50Ms = toMs(s.P50)
	s.P90Ms = toMs(s.P90)
	s.P99Ms = toMs(s.P99)
	s.MaxMs = toMs(s.Max)
	return s
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
