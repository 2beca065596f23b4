// Package threshold evaluates pass/fail assertions against a run report.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/torosent/blockprobe/internal/metrics"
)

// Threshold represents an assertion that can pass or fail.
type Threshold struct {
	Metric    string  // e.g. "inclusion_latency", "failed"
	Aggregate string  // e.g. "p99", "rate", "count"
	Operator  string  // e.g. "<", "<=", ">", ">=", "=="
	Value     float64 // value to compare against
	Raw       string  // original expression for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold `json:"-" yaml:"-"`
	Expr      string    `json:"threshold" yaml:"threshold"`
	Actual    float64   `json:"actual" yaml:"actual"`
	Pass      bool      `json:"pass" yaml:"pass"`
	Message   string    `json:"message" yaml:"message"`
}

// Evaluator evaluates thresholds against a report.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against the report.
func (e *Evaluator) Evaluate(report metrics.Report) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, e.evaluateOne(t, report))
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func (e *Evaluator) evaluateOne(t Threshold, report metrics.Report) Result {
	actual, err := extractMetricValue(t, report)
	if err != nil {
		return Result{
			Threshold: t,
			Expr:      t.Raw,
			Message:   fmt.Sprintf("error: %v", err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	return Result{
		Threshold: t,
		Expr:      t.Raw,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value),
	}
}

var exprPattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

// Parse parses a threshold expression.
// Supported forms:
//   - "inclusion_latency:p99 < 30000"  (latency quantile in ms; p50, p90, p99, avg, min, max)
//   - "included:rate > 5"              (included units per second)
//   - "included:ratio >= 0.95"         (included fraction of requested units)
//   - "failed:rate < 0.05"             (failed fraction of requested units)
//   - "timed_out:count == 0"
//   - "requested:count >= 100"
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := exprPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'inclusion_latency:p99 < 30000')", s)
	}

	metric := matches[1]
	aggregate := matches[2]
	operator := matches[3]
	valueStr := matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	aggregates, ok := supported[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: inclusion_latency, included, failed, timed_out, requested)", metric)
	}
	if !contains(aggregates, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(aggregates, ", "))
	}
	if !contains([]string{"<", "<=", ">", ">=", "=="}, operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}

	return result, nil
}

var supported = map[string][]string{
	"inclusion_latency": {"p50", "p90", "p99", "avg", "min", "max"},
	"included":          {"count", "rate", "ratio"},
	"failed":            {"count", "rate"},
	"timed_out":         {"count", "rate"},
	"requested":         {"count"},
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func extractMetricValue(t Threshold, r metrics.Report) (float64, error) {
	switch t.Metric {
	case "inclusion_latency":
		return extractLatencyMetric(t.Aggregate, r.Latency)
	case "included":
		switch t.Aggregate {
		case "count":
			return float64(r.IncludedCount), nil
		case "rate":
			return r.RatePerSecond, nil
		case "ratio":
			return fraction(r.IncludedCount, r.Requested), nil
		}
	case "failed":
		return countOrFraction(t.Aggregate, r.FailedCount, r.Requested)
	case "timed_out":
		return countOrFraction(t.Aggregate, r.TimedOutCount, r.Requested)
	case "requested":
		if t.Aggregate == "count" {
			return float64(r.Requested), nil
		}
	}
	return 0, fmt.Errorf("unsupported metric %s:%s", t.Metric, t.Aggregate)
}

func extractLatencyMetric(aggregate string, l metrics.LatencySummary) (float64, error) {
	switch aggregate {
	case "p50":
		return l.P50Ms, nil
	case "p90":
		return l.P90Ms, nil
	case "p99":
		return l.P99Ms, nil
	case "avg":
		return l.MeanMs, nil
	case "min":
		return l.MinMs, nil
	case "max":
		return l.MaxMs, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for inclusion_latency", aggregate)
	}
}

func countOrFraction(aggregate string, n, total int) (float64, error) {
	switch aggregate {
	case "count":
		return float64(n), nil
	case "rate":
		return fraction(n, total), nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q (use 'count' or 'rate')", aggregate)
	}
}

func fraction(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func compareValues(actual float64, operator string, expected float64) bool {
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
