package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/torosent/blockprobe/internal/fetcher"
	"github.com/torosent/blockprobe/internal/metrics"
	"github.com/torosent/blockprobe/internal/probe"
	"github.com/torosent/blockprobe/internal/threshold"
)

// Format selects how a document is rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name; an empty name means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want text, json or yaml)", s)
	}
}

// RunDocument is the machine-readable result of a run.
type RunDocument struct {
	Target     string             `json:"target" yaml:"target"`
	Report     metrics.Report     `json:"report" yaml:"report"`
	Thresholds []threshold.Result `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	Passed     bool               `json:"passed" yaml:"passed"`
}

// ProbeDocument is the machine-readable result of a capacity probe.
type ProbeDocument struct {
	Target string       `json:"target" yaml:"target"`
	Result probe.Result `json:"result" yaml:"result"`
	Error  string       `json:"error,omitempty" yaml:"error,omitempty"`
}

// Encode writes v as JSON or YAML.
func Encode(w io.Writer, format Format, v any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("format %q is not a structured format", format)
	}
}

// PrintReport outputs a human-readable run summary.
func PrintReport(w io.Writer, report metrics.Report, results []threshold.Result) {
	fmt.Fprintln(w, "\n--- Run Results ---")
	if report.RunID != "" {
		fmt.Fprintf(w, "Run ID:            %s\n", report.RunID)
	}
	fmt.Fprintf(w, "Requested:         %d\n", report.Requested)
	fmt.Fprintf(w, "Included:          %d\n", report.IncludedCount)
	fmt.Fprintf(w, "Failed:            %d (submit %d, poll %d)\n", report.FailedCount, report.RejectedAtSubmit, report.RejectedAtPoll)
	fmt.Fprintf(w, "Timed out:         %d\n", report.TimedOutCount)
	fmt.Fprintf(w, "Elapsed:           %.2fs\n", report.ElapsedSeconds)
	fmt.Fprintf(w, "Included/sec:      %.2f\n", report.RatePerSecond)

	if report.IncludedCount > 0 {
		l := report.Latency
		fmt.Fprintln(w, "\nInclusion Latency:")
		fmt.Fprintf(w, "  Min:             %s\n", l.Min)
		fmt.Fprintf(w, "  Mean:            %s\n", l.Mean)
		fmt.Fprintf(w, "  P50:             %s\n", l.P50)
		fmt.Fprintf(w, "  P90:             %s\n", l.P90)
		fmt.Fprintf(w, "  P99:             %s\n", l.P99)
		fmt.Fprintf(w, "  Max:             %s\n", l.Max)
	}

	groups := report.Groups
	if len(groups) == 0 {
		groups = metrics.FlattenGroups(report.ByGroup)
	}
	if len(groups) > 0 {
		fmt.Fprintln(w, "\nBy Block:")
		for _, g := range groups {
			share := 0.0
			if report.IncludedCount > 0 {
				share = float64(g.Count) / float64(report.IncludedCount) * 100
			}
			fmt.Fprintf(w, "  %s: %d (%.1f%%)\n", g.Key, g.Count, share)
		}
	}

	if len(report.Reasons) > 0 {
		fmt.Fprintln(w, "\nFailure Reasons:")
		for _, r := range report.Reasons {
			fmt.Fprintf(w, "  %s: %d\n", r.Reason, r.Count)
		}
	}

	if len(results) > 0 {
		PrintThresholds(w, results)
	}
}

// PrintThresholds lists every threshold with its verdict.
func PrintThresholds(w io.Writer, results []threshold.Result) {
	passed := 0
	for _, r := range results {
		if r.Pass {
			passed++
		}
	}
	fmt.Fprintf(w, "\nThresholds: %d/%d passed\n", passed, len(results))
	for _, r := range results {
		mark := "PASS"
		if !r.Pass {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "  [%s] %s (actual %.3f)\n", mark, r.Expr, r.Actual)
	}
}

// PrintProbeResult outputs the probe verdict and its attempt history.
func PrintProbeResult(w io.Writer, res probe.Result, probeErr error) {
	fmt.Fprintln(w, "\n--- Capacity Probe ---")
	if probeErr != nil {
		fmt.Fprintf(w, "Result:            FAILED (%v)\n", probeErr)
	} else {
		fmt.Fprintf(w, "Max size:          %d bytes\n", res.Size)
		fmt.Fprintf(w, "Max count:         %d\n", res.Count)
		if res.Handle.ID != "" {
			fmt.Fprintf(w, "Last handle:       %s\n", res.Handle.ID)
		}
	}
	fmt.Fprintf(w, "Attempts:          %d\n", res.Attempts)
	if len(res.History) == 0 {
		return
	}
	fmt.Fprintln(w, "\nHistory:")
	for _, a := range res.History {
		verdict := "accepted"
		if !a.Accepted {
			verdict = "rejected: " + a.Reason
		}
		fmt.Fprintf(w, "  #%d size=%d count=%d %s (%s)\n", a.Seq, a.Size, a.Count, verdict, a.Latency)
	}
}

// PrintSnapshot outputs observed TPS per protocol in name order.
func PrintSnapshot(w io.Writer, snap fetcher.Snapshot) {
	fmt.Fprintf(w, "\n--- Observed TPS (%s) ---\n", snap.Timestamp.Format("2006-01-02 15:04:05Z07:00"))
	names := make([]string, 0, len(snap.Protocols))
	for name := range snap.Protocols {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e := snap.Protocols[name]
		if e.Status != fetcher.StatusOK {
			fmt.Fprintf(w, "  %-10s error: %s\n", name, e.Error)
			continue
		}
		fmt.Fprintf(w, "  %-10s %10.2f tps", name, e.TPS)
		if e.Blocks > 0 {
			fmt.Fprintf(w, "  (%d blocks)", e.Blocks)
		}
		fmt.Fprintln(w)
	}
}
