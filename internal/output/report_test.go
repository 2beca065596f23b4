package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/blockprobe/internal/fetcher"
	"github.com/torosent/blockprobe/internal/ledger"
	"github.com/torosent/blockprobe/internal/metrics"
	"github.com/torosent/blockprobe/internal/probe"
	"github.com/torosent/blockprobe/internal/threshold"
)

func sampleReport() metrics.Report {
	base := time.Unix(1700000000, 0)
	outcomes := []ledger.Outcome{
		{UnitID: 0, Kind: ledger.OutcomeIncluded, GroupKey: "10", SubmittedAt: base, ConfirmedAt: base.Add(2 * time.Second)},
		{UnitID: 1, Kind: ledger.OutcomeIncluded, GroupKey: "9", SubmittedAt: base, ConfirmedAt: base.Add(time.Second)},
		{UnitID: 2, Kind: ledger.OutcomeRejected, Stage: ledger.StageSubmit, Reason: "payload too large"},
		{UnitID: 3, Kind: ledger.OutcomeTimedOut, SubmittedAt: base},
	}
	return metrics.Aggregate(outcomes)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "JSON": FormatJSON, " yaml ": FormatYAML, "text": FormatText} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("html"); err == nil {
		t.Error("expected error for html")
	}
}

func TestPrintReportBasic(t *testing.T) {
	report := sampleReport()
	results := threshold.NewEvaluator([]threshold.Threshold{
		{Metric: "timed_out", Aggregate: "count", Operator: "==", Value: 0, Raw: "timed_out:count == 0"},
	}).Evaluate(report)

	var buf bytes.Buffer
	PrintReport(&buf, report, results)
	out := buf.String()

	for _, want := range []string{
		"Requested:         4",
		"Included:          2",
		"Failed:            1 (submit 1, poll 0)",
		"Timed out:         1",
		"By Block:",
		"payload too large: 1",
		"Thresholds: 0/1 passed",
		"[FAIL] timed_out:count == 0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Index(out, "  9: 1") > strings.Index(out, "  10: 1") {
		t.Errorf("expected numeric block order:\n%s", out)
	}
}

func TestPrintReportEmpty(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, metrics.Aggregate(nil), nil)
	out := buf.String()
	if strings.Contains(out, "Inclusion Latency") || strings.Contains(out, "By Block") {
		t.Errorf("empty report should omit latency and blocks:\n%s", out)
	}
}

func TestEncodeJSONAndYAML(t *testing.T) {
	doc := RunDocument{Target: "simulated", Report: sampleReport(), Passed: true}

	var jsonBuf bytes.Buffer
	if err := Encode(&jsonBuf, FormatJSON, doc); err != nil {
		t.Fatalf("json: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(jsonBuf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	report := decoded["report"].(map[string]any)
	if report["included_count"].(float64) != 2 {
		t.Errorf("unexpected included_count %v", report["included_count"])
	}
	if _, ok := report["by_group"]; !ok {
		t.Error("expected by_group in JSON")
	}

	var yamlBuf bytes.Buffer
	if err := Encode(&yamlBuf, FormatYAML, doc); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	var y struct {
		Target string `yaml:"target"`
		Report struct {
			TimedOut int `yaml:"timed_out_count"`
		} `yaml:"report"`
	}
	if err := yaml.Unmarshal(yamlBuf.Bytes(), &y); err != nil {
		t.Fatalf("invalid yaml: %v", err)
	}
	if y.Target != "simulated" || y.Report.TimedOut != 1 {
		t.Errorf("unexpected yaml document %+v", y)
	}

	if err := Encode(&yamlBuf, FormatText, doc); err == nil {
		t.Error("expected error for text format")
	}
}

func TestPrintProbeResult(t *testing.T) {
	res := probe.Result{
		Size:     1024,
		Count:    35,
		Attempts: 2,
		Handle:   ledger.Handle{ID: "01HX"},
		History: []probe.Attempt{
			{Seq: 1, Size: 1024, Count: 100, Reason: "too many"},
			{Seq: 2, Size: 1024, Count: 35, Accepted: true},
		},
	}
	var buf bytes.Buffer
	PrintProbeResult(&buf, res, nil)
	out := buf.String()
	for _, want := range []string{"Max size:          1024 bytes", "Max count:         35", "#1 size=1024 count=100 rejected: too many", "#2 size=1024 count=35 accepted"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}

	buf.Reset()
	PrintProbeResult(&buf, probe.Result{Attempts: 6}, ledger.ErrNoFeasibleUnit)
	if !strings.Contains(buf.String(), "FAILED") || !strings.Contains(buf.String(), ledger.ErrNoFeasibleUnit.Error()) {
		t.Errorf("expected failure verdict, got %s", buf.String())
	}
}

func TestPrintSnapshot(t *testing.T) {
	snap := fetcher.Snapshot{
		Timestamp: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Protocols: map[string]fetcher.Entry{
			"near":     {TPS: 3.25, Status: fetcher.StatusOK},
			"espresso": {TPS: 4, Status: fetcher.StatusOK, Blocks: 100},
			"avail":    {Status: fetcher.StatusError, Error: "HTTP 503"},
		},
	}
	var buf bytes.Buffer
	PrintSnapshot(&buf, snap)
	out := buf.String()
	if !strings.Contains(out, "(100 blocks)") || !strings.Contains(out, "error: HTTP 503") {
		t.Errorf("unexpected snapshot output:\n%s", out)
	}
	if strings.Index(out, "avail") > strings.Index(out, "espresso") {
		t.Errorf("expected protocols in name order:\n%s", out)
	}
}
