package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type alertScenario struct {
	name       string
	severity   string
	threshold  float64
	actual     float64
	window     time.Duration
	runbookRef string
}

func TestAlertSimulationProducesFiringAndResolvedLogs(t *testing.T) {
	scenarios := []alertScenario{
		{
			name:       "HighErrorRate",
			severity:   "critical",
			threshold:  0.05,
			actual:     0.09,
			window:     10 * time.Minute,
			runbookRef: "docs/runbook-ops-stock.md#high-error-rate",
		},
		{
			name:       "HighLatency",
			severity:   "warning",
			threshold:  1.0,
			actual:     1.4,
			window:     15 * time.Minute,
			runbookRef: "docs/runbook-ops-stock.md#high-latency",
		},
		{
			name:       "ReconciliationJobFailures",
			severity:   "warning",
			threshold:  0,
			actual:     2,
			window:     5 * time.Minute,
			runbookRef: "docs/runbook-ops-stock.md#job-failures",
		},
		{
			name:       "CorrectionSpike",
			severity:   "warning",
			threshold:  25,
			actual:     40,
			window:     5 * time.Minute,
			runbookRef: "docs/runbook-ops-stock.md#correction-spike",
		},
	}

	runbook := readRunbook(t)

	var logBuilder strings.Builder
	for _, scenario := range scenarios {
		if scenario.actual <= scenario.threshold {
			t.Fatalf("%s: firing scenario must exceed its threshold", scenario.name)
		}
		if scenario.severity != "critical" && scenario.severity != "warning" {
			t.Fatalf("%s: unknown severity %s", scenario.name, scenario.severity)
		}
		heading := anchorHeading(scenario.runbookRef)
		if heading == "" || !strings.Contains(runbook, heading) {
			t.Fatalf("%s: runbook section %q missing for %s", scenario.name, heading, scenario.runbookRef)
		}
		logBuilder.WriteString(renderAlertLog("FIRING", scenario))
		logBuilder.WriteString(renderAlertLog("RESOLVED", scenario))
	}

	lines := strings.Split(strings.TrimSpace(logBuilder.String()), "\n")
	if len(lines) != 2*len(scenarios) {
		t.Fatalf("expected %d alert log lines, got %d", 2*len(scenarios), len(lines))
	}
	for i, line := range lines {
		want := "FIRING"
		if i%2 == 1 {
			want = "RESOLVED"
		}
		if !strings.HasPrefix(line, want) {
			t.Fatalf("line %d: expected %s entry, got %q", i, want, line)
		}
		if !strings.Contains(line, "runbook=docs/runbook-ops-stock.md#") {
			t.Fatalf("line %d: missing runbook reference: %q", i, line)
		}
	}
}

func renderAlertLog(state string, scenario alertScenario) string {
	return fmt.Sprintf("%s %s severity=%s actual=%.2f threshold=%.2f window=%s runbook=%s\n",
		state, scenario.name, scenario.severity, scenario.actual, scenario.threshold, scenario.window, scenario.runbookRef)
}

// anchorHeading maps a markdown anchor back to the section heading it
// was generated from, e.g. "#high-error-rate" to "## High Error Rate".
func anchorHeading(ref string) string {
	_, anchor, ok := strings.Cut(ref, "#")
	if !ok || anchor == "" {
		return ""
	}
	words := strings.Split(anchor, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return "## " + strings.Join(words, " ")
}

func readRunbook(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "docs", "runbook-ops-stock.md"))
	if err != nil {
		t.Fatalf("read runbook: %v", err)
	}
	return string(data)
}
