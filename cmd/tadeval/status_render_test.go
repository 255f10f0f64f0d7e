package main

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"tadeval/internal/preflight"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Annotations", statusError, "missing", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Annotations:", "[ERROR] missing")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Run", statusOK, "completed", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line, got %q", got)
	}
}

func TestPreflightLines(t *testing.T) {
	results := []preflight.Result{
		{Name: "Work directory", Passed: true, Detail: "/w (read/write ok)"},
		{Name: "Raw predictions", Passed: true, Warning: true, Detail: "/w/outputs (missing raw_predictions_rank1.json)"},
		{Name: "Annotations", Detail: "not configured"},
	}
	lines := preflightLines(results, false)
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(lines))
	}
	checks := []string{"[ERROR] 1 of 3 checks failed", "[OK] /w", "[WARN] /w/outputs", "[ERROR] not configured"}
	for i, want := range checks {
		if !strings.Contains(lines[i], want) {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want)
		}
	}
}

func TestFormatClock(t *testing.T) {
	tests := map[float64]string{0: "0:00", 4: "0:04", 59.9: "0:59", 61: "1:01", 3725: "62:05", -1: "-"}
	for in, want := range tests {
		if got := formatClock(in); got != want {
			t.Errorf("formatClock(%v) = %q, want %q", in, got, want)
		}
	}
	if got := frameIndex(1.33, 30); got != "39" {
		t.Errorf("frameIndex = %q", got)
	}
	if got := frameIndex(1, 0); got != "-" {
		t.Errorf("frameIndex without fps = %q", got)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}
