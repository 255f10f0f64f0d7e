package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tadeval/internal/metrics"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := metrics.New()
	m.AddRecorded(5)
	m.AddDropped(2)
	m.AddSuppressed(3)
	m.ObserveGather(20 * time.Millisecond)
	m.RunFinished("completed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	text := string(body)
	for _, want := range []string{
		"tadeval_detections_recorded_total 5",
		"tadeval_detections_dropped_total 2",
		"tadeval_candidates_suppressed_total 3",
		"tadeval_gather_duration_seconds_count 1",
		`tadeval_evaluation_runs_total{status="completed"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in metrics output:\n%s", want, text)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	m.AddRecorded(1)
	m.AddDropped(1)
	m.ObserveGather(time.Second)
	m.RunFinished("failed")
	m.IncReclaims()
}
