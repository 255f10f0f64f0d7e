package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tadeval/internal/api"
	"tadeval/internal/detection"
	"tadeval/internal/metrics"
	"tadeval/internal/runstore"
	"tadeval/internal/sink"
	"tadeval/internal/testsupport"
)

type fixture struct {
	router http.Handler
	store  *runstore.Store
	path   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	m := metrics.New()
	m.AddRecorded(3)
	router := api.NewRouter(api.ServerConfig{
		Runs:      api.NewRunService(store),
		Results:   api.NewResultService(cfg.ResultPath()),
		Metrics:   m,
		StartTime: time.Now(),
		RunID:     "run-1",
	})
	return fixture{router: router, store: store, path: cfg.ResultPath()}
}

func (f fixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func writeResults(t *testing.T, path string) {
	t.Helper()
	mapping := detection.NewResultMapping()
	mapping.Append("video_a",
		detection.Detection{Segment: detection.Segment{Start: 1, End: 2.5}, Score: 0.9, Label: "Diving"},
	)
	mapping.Append("video_b",
		detection.Detection{Segment: detection.Segment{Start: 3, End: 4}, Score: 0.4, Label: "Shotput"},
		detection.Detection{Segment: detection.Segment{Start: 5, End: 8}, Score: 0.7, Label: "Diving"},
	)
	s := sink.New(sink.Options{Save: true, Path: path})
	if _, err := s.Persist(context.Background(), mapping); err != nil {
		t.Fatal(err)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rr := f.get(t, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
	body := decode[api.HealthResponse](t, rr)
	if body.Status != "ok" || body.RunID != "run-1" {
		t.Fatalf("unexpected health %+v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	rr := f.get(t, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "tadeval_detections_recorded_total 3") {
		t.Fatalf("metrics body missing counter:\n%s", rr.Body.String())
	}
}

func TestRunsListAndDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	done := testsupport.NewRun(t, f.store, 4)
	if err := f.store.Start(ctx, done.ID); err != nil {
		t.Fatal(err)
	}
	err := f.store.Complete(ctx, done.ID, runstore.Summary{
		Videos:     1,
		Detections: 2,
		Warnings:   []string{"1 malformed detection(s) dropped on rank 0"},
		Report:     json.RawMessage(`{"evaluator":"summary"}`),
		PerVideo:   []runstore.VideoCount{{VideoKey: "video_a", Detections: 2}},
	})
	if err != nil {
		t.Fatal(err)
	}
	testsupport.NewRun(t, f.store, 5)

	list := decode[api.RunList](t, f.get(t, "/runs"))
	if len(list.Runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(list.Runs))
	}
	completed := decode[api.RunList](t, f.get(t, "/runs?status=completed"))
	if len(completed.Runs) != 1 || completed.Runs[0].ID != done.ID {
		t.Fatalf("status filter returned %+v", completed.Runs)
	}

	detail := decode[api.RunDetail](t, f.get(t, "/runs/"+done.ID))
	if detail.Status != "completed" || detail.Detections != 2 || detail.FinishedAt == "" {
		t.Fatalf("unexpected detail %+v", detail)
	}
	if len(detail.PerVideo) != 1 || detail.PerVideo[0].VideoKey != "video_a" {
		t.Fatalf("unexpected per-video counts %+v", detail.PerVideo)
	}
	if string(detail.Report) != `{"evaluator":"summary"}` {
		t.Fatalf("report = %s", detail.Report)
	}
}

func TestRunsErrors(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		target string
		status int
		code   string
	}{
		{"/runs/missing", http.StatusNotFound, "NOT_FOUND"},
		{"/runs?limit=-1", http.StatusBadRequest, "BAD_REQUEST"},
		{"/runs?status=paused", http.StatusBadRequest, "BAD_REQUEST"},
	}
	for _, tc := range cases {
		rr := f.get(t, tc.target)
		if rr.Code != tc.status {
			t.Fatalf("%s: status = %d, want %d", tc.target, rr.Code, tc.status)
		}
		if body := decode[api.ErrorResponse](t, rr); body.Code != tc.code {
			t.Fatalf("%s: code = %q", tc.target, body.Code)
		}
	}
}

func TestResultsEndpoints(t *testing.T) {
	f := newFixture(t)
	if rr := f.get(t, "/results"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any results, got %d", rr.Code)
	}

	writeResults(t, f.path)

	summary := decode[api.ResultSummary](t, f.get(t, "/results"))
	if summary.Videos != 2 || summary.Detections != 3 || summary.Path != f.path {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.PerVideo[0].VideoKey != "video_b" || summary.PerVideo[0].TopLabel != "Diving" {
		t.Fatalf("busiest video should come first, got %+v", summary.PerVideo)
	}

	video := decode[api.VideoResults](t, f.get(t, "/results/video_a"))
	if len(video.Detections) != 1 || *video.Detections[0].Segment != [2]float64{1, 2.5} {
		t.Fatalf("unexpected video results %+v", video)
	}
	if rr := f.get(t, "/results/unknown"); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown video status = %d", rr.Code)
	}
}

func TestServerServesAndShutsDown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	srv, err := api.NewServer(api.ServerConfig{
		Bind:    cfg.Paths.APIBind,
		Results: api.NewResultService(filepath.Join(t.TempDir(), "none.json")),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Serve returned %v", err)
	}
}
