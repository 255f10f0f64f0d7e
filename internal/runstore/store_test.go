package runstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"tadeval/internal/runstore"
	"tadeval/internal/testsupport"
)

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if store.Path() != filepath.Join(cfg.Paths.WorkDir, "runs.db") {
		t.Fatalf("unexpected store path %s", store.Path())
	}
	run := testsupport.NewRun(t, store, 7)
	if run.ID == "" || run.Status != runstore.StatusPending || run.Epoch != 7 {
		t.Fatalf("unexpected run %#v", run)
	}

	// Reopening must accept the existing schema.
	store.Close()
	reopened := testsupport.MustOpenStore(t, cfg)
	fetched, err := reopened.Get(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fetched == nil || fetched.ID != run.ID {
		t.Fatalf("run lost across reopen: %#v", fetched)
	}
}

func TestRunLifecycle(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	run := testsupport.NewRun(t, store, 1)

	if err := store.Start(ctx, run.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	summary := runstore.Summary{
		ResultPath:            "/tmp/result_detection.json",
		ResultSHA256:          "abc",
		Videos:                2,
		Detections:            5,
		Dropped:               1,
		Suppressed:            9,
		SerializationWarnings: 1,
		Warnings:              []string{"1 detection dropped", "1 field omitted"},
		Report:                json.RawMessage(`{"videos":2}`),
		PerVideo: []runstore.VideoCount{
			{VideoKey: "video_b", Detections: 3},
			{VideoKey: "video_a", Detections: 2},
		},
	}
	if err := store.Complete(ctx, run.ID, summary); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	done, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != runstore.StatusCompleted || done.Detections != 5 || done.Dropped != 1 || done.FinishedAt == nil {
		t.Fatalf("unexpected completed run %#v", done)
	}
	if !reflect.DeepEqual(done.Warnings, summary.Warnings) {
		t.Fatalf("warnings = %v", done.Warnings)
	}
	if string(done.Report) != `{"videos":2}` {
		t.Fatalf("report = %s", done.Report)
	}

	counts, err := store.VideoCounts(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(counts, summary.PerVideo) {
		t.Fatalf("video counts = %v", counts)
	}

	if err := store.Fail(ctx, run.ID, errors.New("late failure")); !errors.Is(err, runstore.ErrInvalidTransition) {
		t.Fatalf("expected completed run to reject Fail, got %v", err)
	}
}

func TestCompleteRequiresRunning(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	run := testsupport.NewRun(t, store, 1)

	err := store.Complete(context.Background(), run.ID, runstore.Summary{})
	if !errors.Is(err, runstore.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestFailRecordsMessage(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	run := testsupport.NewRun(t, store, 1)
	if err := store.Start(ctx, run.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.Fail(ctx, run.ID, errors.New("gather timeout: rank 1")); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	failed, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if failed.Status != runstore.StatusFailed || failed.ErrorMessage != "gather timeout: rank 1" {
		t.Fatalf("unexpected failed run %#v", failed)
	}
}

func TestListFiltersAndLimits(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		run := testsupport.NewRun(t, store, i)
		ids = append(ids, run.ID)
		time.Sleep(2 * time.Millisecond)
	}
	if err := store.Start(ctx, ids[1]); err != nil {
		t.Fatal(err)
	}

	all, err := store.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != ids[2] {
		t.Fatalf("expected newest first, got %d runs starting with %v", len(all), all[0].ID)
	}

	running, err := store.List(ctx, 0, runstore.StatusRunning)
	if err != nil {
		t.Fatal(err)
	}
	if len(running) != 1 || running[0].ID != ids[1] {
		t.Fatalf("unexpected running runs %v", running)
	}

	limited, err := store.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(limited))
	}
}

func TestRemoveAndPrune(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	keep := testsupport.NewRun(t, store, 1)
	old := testsupport.NewRun(t, store, 2)
	if err := store.Fail(ctx, old.ID, errors.New("boom")); err != nil {
		t.Fatal(err)
	}

	pruned, err := store.PruneFinished(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned run, got %d", pruned)
	}
	if got, _ := store.Get(ctx, old.ID); got != nil {
		t.Fatal("pruned run still present")
	}

	removed, err := store.Remove(ctx, keep.ID)
	if err != nil || !removed {
		t.Fatalf("Remove = %v, %v", removed, err)
	}
	if removed, _ := store.Remove(ctx, keep.ID); removed {
		t.Fatal("second Remove should report nothing removed")
	}
}
