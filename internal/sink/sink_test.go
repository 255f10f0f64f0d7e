package sink_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tadeval/internal/detection"
	"tadeval/internal/evalerr"
	"tadeval/internal/logging"
	"tadeval/internal/metrics"
	"tadeval/internal/sink"
)

func sampleMapping() *detection.ResultMapping {
	m := detection.NewResultMapping()
	m.Append("video_b", detection.Detection{Segment: detection.Segment{Start: 1.23456, End: 4.5678}, Score: 0.912345, Label: "Jump"})
	m.Append("video_a", detection.Detection{Segment: detection.Segment{Start: 0, End: 2}, Score: 0.5, Label: "Run"})
	return m
}

func TestBuildRoundsAndKeepsOrder(t *testing.T) {
	doc, warnings := sink.Build(sampleMapping())
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings %v", warnings)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"results":{"video_b":[{"segment":[1.23,4.57],"label":"Jump","score":0.9123}],"video_a":[{"segment":[0,2],"label":"Run","score":0.5}]}}`
	if string(data) != want {
		t.Fatalf("unexpected document\n got %s\nwant %s", data, want)
	}
}

func TestBuildOmitsNonFiniteFields(t *testing.T) {
	m := detection.NewResultMapping()
	m.Append("v",
		detection.Detection{Segment: detection.Segment{Start: 1, End: 2}, Score: math.NaN(), Label: "a"},
		detection.Detection{Segment: detection.Segment{Start: 1, End: math.Inf(1)}, Score: 0.4, Label: "b"},
		detection.Detection{Segment: detection.Segment{Start: 3, End: 4}, Score: 0.3, Label: "c"},
	)

	doc, warnings := sink.Build(m)
	if len(warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", warnings)
	}
	var serr *evalerr.SerializationError
	if !errors.As(warnings[0], &serr) || serr.Field != "score" || serr.Index != 0 || serr.VideoKey != "v" {
		t.Fatalf("unexpected first warning %v", warnings[0])
	}
	if !errors.As(warnings[1], &serr) || serr.Field != "segment" || serr.Index != 1 {
		t.Fatalf("unexpected second warning %v", warnings[1])
	}

	records, _ := doc.Get("v")
	if len(records) != 3 {
		t.Fatalf("expected every record to survive, got %d", len(records))
	}
	if records[0].Score != nil || records[0].Segment == nil {
		t.Fatalf("record 0 should only lose its score: %+v", records[0])
	}
	if records[1].Segment != nil || records[1].Score == nil {
		t.Fatalf("record 1 should only lose its segment: %+v", records[1])
	}
	if _, err := json.Marshal(doc); err != nil {
		t.Fatalf("document with omissions must still encode: %v", err)
	}
	if got := doc.Mapping().Total(); got != 1 {
		t.Fatalf("expected only the complete record to convert back, got %d", got)
	}
}

func TestPersistWritesUnderLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "result_detection.json")
	m := metrics.New()
	s := sink.New(sink.Options{
		Save:     true,
		Path:     path,
		LockPath: filepath.Join(dir, ".result.lock"),
		Logger:   logging.NewNop(),
		Metrics:  m,
	})

	out, err := s.Persist(context.Background(), sampleMapping())
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if out.Path != path || len(out.SHA256) != 64 {
		t.Fatalf("unexpected outcome %+v", out)
	}

	loaded, err := sink.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 2 || loaded.Videos[0].Key != "video_b" || loaded.Videos[1].Key != "video_a" {
		t.Fatalf("unexpected loaded order %+v", loaded.Videos)
	}
	records, _ := loaded.Get("video_b")
	if *records[0].Score != 0.9123 || records[0].Segment[1] != 4.57 {
		t.Fatalf("unexpected record %+v", records[0])
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestPersistWithoutSaveStaysInMemory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "result_detection.json")
	s := sink.New(sink.Options{Path: path, Logger: logging.NewNop()})

	out, err := s.Persist(context.Background(), sampleMapping())
	if err != nil {
		t.Fatal(err)
	}
	if out.Path != "" || out.Document.Total() != 2 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no file, stat err = %v", err)
	}
}

func TestLoadRejectsMissingResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"other": {}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := sink.Load(path); err == nil {
		t.Fatal("expected error for document without results")
	}
}

func TestLoadKeepsKeysThatDifferOnlyInWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result_detection.json")
	data := `{"results":{"v ":[{"segment":[0,1],"label":"a","score":0.5}],"v":[{"segment":[2,3],"label":"a","score":0.4}]}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := sink.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Len() != 2 || doc.Total() != 2 {
		t.Fatalf("expected two videos with one record each, got len=%d total=%d", doc.Len(), doc.Total())
	}
	if got := doc.Mapping().Keys(); len(got) != 2 || got[0] != "v " || got[1] != "v" {
		t.Fatalf("unexpected keys %q", got)
	}
}
