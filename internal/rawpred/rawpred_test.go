package rawpred_test

import (
	"os"
	"path/filepath"
	"testing"

	"tadeval/internal/detection"
	"tadeval/internal/nms"
	"tadeval/internal/rawpred"
)

func meta(key string, start int) detection.WindowMeta {
	return detection.WindowMeta{
		VideoKey:         detection.VideoKey(key),
		WindowStartFrame: start,
		FeatureStride:    4,
		SampleStride:     1,
		FPS:              25,
		Duration:         60,
		TotalFrames:      1500,
	}
}

func proposals(score float64) nms.Proposals {
	return nms.Proposals{
		Segments: []detection.Segment{{Start: 1, End: 5}},
		Scores:   [][]float64{{score, 0.1}},
		Classes:  []string{"Run", "Jump"},
	}
}

func TestRecorderFlushAndIndex(t *testing.T) {
	dir := t.TempDir()
	r0 := rawpred.NewRecorder(filepath.Join(dir, rawpred.FileName(0)), 0, 2)
	r1 := rawpred.NewRecorder(filepath.Join(dir, rawpred.FileName(1)), 1, 2)
	r0.Add(meta("a", 0), proposals(0.9))
	r1.Add(meta("a", 576), proposals(0.8))
	r1.Add(meta("b", 0), proposals(0.7))
	for _, r := range []*rawpred.Recorder{r0, r1} {
		if _, err := r.Flush(); err != nil {
			t.Fatalf("Flush: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	idx, err := rawpred.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if idx.Len() != 3 || len(idx.Files()) != 2 {
		t.Fatalf("unexpected index size %d from %v", idx.Len(), idx.Files())
	}
	got, ok := idx.Lookup(meta("a", 576))
	if !ok || got.Scores[0][0] != 0.8 {
		t.Fatalf("lookup returned %+v, %v", got, ok)
	}
	if _, ok := idx.Lookup(meta("a", 1152)); ok {
		t.Fatal("unexpected window")
	}
}

func TestLoadDirRejectsDuplicateWindows(t *testing.T) {
	dir := t.TempDir()
	for rank := 0; rank < 2; rank++ {
		r := rawpred.NewRecorder(filepath.Join(dir, rawpred.FileName(rank)), rank, 2)
		r.Add(meta("a", 0), proposals(0.5))
		if _, err := r.Flush(); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := rawpred.LoadDir(dir); err == nil {
		t.Fatal("expected duplicate window error")
	}
}

func TestLoadRejectsRaggedScores(t *testing.T) {
	path := filepath.Join(t.TempDir(), rawpred.FileName(0))
	body := `{"rank":0,"world_size":1,"windows":[{"meta":{"video_key":"a"},"proposals":{"segments":[[0,1]],"scores":[]}}]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := rawpred.Load(path); err == nil {
		t.Fatal("expected check failure")
	}
}

func TestLoadDirEmpty(t *testing.T) {
	if _, err := rawpred.LoadDir(t.TempDir()); err == nil {
		t.Fatal("expected error for directory without rank files")
	}
}
