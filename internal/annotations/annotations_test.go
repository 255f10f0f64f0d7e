package annotations_test

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"tadeval/internal/annotations"
	"tadeval/internal/detection"
)

const sampleDB = `{
  "database": {
    "video_test_0000004": {
      "duration": 33.4, "frame": 835, "subset": "test",
      "annotations": [
        {"segment": [0.2, 1.1], "label": "CricketBowling"},
        {"segment": [2.0, 3.5], "label": "CricketShot"}
      ]
    },
    "video_validation_0000051": {
      "duration": 20, "frame": 600, "fps": 30, "subset": "validation",
      "annotations": [{"segment": [4, 9], "label": "Billiards"}]
    }
  }
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDatabase(t *testing.T) {
	db, err := annotations.LoadDatabase(writeFile(t, "anno.json", sampleDB))
	if err != nil {
		t.Fatalf("LoadDatabase: %v", err)
	}
	if keys := db.Keys("validation"); !reflect.DeepEqual(keys, []detection.VideoKey{"video_validation_0000051"}) {
		t.Fatalf("unexpected validation keys %v", keys)
	}
	if keys := db.Keys(""); len(keys) != 2 {
		t.Fatalf("expected every video, got %v", keys)
	}
	video, ok := db.Get("video_test_0000004")
	if !ok {
		t.Fatal("missing video")
	}
	if got := video.FrameRate(); math.Abs(got-25) > 1e-9 {
		t.Fatalf("derived fps = %g", got)
	}
	want := []string{"Billiards", "CricketBowling", "CricketShot"}
	if got := db.Classes(); !reflect.DeepEqual(got, want) {
		t.Fatalf("classes = %v, want %v", got, want)
	}
}

func TestLoadDatabaseRejectsBadEntries(t *testing.T) {
	tests := map[string]string{
		"missing database": `{"videos": {}}`,
		"inverted segment": `{"database": {"v": {"duration": 1, "frame": 30, "annotations": [{"segment": [2, 1], "label": "x"}]}}}`,
		"empty label":      `{"database": {"v": {"duration": 1, "frame": 30, "annotations": [{"segment": [0, 1], "label": " "}]}}}`,
		"negative frames":  `{"database": {"v": {"duration": 1, "frame": -3}}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := annotations.LoadDatabase(writeFile(t, "anno.json", body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDatabaseSaveRoundTrip(t *testing.T) {
	db := annotations.NewDatabase()
	if err := db.Add("clip.mp4", annotations.Video{Duration: 10, Frame: 250, Subset: "test"}); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "out", "anno.json")
	if err := db.Save(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"annotations": []`) {
		t.Fatalf("expected empty annotation list, got %s", data)
	}
	loaded, err := annotations.LoadDatabase(path)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := loaded.Get("clip.mp4"); v.FrameRate() != 25 {
		t.Fatalf("unexpected reloaded entry %+v", v)
	}
}

func TestClassMapRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "category_idx.txt")
	classes := []string{"BaseballPitch", "BasketballDunk", "Billiards"}
	if err := annotations.WriteClassMap(path, classes); err != nil {
		t.Fatal(err)
	}
	got, err := annotations.ReadClassMap(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, classes) {
		t.Fatalf("got %v", got)
	}
}

func TestReadClassMapSkipsBlankAndRejectsDuplicates(t *testing.T) {
	got, err := annotations.ReadClassMap(writeFile(t, "a.txt", "Run\n\n  Jump  \n"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"Run", "Jump"}) {
		t.Fatalf("got %v", got)
	}
	if _, err := annotations.ReadClassMap(writeFile(t, "b.txt", "Run\nRun\n")); err == nil {
		t.Fatal("expected duplicate error")
	}
	if _, err := annotations.ReadClassMap(writeFile(t, "c.txt", "\n\n")); err == nil {
		t.Fatal("expected empty class map error")
	}
}

func TestPlanWindows(t *testing.T) {
	video := annotations.Video{Duration: 80, Frame: 2000, FPS: 25}
	layout := annotations.WindowLayout{
		Sliding:       true,
		WindowSize:    768,
		WindowStride:  576,
		FeatureStride: 4,
		SampleStride:  1,
	}
	windows, err := annotations.PlanWindows("v", video, layout)
	if err != nil {
		t.Fatal(err)
	}
	var starts []int
	for _, w := range windows {
		starts = append(starts, w.WindowStartFrame)
		if w.FPS != 25 || w.Duration != 80 || w.TotalFrames != 2000 || w.VideoKey != "v" {
			t.Fatalf("unexpected meta %+v", w)
		}
	}
	if want := []int{0, 576, 1152, 1728}; !reflect.DeepEqual(starts, want) {
		t.Fatalf("window starts = %v, want %v", starts, want)
	}

	layout.Sliding = false
	windows, err = annotations.PlanWindows("v", video, layout)
	if err != nil {
		t.Fatal(err)
	}
	if len(windows) != 1 || windows[0].WindowStartFrame != 0 {
		t.Fatalf("padding layout should yield one window, got %+v", windows)
	}

	if _, err := annotations.PlanWindows("v", annotations.Video{}, layout); err == nil {
		t.Fatal("expected error for unknown frame rate")
	}
}
