package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Video is a minimal annotation database entry for fixtures.
type Video struct {
	Duration float64
	Frames   int
	Subset   string
}

// WriteAnnotations writes an annotation database with no ground truth.
func WriteAnnotations(t testing.TB, path string, videos map[string]Video) {
	t.Helper()

	type entry struct {
		Duration    float64 `json:"duration"`
		Frame       int     `json:"frame"`
		Subset      string  `json:"subset"`
		Annotations []any   `json:"annotations"`
	}
	db := make(map[string]entry, len(videos))
	for name, v := range videos {
		db[name] = entry{Duration: v.Duration, Frame: v.Frames, Subset: v.Subset, Annotations: []any{}}
	}
	WriteJSON(t, path, map[string]any{"database": db})
}

// WriteJSON encodes v to path, creating parent directories.
func WriteJSON(t testing.TB, path string, v any) {
	t.Helper()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	writeBytes(t, path, data)
}

// WriteLines writes one line per entry.
func WriteLines(t testing.TB, path string, lines []string) {
	t.Helper()
	writeBytes(t, path, []byte(strings.Join(lines, "\n")+"\n"))
}

func writeBytes(t testing.TB, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
