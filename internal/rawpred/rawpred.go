package rawpred

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"tadeval/internal/detection"
	"tadeval/internal/fileutil"
	"tadeval/internal/nms"
)

const filePrefix = "raw_predictions_rank"

// FileName returns the raw prediction file name for rank.
func FileName(rank int) string {
	return fmt.Sprintf("%s%d.json", filePrefix, rank)
}

// Window is one window's raw head output with the meta needed to map it.
type Window struct {
	Meta      detection.WindowMeta `json:"meta"`
	Proposals nms.Proposals        `json:"proposals"`
}

// ID identifies a window occurrence.
func (w Window) ID() WindowID {
	return WindowID{VideoKey: w.Meta.VideoKey, StartFrame: w.Meta.WindowStartFrame}
}

// WindowID keys raw predictions by video and window start.
type WindowID struct {
	VideoKey   detection.VideoKey
	StartFrame int
}

// File is one rank's raw prediction dump.
type File struct {
	Rank      int      `json:"rank"`
	WorldSize int      `json:"world_size"`
	Windows   []Window `json:"windows"`
}

// Recorder collects windows during a pass and writes them once at the end.
// It is safe for concurrent use.
type Recorder struct {
	path      string
	rank      int
	worldSize int

	mu      sync.Mutex
	windows []Window
}

// NewRecorder returns a recorder that writes to path.
func NewRecorder(path string, rank, worldSize int) *Recorder {
	return &Recorder{path: path, rank: rank, worldSize: worldSize}
}

// Add records one window.
func (r *Recorder) Add(meta detection.WindowMeta, proposals nms.Proposals) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = append(r.windows, Window{Meta: meta, Proposals: proposals})
}

// Len returns the number of recorded windows.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

// Flush writes every recorded window and returns the path written.
func (r *Recorder) Flush() (string, error) {
	r.mu.Lock()
	windows := slices.Clone(r.windows)
	r.mu.Unlock()
	if windows == nil {
		windows = []Window{}
	}
	file := File{Rank: r.rank, WorldSize: r.worldSize, Windows: windows}
	if err := fileutil.WriteJSONAtomic(r.path, file); err != nil {
		return "", fmt.Errorf("save raw predictions: %w", err)
	}
	return r.path, nil
}

// Load reads one rank's file.
func Load(path string) (File, error) {
	var f File
	if err := fileutil.ReadJSON(path, &f); err != nil {
		return File{}, fmt.Errorf("load raw predictions: %w", err)
	}
	for i, w := range f.Windows {
		if err := w.Proposals.Check(); err != nil {
			return File{}, fmt.Errorf("load raw predictions %s window %d: %w", filepath.Base(path), i, err)
		}
	}
	return f, nil
}

// Index maps window occurrences to their recorded proposals.
type Index struct {
	windows map[WindowID]nms.Proposals
	files   []string
}

// LoadDir reads every rank file in dir. A job replayed with a different
// world size still finds every window because the index is keyed by window,
// not by rank.
func LoadDir(dir string) (*Index, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read raw prediction dir: %w", err)
	}
	idx := &Index{windows: make(map[WindowID]nms.Proposals)}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !IsRankFile(name) {
			continue
		}
		path := filepath.Join(dir, name)
		f, err := Load(path)
		if err != nil {
			return nil, err
		}
		for _, w := range f.Windows {
			id := w.ID()
			if _, dup := idx.windows[id]; dup {
				return nil, fmt.Errorf("raw predictions: window %s@%d recorded twice", id.VideoKey, id.StartFrame)
			}
			idx.windows[id] = w.Proposals
		}
		idx.files = append(idx.files, path)
	}
	if len(idx.files) == 0 {
		return nil, fmt.Errorf("raw predictions: no %s*.json files in %s", filePrefix, dir)
	}
	return idx, nil
}

// IsRankFile reports whether name is a per-rank raw prediction file.
func IsRankFile(name string) bool {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".json") {
		return false
	}
	_, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), ".json"))
	return err == nil
}

// Lookup returns the proposals recorded for meta's window.
func (i *Index) Lookup(meta detection.WindowMeta) (nms.Proposals, bool) {
	p, ok := i.windows[WindowID{VideoKey: meta.VideoKey, StartFrame: meta.WindowStartFrame}]
	return p, ok
}

// Len returns the number of indexed windows.
func (i *Index) Len() int { return len(i.windows) }

// Files lists the files the index was built from.
func (i *Index) Files() []string { return slices.Clone(i.files) }
