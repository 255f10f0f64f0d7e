package annotations

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"

	"tadeval/internal/detection"
	"tadeval/internal/fileutil"
)

// Annotation is one ground-truth action instance, in seconds.
type Annotation struct {
	Segment [2]float64 `json:"segment"`
	Label   string     `json:"label"`
}

// Video is one entry of the annotation database.
type Video struct {
	Duration    float64      `json:"duration"`
	Frame       int          `json:"frame"`
	Subset      string       `json:"subset"`
	FPS         float64      `json:"fps,omitempty"`
	Annotations []Annotation `json:"annotations"`
}

// FrameRate returns the declared fps, or frames divided by duration when
// none is declared. It is zero when neither is known.
func (v Video) FrameRate() float64 {
	if v.FPS > 0 {
		return v.FPS
	}
	if v.Duration > 0 && v.Frame > 0 {
		return float64(v.Frame) / v.Duration
	}
	return 0
}

// Database is the {"database": {video: {...}}} annotation file.
type Database struct {
	Videos map[string]Video `json:"database"`
}

// NewDatabase returns an empty database.
func NewDatabase() *Database {
	return &Database{Videos: make(map[string]Video)}
}

// LoadDatabase reads an annotation file. Video names are NFC-normalized so
// they match the keys workers produce.
func LoadDatabase(path string) (*Database, error) {
	var raw Database
	if err := fileutil.ReadJSON(path, &raw); err != nil {
		return nil, fmt.Errorf("load annotations: %w", err)
	}
	if raw.Videos == nil {
		return nil, fmt.Errorf("load annotations: %s has no \"database\" object", path)
	}
	db := NewDatabase()
	for name, video := range raw.Videos {
		if err := db.Add(name, video); err != nil {
			return nil, fmt.Errorf("load annotations: %w", err)
		}
	}
	return db, nil
}

// Add validates video and stores it under the normalized name.
func (db *Database) Add(name string, video Video) error {
	key := detection.NewVideoKey(name)
	if key == "" {
		return fmt.Errorf("video name is empty")
	}
	if video.Duration < 0 || math.IsNaN(video.Duration) || math.IsInf(video.Duration, 0) {
		return fmt.Errorf("video %q: invalid duration %g", key, video.Duration)
	}
	if video.Frame < 0 {
		return fmt.Errorf("video %q: negative frame count %d", key, video.Frame)
	}
	for i, a := range video.Annotations {
		if a.Segment[0] < 0 || a.Segment[0] > a.Segment[1] {
			return fmt.Errorf("video %q annotation %d: invalid segment %v", key, i, a.Segment)
		}
		if strings.TrimSpace(a.Label) == "" {
			return fmt.Errorf("video %q annotation %d: empty label", key, i)
		}
	}
	if _, exists := db.Videos[string(key)]; exists {
		return fmt.Errorf("video %q listed twice", key)
	}
	db.Videos[string(key)] = video
	return nil
}

// Keys returns the video keys in subset, sorted. An empty subset selects
// every video.
func (db *Database) Keys(subset string) []detection.VideoKey {
	keys := make([]detection.VideoKey, 0, len(db.Videos))
	for name, video := range db.Videos {
		if subset != "" && !strings.EqualFold(video.Subset, subset) {
			continue
		}
		keys = append(keys, detection.VideoKey(name))
	}
	slices.Sort(keys)
	return keys
}

// Get returns the entry for key.
func (db *Database) Get(key detection.VideoKey) (Video, bool) {
	video, ok := db.Videos[string(key)]
	return video, ok
}

// Classes returns the sorted unique labels across every annotation.
func (db *Database) Classes() []string {
	seen := make(map[string]struct{})
	for _, video := range db.Videos {
		for _, a := range video.Annotations {
			seen[strings.TrimSpace(a.Label)] = struct{}{}
		}
	}
	classes := make([]string, 0, len(seen))
	for label := range seen {
		classes = append(classes, label)
	}
	slices.Sort(classes)
	return classes
}

// Save writes the database atomically.
func (db *Database) Save(path string) error {
	if err := fileutil.WriteJSONAtomic(path, db); err != nil {
		return fmt.Errorf("save annotations: %w", err)
	}
	return nil
}

// MarshalJSON writes annotations as an empty array rather than null.
func (v Video) MarshalJSON() ([]byte, error) {
	type plain Video
	p := plain(v)
	if p.Annotations == nil {
		p.Annotations = []Annotation{}
	}
	return json.Marshal(p)
}
