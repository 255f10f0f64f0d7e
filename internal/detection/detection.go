package detection

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"

	"tadeval/internal/evalerr"
)

// VideoKey identifies one video across every worker.
type VideoKey string

// NewVideoKey normalizes name to NFC so decomposed and composed spellings of
// the same file name map to one key.
func NewVideoKey(name string) VideoKey {
	return VideoKey(norm.NFC.String(strings.TrimSpace(name)))
}

// DecodeVideoKey normalizes a key read back from a persisted document. It
// applies NFC only: surrounding whitespace is part of a stored key, so
// distinct keys stay distinct on load.
func DecodeVideoKey(name string) VideoKey {
	return VideoKey(norm.NFC.String(name))
}

func (k VideoKey) String() string { return string(k) }

// Segment is a closed 1-D interval in frames or seconds depending on the
// pipeline stage.
type Segment struct {
	Start float64
	End   float64
}

// Length returns End-Start, or zero for inverted segments.
func (s Segment) Length() float64 {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}

// MarshalJSON encodes the segment as a two element array.
func (s Segment) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{s.Start, s.End})
}

// UnmarshalJSON decodes a two element array.
func (s *Segment) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decode segment: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("decode segment: expected 2 values, got %d", len(pair))
	}
	s.Start, s.End = pair[0], pair[1]
	return nil
}

// Detection is one scored, labelled temporal segment.
type Detection struct {
	Segment Segment `json:"segment"`
	Score   float64 `json:"score"`
	Label   string  `json:"label"`
}

// Validate checks the structural invariants of d. The returned error is an
// *evalerr.ValidationError without video or index context; callers fill
// those in.
func (d Detection) Validate() error {
	reason := ""
	switch {
	case math.IsNaN(d.Segment.Start) || math.IsNaN(d.Segment.End):
		reason = "segment bound is NaN"
	case math.IsInf(d.Segment.Start, 0) || math.IsInf(d.Segment.End, 0):
		reason = "segment bound is infinite"
	case d.Segment.Start < 0:
		reason = fmt.Sprintf("segment start %g is negative", d.Segment.Start)
	case d.Segment.Start > d.Segment.End:
		reason = fmt.Sprintf("segment start %g exceeds end %g", d.Segment.Start, d.Segment.End)
	case math.IsNaN(d.Score) || d.Score < 0 || d.Score > 1:
		reason = fmt.Sprintf("score %g outside [0,1]", d.Score)
	}
	if reason == "" {
		return nil
	}
	return &evalerr.ValidationError{Index: -1, Reason: reason}
}

// WindowMeta describes one sliding window occurrence of a video. A video
// evaluated with K windows has K distinct metas.
type WindowMeta struct {
	VideoKey         VideoKey `json:"video_key"`
	WindowStartFrame int      `json:"window_start_frame"`
	FeatureStride    int      `json:"feature_stride"`
	SampleStride     int      `json:"sample_stride"`
	OffsetFrames     int      `json:"offset_frames"`
	FPS              float64  `json:"fps"`
	Duration         float64  `json:"duration"`
	TotalFrames      int      `json:"total_frames"`
}

// SnippetStride is the frame spacing between consecutive feature positions.
func (m WindowMeta) SnippetStride() int {
	return m.FeatureStride * m.SampleStride
}
