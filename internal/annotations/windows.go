package annotations

import (
	"fmt"

	"tadeval/internal/detection"
)

// WindowLayout describes how a video is cut into model inputs. Sizes are in
// frames.
type WindowLayout struct {
	Sliding       bool
	WindowSize    int
	WindowStride  int
	FeatureStride int
	SampleStride  int
	OffsetFrames  int
}

// PlanWindows returns one WindowMeta per model input for video. A sliding
// layout starts a window every WindowStride frames until a window reaches
// the last frame; any other layout yields a single padded window at frame 0.
func PlanWindows(key detection.VideoKey, video Video, layout WindowLayout) ([]detection.WindowMeta, error) {
	fps := video.FrameRate()
	if fps <= 0 {
		return nil, fmt.Errorf("video %q: frame rate unknown (frame=%d duration=%g)", key, video.Frame, video.Duration)
	}
	if layout.FeatureStride <= 0 || layout.SampleStride <= 0 {
		return nil, fmt.Errorf("video %q: strides must be positive", key)
	}
	base := detection.WindowMeta{
		VideoKey:      key,
		FeatureStride: layout.FeatureStride,
		SampleStride:  layout.SampleStride,
		OffsetFrames:  layout.OffsetFrames,
		FPS:           fps,
		Duration:      video.Duration,
		TotalFrames:   video.Frame,
	}
	if !layout.Sliding {
		return []detection.WindowMeta{base}, nil
	}
	if layout.WindowSize <= 0 || layout.WindowStride <= 0 {
		return nil, fmt.Errorf("video %q: window size and stride must be positive", key)
	}

	var windows []detection.WindowMeta
	for start := 0; ; start += layout.WindowStride {
		w := base
		w.WindowStartFrame = start
		windows = append(windows, w)
		if start+layout.WindowSize >= video.Frame {
			break
		}
	}
	return windows, nil
}
