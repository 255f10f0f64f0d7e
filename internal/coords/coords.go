// Package coords converts window-relative feature positions into absolute
// video time and back.
package coords

import (
	"fmt"
	"math"

	"tadeval/internal/detection"
	"tadeval/internal/evalerr"
)

// Validate rejects window metadata that cannot be mapped.
func Validate(meta detection.WindowMeta) error {
	switch {
	case meta.FeatureStride <= 0:
		return invalid(meta, fmt.Sprintf("feature_stride must be positive, got %d", meta.FeatureStride))
	case meta.SampleStride <= 0:
		return invalid(meta, fmt.Sprintf("sample_stride must be positive, got %d", meta.SampleStride))
	case !(meta.FPS > 0) || math.IsInf(meta.FPS, 0):
		return invalid(meta, fmt.Sprintf("fps must be positive and finite, got %g", meta.FPS))
	case meta.WindowStartFrame < 0:
		return invalid(meta, fmt.Sprintf("window_start_frame must be non-negative, got %d", meta.WindowStartFrame))
	case meta.Duration < 0 || math.IsNaN(meta.Duration):
		return invalid(meta, fmt.Sprintf("duration must be non-negative, got %g", meta.Duration))
	case meta.TotalFrames < 0:
		return invalid(meta, fmt.Sprintf("total_frames must be non-negative, got %d", meta.TotalFrames))
	}
	return nil
}

func invalid(meta detection.WindowMeta, reason string) error {
	return evalerr.Wrap(evalerr.ErrConfiguration, "coords", string(meta.VideoKey), reason, nil)
}

// FrameAt returns the absolute frame for a feature index within the window.
func FrameAt(featureIndex float64, meta detection.WindowMeta) float64 {
	return featureIndex*float64(meta.SnippetStride()) + float64(meta.WindowStartFrame) + float64(meta.OffsetFrames)
}

// SecondsAt returns the absolute time for a feature index, clipped to the
// video. A zero duration means the length is unknown and only the lower bound
// is enforced.
func SecondsAt(featureIndex float64, meta detection.WindowMeta) float64 {
	return clip(FrameAt(featureIndex, meta)/meta.FPS, meta.Duration)
}

// ToSeconds maps a detection in feature units to one in seconds using the
// metadata of the window that produced it.
func ToSeconds(det detection.Detection, meta detection.WindowMeta) (detection.Detection, error) {
	if err := Validate(meta); err != nil {
		return detection.Detection{}, err
	}
	out := det
	out.Segment = detection.Segment{
		Start: SecondsAt(det.Segment.Start, meta),
		End:   SecondsAt(det.Segment.End, meta),
	}
	return out, nil
}

// ToSecondsAll maps every detection of one window.
func ToSecondsAll(dets []detection.Detection, meta detection.WindowMeta) ([]detection.Detection, error) {
	if err := Validate(meta); err != nil {
		return nil, err
	}
	out := make([]detection.Detection, len(dets))
	for i, det := range dets {
		out[i] = det
		out[i].Segment = detection.Segment{
			Start: SecondsAt(det.Segment.Start, meta),
			End:   SecondsAt(det.Segment.End, meta),
		}
	}
	return out, nil
}

// ToFrame converts absolute seconds to the nearest absolute frame.
func ToFrame(seconds float64, meta detection.WindowMeta) int {
	return int(math.Round(seconds * meta.FPS))
}

// ToFeatureIndex inverts SecondsAt for unclipped values.
func ToFeatureIndex(seconds float64, meta detection.WindowMeta) float64 {
	stride := float64(meta.SnippetStride())
	if stride == 0 {
		return 0
	}
	return (seconds*meta.FPS - float64(meta.WindowStartFrame) - float64(meta.OffsetFrames)) / stride
}

func clip(sec, duration float64) float64 {
	if sec < 0 {
		return 0
	}
	if duration > 0 && sec > duration {
		return duration
	}
	return sec
}
