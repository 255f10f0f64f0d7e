package nms

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"tadeval/internal/detection"
)

// IoU returns the temporal intersection over union of two intervals. Two
// identical zero-length intervals overlap fully; any other zero union is 0.
func IoU(a, b detection.Segment) float64 {
	inter := math.Min(a.End, b.End) - math.Max(a.Start, b.Start)
	if inter < 0 {
		inter = 0
	}
	union := a.Length() + b.Length() - inter
	if union <= 0 {
		if a == b {
			return 1
		}
		return 0
	}
	return inter / union
}

type candidate struct {
	det   detection.Detection
	order int
}

// before orders candidates for selection: higher score first, then earlier
// start, earlier end, label, and finally canonical position.
func before(a, b candidate) bool {
	if a.det.Score != b.det.Score {
		return a.det.Score > b.det.Score
	}
	if a.det.Segment.Start != b.det.Segment.Start {
		return a.det.Segment.Start < b.det.Segment.Start
	}
	if a.det.Segment.End != b.det.Segment.End {
		return a.det.Segment.End < b.det.Segment.End
	}
	if a.det.Label != b.det.Label {
		return a.det.Label < b.det.Label
	}
	return a.order < b.order
}

// Suppress deduplicates one video's detections. The input slice is not
// modified. The result is sorted by descending final score and holds at most
// cfg.MaxSegNum detections.
func Suppress(dets []detection.Detection, cfg Config) ([]detection.Detection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(dets) == 0 {
		return []detection.Detection{}, nil
	}

	remaining := make([]candidate, len(dets))
	for i, d := range dets {
		remaining[i] = candidate{det: d}
	}
	// Canonical order first so results do not depend on input order.
	sort.SliceStable(remaining, func(i, j int) bool { return before(remaining[i], remaining[j]) })
	for i := range remaining {
		remaining[i].order = i
	}

	kept := make([]candidate, 0, len(remaining))
	for len(remaining) > 0 {
		best := 0
		for i := 1; i < len(remaining); i++ {
			if before(remaining[i], remaining[best]) {
				best = i
			}
		}
		pick := remaining[best]
		remaining = append(remaining[:best], remaining[best+1:]...)

		var (
			sumW     = pick.det.Score
			sumStart = pick.det.Score * pick.det.Segment.Start
			sumEnd   = pick.det.Score * pick.det.Segment.End
			voters   int
		)
		survivors := remaining[:0]
		for _, c := range remaining {
			if cfg.ClassAware && c.det.Label != pick.det.Label {
				survivors = append(survivors, c)
				continue
			}
			iou := IoU(pick.det.Segment, c.det.Segment)
			if iou <= cfg.IoUThreshold {
				survivors = append(survivors, c)
				continue
			}
			if cfg.VotingThresh > 0 && iou >= cfg.VotingThresh {
				w := c.det.Score
				sumW += w
				sumStart += w * c.det.Segment.Start
				sumEnd += w * c.det.Segment.End
				voters++
			}
			if cfg.Mode == ModeHard {
				continue
			}
			c.det.Score *= math.Exp(-(iou * iou) / cfg.Sigma)
			if c.det.Score < cfg.MinScore {
				continue
			}
			survivors = append(survivors, c)
		}
		remaining = survivors

		if voters > 0 && sumW > 0 {
			pick.det.Segment = detection.Segment{Start: sumStart / sumW, End: sumEnd / sumW}
		}
		kept = append(kept, pick)
	}

	sort.SliceStable(kept, func(i, j int) bool { return before(kept[i], kept[j]) })
	if len(kept) > cfg.MaxSegNum {
		kept = kept[:cfg.MaxSegNum]
	}
	out := make([]detection.Detection, len(kept))
	for i, c := range kept {
		out[i] = c.det
	}
	return out, nil
}

// SuppressMapping runs Suppress per video and returns a new mapping along
// with the number of candidates removed across all videos.
func SuppressMapping(m *detection.ResultMapping, cfg Config) (*detection.ResultMapping, int, error) {
	if err := cfg.Validate(); err != nil {
		return nil, 0, err
	}
	removed := 0
	var errs []error
	out := m.Replace(func(key detection.VideoKey, dets []detection.Detection) []detection.Detection {
		kept, err := Suppress(dets, cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("suppress %s: %w", key, err))
			return dets
		}
		removed += len(dets) - len(kept)
		return kept
	})
	if err := errors.Join(errs...); err != nil {
		return nil, 0, err
	}
	return out, removed, nil
}
