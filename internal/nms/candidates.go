package nms

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"tadeval/internal/detection"
)

// Proposals is one window's raw head output: N segments with an N×C class
// score matrix.
type Proposals struct {
	Segments []detection.Segment `json:"segments"`
	Scores   [][]float64         `json:"scores"`
	Classes  []string            `json:"classes,omitempty"`
}

// NumClasses returns C, or zero for an empty proposal set.
func (p Proposals) NumClasses() int {
	if len(p.Scores) == 0 {
		return 0
	}
	return len(p.Scores[0])
}

// Check verifies the score matrix is rectangular and matches the segments.
func (p Proposals) Check() error {
	if len(p.Scores) != len(p.Segments) {
		return fmt.Errorf("proposals: %d segments but %d score rows", len(p.Segments), len(p.Scores))
	}
	classes := p.NumClasses()
	for i, row := range p.Scores {
		if len(row) != classes {
			return fmt.Errorf("proposals: score row %d has %d classes, want %d", i, len(row), classes)
		}
	}
	if len(p.Classes) > 0 && len(p.Classes) != classes {
		return fmt.Errorf("proposals: %d class names for %d score columns", len(p.Classes), classes)
	}
	return nil
}

func (p Proposals) label(class int) string {
	if class < len(p.Classes) {
		return p.Classes[class]
	}
	return strconv.Itoa(class)
}

type scored struct {
	flat  int
	score float64
}

// Candidates flattens proposals into scored detections ready for Suppress.
// Pairs at or below the pre-NMS threshold are dropped, the rest are sorted by
// descending score (stable on flattened index) and cut to the top-k.
func Candidates(p Proposals, cfg Config) ([]detection.Detection, error) {
	if err := p.Check(); err != nil {
		return nil, err
	}
	classes := p.NumClasses()
	if classes == 0 {
		return nil, nil
	}

	var pool []scored
	if cfg.Multiclass {
		pool = make([]scored, 0, len(p.Segments)*classes)
		for i, row := range p.Scores {
			for c, s := range row {
				if s > cfg.PreNMSScoreThreshold {
					pool = append(pool, scored{flat: i*classes + c, score: s})
				}
			}
		}
	} else {
		pool = make([]scored, 0, len(p.Segments))
		for i, row := range p.Scores {
			best := -1
			for c, s := range row {
				if math.IsNaN(s) {
					continue
				}
				if best < 0 || s > row[best] {
					best = c
				}
			}
			if best >= 0 && row[best] > cfg.PreNMSScoreThreshold {
				pool = append(pool, scored{flat: i*classes + best, score: row[best]})
			}
		}
	}

	sort.SliceStable(pool, func(i, j int) bool { return pool[i].score > pool[j].score })
	if cfg.PreNMSTopK > 0 && len(pool) > cfg.PreNMSTopK {
		pool = pool[:cfg.PreNMSTopK]
	}

	out := make([]detection.Detection, len(pool))
	for i, item := range pool {
		seg, class := item.flat/classes, item.flat%classes
		out[i] = detection.Detection{
			Segment: p.Segments[seg],
			Score:   item.score,
			Label:   p.label(class),
		}
	}
	return out, nil
}
