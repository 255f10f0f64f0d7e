package evaluation

import (
	"context"
	"sort"

	"tadeval/internal/sink"
)

// ClassSummary aggregates the detections of one label.
type ClassSummary struct {
	Label        string  `json:"label"`
	Detections   int     `json:"detections"`
	MeanScore    float64 `json:"mean_score"`
	MaxScore     float64 `json:"max_score"`
	MeanDuration float64 `json:"mean_duration"`
	GroundTruth  int     `json:"ground_truth"`
}

// Report is what an Evaluator returns. Counts are over the persisted
// document, so omitted fields are excluded from the score and duration
// aggregates.
type Report struct {
	Evaluator     string         `json:"evaluator"`
	Videos        int            `json:"videos"`
	EmptyVideos   int            `json:"empty_videos"`
	Detections    int            `json:"detections"`
	GroundTruth   int            `json:"ground_truth"`
	Classes       []ClassSummary `json:"classes,omitempty"`
	UnknownLabels []string       `json:"unknown_labels,omitempty"`
}

// SummaryEvaluator reports per-class detection statistics next to the
// ground-truth instance counts of the evaluated subset.
type SummaryEvaluator struct {
	classes     []string
	groundTruth map[string]int
	gtTotal     int
}

// NewSummaryEvaluator counts ground truth once up front.
func NewSummaryEvaluator(src EvaluatorSource) *SummaryEvaluator {
	e := &SummaryEvaluator{
		classes:     append([]string(nil), src.Classes...),
		groundTruth: make(map[string]int),
	}
	if src.Database != nil {
		for _, key := range src.Database.Keys(src.Subset) {
			video, _ := src.Database.Get(key)
			for _, ann := range video.Annotations {
				e.groundTruth[ann.Label]++
				e.gtTotal++
			}
		}
	}
	return e
}

type classAccum struct {
	count     int
	scored    int
	scoreSum  float64
	maxScore  float64
	timed     int
	lengthSum float64
}

func (e *SummaryEvaluator) Evaluate(ctx context.Context, doc sink.Document) (Report, error) {
	report := Report{
		Evaluator:   string(EvaluatorSummary),
		Videos:      doc.Len(),
		GroundTruth: e.gtTotal,
	}
	known := make(map[string]bool, len(e.classes))
	for _, c := range e.classes {
		known[c] = true
	}

	acc := make(map[string]*classAccum)
	for _, video := range doc.Videos {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		if len(video.Records) == 0 {
			report.EmptyVideos++
		}
		for _, rec := range video.Records {
			report.Detections++
			a := acc[rec.Label]
			if a == nil {
				a = &classAccum{}
				acc[rec.Label] = a
			}
			a.count++
			if rec.Score != nil {
				a.scored++
				a.scoreSum += *rec.Score
				if *rec.Score > a.maxScore {
					a.maxScore = *rec.Score
				}
			}
			if rec.Segment != nil {
				a.timed++
				a.lengthSum += rec.Segment[1] - rec.Segment[0]
			}
		}
	}

	labels := make([]string, 0, len(e.classes)+len(acc))
	labels = append(labels, e.classes...)
	var unknown []string
	for label := range acc {
		if !known[label] {
			unknown = append(unknown, label)
		}
	}
	sort.Strings(unknown)
	labels = append(labels, unknown...)
	report.UnknownLabels = unknown

	for _, label := range labels {
		summary := ClassSummary{Label: label, GroundTruth: e.groundTruth[label]}
		if a := acc[label]; a != nil {
			summary.Detections = a.count
			summary.MaxScore = a.maxScore
			if a.scored > 0 {
				summary.MeanScore = a.scoreSum / float64(a.scored)
			}
			if a.timed > 0 {
				summary.MeanDuration = a.lengthSum / float64(a.timed)
			}
		}
		report.Classes = append(report.Classes, summary)
	}
	return report, nil
}
