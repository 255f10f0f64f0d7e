package evaluation

import (
	"context"
	"fmt"
	"strings"

	"tadeval/internal/annotations"
	"tadeval/internal/rawpred"
	"tadeval/internal/sink"
)

// DetectorKind selects a Detector implementation.
type DetectorKind string

const DetectorRawPredictions DetectorKind = "raw_predictions"

// DatasetKind selects how videos are cut into samples.
type DatasetKind string

const (
	DatasetSlidingWindow DatasetKind = "sliding_window"
	DatasetPadding       DatasetKind = "padding"
)

// EvaluatorKind selects an Evaluator implementation.
type EvaluatorKind string

const (
	EvaluatorSummary EvaluatorKind = "summary"
	EvaluatorNone    EvaluatorKind = "none"
)

// ParseDetectorKind validates a configured detector name.
func ParseDetectorKind(value string) (DetectorKind, error) {
	switch kind := DetectorKind(strings.ToLower(strings.TrimSpace(value))); kind {
	case DetectorRawPredictions:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown detector %q", value)
	}
}

// ParseDatasetKind validates a configured dataset kind.
func ParseDatasetKind(value string) (DatasetKind, error) {
	switch kind := DatasetKind(strings.ToLower(strings.TrimSpace(value))); kind {
	case DatasetSlidingWindow, DatasetPadding:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown dataset kind %q", value)
	}
}

// ParseEvaluatorKind validates a configured evaluator name.
func ParseEvaluatorKind(value string) (EvaluatorKind, error) {
	switch kind := EvaluatorKind(strings.ToLower(strings.TrimSpace(value))); kind {
	case EvaluatorSummary, EvaluatorNone:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown evaluator %q", value)
	}
}

// DetectorSource carries what detectors may be built from.
type DetectorSource struct {
	RawPredictionDir string
}

// NewDetector builds the detector named by kind.
func NewDetector(kind DetectorKind, src DetectorSource) (Detector, error) {
	switch kind {
	case DetectorRawPredictions:
		index, err := rawpred.LoadDir(src.RawPredictionDir)
		if err != nil {
			return nil, err
		}
		if index.Len() == 0 {
			return nil, fmt.Errorf("no raw predictions found in %s", src.RawPredictionDir)
		}
		return NewReplayDetector(index), nil
	default:
		return nil, fmt.Errorf("unknown detector %q", kind)
	}
}

// DatasetSource carries the inputs shared by every dataset kind.
type DatasetSource struct {
	Database *annotations.Database
	Subset   string
	Classes  []string
	Layout   annotations.WindowLayout
}

// NewDataset plans the samples for every video of the subset.
func NewDataset(kind DatasetKind, src DatasetSource) (Dataset, error) {
	if src.Database == nil {
		return nil, fmt.Errorf("dataset %q: no annotation database", kind)
	}
	layout := src.Layout
	switch kind {
	case DatasetSlidingWindow:
		layout.Sliding = true
	case DatasetPadding:
		layout.Sliding = false
	default:
		return nil, fmt.Errorf("unknown dataset kind %q", kind)
	}

	ds := &AnnotationDataset{sliding: layout.Sliding, classes: append([]string(nil), src.Classes...)}
	for _, key := range src.Database.Keys(src.Subset) {
		video, _ := src.Database.Get(key)
		windows, err := annotations.PlanWindows(key, video, layout)
		if err != nil {
			return nil, err
		}
		for _, meta := range windows {
			ds.samples = append(ds.samples, Sample{Meta: meta, GroundTruth: video.Annotations})
		}
	}
	return ds, nil
}

// EvaluatorSource carries ground truth for evaluators that need it.
type EvaluatorSource struct {
	Database *annotations.Database
	Subset   string
	Classes  []string
}

// NewEvaluator builds the evaluator named by kind.
func NewEvaluator(kind EvaluatorKind, src EvaluatorSource) (Evaluator, error) {
	switch kind {
	case EvaluatorSummary:
		return NewSummaryEvaluator(src), nil
	case EvaluatorNone:
		return noneEvaluator{}, nil
	default:
		return nil, fmt.Errorf("unknown evaluator %q", kind)
	}
}

// AnnotationDataset serves windows planned from an annotation database.
type AnnotationDataset struct {
	samples []Sample
	sliding bool
	classes []string
}

func (d *AnnotationDataset) Samples() []Sample   { return d.samples }
func (d *AnnotationDataset) SlidingWindow() bool { return d.sliding }
func (d *AnnotationDataset) Classes() []string   { return d.classes }

// ReplayDetector serves proposals recorded by an earlier pass.
type ReplayDetector struct {
	index *rawpred.Index
}

// NewReplayDetector wraps an already loaded index.
func NewReplayDetector(index *rawpred.Index) *ReplayDetector {
	return &ReplayDetector{index: index}
}

func (d *ReplayDetector) Forward(ctx context.Context, batch Batch, returnLoss bool) (Output, error) {
	if returnLoss {
		return Output{}, fmt.Errorf("raw prediction replay cannot compute losses")
	}
	out := Output{Windows: make([]WindowPrediction, 0, len(batch.Samples))}
	for _, sample := range batch.Samples {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		proposals, ok := d.index.Lookup(sample.Meta)
		if !ok {
			return Output{}, fmt.Errorf("no raw prediction for video %q window at frame %d", sample.Meta.VideoKey, sample.Meta.WindowStartFrame)
		}
		out.Windows = append(out.Windows, WindowPrediction{Meta: sample.Meta, Proposals: proposals})
	}
	return out, nil
}

type noneEvaluator struct{}

func (noneEvaluator) Evaluate(context.Context, sink.Document) (Report, error) {
	return Report{Evaluator: string(EvaluatorNone)}, nil
}
