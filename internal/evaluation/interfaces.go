package evaluation

import (
	"context"

	"tadeval/internal/annotations"
	"tadeval/internal/detection"
	"tadeval/internal/nms"
	"tadeval/internal/sink"
)

// Sample is one model input: a single window of one video.
type Sample struct {
	Meta detection.WindowMeta
	// GroundTruth carries the video's annotations when the dataset has them.
	GroundTruth []annotations.Annotation
}

// Batch groups consecutive samples for one forward call.
type Batch struct {
	Samples []Sample
}

// WindowPrediction is the detector output for one sample. Proposals are in
// window-relative feature units.
type WindowPrediction struct {
	Meta      detection.WindowMeta
	Proposals nms.Proposals
}

// Output is the result of one forward call. Losses is set only when the
// caller asked for them; otherwise Windows holds one prediction per sample
// in batch order.
type Output struct {
	Losses  map[string]float64
	Windows []WindowPrediction
}

// Detector produces proposals for a batch of windows.
type Detector interface {
	Forward(ctx context.Context, batch Batch, returnLoss bool) (Output, error)
}

// Dataset enumerates the windows to evaluate.
type Dataset interface {
	Samples() []Sample
	// SlidingWindow reports whether videos are split into overlapping
	// windows, which moves NMS after the gather.
	SlidingWindow() bool
	Classes() []string
}

// Evaluator scores a results document.
type Evaluator interface {
	Evaluate(ctx context.Context, doc sink.Document) (Report, error)
}
