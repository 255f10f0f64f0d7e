package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tadeval/internal/accumulator"
	"tadeval/internal/coords"
	"tadeval/internal/detection"
	"tadeval/internal/evalerr"
	"tadeval/internal/gather"
	"tadeval/internal/logging"
	"tadeval/internal/metrics"
	"tadeval/internal/nms"
	"tadeval/internal/rawpred"
	"tadeval/internal/runstore"
	"tadeval/internal/shadow"
	"tadeval/internal/sink"
)

// Options configures one worker's evaluation pass.
type Options struct {
	Rank      int
	WorldSize int

	Detector   Detector
	Dataset    Dataset
	Collective gather.Collective
	// Sink and Evaluator are only used on rank 0. A nil Evaluator or NoEval
	// skips evaluation.
	Sink      *sink.Sink
	Evaluator Evaluator
	NoEval    bool

	NMS             nms.Config
	BatchSize       int
	ReclaimInterval int
	Reclaimer       accumulator.Reclaimer
	// GatherTimeout bounds the wait for peers. Zero waits forever.
	GatherTimeout time.Duration
	// RawPredictionPath enables recording every window's proposals.
	RawPredictionPath string

	// Model and Shadow enable evaluating with shadow weights. The live
	// model is restored when the pass ends.
	Model  shadow.Model
	Shadow shadow.Snapshot

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Result reports one worker's pass. Final, Outcome and Report are only set on
// rank 0.
type Result struct {
	Rank       int
	Windows    int
	Recorded   int
	Dropped    int
	Suppressed int
	// Validation holds one *evalerr.ValidationError per dropped detection.
	Validation        []error
	GatherWait        time.Duration
	RawPredictionPath string

	Final   *detection.ResultMapping
	Outcome *sink.Outcome
	Report  *Report
}

// Warnings enumerates the recoverable problems of the pass.
func (r *Result) Warnings() []string {
	var out []string
	if r.Dropped > 0 {
		out = append(out, fmt.Sprintf("%d malformed detection(s) dropped on rank %d", r.Dropped, r.Rank))
	}
	if r.Outcome != nil && len(r.Outcome.Warnings) > 0 {
		out = append(out, fmt.Sprintf("%d result field(s) omitted during serialization", len(r.Outcome.Warnings)))
	}
	return out
}

// Summary converts a rank 0 result into a run store record.
func (r *Result) Summary() (runstore.Summary, error) {
	summary := runstore.Summary{
		Dropped:    r.Dropped,
		Suppressed: r.Suppressed,
		Warnings:   r.Warnings(),
	}
	if r.Final != nil {
		summary.Videos = r.Final.Len()
		summary.Detections = r.Final.Total()
		for _, entry := range r.Final.Entries() {
			summary.PerVideo = append(summary.PerVideo, runstore.VideoCount{
				VideoKey:   string(entry.Key),
				Detections: len(entry.Detections),
			})
		}
	}
	if r.Outcome != nil {
		summary.ResultPath = r.Outcome.Path
		summary.ResultSHA256 = r.Outcome.SHA256
		summary.SerializationWarnings = len(r.Outcome.Warnings)
	}
	if r.Report != nil {
		raw, err := json.Marshal(r.Report)
		if err != nil {
			return runstore.Summary{}, fmt.Errorf("encode report: %w", err)
		}
		summary.Report = raw
	}
	return summary, nil
}

// Engine runs the per-epoch evaluation pass for one worker.
type Engine struct {
	opts   Options
	logger *slog.Logger
}

// NewEngine validates opts and returns an Engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.WorldSize <= 0 {
		return nil, fmt.Errorf("world size must be positive, got %d", opts.WorldSize)
	}
	if opts.Rank < 0 || opts.Rank >= opts.WorldSize {
		return nil, fmt.Errorf("rank %d outside [0, %d)", opts.Rank, opts.WorldSize)
	}
	if opts.Detector == nil || opts.Dataset == nil || opts.Collective == nil {
		return nil, errors.New("detector, dataset and collective are required")
	}
	if opts.Rank == 0 && opts.Sink == nil {
		return nil, errors.New("rank 0 requires a result sink")
	}
	if opts.Shadow != nil && opts.Model == nil {
		return nil, errors.New("shadow weights require a model")
	}
	if err := opts.NMS.Validate(); err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	return &Engine{opts: opts, logger: logging.NewComponentLogger(opts.Logger, "evaluation")}, nil
}

// EvalOneEpoch evaluates this worker's shard and, on rank 0, persists and
// scores the merged results. When shadow weights are configured the whole
// pass runs with them loaded.
func (e *Engine) EvalOneEpoch(ctx context.Context) (*Result, error) {
	ctx = logging.WithRank(ctx, e.opts.Rank)
	if e.opts.Shadow == nil {
		return e.pass(ctx)
	}
	var result *Result
	err := shadow.WithShadow(ctx, e.opts.Model, e.opts.Shadow, func(ctx context.Context) error {
		var err error
		result, err = e.pass(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) pass(ctx context.Context) (*Result, error) {
	logger := logging.WithContext(ctx, e.logger)
	sliding := e.opts.Dataset.SlidingWindow()
	samples := Shard(e.opts.Dataset.Samples(), e.opts.Rank, e.opts.WorldSize)
	logger.Info("evaluation pass started",
		logging.Int("samples", len(samples)),
		logging.Int("world_size", e.opts.WorldSize),
		logging.Bool("sliding_window", sliding),
		logging.Bool("shadow", e.opts.Shadow != nil),
	)

	acc := accumulator.New(accumulator.Options{
		Logger:          e.opts.Logger,
		Metrics:         e.opts.Metrics,
		Reclaimer:       e.opts.Reclaimer,
		ReclaimInterval: e.opts.ReclaimInterval,
	})
	var recorder *rawpred.Recorder
	if e.opts.RawPredictionPath != "" {
		recorder = rawpred.NewRecorder(e.opts.RawPredictionPath, e.opts.Rank, e.opts.WorldSize)
	}

	result := &Result{Rank: e.opts.Rank}
	classes := e.opts.Dataset.Classes()
	for start := 0; start < len(samples); start += e.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+e.opts.BatchSize, len(samples))
		batch := Batch{Samples: samples[start:end]}
		out, err := e.opts.Detector.Forward(ctx, batch, false)
		if err != nil {
			return nil, fmt.Errorf("forward batch at sample %d: %w", start, err)
		}
		if len(out.Windows) != len(batch.Samples) {
			return nil, fmt.Errorf("forward batch at sample %d: detector returned %d windows for %d samples", start, len(out.Windows), len(batch.Samples))
		}
		for i, sample := range batch.Samples {
			pred := out.Windows[i]
			if pred.Meta.VideoKey != sample.Meta.VideoKey || pred.Meta.WindowStartFrame != sample.Meta.WindowStartFrame {
				return nil, fmt.Errorf("detector output for %q@%d does not match sample %q@%d",
					pred.Meta.VideoKey, pred.Meta.WindowStartFrame, sample.Meta.VideoKey, sample.Meta.WindowStartFrame)
			}
			proposals := pred.Proposals
			if len(proposals.Classes) == 0 && len(classes) > 0 && len(classes) == proposals.NumClasses() {
				proposals.Classes = classes
			}
			if recorder != nil {
				recorder.Add(sample.Meta, proposals)
			}
			dets, removed, err := e.postProcess(sample.Meta, proposals, sliding)
			if err != nil {
				return nil, err
			}
			result.Suppressed += removed
			if err := acc.Record(sample.Meta.VideoKey, dets); err != nil {
				result.Validation = append(result.Validation, unjoin(err)...)
			}
		}
		result.Windows += len(batch.Samples)
		e.opts.Metrics.AddWindows(len(batch.Samples))
	}
	result.Dropped = acc.Dropped()

	if recorder != nil {
		path, err := recorder.Flush()
		if err != nil {
			return nil, fmt.Errorf("save raw predictions: %w", err)
		}
		result.RawPredictionPath = path
		logger.Info("raw predictions saved", logging.String("path", path), logging.Int("windows", recorder.Len()))
	}

	local := acc.Mapping()
	result.Recorded = local.Total()
	merged, err := e.gather(ctx, local, result)
	if err != nil {
		return nil, err
	}
	if e.opts.Rank != 0 {
		logger.Info("evaluation pass finished", logging.Int("windows", result.Windows), logging.Int("detections", result.Recorded))
		return result, nil
	}

	final := merged
	if sliding {
		var removed int
		final, removed, err = nms.SuppressMapping(merged, e.opts.NMS)
		if err != nil {
			return nil, evalerr.Wrap(evalerr.ErrConfiguration, "nms", "post-gather", "", err)
		}
		result.Suppressed += removed
		e.opts.Metrics.AddSuppressed(removed)
	}
	result.Final = final

	outcome, err := e.opts.Sink.Persist(ctx, final)
	if err != nil {
		return nil, err
	}
	result.Outcome = outcome

	if e.opts.Evaluator != nil && !e.opts.NoEval {
		report, err := e.opts.Evaluator.Evaluate(ctx, outcome.Document)
		if err != nil {
			return nil, fmt.Errorf("evaluate: %w", err)
		}
		result.Report = &report
	}

	logger.Info("evaluation pass finished",
		logging.Int("windows", result.Windows),
		logging.Int("videos", final.Len()),
		logging.Int("detections", final.Total()),
		logging.Int("suppressed", result.Suppressed),
		logging.Int("dropped", result.Dropped),
	)
	return result, nil
}

// postProcess turns one window's proposals into detections in seconds.
// Non-sliding datasets see each video whole, so NMS runs here; sliding
// windows overlap and are suppressed after the gather instead.
func (e *Engine) postProcess(meta detection.WindowMeta, proposals nms.Proposals, sliding bool) ([]detection.Detection, int, error) {
	cands, err := nms.Candidates(proposals, e.opts.NMS)
	if err != nil {
		return nil, 0, fmt.Errorf("video %q window at frame %d: %w", meta.VideoKey, meta.WindowStartFrame, err)
	}
	removed := 0
	if !sliding {
		kept, err := nms.Suppress(cands, e.opts.NMS)
		if err != nil {
			return nil, 0, evalerr.Wrap(evalerr.ErrConfiguration, "nms", "per-window", "", err)
		}
		removed = len(cands) - len(kept)
		e.opts.Metrics.AddSuppressed(removed)
		cands = kept
	}
	dets, err := coords.ToSecondsAll(cands, meta)
	if err != nil {
		return nil, 0, err
	}
	return dets, removed, nil
}

func (e *Engine) gather(ctx context.Context, local *detection.ResultMapping, result *Result) (*detection.ResultMapping, error) {
	gctx := ctx
	if e.opts.GatherTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, e.opts.GatherTimeout)
		defer cancel()
	}
	started := time.Now()
	merged, err := e.opts.Collective.AllGather(gctx, e.opts.Rank, local)
	result.GatherWait = time.Since(started)
	e.opts.Metrics.ObserveGather(result.GatherWait)
	if err != nil {
		logging.ErrorWithContext(logging.WithContext(ctx, e.logger), "gather failed", "gather_failed",
			logging.Error(err),
			logging.Duration("waited", result.GatherWait),
			logging.String(logging.FieldErrorHint, "check that every rank started and can reach the gather socket"),
		)
		return nil, fmt.Errorf("gather: %w", err)
	}
	return merged, nil
}

func unjoin(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
