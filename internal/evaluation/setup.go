package evaluation

import (
	"fmt"
	"log/slog"

	"tadeval/internal/accumulator"
	"tadeval/internal/annotations"
	"tadeval/internal/config"
	"tadeval/internal/evalerr"
	"tadeval/internal/gather"
	"tadeval/internal/metrics"
	"tadeval/internal/shadow"
	"tadeval/internal/sink"
)

// Components are the collaborators shared by every worker of one run.
type Components struct {
	Database   *annotations.Database
	Classes    []string
	Detector   Detector
	Dataset    Dataset
	Evaluator  Evaluator
	Checkpoint *shadow.Checkpoint
}

// LoadComponents resolves the configured detector, dataset and evaluator.
// Every input file is read here so a misconfigured run fails before any
// worker starts.
func LoadComponents(cfg *config.Config) (*Components, error) {
	detectorKind, err := ParseDetectorKind(cfg.Evaluation.Detector)
	if err != nil {
		return nil, evalerr.Wrap(evalerr.ErrConfiguration, "setup", "detector", "", err)
	}
	datasetKind, err := ParseDatasetKind(cfg.Dataset.Kind)
	if err != nil {
		return nil, evalerr.Wrap(evalerr.ErrConfiguration, "setup", "dataset", "", err)
	}
	evaluatorKind, err := ParseEvaluatorKind(cfg.Evaluation.Evaluator)
	if err != nil {
		return nil, evalerr.Wrap(evalerr.ErrConfiguration, "setup", "evaluator", "", err)
	}
	if detectorKind == DetectorRawPredictions && !cfg.Inference.LoadFromRawPredictions {
		return nil, evalerr.Wrap(evalerr.ErrConfiguration, "setup", "detector",
			"the raw_predictions detector requires inference.load_from_raw_predictions", nil)
	}

	db, err := annotations.LoadDatabase(cfg.Paths.AnnotationFile)
	if err != nil {
		return nil, evalerr.Wrap(evalerr.ErrConfiguration, "setup", "annotations", "", err)
	}
	classes, err := annotations.ReadClassMap(cfg.Paths.ClassMapFile)
	if err != nil {
		return nil, evalerr.Wrap(evalerr.ErrConfiguration, "setup", "class map", "", err)
	}

	comps := &Components{Database: db, Classes: classes}
	comps.Dataset, err = NewDataset(datasetKind, DatasetSource{
		Database: db,
		Subset:   cfg.Dataset.Subset,
		Classes:  classes,
		Layout: annotations.WindowLayout{
			WindowSize:    cfg.Dataset.WindowSize,
			WindowStride:  cfg.Dataset.WindowStride,
			FeatureStride: cfg.Dataset.FeatureStride,
			SampleStride:  cfg.Dataset.SampleStride,
			OffsetFrames:  cfg.Dataset.OffsetFrames,
		},
	})
	if err != nil {
		return nil, evalerr.Wrap(evalerr.ErrConfiguration, "setup", "dataset", "", err)
	}
	comps.Detector, err = NewDetector(detectorKind, DetectorSource{RawPredictionDir: cfg.Paths.RawPredictionDir})
	if err != nil {
		return nil, evalerr.Wrap(evalerr.ErrConfiguration, "setup", "detector", "", err)
	}
	comps.Evaluator, err = NewEvaluator(evaluatorKind, EvaluatorSource{
		Database: db,
		Subset:   cfg.Dataset.Subset,
		Classes:  classes,
	})
	if err != nil {
		return nil, evalerr.Wrap(evalerr.ErrConfiguration, "setup", "evaluator", "", err)
	}

	if cfg.Evaluation.EMA {
		ckpt, err := shadow.LoadCheckpoint(cfg.Evaluation.Checkpoint)
		if err != nil {
			return nil, evalerr.Wrap(evalerr.ErrConfiguration, "setup", "checkpoint", "", err)
		}
		if !ckpt.HasShadow() {
			return nil, evalerr.Wrap(evalerr.ErrConfiguration, "setup", "checkpoint",
				fmt.Sprintf("%s has no shadow weights", cfg.Evaluation.Checkpoint), nil)
		}
		comps.Checkpoint = ckpt
	}
	return comps, nil
}

// WorkerOptions builds the engine options for one rank. Each rank gets its
// own model replica when shadow weights are in use.
func (c *Components) WorkerOptions(cfg *config.Config, rank int, collective gather.Collective, noEval bool, logger *slog.Logger, m *metrics.Metrics) (Options, error) {
	opts := Options{
		Rank:            rank,
		WorldSize:       cfg.Distributed.WorldSize,
		Detector:        c.Detector,
		Dataset:         c.Dataset,
		Collective:      collective,
		NMS:             cfg.NMSConfig(),
		BatchSize:       cfg.Inference.BatchSize,
		ReclaimInterval: cfg.Inference.ReclaimInterval,
		Reclaimer:       accumulator.HeapReclaimer{},
		GatherTimeout:   cfg.GatherTimeout(),
		Logger:          logger,
		Metrics:         m,
	}
	if cfg.Inference.SaveRawPrediction {
		opts.RawPredictionPath = cfg.RawPredictionPath(rank)
	}
	if rank == 0 {
		opts.Sink = sink.New(sink.Options{
			Save:     cfg.PostProcessing.SaveDict,
			Path:     cfg.ResultPath(),
			LockPath: cfg.ResultLockPath(),
			Logger:   logger,
			Metrics:  m,
		})
		opts.Evaluator = c.Evaluator
		opts.NoEval = noEval
	}
	if c.Checkpoint != nil {
		model, err := shadow.NewParameterStore(c.Checkpoint.Live)
		if err != nil {
			return Options{}, fmt.Errorf("rank %d model: %w", rank, err)
		}
		opts.Model = model
		opts.Shadow = c.Checkpoint.Shadow
	}
	return opts, nil
}
