package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateNMS(); err != nil {
		return err
	}
	if err := c.validateDataset(); err != nil {
		return err
	}
	if err := c.validateInference(); err != nil {
		return err
	}
	if err := c.validateEvaluation(); err != nil {
		return err
	}
	if err := c.validateDistributed(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateNMS() error {
	if err := c.NMSConfig().Validate(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDataset() error {
	switch c.Dataset.Kind {
	case DatasetSlidingWindow, DatasetPadding:
	default:
		return fmt.Errorf("dataset.kind must be %q or %q, got %q", DatasetSlidingWindow, DatasetPadding, c.Dataset.Kind)
	}
	if err := ensurePositiveMap(map[string]int{
		"dataset.window_size":    c.Dataset.WindowSize,
		"dataset.window_stride":  c.Dataset.WindowStride,
		"dataset.feature_stride": c.Dataset.FeatureStride,
		"dataset.sample_stride":  c.Dataset.SampleStride,
	}); err != nil {
		return err
	}
	if c.Dataset.WindowStride > c.Dataset.WindowSize {
		return errors.New("dataset.window_stride must not exceed dataset.window_size")
	}
	return nil
}

func (c *Config) validateInference() error {
	if c.Inference.ReclaimInterval < 0 {
		return errors.New("inference.reclaim_interval must be non-negative")
	}
	if c.Inference.BatchSize <= 0 {
		return errors.New("inference.batch_size must be positive")
	}
	if c.Inference.SaveRawPrediction && c.Inference.LoadFromRawPredictions &&
		filepath.Clean(c.Paths.RawPredictionOutputDir) == filepath.Clean(c.Paths.RawPredictionDir) {
		return errors.New("inference.save_raw_prediction with load_from_raw_predictions needs paths.raw_prediction_output_dir set apart from paths.raw_prediction_dir")
	}
	return nil
}

func (c *Config) validateEvaluation() error {
	switch c.Evaluation.Evaluator {
	case EvaluatorSummary, EvaluatorNone:
	default:
		return fmt.Errorf("evaluation.evaluator must be %q or %q, got %q", EvaluatorSummary, EvaluatorNone, c.Evaluation.Evaluator)
	}
	if c.Evaluation.Detector != DetectorRawPredictions {
		return fmt.Errorf("evaluation.detector must be %q, got %q", DetectorRawPredictions, c.Evaluation.Detector)
	}
	if c.Evaluation.EMA && c.Evaluation.Checkpoint == "" {
		return errors.New("evaluation.checkpoint must be set when evaluation.ema is true")
	}
	if c.Evaluation.Epoch < 0 {
		return errors.New("evaluation.epoch must be non-negative")
	}
	return nil
}

func (c *Config) validateDistributed() error {
	if c.Distributed.WorldSize <= 0 {
		return errors.New("distributed.world_size must be positive")
	}
	if c.Distributed.Rank < 0 || c.Distributed.Rank >= c.Distributed.WorldSize {
		return fmt.Errorf("distributed.rank %d outside [0, %d)", c.Distributed.Rank, c.Distributed.WorldSize)
	}
	if c.Distributed.GatherTimeoutSeconds < 0 {
		return errors.New("distributed.gather_timeout_seconds must be non-negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be non-negative")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
