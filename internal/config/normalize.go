package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDataset()
	c.normalizeEvaluation()
	if err := c.normalizeDistributed(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("TADEVAL_WORK_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.WorkDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	var err error
	if c.Paths.WorkDir, err = expandPath(strings.TrimSpace(c.Paths.WorkDir)); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.WorkDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.AnnotationFile, err = expandPath(strings.TrimSpace(c.Paths.AnnotationFile)); err != nil {
		return fmt.Errorf("paths.annotation_file: %w", err)
	}
	if c.Paths.ClassMapFile, err = expandPath(strings.TrimSpace(c.Paths.ClassMapFile)); err != nil {
		return fmt.Errorf("paths.class_map_file: %w", err)
	}
	if strings.TrimSpace(c.Paths.RawPredictionDir) == "" {
		c.Paths.RawPredictionDir = filepath.Join(c.Paths.WorkDir, outputsDirName)
	}
	if c.Paths.RawPredictionDir, err = expandPath(strings.TrimSpace(c.Paths.RawPredictionDir)); err != nil {
		return fmt.Errorf("paths.raw_prediction_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.RawPredictionOutputDir) == "" {
		c.Paths.RawPredictionOutputDir = c.Paths.RawPredictionDir
	}
	if c.Paths.RawPredictionOutputDir, err = expandPath(strings.TrimSpace(c.Paths.RawPredictionOutputDir)); err != nil {
		return fmt.Errorf("paths.raw_prediction_output_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeDataset() {
	c.Dataset.Kind = strings.ToLower(strings.TrimSpace(c.Dataset.Kind))
	if c.Dataset.Kind == "" {
		c.Dataset.Kind = DatasetSlidingWindow
	}
	c.Dataset.Subset = strings.TrimSpace(c.Dataset.Subset)
	if c.Dataset.WindowStride <= 0 {
		c.Dataset.WindowStride = c.Dataset.WindowSize
	}
	c.PostProcessing.SlidingWindow = c.Dataset.Kind == DatasetSlidingWindow
}

func (c *Config) normalizeEvaluation() {
	c.Evaluation.Evaluator = strings.ToLower(strings.TrimSpace(c.Evaluation.Evaluator))
	if c.Evaluation.Evaluator == "" {
		c.Evaluation.Evaluator = EvaluatorSummary
	}
	c.Evaluation.Detector = strings.ToLower(strings.TrimSpace(c.Evaluation.Detector))
	if c.Evaluation.Detector == "" {
		c.Evaluation.Detector = DetectorRawPredictions
	}
	c.Evaluation.Checkpoint = strings.TrimSpace(c.Evaluation.Checkpoint)
	if c.Evaluation.Checkpoint != "" {
		if expanded, err := expandPath(c.Evaluation.Checkpoint); err == nil {
			c.Evaluation.Checkpoint = expanded
		}
	}
}

func (c *Config) normalizeDistributed() error {
	if value, ok := lookupFirstEnv("TADEVAL_WORLD_SIZE", "WORLD_SIZE"); ok {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("world size from environment: %w", err)
		}
		c.Distributed.WorldSize = n
	}
	if value, ok := lookupFirstEnv("TADEVAL_RANK", "RANK"); ok {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("rank from environment: %w", err)
		}
		c.Distributed.Rank = n
	}
	if c.Distributed.WorldSize == 0 {
		c.Distributed.WorldSize = 1
	}
	if strings.TrimSpace(c.Distributed.Socket) == "" {
		c.Distributed.Socket = filepath.Join(c.Paths.WorkDir, gatherSocketName)
	}
	var err error
	if c.Distributed.Socket, err = expandPath(strings.TrimSpace(c.Distributed.Socket)); err != nil {
		return fmt.Errorf("distributed.socket: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func lookupFirstEnv(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}
