package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"tadeval/internal/nms"
	"tadeval/internal/rawpred"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory, input file, and bind address configuration.
type Paths struct {
	WorkDir          string `toml:"work_dir"`
	LogDir           string `toml:"log_dir"`
	AnnotationFile   string `toml:"annotation_file"`
	ClassMapFile     string `toml:"class_map_file"`
	RawPredictionDir string `toml:"raw_prediction_dir"`
	// RawPredictionOutputDir receives recorded proposals. It defaults to
	// RawPredictionDir and must differ from it when replay is also on.
	RawPredictionOutputDir string `toml:"raw_prediction_output_dir"`
	APIBind                string `toml:"api_bind"`
}

// NMS contains suppression settings applied per video.
type NMS struct {
	UseSoftNMS   bool    `toml:"use_soft_nms"`
	Sigma        float64 `toml:"sigma"`
	IoUThreshold float64 `toml:"iou_threshold"`
	MinScore     float64 `toml:"min_score"`
	MaxSegNum    int     `toml:"max_seg_num"`
	Multiclass   bool    `toml:"multiclass"`
	ClassAware   bool    `toml:"class_aware"`
	VotingThresh float64 `toml:"voting_thresh"` // 0 disables voting
}

// PostProcessing contains candidate selection and persistence settings.
type PostProcessing struct {
	SaveDict     bool    `toml:"save_dict"`
	PreNMSThresh float64 `toml:"pre_nms_thresh"`
	PreNMSTopK   int     `toml:"pre_nms_topk"`
	// SlidingWindow is derived from the dataset kind during normalization.
	SlidingWindow bool `toml:"-"`
}

// Inference contains settings for the forward pass.
type Inference struct {
	SaveRawPrediction      bool `toml:"save_raw_prediction"`
	LoadFromRawPredictions bool `toml:"load_from_raw_predictions"`
	ReclaimInterval        int  `toml:"reclaim_interval"`
	BatchSize              int  `toml:"batch_size"`
}

// Dataset describes how videos are cut into windows. Sizes are in frames.
type Dataset struct {
	Kind          string `toml:"kind"`
	Subset        string `toml:"subset"`
	WindowSize    int    `toml:"window_size"`
	WindowStride  int    `toml:"window_stride"`
	FeatureStride int    `toml:"feature_stride"`
	SampleStride  int    `toml:"sample_stride"`
	OffsetFrames  int    `toml:"offset_frames"`
}

// Evaluation selects the collaborators used for an evaluation pass.
type Evaluation struct {
	EMA        bool   `toml:"ema"`
	Checkpoint string `toml:"checkpoint"`
	Evaluator  string `toml:"evaluator"`
	Detector   string `toml:"detector"`
	Epoch      int    `toml:"epoch"`
}

// Distributed contains data-parallel settings.
type Distributed struct {
	WorldSize            int    `toml:"world_size"`
	Rank                 int    `toml:"rank"`
	Socket               string `toml:"socket"`
	GatherTimeoutSeconds int    `toml:"gather_timeout_seconds"` // 0 waits forever
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for tadeval.
//
// Configuration sections by subsystem:
//   - Paths: working directory, inputs, and API bind address
//   - NMS: per-video suppression
//   - PostProcessing: candidate selection and result persistence
//   - Inference: raw prediction replay and memory reclamation
//   - Dataset: sliding window layout
//   - Evaluation: EMA swap, detector, and evaluator selection
//   - Distributed: world size, rank, and gather socket
//   - Logging: log format, level, and retention
type Config struct {
	Paths          Paths          `toml:"paths"`
	NMS            NMS            `toml:"nms"`
	PostProcessing PostProcessing `toml:"post_processing"`
	Inference      Inference      `toml:"inference"`
	Dataset        Dataset        `toml:"dataset"`
	Evaluation     Evaluation     `toml:"evaluation"`
	Distributed    Distributed    `toml:"distributed"`
	Logging        Logging        `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/tadeval/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tadeval.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the working, output, and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.LogDir, c.Paths.RawPredictionDir, c.Paths.RawPredictionOutputDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// NMSConfig translates the TOML sections into the suppression engine config.
func (c *Config) NMSConfig() nms.Config {
	mode := nms.ModeHard
	if c.NMS.UseSoftNMS {
		mode = nms.ModeSoft
	}
	return nms.Config{
		Mode:                 mode,
		Sigma:                c.NMS.Sigma,
		IoUThreshold:         c.NMS.IoUThreshold,
		MinScore:             c.NMS.MinScore,
		MaxSegNum:            c.NMS.MaxSegNum,
		Multiclass:           c.NMS.Multiclass,
		ClassAware:           c.NMS.ClassAware,
		VotingThresh:         c.NMS.VotingThresh,
		PreNMSScoreThreshold: c.PostProcessing.PreNMSThresh,
		PreNMSTopK:           c.PostProcessing.PreNMSTopK,
	}
}

// ResultPath is where persisted detections are written.
func (c *Config) ResultPath() string {
	return filepath.Join(c.Paths.WorkDir, resultFileName)
}

// ResultLockPath guards concurrent writers of ResultPath.
func (c *Config) ResultLockPath() string {
	return filepath.Join(c.Paths.WorkDir, ".result.lock")
}

// RunStorePath is the SQLite database holding run history.
func (c *Config) RunStorePath() string {
	return filepath.Join(c.Paths.WorkDir, "runs.db")
}

// RawPredictionPath returns the file one rank records its proposals to.
func (c *Config) RawPredictionPath(rank int) string {
	return filepath.Join(c.Paths.RawPredictionOutputDir, rawpred.FileName(rank))
}

// GatherTimeout returns the collective deadline, or zero when peers are
// awaited indefinitely.
func (c *Config) GatherTimeout() time.Duration {
	if c.Distributed.GatherTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Distributed.GatherTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
