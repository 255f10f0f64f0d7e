package testsupport

import (
	"path/filepath"
	"testing"

	"tadeval/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.LogDir = filepath.Join(base, "work", "logs")
	cfgVal.Paths.RawPredictionDir = filepath.Join(base, "work", "outputs")
	cfgVal.Paths.RawPredictionOutputDir = cfgVal.Paths.RawPredictionDir
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Distributed.Socket = filepath.Join(base, "gather.sock")
	cfgVal.PostProcessing.SlidingWindow = cfgVal.Dataset.Kind == config.DatasetSlidingWindow

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithSaveDict enables writing result_detection.json.
func WithSaveDict() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.PostProcessing.SaveDict = true
	}
}

// WithDatasetKind switches between sliding window and padded datasets.
func WithDatasetKind(kind string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Dataset.Kind = kind
		b.cfg.PostProcessing.SlidingWindow = kind == config.DatasetSlidingWindow
	}
}

// WithWorldSize sets the data-parallel world size.
func WithWorldSize(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Distributed.WorldSize = n
	}
}

// WithAnnotations writes the annotation fixture and class map into the base
// directory and points the config at them.
func WithAnnotations(videos map[string]Video, classes []string) ConfigOption {
	return func(b *configBuilder) {
		annotationPath := filepath.Join(b.baseDir, "annotations.json")
		classMapPath := filepath.Join(b.baseDir, "category_idx.txt")
		WriteAnnotations(b.t, annotationPath, videos)
		WriteLines(b.t, classMapPath, classes)
		b.cfg.Paths.AnnotationFile = annotationPath
		b.cfg.Paths.ClassMapFile = classMapPath
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.WorkDir)
}
