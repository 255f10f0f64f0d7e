package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"tadeval/internal/config"
	"tadeval/internal/nms"
)

func isolateEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{"TADEVAL_WORK_DIR", "TADEVAL_RANK", "TADEVAL_WORLD_SIZE", "RANK", "WORLD_SIZE"} {
		t.Setenv(key, "")
	}
	t.Chdir(t.TempDir())
	return home
}

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	home := isolateEnv(t)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved != filepath.Join(home, ".config", "tadeval", "config.toml") {
		t.Fatalf("unexpected resolved path %q", resolved)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantWork := filepath.Join(home, ".local", "share", "tadeval")
	if cfg.Paths.WorkDir != wantWork {
		t.Fatalf("unexpected work dir: got %q want %q", cfg.Paths.WorkDir, wantWork)
	}
	if cfg.Paths.RawPredictionDir != filepath.Join(wantWork, "outputs") {
		t.Fatalf("unexpected raw prediction dir: %q", cfg.Paths.RawPredictionDir)
	}
	if cfg.Distributed.Socket != filepath.Join(wantWork, "gather.sock") {
		t.Fatalf("unexpected socket: %q", cfg.Distributed.Socket)
	}
	if !cfg.PostProcessing.SlidingWindow {
		t.Fatal("expected sliding window derived from default dataset kind")
	}
	if cfg.ResultPath() != filepath.Join(wantWork, "result_detection.json") {
		t.Fatalf("unexpected result path %q", cfg.ResultPath())
	}
	if cfg.GatherTimeout() != 0 {
		t.Fatalf("expected unbounded gather by default, got %v", cfg.GatherTimeout())
	}
}

func TestLoadCustomConfigOverridesDefaults(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tadeval.toml")
	content := `
[paths]
work_dir = "` + filepath.ToSlash(filepath.Join(dir, "work")) + `"

[nms]
use_soft_nms = false
iou_threshold = 0.5
voting_thresh = 0

[dataset]
kind = "Padding"
window_size = 256
window_stride = 0

[distributed]
world_size = 4
rank = 3
gather_timeout_seconds = 90
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config at %q, got %q (exists=%v)", path, resolved, exists)
	}
	if cfg.PostProcessing.SlidingWindow {
		t.Fatal("padding dataset must not enable sliding window post-processing")
	}
	if cfg.Dataset.WindowStride != 256 {
		t.Fatalf("expected stride to default to window size, got %d", cfg.Dataset.WindowStride)
	}
	if cfg.GatherTimeout() != 90*time.Second {
		t.Fatalf("unexpected gather timeout %v", cfg.GatherTimeout())
	}
	nmsCfg := cfg.NMSConfig()
	if nmsCfg.Mode != nms.ModeHard || nmsCfg.IoUThreshold != 0.5 || nmsCfg.VotingThresh != 0 {
		t.Fatalf("unexpected nms config %+v", nmsCfg)
	}
	if nmsCfg.PreNMSTopK != config.Default().PostProcessing.PreNMSTopK {
		t.Fatalf("expected default top-k, got %d", nmsCfg.PreNMSTopK)
	}
	if got := cfg.RawPredictionPath(3); got != filepath.Join(dir, "work", "outputs", "raw_predictions_rank3.json") {
		t.Fatalf("unexpected raw prediction path %q", got)
	}
}

func TestLoadHonoursDistributedEnvironment(t *testing.T) {
	isolateEnv(t)
	t.Setenv("WORLD_SIZE", "8")
	t.Setenv("RANK", "5")
	t.Setenv("TADEVAL_RANK", "2")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Distributed.WorldSize != 8 {
		t.Fatalf("expected world size 8, got %d", cfg.Distributed.WorldSize)
	}
	if cfg.Distributed.Rank != 2 {
		t.Fatalf("expected TADEVAL_RANK to win, got %d", cfg.Distributed.Rank)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"rank out of range", "[distributed]\nworld_size = 2\nrank = 2\n", "distributed.rank"},
		{"unknown dataset", "[dataset]\nkind = \"frames\"\n", "dataset.kind"},
		{"bad sigma", "[nms]\nsigma = 0\n", "sigma"},
		{"ema without checkpoint", "[evaluation]\nema = true\n", "evaluation.checkpoint"},
		{"raw prediction conflict", "[inference]\nsave_raw_prediction = true\nload_from_raw_predictions = true\n", "raw_prediction_output_dir"},
		{"unknown key", "[nms]\nthreshold = 0.3\n", "parse config"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			isolateEnv(t)
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, _, _, err := config.Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadAllowsResavingIntoSeparateDirectory(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tadeval.toml")
	content := `
[paths]
work_dir = "` + filepath.ToSlash(filepath.Join(dir, "work")) + `"
raw_prediction_output_dir = "` + filepath.ToSlash(filepath.Join(dir, "resaved")) + `"

[inference]
save_raw_prediction = true
load_from_raw_predictions = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.RawPredictionDir != filepath.Join(dir, "work", "outputs") {
		t.Fatalf("unexpected replay dir %q", cfg.Paths.RawPredictionDir)
	}
	if got := cfg.RawPredictionPath(1); got != filepath.Join(dir, "resaved", "raw_predictions_rank1.json") {
		t.Fatalf("unexpected raw prediction path %q", got)
	}
}

func TestSampleConfigParsesAndValidates(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("sample is not valid TOML: %v", err)
	}
	if _, ok := raw["post_processing"]; !ok {
		t.Fatal("sample config missing post_processing section")
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
}

func TestEnsureDirectoriesCreatesWorkAndOutputs(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.Paths.LogDir = filepath.Join(base, "work", "logs")
	cfg.Paths.RawPredictionDir = filepath.Join(base, "work", "outputs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.WorkDir, cfg.Paths.LogDir, cfg.Paths.RawPredictionDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q: %v", dir, err)
		}
	}
}
