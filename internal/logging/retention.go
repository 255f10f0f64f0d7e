package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tadeval/internal/config"
)

// LogPath returns the file NewFromConfig appends to.
func LogPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, LogFileName)
}

// PruneLogs removes log files under paths.log_dir whose last write is older
// than logging.retention_days, and returns how many were removed. The
// active log file is never removed; zero retention keeps everything.
func PruneLogs(logger *slog.Logger, cfg *config.Config, now time.Time) int {
	if cfg == nil || cfg.Logging.RetentionDays <= 0 || strings.TrimSpace(cfg.Paths.LogDir) == "" {
		return 0
	}
	entries, err := os.ReadDir(cfg.Paths.LogDir)
	if err != nil {
		return 0
	}
	cutoff := now.AddDate(0, 0, -cfg.Logging.RetentionDays)
	active := LogPath(cfg)

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !isLogName(entry.Name()) {
			continue
		}
		path := filepath.Join(cfg.Paths.LogDir, entry.Name())
		if path == active {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
				String("path", path),
				Error(err),
				String(FieldErrorHint, "check permissions on paths.log_dir"),
				String(FieldImpact, "old log file remains on disk"),
			)
			continue
		}
		removed++
	}
	if removed > 0 && logger != nil {
		logger.Info("old logs pruned",
			Int("removed", removed),
			Int("retention_days", cfg.Logging.RetentionDays),
			String(FieldEventType, "log_pruned"),
		)
	}
	return removed
}

// isLogName matches *.log files and their rotated copies (tadeval.log.1).
func isLogName(name string) bool {
	return strings.HasSuffix(name, ".log") || strings.Contains(name, ".log.")
}
