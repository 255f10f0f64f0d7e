package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"tadeval/internal/detection"
	"tadeval/internal/evalerr"
	"tadeval/internal/fileutil"
	"tadeval/internal/logging"
	"tadeval/internal/metrics"
)

const lockRetryDelay = 50 * time.Millisecond

// Options configures a Sink.
type Options struct {
	// Save enables writing the document to Path. Without it Persist only
	// builds the document in memory.
	Save     bool
	Path     string
	LockPath string
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Outcome describes one Persist call.
type Outcome struct {
	Document Document
	// Warnings lists every omitted field as an *evalerr.SerializationError.
	Warnings []error
	// Path is set when the document was written to disk.
	Path   string
	SHA256 string
}

// Sink turns the final mapping into the persisted results document.
type Sink struct {
	opts   Options
	logger *slog.Logger
}

// New returns a Sink.
func New(opts Options) *Sink {
	return &Sink{opts: opts, logger: logging.NewComponentLogger(opts.Logger, "sink")}
}

// Persist builds the results document for mapping and, when saving is
// enabled, writes it under an exclusive file lock. Field-level serialization
// problems are returned as warnings rather than failing the call.
func (s *Sink) Persist(ctx context.Context, mapping *detection.ResultMapping) (*Outcome, error) {
	doc, warnings := Build(mapping)
	logger := logging.WithContext(ctx, s.logger)
	for _, w := range warnings {
		var serr *evalerr.SerializationError
		attrs := []logging.Attr{
			logging.Error(w),
			logging.String(logging.FieldImpact, "field omitted from persisted results"),
			logging.String(logging.FieldErrorHint, "check the detector output for NaN or infinite values"),
		}
		if errors.As(w, &serr) {
			attrs = append(attrs, logging.String(logging.FieldVideoKey, serr.VideoKey), logging.String("field", serr.Field))
		}
		logging.WarnWithContext(logger, "result field not serializable", "result_field_omitted", attrs...)
	}
	s.opts.Metrics.AddSerializationWarnings(len(warnings))

	out := &Outcome{Document: doc, Warnings: warnings}
	if !s.opts.Save {
		return out, nil
	}
	if s.opts.Path == "" {
		return nil, evalerr.Wrap(evalerr.ErrConfiguration, "sink", "persist", "result path is empty", nil)
	}

	if err := s.write(ctx, doc); err != nil {
		return nil, err
	}
	digest, err := fileutil.SHA256File(s.opts.Path)
	if err != nil {
		return nil, fmt.Errorf("hash results: %w", err)
	}
	out.Path = s.opts.Path
	out.SHA256 = digest
	logger.Info("results persisted",
		logging.String("path", s.opts.Path),
		logging.Int("videos", doc.Len()),
		logging.Int("detections", doc.Total()),
		logging.Int("warnings", len(warnings)))
	return out, nil
}

func (s *Sink) write(ctx context.Context, doc Document) error {
	lockPath := s.opts.LockPath
	if lockPath == "" {
		lockPath = s.opts.Path + ".lock"
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("create result directory: %w", err)
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("acquire result lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("acquire result lock %s: not acquired", lockPath)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logging.WarnWithContext(s.logger, "failed to release result lock", "result_lock_release_failed",
				logging.String("lock", lockPath),
				logging.Error(err),
				logging.String(logging.FieldImpact, "the next writer may wait on a stale lock"),
				logging.String(logging.FieldErrorHint, "remove the lock file if no tadeval process is running"))
		}
	}()

	if err := fileutil.WriteJSONAtomic(s.opts.Path, doc); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

// Load reads a persisted results document.
func Load(path string) (Document, error) {
	var doc Document
	if err := fileutil.ReadJSON(path, &doc); err != nil {
		return Document{}, fmt.Errorf("load results: %w", err)
	}
	return doc, nil
}
