// Package accumulator buffers raw detections per video on one worker while
// inference batches stream through.
package accumulator

import (
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"tadeval/internal/detection"
	"tadeval/internal/evalerr"
	"tadeval/internal/logging"
	"tadeval/internal/metrics"
)

// Reclaimer releases memory between batches. It is best effort only.
type Reclaimer interface {
	Reclaim()
}

// ReclaimerFunc adapts a function to Reclaimer.
type ReclaimerFunc func()

func (f ReclaimerFunc) Reclaim() { f() }

// NopReclaimer does nothing.
type NopReclaimer struct{}

func (NopReclaimer) Reclaim() {}

// HeapReclaimer returns freed heap pages to the operating system.
type HeapReclaimer struct{}

func (HeapReclaimer) Reclaim() { debug.FreeOSMemory() }

// Options configures an Accumulator.
type Options struct {
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Reclaimer Reclaimer
	// ReclaimInterval triggers the reclaimer every N recorded batches. Zero
	// disables reclamation.
	ReclaimInterval int
}

// Accumulator collects detections keyed by video. Memory grows with every
// detection recorded; bounding happens later at candidate selection.
type Accumulator struct {
	mu        sync.Mutex
	mapping   *detection.ResultMapping
	batches   int
	dropped   int
	logger    *slog.Logger
	metrics   *metrics.Metrics
	reclaimer Reclaimer
	interval  int
}

// New returns an empty accumulator.
func New(opts Options) *Accumulator {
	reclaimer := opts.Reclaimer
	if reclaimer == nil {
		reclaimer = NopReclaimer{}
	}
	return &Accumulator{
		mapping:   detection.NewResultMapping(),
		logger:    logging.NewComponentLogger(opts.Logger, "accumulator"),
		metrics:   opts.Metrics,
		reclaimer: reclaimer,
		interval:  opts.ReclaimInterval,
	}
}

// Record appends dets under key, creating the entry when absent. Malformed
// detections are dropped one by one; the returned error joins a
// *evalerr.ValidationError for each of them and the rest are kept.
func (a *Accumulator) Record(key detection.VideoKey, dets []detection.Detection) error {
	valid := make([]detection.Detection, 0, len(dets))
	var errs []error
	for i, det := range dets {
		if err := det.Validate(); err != nil {
			var verr *evalerr.ValidationError
			if errors.As(err, &verr) {
				verr.VideoKey = string(key)
				verr.Index = i
			}
			errs = append(errs, err)
			logging.WarnWithContext(a.logger, "malformed detection dropped", "detection_dropped",
				logging.String(logging.FieldVideoKey, string(key)),
				logging.Int("index", i),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "inspect detector output for inverted segments or unnormalized scores"),
				logging.String(logging.FieldImpact, "detection excluded from results"),
			)
			continue
		}
		valid = append(valid, det)
	}

	a.mu.Lock()
	a.mapping.Append(key, valid...)
	a.dropped += len(errs)
	a.batches++
	reclaim := a.interval > 0 && a.batches%a.interval == 0
	a.mu.Unlock()

	a.metrics.AddRecorded(len(valid))
	a.metrics.AddDropped(len(errs))
	if reclaim {
		a.reclaimer.Reclaim()
		a.metrics.IncReclaims()
	}
	return errors.Join(errs...)
}

// Mapping returns a copy of everything recorded so far.
func (a *Accumulator) Mapping() *detection.ResultMapping {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mapping.Clone()
}

// Dropped returns the number of detections rejected so far.
func (a *Accumulator) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Batches returns the number of Record calls so far.
func (a *Accumulator) Batches() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.batches
}
