package api

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"tadeval/internal/detection"
	"tadeval/internal/runstore"
	"tadeval/internal/sink"
)

// RunReader abstracts run store queries needed by the API.
type RunReader interface {
	List(ctx context.Context, limit int, statuses ...runstore.Status) ([]*runstore.Run, error)
	Get(ctx context.Context, id string) (*runstore.Run, error)
	VideoCounts(ctx context.Context, id string) ([]runstore.VideoCount, error)
}

// RunService exposes read-only run operations returning API DTOs.
type RunService struct {
	store RunReader
}

// NewRunService constructs a RunService around the provided reader.
func NewRunService(store RunReader) *RunService {
	if store == nil {
		return nil
	}
	return &RunService{store: store}
}

// List returns the newest runs, optionally filtered by status.
func (s *RunService) List(ctx context.Context, limit int, statuses ...runstore.Status) ([]Run, error) {
	if s == nil || s.store == nil {
		return []Run{}, nil
	}
	runs, err := s.store.List(ctx, limit, statuses...)
	if err != nil {
		return nil, err
	}
	return FromRuns(runs), nil
}

// Describe fetches a single run with its per-video counts. It returns nil
// when the run does not exist.
func (s *RunService) Describe(ctx context.Context, id string) (*RunDetail, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	run, err := s.store.Get(ctx, id)
	if err != nil || run == nil {
		return nil, err
	}
	counts, err := s.store.VideoCounts(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := FromRunDetail(run, counts)
	return &detail, nil
}

// ParseStatuses validates a comma separated status filter.
func ParseStatuses(raw string) ([]runstore.Status, error) {
	var out []runstore.Status
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		switch status := runstore.Status(part); status {
		case runstore.StatusPending, runstore.StatusRunning, runstore.StatusCompleted, runstore.StatusFailed:
			out = append(out, status)
		default:
			return nil, fmt.Errorf("unknown status %q", part)
		}
	}
	return out, nil
}

// ErrNoResults reports that no results document has been written yet.
var ErrNoResults = errors.New("no results document")

// ResultService reads the persisted results document.
type ResultService struct {
	path string
}

// NewResultService serves the document at path.
func NewResultService(path string) *ResultService {
	return &ResultService{path: path}
}

func (s *ResultService) load() (sink.Document, error) {
	doc, err := sink.Load(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return sink.Document{}, ErrNoResults
	}
	return doc, err
}

// Summary returns per-video counts of the current document.
func (s *ResultService) Summary() (ResultSummary, error) {
	doc, err := s.load()
	if err != nil {
		return ResultSummary{}, err
	}
	return FromDocument(s.path, doc), nil
}

// Video returns one video's records. The key is NFC-normalized first so it
// matches the keys workers wrote.
func (s *ResultService) Video(name string) (*VideoResults, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	key := detection.NewVideoKey(name)
	records, ok := doc.Get(key)
	if !ok {
		return nil, nil
	}
	out := FromRecords(string(key), records)
	return &out, nil
}
