package runstore

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of an evaluation run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrInvalidTransition reports a status change the run's current state does
// not allow.
var ErrInvalidTransition = errors.New("invalid run status transition")

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Run is one evaluation pass.
type Run struct {
	ID                    string          `json:"id"`
	Status                Status          `json:"status"`
	Epoch                 int             `json:"epoch"`
	WorldSize             int             `json:"world_size"`
	EMA                   bool            `json:"ema"`
	ConfigPath            string          `json:"config_path,omitempty"`
	ResultPath            string          `json:"result_path,omitempty"`
	ResultSHA256          string          `json:"result_sha256,omitempty"`
	Videos                int             `json:"videos"`
	Detections            int             `json:"detections"`
	Dropped               int             `json:"dropped"`
	Suppressed            int             `json:"suppressed"`
	SerializationWarnings int             `json:"serialization_warnings"`
	Warnings              []string        `json:"warnings,omitempty"`
	Report                json.RawMessage `json:"report,omitempty"`
	ErrorMessage          string          `json:"error_message,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
	FinishedAt            *time.Time      `json:"finished_at,omitempty"`
}

// Duration returns the wall time of a finished run.
func (r *Run) Duration() time.Duration {
	if r == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.CreatedAt)
}

// Spec describes a run about to start.
type Spec struct {
	Epoch      int
	WorldSize  int
	EMA        bool
	ConfigPath string
}

// VideoCount is the number of final detections for one video.
type VideoCount struct {
	VideoKey   string `json:"video_key"`
	Detections int    `json:"detections"`
}

// Summary is what a completed run records.
type Summary struct {
	ResultPath            string
	ResultSHA256          string
	Videos                int
	Detections            int
	Dropped               int
	Suppressed            int
	SerializationWarnings int
	Warnings              []string
	Report                json.RawMessage
	PerVideo              []VideoCount
}
