package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Run describes an evaluation run in a transport-friendly format.
type Run struct {
	ID                    string   `json:"id"`
	Status                string   `json:"status"`
	Epoch                 int      `json:"epoch"`
	WorldSize             int      `json:"worldSize"`
	EMA                   bool     `json:"ema"`
	ConfigPath            string   `json:"configPath,omitempty"`
	ResultPath            string   `json:"resultPath,omitempty"`
	ResultSHA256          string   `json:"resultSha256,omitempty"`
	Videos                int      `json:"videos"`
	Detections            int      `json:"detections"`
	Dropped               int      `json:"dropped"`
	Suppressed            int      `json:"suppressed"`
	SerializationWarnings int      `json:"serializationWarnings"`
	Warnings              []string `json:"warnings"`
	ErrorMessage          string   `json:"errorMessage,omitempty"`
	CreatedAt             string   `json:"createdAt,omitempty"`
	UpdatedAt             string   `json:"updatedAt,omitempty"`
	FinishedAt            string   `json:"finishedAt,omitempty"`
	DurationSeconds       float64  `json:"durationSeconds,omitempty"`
}

// RunDetail adds the evaluator report and per-video counts to a Run.
type RunDetail struct {
	Run
	Report   json.RawMessage `json:"report,omitempty"`
	PerVideo []VideoCount    `json:"perVideo"`
}

// VideoCount is the number of final detections for one video.
type VideoCount struct {
	VideoKey   string `json:"videoKey"`
	Detections int    `json:"detections"`
}

// RunList is the /runs response.
type RunList struct {
	Runs []Run `json:"runs"`
}

// ResultSummary describes the persisted results document.
type ResultSummary struct {
	Path       string         `json:"path"`
	Videos     int            `json:"videos"`
	Detections int            `json:"detections"`
	PerVideo   []VideoSummary `json:"perVideo"`
}

// VideoSummary is one row of ResultSummary.
type VideoSummary struct {
	VideoKey   string  `json:"videoKey"`
	Detections int     `json:"detections"`
	TopScore   float64 `json:"topScore"`
	TopLabel   string  `json:"topLabel,omitempty"`
}

// VideoResults is the /results/{video} response.
type VideoResults struct {
	VideoKey   string      `json:"videoKey"`
	Detections []Detection `json:"detections"`
}

// Detection is one persisted record. Omitted fields stay omitted.
type Detection struct {
	Segment *[2]float64 `json:"segment,omitempty"`
	Label   string      `json:"label"`
	Score   *float64    `json:"score,omitempty"`
}

// HealthResponse is the /health response.
type HealthResponse struct {
	Status  string `json:"status"`
	UptimeS int64  `json:"uptimeS"`
	RunID   string `json:"runId,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
