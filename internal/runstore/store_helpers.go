package runstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

const runColumns = "id, status, epoch, world_size, ema, config_path, result_path, result_sha256, videos, detections, dropped, suppressed, serialization_warnings, warnings_json, report_json, error_message, created_at, updated_at, finished_at"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run          Run
		status       string
		ema          int64
		configPath   sql.NullString
		resultPath   sql.NullString
		resultSHA    sql.NullString
		warningsJSON sql.NullString
		reportJSON   sql.NullString
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
		finishedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&status,
		&run.Epoch,
		&run.WorldSize,
		&ema,
		&configPath,
		&resultPath,
		&resultSHA,
		&run.Videos,
		&run.Detections,
		&run.Dropped,
		&run.Suppressed,
		&run.SerializationWarnings,
		&warningsJSON,
		&reportJSON,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}

	run.Status = Status(status)
	run.EMA = ema != 0
	run.ConfigPath = configPath.String
	run.ResultPath = resultPath.String
	run.ResultSHA256 = resultSHA.String
	run.ErrorMessage = errorMessage.String
	if warningsJSON.Valid && warningsJSON.String != "" {
		_ = json.Unmarshal([]byte(warningsJSON.String), &run.Warnings)
	}
	if reportJSON.Valid && reportJSON.String != "" {
		run.Report = json.RawMessage(reportJSON.String)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		run.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		run.UpdatedAt = updated
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			run.FinishedAt = &finished
		}
	}
	return &run, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// timeLayout keeps a fixed-width fraction so stored timestamps sort
// lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
