package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Create records a new pending run.
func (s *Store) Create(ctx context.Context, spec Spec) (*Run, error) {
	id := uuid.NewString()
	timestamp := formatTime(time.Now())
	worldSize := spec.WorldSize
	if worldSize <= 0 {
		worldSize = 1
	}
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO runs (id, status, epoch, world_size, ema, config_path, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		StatusPending,
		spec.Epoch,
		worldSize,
		boolToInt(spec.EMA),
		nullableString(spec.ConfigPath),
		timestamp,
		timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return s.Get(ctx, id)
}

// Get fetches a run by ID. It returns nil without error when no run exists.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// List returns the most recent runs first, optionally filtered by status.
// A limit of zero or less returns every run.
func (s *Store) List(ctx context.Context, limit int, statuses ...Status) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Start moves a pending run to running.
func (s *Store) Start(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusPending, StatusRunning)
}

// Complete records the outcome of a running run together with its per-video
// detection counts.
func (s *Store) Complete(ctx context.Context, id string, summary Summary) error {
	warnings, err := json.Marshal(summary.Warnings)
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}
	var report any
	if len(summary.Report) > 0 {
		report = string(summary.Report)
	}

	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin complete tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		now := formatTime(time.Now())
		res, err := tx.ExecContext(ctx,
			`UPDATE runs SET status = ?, result_path = ?, result_sha256 = ?, videos = ?, detections = ?,
                 dropped = ?, suppressed = ?, serialization_warnings = ?, warnings_json = ?, report_json = ?,
                 updated_at = ?, finished_at = ?
             WHERE id = ? AND status = ?`,
			StatusCompleted,
			nullableString(summary.ResultPath),
			nullableString(summary.ResultSHA256),
			summary.Videos,
			summary.Detections,
			summary.Dropped,
			summary.Suppressed,
			summary.SerializationWarnings,
			string(warnings),
			report,
			now,
			now,
			id,
			StatusRunning,
		)
		if err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
		if err := expectOneRow(res, id, StatusCompleted); err != nil {
			return err
		}
		for i, vc := range summary.PerVideo {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO run_videos (run_id, video_key, position, detections) VALUES (?, ?, ?, ?)`,
				id, vc.VideoKey, i, vc.Detections,
			); err != nil {
				return fmt.Errorf("record video %q: %w", vc.VideoKey, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit run: %w", err)
		}
		return nil
	})
}

// Fail marks a pending or running run as failed.
func (s *Store) Fail(ctx context.Context, id string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET status = ?, error_message = ?, updated_at = ?, finished_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusFailed, msg, now, now, id, StatusPending, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	return expectOneRow(res, id, StatusFailed)
}

// VideoCounts returns the per-video detection counts of a completed run in
// result order.
func (s *Store) VideoCounts(ctx context.Context, id string) ([]VideoCount, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT video_key, detections FROM run_videos WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("list video counts: %w", err)
	}
	defer rows.Close()

	var counts []VideoCount
	for rows.Next() {
		var vc VideoCount
		if err := rows.Scan(&vc.VideoKey, &vc.Detections); err != nil {
			return nil, fmt.Errorf("scan video count: %w", err)
		}
		counts = append(counts, vc)
	}
	return counts, rows.Err()
}

// Remove deletes a run and its video counts.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// PruneFinished deletes finished runs older than cutoff.
func (s *Store) PruneFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM runs WHERE status IN (?, ?) AND finished_at < ?`,
		StatusCompleted, StatusFailed, formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) transition(ctx context.Context, id string, from, to Status) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, formatTime(time.Now()), id, from,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return expectOneRow(res, id, to)
}

func expectOneRow(res sql.Result, id string, to Status) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: run %s cannot become %s", ErrInvalidTransition, id, to)
	}
	return nil
}
