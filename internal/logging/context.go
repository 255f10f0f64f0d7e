package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRunID identifies one evaluation run across every rank.
	FieldRunID = "run_id"
	// FieldRank is the data-parallel worker index.
	FieldRank = "rank"
	// FieldVideoKey is the video a log line concerns.
	FieldVideoKey = "video_key"
	// FieldEpoch is the evaluated checkpoint epoch.
	FieldEpoch = "epoch"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step for an operator.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldCorrelationID is the standardized key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
)

type contextKey int

const (
	runIDKey contextKey = iota
	rankKey
	requestIDKey
)

// WithRunID tags ctx with an evaluation run identifier.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext returns the run identifier stored in ctx.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(runIDKey).(string)
	return id, ok && id != ""
}

// WithRank tags ctx with the worker rank.
func WithRank(ctx context.Context, rank int) context.Context {
	return context.WithValue(ctx, rankKey, rank)
}

// RankFromContext returns the worker rank stored in ctx.
func RankFromContext(ctx context.Context) (int, bool) {
	if ctx == nil {
		return 0, false
	}
	rank, ok := ctx.Value(rankKey).(int)
	return rank, ok
}

// WithRequestID tags ctx with an HTTP request identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request identifier stored in ctx.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok && id != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if rank, ok := RankFromContext(ctx); ok {
		fields = append(fields, slog.Int(FieldRank, rank))
	}
	if rid, ok := RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
