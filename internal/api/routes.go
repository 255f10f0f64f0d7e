package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

const defaultRunLimit = 50

// NewRouter builds the read-only HTTP surface.
func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}
	r.Get("/runs", listRunsHandler(cfg))
	r.Get("/runs/{id}", getRunHandler(cfg))
	r.Get("/results", resultsHandler(cfg))
	r.Get("/results/{video}", videoResultsHandler(cfg))

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
			RunID:   cfg.RunID,
		})
	}
}

func listRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultRunLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = n
		}
		statuses, err := ParseStatuses(r.URL.Query().Get("status"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		runs, err := cfg.Runs.List(r.Context(), limit, statuses...)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, RunList{Runs: runs})
	}
}

func getRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "run id required", "BAD_REQUEST")
			return
		}
		detail, err := cfg.Runs.Describe(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if detail == nil {
			WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, detail)
	}
}

func resultsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := cfg.Results.Summary()
		if errors.Is(err, ErrNoResults) {
			WriteError(w, http.StatusNotFound, "no results written yet", "NOT_FOUND")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, summary)
	}
}

func videoResultsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video := chi.URLParam(r, "video")
		results, err := cfg.Results.Video(video)
		if errors.Is(err, ErrNoResults) {
			WriteError(w, http.StatusNotFound, "no results written yet", "NOT_FOUND")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if results == nil {
			WriteError(w, http.StatusNotFound, "video not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, results)
	}
}
