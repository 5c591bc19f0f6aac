package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/transit-data-tools/transitperf/store"
	"github.com/transit-data-tools/transitperf/utils"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.st.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "error",
			"store":     "disconnected",
			"timestamp": utils.Iso8601Now(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"store":     "connected",
		"timestamp": utils.Iso8601Now(),
	})
}

// handleListRuns handles GET /api/runs.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	runs, err := s.st.ListRuns(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleGetRun handles GET /api/runs/{runID}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	run, err := s.st.GetRun(ctx, chi.URLParam(r, "runID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleAggregates handles GET /api/runs/{runID}/aggregates.
// Query params: route_id, metric, day_type (all optional).
func (s *Server) handleAggregates(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	runID := chi.URLParam(r, "runID")
	if _, err := s.st.GetRun(ctx, runID); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	f := store.AggregateFilter{
		RouteID: r.URL.Query().Get("route_id"),
		Metric:  r.URL.Query().Get("metric"),
		DayType: r.URL.Query().Get("day_type"),
	}
	rows, err := s.st.Aggregates(ctx, runID, f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query aggregates")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"aggregates": rows, "count": len(rows)})
}

// handleQuality handles GET /api/runs/{runID}/quality.
func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rep, err := s.st.QualityReport(ctx, chi.URLParam(r, "runID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get quality report")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
