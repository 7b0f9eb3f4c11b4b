package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/codecollection/bundlesearch/internal/log"
	"github.com/codecollection/bundlesearch/internal/pipeline"
	"github.com/codecollection/bundlesearch/internal/telemetry"
)

const (
	defaultTraceLimit    = 20
	maxTraceLimit        = 100
	defaultAnalysisHours = 24
	maxAnalysisHours     = 24 * 30
)

// debugHandler exposes the telemetry log and the dry-run diagnosis.
type debugHandler struct {
	pipeline Pipeline
	traces   *telemetry.Log
	logger   log.Logger
}

func newDebugHandler(p Pipeline, traces *telemetry.Log, logger log.Logger) *debugHandler {
	return &debugHandler{pipeline: p, traces: traces, logger: logger}
}

func (h *debugHandler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/debug/traces", h.listTraces)
	mux.HandleFunc("GET /api/debug/analysis", h.analysis)
	mux.HandleFunc("POST /api/debug/dry-run", h.dryRun)
}

// listTraces returns recent telemetry records, newest first by default.
// Query parameters: filter (all|no_match|success), sort (newest|oldest|
// most_items|fewest_items), limit.
func (h *debugHandler) listTraces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter, err := telemetry.ParseFilter(q.Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error(), h.logger)
		return
	}
	order, err := telemetry.ParseSort(q.Get("sort"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_sort", err.Error(), h.logger)
		return
	}
	limit, err := parseBoundedInt(q.Get("limit"), defaultTraceLimit, maxTraceLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_limit", err.Error(), h.logger)
		return
	}

	records := h.traces.Recent(limit, filter, order)
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(records),
		"traces": records,
	}, h.logger)
}

// analysis returns the aggregate quality report over a trailing window.
// Query parameter: window, in hours.
func (h *debugHandler) analysis(w http.ResponseWriter, r *http.Request) {
	hours, err := parseBoundedInt(r.URL.Query().Get("window"), defaultAnalysisHours, maxAnalysisHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_window", err.Error(), h.logger)
		return
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	writeJSON(w, http.StatusOK, h.traces.Analyze(since), h.logger)
}

// dryRun answers the question through the full pipeline and returns the
// response together with its trace and detected issues.
func (h *debugHandler) dryRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)

	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", h.logger)
		return
	}

	diag, err := h.pipeline.DryRun(r.Context(), req)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
			return
		}
		if r.Context().Err() != nil {
			h.logger.Debug("dry-run request cancelled", "error", err)
			return
		}
		h.logger.Error("dry-run request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to run question", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, diag, h.logger)
}

// parseBoundedInt parses a positive query integer with a default and a cap.
func parseBoundedInt(s string, def, max int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errors.New("must be a positive integer")
	}
	if n > max {
		return max, nil
	}
	return n, nil
}
