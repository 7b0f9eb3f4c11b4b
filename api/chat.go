package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/codecollection/bundlesearch/internal/log"
	"github.com/codecollection/bundlesearch/internal/pipeline"
)

// maxChatBodyBytes bounds the request body: question plus a reasonable
// amount of caller-supplied history.
const maxChatBodyBytes = 1 << 20

// chatHandler serves the conversational endpoint.
type chatHandler struct {
	pipeline Pipeline
	logger   log.Logger
}

func newChatHandler(p Pipeline, logger log.Logger) *chatHandler {
	return &chatHandler{pipeline: p, logger: logger}
}

func (h *chatHandler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.chat)
}

// chat answers one question. The request carries its own conversation
// history; nothing is stored between calls.
func (h *chatHandler) chat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)

	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", h.logger)
		return
	}

	resp, err := h.pipeline.Ask(r.Context(), req)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
			return
		}
		if r.Context().Err() != nil {
			// Client went away; no response will be read.
			h.logger.Debug("chat request cancelled", "error", err)
			return
		}
		h.logger.Error("chat request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to answer question", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, resp, h.logger)
}
