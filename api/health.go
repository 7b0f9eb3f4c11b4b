package api

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codecollection/bundlesearch/internal/log"
)

// healthHandler handles health check endpoints.
type healthHandler struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

func newHealthHandler(pool *pgxpool.Pool, logger log.Logger) *healthHandler {
	return &healthHandler{pool: pool, logger: logger}
}

func (h *healthHandler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.liveness)
	mux.HandleFunc("GET /ready", h.readiness)
}

// liveness returns 200 OK if the process is alive.
func (h *healthHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness returns 200 OK when dependencies are usable. Without a database
// pool the in-memory corpus is always ready.
func (h *healthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.pool != nil {
		if err := h.pool.Ping(r.Context()); err != nil {
			h.logger.Error("readiness check failed", "error", err)
			http.Error(w, "database not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
