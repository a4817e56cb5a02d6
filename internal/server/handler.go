// Package server exposes the monitor's status over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tmater/dnswatch/internal/logger"
	"github.com/tmater/dnswatch/internal/monitor"
	"github.com/tmater/dnswatch/internal/proto"
	"github.com/tmater/dnswatch/internal/store"
)

const (
	defaultAnomalyLimit = 50
	maxAnomalyLimit     = 500
)

// Monitor is the part of monitor.Monitor the handlers read.
type Monitor interface {
	Snapshot() proto.Snapshot
	State() monitor.State
	Waves() uint64
}

// Handler holds the dependencies for HTTP handlers.
type Handler struct {
	monitor  Monitor
	history  History
	gatherer prometheus.Gatherer
	users    map[string]string
	limiter  *rateLimiter
	log      *logrus.Entry
}

// Options configure a Handler. History and Gatherer are optional.
type Options struct {
	History  History
	Gatherer prometheus.Gatherer
	// Users maps user names to bcrypt hashes. Empty disables auth.
	Users map[string]string
}

// New creates a new Handler.
func New(m Monitor, opts Options) *Handler {
	return &Handler{
		monitor:  m,
		history:  opts.History,
		gatherer: opts.Gatherer,
		users:    opts.Users,
		limiter:  newRateLimiter(),
		log:      logger.For("server"),
	}
}

// History lists recently persisted anomalies.
type History interface {
	Recent(ctx context.Context, limit int) ([]store.Anomaly, error)
}

// Routes registers all HTTP routes.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /api/status", h.requireUser(http.HandlerFunc(h.handleStatus)))
	mux.Handle("GET /api/anomalies", h.requireUser(http.HandlerFunc(h.handleAnomalies)))
	if h.gatherer != nil {
		mux.Handle("GET /metrics", h.requireUser(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
	return mux
}

// handleHealth reports the monitor state. It is never authenticated.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := h.monitor.State()
	code := http.StatusOK
	if state == monitor.Stopped {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"state": state.String(), "waves": h.monitor.Waves()}, h.log)
}

// handleStatus returns the latest result of every probed key, grouped by target.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Snapshot(), h.log)
}

// handleAnomalies returns recent persisted anomalies, newest first.
func (h *Handler) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "anomaly history not configured", http.StatusNotFound)
		return
	}

	limit := defaultAnomalyLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxAnomalyLimit)
	}

	anomalies, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		h.log.WithError(err).Error("failed to list anomalies")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if anomalies == nil {
		anomalies = []store.Anomaly{}
	}
	writeJSON(w, http.StatusOK, anomalies, h.log)
}

func writeJSON(w http.ResponseWriter, code int, v any, log *logrus.Entry) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}
