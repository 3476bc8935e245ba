package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/alertsync/internal/feed"
	"github.com/t77yq/alertsync/internal/history"
	"github.com/t77yq/alertsync/internal/model"
	"github.com/t77yq/alertsync/internal/monitor"
	"github.com/t77yq/alertsync/internal/poller"
)

// Server is the presentation boundary: it exposes the synchronizer's
// materialized state and forwards user intents. All feed semantics
// live in the synchronizer; handlers here are thin.
type Server struct {
	sync    *feed.Synchronizer
	counter *poller.CounterPoller
	stats   *monitor.StatsReporter
	log     history.ResolutionStorage
	logger  *zap.Logger
	httpSrv *http.Server
}

// NewServer creates an API server bound to addr.
func NewServer(addr string, sync *feed.Synchronizer, counter *poller.CounterPoller, stats *monitor.StatsReporter, log history.ResolutionStorage, logger *zap.Logger) *Server {
	s := &Server{
		sync:    sync,
		counter: counter,
		stats:   stats,
		log:     log,
		logger:  logger.Named("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /alerts", s.handleAlerts)
	mux.HandleFunc("POST /alerts/load", s.handleLoadMore)
	mux.HandleFunc("POST /alerts/{id}/resolve", s.handleResolve)
	mux.HandleFunc("GET /counter", s.handleCounter)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /history", s.handleHistory)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start starts serving in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("API server listening", zap.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler returns the underlying handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Alerts []model.Alert      `json:"alerts"`
		Cutoff int64              `json:"cutoff"`
		State  model.SessionState `json:"state"`
		Error  string             `json:"error,omitempty"`
	}{
		Alerts: s.sync.Snapshot(),
		Cutoff: s.sync.Cutoff(),
		State:  s.sync.State(),
	}
	if err := s.sync.LastError(); err != nil {
		resp.Error = err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLoadMore(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.LoadMore(r.Context()); err != nil {
		s.writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "fetch failed, try again",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{
		"count": len(s.sync.Snapshot()),
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid alert id",
		})
		return
	}

	if err := s.sync.Resolve(r.Context(), id); err != nil {
		s.writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "resolve failed, try again",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"resolved": id})
}

func (s *Server) handleCounter(w http.ResponseWriter, r *http.Request) {
	value, ok := s.counter.Latest()
	if !ok {
		s.writeJSON(w, http.StatusOK, map[string]any{"available": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"available":  true,
		"value":      value.Value,
		"updated_at": value.UpdatedAt,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.stats.GetStats())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}

	resolutions, err := s.log.List(r.Context(), offset, limit)
	if err != nil {
		s.logger.Error("Failed to list history", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "history unavailable",
		})
		return
	}
	total, err := s.log.Count(r.Context())
	if err != nil {
		s.logger.Error("Failed to count history", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "history unavailable",
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"resolutions": resolutions,
		"total":       total,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
