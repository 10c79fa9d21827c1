package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"breakout_go/internal/infra"
	"breakout_go/internal/service"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the read-only observation endpoint: live series over websocket,
// Prometheus metrics and the latest state snapshot.
type Server struct {
	router  *mux.Router
	server  *http.Server
	hub     *Hub
	states  *service.StateService
	metrics *infra.Metrics
	logger  *slog.Logger
}

// NewServer builds the router. reg must already hold the metrics collectors.
func NewServer(addr string, hub *Hub, states *service.StateService, metrics *infra.Metrics, reg *prometheus.Registry) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		hub:     hub,
		states:  states,
		metrics: metrics,
		logger:  slog.Default().With("module", "telemetry_server"),
	}
	s.setupRoutes(reg)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(reg *prometheus.Registry) {
	s.router.Use(s.requestIDMiddleware)

	s.router.HandleFunc("/health", s.health).Methods("GET")
	s.router.HandleFunc("/state", s.allStates).Methods("GET")
	s.router.HandleFunc("/state/{symbol}", s.state).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc("/ws", s.hub.ServeWS)
}

// Handler exposes the router (tests).
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Telemetry server listening", slog.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	snap := s.metrics.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"cycles":       snap.CyclesRun,
		"cycle_errors": snap.CycleErrors,
		"ws_clients":   s.hub.Clients(),
	})
}

func (s *Server) allStates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.states.GetAll())
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	snap, ok := s.states.Get(symbol)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown symbol " + symbol})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
