// Package server exposes the broadcast stream over websocket and the
// latest window state over a small JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rewired-gh/aisstream/internal/broadcast"
	"github.com/rewired-gh/aisstream/internal/logger"
	"github.com/rewired-gh/aisstream/internal/metrics"
	"github.com/rewired-gh/aisstream/internal/models"
)

// Server routes HTTP requests to the coordinator.
type Server struct {
	coord          *broadcast.Coordinator
	metrics        *metrics.Collector
	allowedOrigins []string
	upgrader       websocket.Upgrader
	startedAt      time.Time
}

// New builds a Server. m may be nil, in which case /metrics is not mounted.
func New(coord *broadcast.Coordinator, m *metrics.Collector, allowedOrigins []string) *Server {
	s := &Server{
		coord:          coord,
		metrics:        m,
		allowedOrigins: allowedOrigins,
		startedAt:      time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the chi router with CORS applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)
	r.Get("/ws/vessel-data", s.handleStream)

	r.Route("/api", func(r chi.Router) {
		r.Get("/vessel-data", s.handleVesselData)
		r.Get("/sliding-window-aggregates", s.handleAggregates)
		r.Get("/active-vessels", s.handleActiveVessels)
		r.Get("/stationary-vessels", s.handleStationaryVessels)
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.allowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.allowedOrigins, origin)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":        "aisstream",
		"status":         "running",
		"state":          s.coord.State().String(),
		"subscribers":    s.coord.SubscriberCount(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Websocket upgrade failed: %v", err)
		return
	}

	sub := newWSSubscriber(conn)
	s.coord.Attach(sub)
	go sub.pingLoop()
	go func() {
		sub.readPump()
		s.coord.Unsubscribe(sub.ID())
		sub.Close() //nolint:errcheck
	}()
}

func (s *Server) handleVesselData(w http.ResponseWriter, r *http.Request) {
	msg, err := s.coord.Pull(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type aggregatesResponse struct {
	Timestamp  time.Time              `json:"timestamp"`
	Tick       uint64                 `json:"tick"`
	Aggregates models.AggregateResult `json:"sliding_window_aggregates"`
	Trend      models.TrendResult     `json:"trend_data"`
}

func (s *Server) handleAggregates(w http.ResponseWriter, r *http.Request) {
	msg := s.coord.Latest()
	if msg == nil {
		var err error
		if msg, err = s.coord.Pull(r.Context()); err != nil {
			s.writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, aggregatesResponse{
		Timestamp:  msg.Timestamp,
		Tick:       msg.Tick,
		Aggregates: msg.Aggregates,
		Trend:      msg.Trend,
	})
}

type vesselsResponse struct {
	Count   int                   `json:"count"`
	Vessels []models.WindowRecord `json:"vessels"`
}

func (s *Server) handleActiveVessels(w http.ResponseWriter, r *http.Request) {
	active, _, err := s.coord.Split(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newVesselsResponse(active))
}

func (s *Server) handleStationaryVessels(w http.ResponseWriter, r *http.Request) {
	_, stationary, err := s.coord.Split(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newVesselsResponse(stationary))
}

func newVesselsResponse(records []models.WindowRecord) vesselsResponse {
	if records == nil {
		records = []models.WindowRecord{}
	}
	return vesselsResponse{Count: len(records), Vessels: records}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, broadcast.ErrNotRunning):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		logger.Error("Request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("Failed to write response: %v", err)
	}
}
