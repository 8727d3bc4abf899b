package healthcheck

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ilovespectra/solo-silo-sub000/pkg/utils"
)

// Server is the local HTTP server. It serves health probes, metrics and
// whatever API handlers are registered on its mux.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *zap.Logger
	readiness  ReadinessFunc
}

// ReadinessFunc reports extra readiness details, e.g. whether the store is available.
type ReadinessFunc func() map[string]string

// HealthResponse is the response structure for health check endpoints
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

const version = "1.0.0"

// NewServer creates a new server listening on port.
func NewServer(port int, logger *zap.Logger, readiness ReadinessFunc) *Server {
	mux := http.NewServeMux()

	server := &Server{
		httpServer: &http.Server{
			Addr:    ":" + strconv.Itoa(port),
			Handler: mux,
		},
		mux:       mux,
		logger:    logger,
		readiness: readiness,
	}

	mux.HandleFunc("GET /health", server.handleHealth)
	mux.HandleFunc("GET /ready", server.handleReady)

	return server
}

// RegisterMetricsHandler adds the /metrics endpoint handler.
// Should only be called if metrics are enabled.
func (s *Server) RegisterMetricsHandler(handler http.Handler) {
	s.logger.Info("Registering /metrics endpoint")
	s.mux.Handle("GET /metrics", handler)
}

// RegisterHandler mounts handler under pattern, using ServeMux pattern syntax.
func (s *Server) RegisterHandler(pattern string, handler http.Handler) {
	s.logger.Debug("Registering handler", zap.String("pattern", pattern))
	s.mux.Handle(pattern, handler)
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins the HTTP server
func (s *Server) Start() {
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles the /health endpoint for liveness probes
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "UP",
		Version: version,
	}

	utils.WriteJSONResponse(w, http.StatusOK, resp)
}

// handleReady reports READY with details. A memory-only queue is still ready,
// it just loses pending feedback on restart.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	details := map[string]string{
		"timestamp": utils.FormatISO8601(utils.Now()),
	}
	if s.readiness != nil {
		for k, v := range s.readiness() {
			details[k] = v
		}
	}
	resp := HealthResponse{
		Status:  "READY",
		Details: details,
	}

	utils.WriteJSONResponse(w, http.StatusOK, resp)
}
