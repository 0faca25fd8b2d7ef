// Package server provides the HTTP server for the seat detection service.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/seatwatch/internal/app"
	"github.com/ayusman/seatwatch/internal/detector"
	"github.com/ayusman/seatwatch/internal/registry"
	"github.com/ayusman/seatwatch/internal/server/api"
	"github.com/ayusman/seatwatch/internal/store"
)

// Config holds the server configuration. Routes whose dependencies are nil
// are not registered.
type Config struct {
	StaticDir string
	Manager   *app.Manager
	Pipeline  *app.Pipeline
	Registry  *registry.Registry
	Store     *store.Store
	// Watch supplies the last camera frame for the stream endpoints.
	Watch SnapshotSource
	Log   logrus.FieldLogger
}

// Server is the HTTP front of the service.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	live   *LiveHub
	log    logrus.FieldLogger
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	log := config.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		log:    log.WithField("component", "http"),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Manager != nil {
		lifecycle := api.NewDetectorHandler(s.config.Manager, s.log)
		s.mux.Handle("/api/initialize-model", lifecycle)
		s.mux.Handle("/api/model-status", lifecycle)
		s.mux.Handle("/api/set-model-type", lifecycle)
		s.mux.Handle("/api/stop-model", lifecycle)
	}

	if s.config.Pipeline != nil {
		s.mux.Handle("/api/detect-frame", api.NewFrameHandler(s.config.Pipeline, s.log))

		s.live = NewLiveHub(s.config.Pipeline, s.log)
		s.mux.Handle("/api/live", s.live)
	}

	if s.config.Registry != nil {
		models := api.NewModelsHandler(s.config.Registry, s.config.Store)
		s.mux.Handle("/api/models", models)
		s.mux.Handle("/api/model-history", models)
	}

	if s.config.Watch != nil {
		stream := NewStreamHandler(s.config.Watch)
		s.mux.Handle("/api/stream", stream)
		s.mux.HandleFunc("/api/snapshot.jpg", stream.ServeSnapshot)
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close disconnects live clients.
func (s *Server) Close() {
	if s.live != nil {
		s.live.Close()
	}
}

type healthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Uptime      string         `json:"uptime"`
	ModelLoaded bool           `json:"model_loaded"`
	ModelType   *detector.Kind `json:"model_type"`
	Degraded    bool           `json:"degraded"`
}

// handleHealth handles GET requests to /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.start).Round(time.Second).String(),
	}
	if s.config.Manager != nil {
		if cfg := s.config.Manager.Status().Config; cfg != nil {
			kind := cfg.BackendKind
			response.ModelLoaded = true
			response.ModelType = &kind
			response.Degraded = cfg.Degraded
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}
