package api

import (
	"encoding/json"
	"net/http"

	"github.com/chuahwb/ai-content-creation-sub005/internal/progress"
	"github.com/chuahwb/ai-content-creation-sub005/internal/registry"
	"github.com/chuahwb/ai-content-creation-sub005/internal/service"
)

// Server is the HTTP API server
type Server struct {
	svc      *service.Service
	registry *registry.Registry
	hub      *progress.Hub
	addr     string
	mux      *http.ServeMux
}

// NewServer creates a new API server
func NewServer(svc *service.Service, reg *registry.Registry, hub *progress.Hub, addr string) *Server {
	s := &Server{
		svc:      svc,
		registry: reg,
		hub:      hub,
		addr:     addr,
		mux:      http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/modes", s.modesHandler())
	s.mux.HandleFunc("/api/runs", s.runsHandler())
	s.mux.HandleFunc("/api/runs/", s.runHandler())
	s.mux.HandleFunc("/api/refinements/", s.refinementHandler())
	s.mux.HandleFunc("/health", s.healthHandler())
}

// Handler returns the server's routing handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return http.ListenAndServe(s.addr, s.mux)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
