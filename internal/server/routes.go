package server

import (
	"net/http"

	"github.com/ternarybob/tego/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Version and health
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// Anonymization endpoint - GET verifies credentials, POST runs the pipeline
	mux.HandleFunc("/api/anonymizer", s.app.AnonymizerHandler.Handle)

	// Background task lifecycle - PUT/PATCH/DELETE /{name}
	mux.HandleFunc(handlers.TasksPathPrefix, s.app.TasksHandler.Handle)

	// Debug endpoints
	mux.HandleFunc("/api/debug/hello-world", s.app.DebugHandler.HelloWorldHandler)
	mux.HandleFunc("/api/debug/config", s.app.DebugHandler.ConfigHandler)

	return mux
}
