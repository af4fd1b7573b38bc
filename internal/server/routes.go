package server

import (
	"net/http"

	"github.com/ternarybob/carextract/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Ribbon page
	mux.HandleFunc("/", s.app.PageHandler.ServePage("ribbon.html", "ribbon"))

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Run controls
	mux.HandleFunc("/api/run", s.app.RunHandler.GetRunHandler)       // GET - current snapshot with records
	mux.HandleFunc("/api/run/", s.app.RunHandler.ControlHandler)     // POST /{start|pause|resume|stop|clear}
	mux.HandleFunc("/api/records/", s.handleRecordRoutes)            // POST /{id}/refresh, DELETE /{id}
	mux.HandleFunc("/api/export", s.app.ExportHandler.ExportHandler) // GET ?format=csv|xlsx|pdf

	// API routes - History
	mux.HandleFunc("/api/runs", s.app.HistoryHandler.ListRunsHandler)   // GET ?limit=
	mux.HandleFunc("/api/runs/", s.app.HistoryHandler.RunRoutesHandler) // GET /{id}, /{id}/logs

	// API routes - System
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)
	mux.HandleFunc("/api/version", s.app.StatusHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.StatusHandler.HealthHandler)
	mux.HandleFunc("/api/", handlers.NotFoundHandler)

	return mux
}

// handleRecordRoutes routes /api/records/{id} by method
func (s *Server) handleRecordRoutes(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodPost:   s.app.RunHandler.RefreshRecordHandler,
		http.MethodDelete: s.app.RunHandler.RemoveRecordHandler,
	})
}
