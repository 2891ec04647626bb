package server

import (
	"net/http"
	"strings"

	"github.com/ternarybob/visum/internal/handlers"
)

// setupRoutes registers all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket for real-time job and progress events
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Jobs
	mux.HandleFunc("/api/jobs/stats", s.app.JobHandler.GetJobStatsHandler)
	mux.HandleFunc("/api/jobs", s.app.JobHandler.ListJobsHandler)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes) // /api/jobs/{id} and subpaths

	// Videos
	mux.HandleFunc("/api/videos", s.app.VideoHandler.SubmitVideoHandler) // POST - submit a video

	// Results
	mux.HandleFunc("/api/results", s.app.ResultHandler.ListResultsHandler)
	mux.HandleFunc("/api/results/", s.handleResultRoutes) // /api/results/{job_id}

	// Scans
	mux.HandleFunc("/api/scan", s.app.ScanHandler.TriggerScanHandler) // POST - trigger directory scan

	// System
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/shutdown", s.ShutdownHandler) // Graceful shutdown endpoint (dev mode)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobRoutes routes /api/jobs/{id} and its subpaths
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/jobs/"
	jobID := handlers.JobIDFromPath(r.URL.Path, prefix)
	if jobID == "" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	// POST /api/jobs/{id}/cancel
	if strings.HasSuffix(r.URL.Path, "/cancel") {
		s.app.JobHandler.CancelJobHandler(w, r, jobID)
		return
	}

	// POST /api/jobs/{id}/rerun
	if strings.HasSuffix(r.URL.Path, "/rerun") {
		s.app.JobHandler.RerunJobHandler(w, r, jobID)
		return
	}

	// GET /api/jobs/{id}/result
	if strings.HasSuffix(r.URL.Path, "/result") {
		s.app.ResultHandler.GetResultByJobHandler(w, r, jobID)
		return
	}

	// GET/DELETE /api/jobs/{id}
	if r.URL.Path == prefix+jobID {
		switch r.Method {
		case "GET":
			s.app.JobHandler.GetJobHandler(w, r, jobID)
		case "DELETE":
			s.app.JobHandler.DeleteJobHandler(w, r, jobID)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	s.app.APIHandler.NotFoundHandler(w, r)
}

// handleResultRoutes routes /api/results/{job_id}
func (s *Server) handleResultRoutes(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/results/"
	jobID := strings.TrimPrefix(r.URL.Path, prefix)
	if jobID == "" || strings.Contains(jobID, "/") {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}
	s.app.ResultHandler.GetResultByJobHandler(w, r, jobID)
}

// ShutdownHandler triggers a graceful shutdown via the app's shutdown channel
func (s *Server) ShutdownHandler(w http.ResponseWriter, r *http.Request) {
	if !handlers.RequireMethod(w, r, "POST") {
		return
	}

	if s.app.Config.Environment != "development" {
		handlers.WriteError(w, http.StatusForbidden, "shutdown endpoint is only available in development")
		return
	}

	handlers.WriteSuccess(w, "shutting down")
	s.app.RequestShutdown()
}
