// Package server exposes the conversion service over HTTP: document
// upload, task status polling, artifact download and a WebSocket status
// stream.
package server

import (
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/docmark/internal/pipeline"
	"github.com/MeKo-Tech/docmark/internal/task"
)

// taskManager defines the methods the server needs from the task layer.
type taskManager interface {
	Submit(filename string, content io.Reader, opts pipeline.Options) (string, error)
	Status(id string) (task.Snapshot, error)
	Statistics() task.Overview
	Delete(id string) error
	ArtifactPath(id string, kind task.ArtifactKind) (string, error)
	Dir(id string) (string, error)
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	tasks         taskManager
	corsOrigin    string
	maxUploadMB   int64
	timeoutSec    int
	maxConcurrent int
	wsPoll        time.Duration
}

// Config holds server configuration.
type Config struct {
	Host          string
	Port          int
	CORSOrigin    string
	MaxUploadMB   int64
	TimeoutSec    int
	MaxConcurrent int
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

type ConvertResponse struct {
	TaskID        string `json:"task_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	QueuePosition int    `json:"queue_position"`
}

type StatusResponse struct {
	TaskID        string `json:"task_id"`
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
	QueuePosition int    `json:"queue_position,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type StatsResponse struct {
	Tasks         task.Stats `json:"tasks"`
	QueuedIDs     []string   `json:"queued_ids"`
	ProcessingIDs []string   `json:"processing_ids"`
	MaxConcurrent int        `json:"max_concurrent"`
}

type DeleteResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer creates a new conversion server instance.
func NewServer(config Config, tasks taskManager) *Server {
	registerTaskGauges(tasks)
	return &Server{
		tasks:         tasks,
		corsOrigin:    config.CORSOrigin,
		maxUploadMB:   config.MaxUploadMB,
		timeoutSec:    config.TimeoutSec,
		maxConcurrent: config.MaxConcurrent,
		wsPoll:        200 * time.Millisecond,
	}
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("POST /convert", s.corsMiddleware(s.convertHandler))
	mux.HandleFunc("GET /status/{id}", s.corsMiddleware(s.statusHandler))
	mux.HandleFunc("GET /stats", s.corsMiddleware(s.statsHandler))
	mux.HandleFunc("GET /download/{id}/{kind}", s.corsMiddleware(s.downloadHandler))
	mux.HandleFunc("DELETE /task/{id}", s.corsMiddleware(s.deleteTaskHandler))
	mux.HandleFunc("GET /ws/tasks/{id}", s.watchTaskHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("OPTIONS /", s.corsMiddleware(func(http.ResponseWriter, *http.Request) {}))
}
