package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/docmark/internal/bundle"
	"github.com/MeKo-Tech/docmark/internal/pipeline"
	"github.com/MeKo-Tech/docmark/internal/task"
	"github.com/MeKo-Tech/docmark/internal/version"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// convertHandler accepts a PDF upload and registers a conversion task.
// The response is returned before any page is processed.
func (s *Server) convertHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB*1024*1024)

	if err := r.ParseMultipartForm(s.maxUploadMB * 1024 * 1024); err != nil {
		conversionsTotal.WithLabelValues("rejected").Inc()
		s.writeError(w, "Failed to parse form data", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		conversionsTotal.WithLabelValues("rejected").Inc()
		s.writeError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		conversionsTotal.WithLabelValues("rejected").Inc()
		s.writeError(w, "Only PDF files are supported", http.StatusBadRequest)
		return
	}

	opts, err := parseOptions(r)
	if err != nil {
		conversionsTotal.WithLabelValues("rejected").Inc()
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	uploadSizeBytes.Observe(float64(header.Size))

	id, err := s.tasks.Submit(header.Filename, file, opts)
	if err != nil {
		conversionsTotal.WithLabelValues("rejected").Inc()
		slog.Error("Failed to register conversion task", "error", err)
		s.writeError(w, "Failed to register task", http.StatusInternalServerError)
		return
	}
	conversionsTotal.WithLabelValues("accepted").Inc()

	snap, err := s.tasks.Status(id)
	if err != nil {
		// Deleted between Submit and Status; report it as queued anyway.
		snap = task.Snapshot{Status: task.StatusQueued, QueuePosition: 1}
	}
	s.writeJSON(w, http.StatusOK, ConvertResponse{
		TaskID:        id,
		Status:        string(snap.Status),
		Message:       snap.Message,
		QueuePosition: snap.QueuePosition,
	})
}

// statusHandler reports the current state of one task.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := s.tasks.Status(r.PathValue("id"))
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse(snap))
}

// statsHandler reports aggregate task counters and live task ids.
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	ov := s.tasks.Statistics()
	s.writeJSON(w, http.StatusOK, StatsResponse{
		Tasks:         ov.Stats,
		QueuedIDs:     ov.QueuedIDs,
		ProcessingIDs: ov.ProcessingIDs,
		MaxConcurrent: s.maxConcurrent,
	})
}

// downloadHandler serves one artifact of a completed task. The images
// archive is packaged on demand.
func (s *Server) downloadHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	kind := r.PathValue("kind")

	var path, contentType string
	var err error
	switch kind {
	case string(task.ArtifactMarkdown), string(task.ArtifactDetections):
		path, err = s.tasks.ArtifactPath(id, task.ArtifactKind(kind))
		contentType = "text/markdown; charset=utf-8"
	case string(task.ArtifactLayoutPDF):
		path, err = s.tasks.ArtifactPath(id, task.ArtifactKind(kind))
		contentType = "application/pdf"
	case "images_zip":
		var dir string
		dir, err = s.tasks.Dir(id)
		if err == nil {
			path, err = bundle.PackImages(dir)
		}
		contentType = "application/zip"
	default:
		s.writeError(w, fmt.Sprintf("Unknown artifact kind: %s", kind), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.writeTaskError(w, err)
		return
	}

	downloadsTotal.WithLabelValues(kind).Inc()
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

// deleteTaskHandler removes a task record and its on-disk artifacts.
func (s *Server) deleteTaskHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.tasks.Delete(id); err != nil {
		s.writeTaskError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, DeleteResponse{TaskID: id, Message: "Task deleted"})
}

// parseOptions extracts per-request pipeline overrides from form values.
func parseOptions(r *http.Request) (opts pipeline.Options, err error) {
	opts.Instruction = r.FormValue("prompt")
	if v := r.FormValue("skip_unterminated"); v != "" {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return opts, fmt.Errorf("invalid skip_unterminated value: %q", v)
		}
		opts.SkipUnterminated = &b
	}
	if v := r.FormValue("annotate"); v != "" {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return opts, fmt.Errorf("invalid annotate value: %q", v)
		}
		opts.Annotate = &b
	}
	return opts, nil
}

func statusResponse(snap task.Snapshot) StatusResponse {
	resp := StatusResponse{
		TaskID:    snap.ID,
		Status:    string(snap.Status),
		Message:   snap.Message,
		Error:     snap.Error,
		CreatedAt: snap.CreatedAt.UTC().Format(time.RFC3339),
	}
	if snap.Status == task.StatusQueued {
		resp.QueuePosition = snap.QueuePosition
	}
	return resp
}

// writeTaskError maps task layer errors onto HTTP status codes.
func (s *Server) writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		s.writeError(w, "Task not found", http.StatusNotFound)
	case errors.Is(err, task.ErrNotCompleted):
		s.writeError(w, "Task has not completed", http.StatusBadRequest)
	case errors.Is(err, task.ErrArtifactUnavailable):
		s.writeError(w, "Artifact not available for this task", http.StatusNotFound)
	case errors.Is(err, task.ErrUnknownArtifact):
		s.writeError(w, "Unknown artifact kind", http.StatusBadRequest)
	default:
		slog.Error("Request failed", "error", err)
		s.writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, status int) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
