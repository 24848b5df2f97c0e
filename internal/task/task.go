// Package task owns conversion task records: lifecycle transitions,
// concurrency-bounded admission, queue positions and aggregate
// statistics.
package task

import (
	"errors"
	"time"

	"github.com/MeKo-Tech/docmark/internal/assemble"
	"github.com/MeKo-Tech/docmark/internal/pipeline"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Artifact kinds addressable through ArtifactPath.
type ArtifactKind string

const (
	ArtifactMarkdown   ArtifactKind = "markdown"
	ArtifactDetections ArtifactKind = "markdown_det"
	ArtifactLayoutPDF  ArtifactKind = "pdf_layout"
)

var (
	// ErrNotFound marks an unknown task id.
	ErrNotFound = errors.New("task not found")
	// ErrNotCompleted marks an artifact request for a task that has not
	// completed yet.
	ErrNotCompleted = errors.New("task not completed")
	// ErrUnknownArtifact marks an unsupported artifact kind.
	ErrUnknownArtifact = errors.New("unknown artifact kind")
	// ErrArtifactUnavailable marks an artifact a completed task did not
	// produce, such as the layout PDF when annotation was disabled.
	ErrArtifactUnavailable = errors.New("artifact not available")
)

// task is the mutable record behind one submission. It is mutated only
// by the coordinator goroutine driving it and by explicit deletion,
// always under the manager mutex.
type task struct {
	id        string
	status    Status
	createdAt time.Time
	message   string
	inputPath string
	dir       string
	opts      pipeline.Options
	artifacts *assemble.Artifacts
	errText   string
}

// Snapshot is an immutable view of a task at one instant.
type Snapshot struct {
	ID            string
	Status        Status
	CreatedAt     time.Time
	Message       string
	Error         string
	QueuePosition int // valid only while queued
	Artifacts     *assemble.Artifacts
}

// Stats are process-wide task counters. Queued and Processing count
// live tasks; Completed and Failed accumulate. The manager maintains
// Total == Queued + Processing + Completed + Failed at every instant.
type Stats struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Overview is the statistics snapshot including live task id sets.
type Overview struct {
	Stats         Stats
	QueuedIDs     []string
	ProcessingIDs []string
}
