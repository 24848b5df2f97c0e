package task

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/docmark/internal/pipeline"
)

// Runner executes one admitted task and returns its result. The
// pipeline coordinator satisfies this.
type Runner func(ctx context.Context, inputPath, outDir string, opts pipeline.Options) (*pipeline.Result, error)

// Config holds manager settings.
type Config struct {
	// MaxConcurrent bounds how many coordinators run at once.
	MaxConcurrent int
	// DataDir is the root under which every task gets its own directory.
	DataDir string
}

// DefaultConfig returns manager defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 8}
}

// Manager is the task registry and admission gate. All registry and
// counter mutations happen under one mutex so that concurrent readers
// always observe a consistent snapshot.
type Manager struct {
	mu    sync.Mutex
	cfg   Config
	tasks map[string]*task
	stats Stats
	sem   chan struct{}
	run   Runner
	wg    sync.WaitGroup
}

// NewManager creates a manager that executes admitted tasks with run.
func NewManager(cfg Config, run Runner) (*Manager, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("task data directory is empty")
	}
	if run == nil {
		return nil, fmt.Errorf("task runner is nil")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Manager{
		cfg:   cfg,
		tasks: make(map[string]*task),
		sem:   make(chan struct{}, cfg.MaxConcurrent),
		run:   run,
	}, nil
}

// Submit stores the uploaded document, registers a queued task and
// schedules it for admission. It returns before any page is rendered or
// recognized.
func (m *Manager) Submit(filename string, content io.Reader, opts pipeline.Options) (string, error) {
	id := uuid.NewString()
	dir := filepath.Join(m.cfg.DataDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create task dir: %w", err)
	}
	inputPath := filepath.Join(dir, filepath.Base(filename))
	if err := writeFile(inputPath, content); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("store upload: %w", err)
	}

	m.mu.Lock()
	m.tasks[id] = &task{
		id:        id,
		status:    StatusQueued,
		createdAt: time.Now(),
		message:   "Task queued, waiting for processing slot",
		inputPath: inputPath,
		dir:       dir,
		opts:      opts,
	}
	m.stats.Total++
	m.stats.Queued++
	m.mu.Unlock()

	m.wg.Add(1)
	go m.admitAndRun(id)

	slog.Info("task submitted", "task", id, "file", filepath.Base(filename))
	return id, nil
}

// admitAndRun waits for a free slot, drives the task to a terminal
// state and releases the slot whatever the outcome.
func (m *Manager) admitAndRun(id string) {
	defer m.wg.Done()
	m.sem <- struct{}{}
	defer func() { <-m.sem }()

	inputPath, dir, opts, ok := m.begin(id)
	if !ok {
		// Deleted while still queued.
		return
	}

	res, err := m.run(context.Background(), inputPath, dir, opts)
	m.finish(id, res, err)
}

// begin transitions Queued -> Processing. The status change and the
// counter moves are one atomic unit under the mutex.
func (m *Manager) begin(id string) (inputPath, dir string, opts pipeline.Options, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, exists := m.tasks[id]
	if !exists {
		return "", "", pipeline.Options{}, false
	}
	t.status = StatusProcessing
	t.message = "Conversion in progress"
	m.stats.Queued--
	m.stats.Processing++
	return t.inputPath, t.dir, t.opts, true
}

// finish applies the terminal transition. Exactly one of artifacts or
// error text is populated afterwards.
func (m *Manager) finish(id string, res *pipeline.Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Processing--
	if err != nil {
		m.stats.Failed++
	} else {
		m.stats.Completed++
	}

	t, exists := m.tasks[id]
	if !exists {
		// Deleted mid-flight; counters still record the outcome.
		return
	}
	if err != nil {
		t.status = StatusFailed
		t.message = "Conversion failed"
		t.errText = err.Error()
		slog.Error("task failed", "task", id, "error", err)
		return
	}
	t.status = StatusCompleted
	t.message = "Document converted successfully"
	t.artifacts = res.Artifacts
	slog.Info("task completed", "task", id, "pages", res.Pages)
}

// Status returns a snapshot of the task. For queued tasks the queue
// position counts queued tasks created no later than this one, itself
// included, so position 1 means next in line.
func (m *Manager) Status(id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, exists := m.tasks[id]
	if !exists {
		return Snapshot{}, ErrNotFound
	}
	snap := Snapshot{
		ID:        t.id,
		Status:    t.status,
		CreatedAt: t.createdAt,
		Message:   t.message,
		Error:     t.errText,
		Artifacts: t.artifacts,
	}
	if t.status == StatusQueued {
		for _, other := range m.tasks {
			if other.status == StatusQueued && !other.createdAt.After(t.createdAt) {
				snap.QueuePosition++
			}
		}
	}
	return snap, nil
}

// Statistics returns the counters plus the ids currently queued and
// processing.
func (m *Manager) Statistics() Overview {
	m.mu.Lock()
	defer m.mu.Unlock()
	ov := Overview{Stats: m.stats}
	for id, t := range m.tasks {
		switch t.status {
		case StatusQueued:
			ov.QueuedIDs = append(ov.QueuedIDs, id)
		case StatusProcessing:
			ov.ProcessingIDs = append(ov.ProcessingIDs, id)
		}
	}
	sort.Strings(ov.QueuedIDs)
	sort.Strings(ov.ProcessingIDs)
	return ov
}

// Delete removes the task record and its on-disk artifacts. A repeated
// call returns ErrNotFound.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	t, exists := m.tasks[id]
	if !exists {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.tasks, id)
	// A task deleted before admission never runs; take it out of the
	// books entirely so the counter invariant keeps holding.
	if t.status == StatusQueued {
		m.stats.Queued--
		m.stats.Total--
	}
	dir := t.dir
	m.mu.Unlock()

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove task artifacts: %w", err)
	}
	slog.Info("task deleted", "task", id)
	return nil
}

// ArtifactPath resolves one of the task's persisted artifacts. Valid
// only once the task is completed.
func (m *Manager) ArtifactPath(id string, kind ArtifactKind) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, exists := m.tasks[id]
	if !exists {
		return "", ErrNotFound
	}
	if t.status != StatusCompleted || t.artifacts == nil {
		return "", ErrNotCompleted
	}
	var path string
	switch kind {
	case ArtifactMarkdown:
		path = t.artifacts.MarkdownPath
	case ArtifactDetections:
		path = t.artifacts.DetectionsPath
	case ArtifactLayoutPDF:
		path = t.artifacts.LayoutPDFPath
	default:
		return "", ErrUnknownArtifact
	}
	if path == "" {
		return "", ErrArtifactUnavailable
	}
	return path, nil
}

// Dir returns the task's output directory once the task has completed.
func (m *Manager) Dir(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, exists := m.tasks[id]
	if !exists {
		return "", ErrNotFound
	}
	if t.status != StatusCompleted {
		return "", ErrNotCompleted
	}
	return t.dir, nil
}

// Wait blocks until every submitted task has reached a terminal state.
// Intended for tests and graceful shutdown.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func writeFile(path string, content io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, content); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
