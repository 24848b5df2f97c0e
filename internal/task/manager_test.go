package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/docmark/internal/assemble"
	"github.com/MeKo-Tech/docmark/internal/pipeline"
)

// okRunner writes a markdown artifact and succeeds.
func okRunner(_ context.Context, inputPath, outDir string, _ pipeline.Options) (*pipeline.Result, error) {
	md := filepath.Join(outDir, "out.mmd")
	if err := os.WriteFile(md, []byte("# converted "+filepath.Base(inputPath)), 0o644); err != nil {
		return nil, err
	}
	return &pipeline.Result{
		Artifacts: &assemble.Artifacts{
			MarkdownPath:   md,
			DetectionsPath: md,
			ImagesDir:      outDir,
		},
		Pages: 1,
	}, nil
}

func failRunner(context.Context, string, string, pipeline.Options) (*pipeline.Result, error) {
	return nil, errors.New("recognition capability unavailable")
}

func newManager(t *testing.T, maxConcurrent int, run Runner) *Manager {
	t.Helper()
	m, err := NewManager(Config{MaxConcurrent: maxConcurrent, DataDir: t.TempDir()}, run)
	require.NoError(t, err)
	return m
}

func submit(t *testing.T, m *Manager) string {
	t.Helper()
	id, err := m.Submit("doc.pdf", strings.NewReader("%PDF-1.4 fake"), pipeline.Options{})
	require.NoError(t, err)
	return id
}

func waitForStatus(t *testing.T, m *Manager, id string, want Status) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := m.Status(id)
		require.NoError(t, err)
		if snap.Status == want {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s", id, want)
	return Snapshot{}
}

func assertInvariant(t *testing.T, s Stats) {
	t.Helper()
	assert.Equal(t, s.Total, s.Queued+s.Processing+s.Completed+s.Failed,
		"total must equal queued+processing+completed+failed, got %+v", s)
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(Config{DataDir: ""}, okRunner)
	assert.Error(t, err)

	_, err = NewManager(Config{DataDir: t.TempDir()}, nil)
	assert.Error(t, err)
}

func TestSubmit_ReportsQueuedWithPosition(t *testing.T) {
	release := make(chan struct{})
	blocking := func(ctx context.Context, in, out string, o pipeline.Options) (*pipeline.Result, error) {
		<-release
		return okRunner(ctx, in, out, o)
	}
	m := newManager(t, 1, blocking)
	defer close(release)

	filler := submit(t, m)
	waitForStatus(t, m, filler, StatusProcessing)

	first := submit(t, m)
	second := submit(t, m)

	snap, err := m.Status(first)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, snap.Status)
	assert.GreaterOrEqual(t, snap.QueuePosition, 1)

	snap2, err := m.Status(second)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, snap2.Status)
	assert.Greater(t, snap2.QueuePosition, snap.QueuePosition,
		"later submission must rank behind the earlier one")
}

func TestSubmit_DoesNotBlockOnBusyGate(t *testing.T) {
	release := make(chan struct{})
	blocking := func(context.Context, string, string, pipeline.Options) (*pipeline.Result, error) {
		<-release
		return nil, errors.New("never succeeds")
	}
	m := newManager(t, 1, blocking)
	defer close(release)

	submit(t, m)
	start := time.Now()
	submit(t, m)
	assert.Less(t, time.Since(start), time.Second,
		"submission must not wait for a processing slot")
}

func TestLifecycle_Completed(t *testing.T) {
	m := newManager(t, 2, okRunner)
	id := submit(t, m)

	snap := waitForStatus(t, m, id, StatusCompleted)
	require.NotNil(t, snap.Artifacts)
	assert.Empty(t, snap.Error, "completed tasks carry no error")

	data, err := os.ReadFile(snap.Artifacts.MarkdownPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# converted")

	ov := m.Statistics()
	assertInvariant(t, ov.Stats)
	assert.Equal(t, 1, ov.Stats.Completed)
	assert.Empty(t, ov.QueuedIDs)
	assert.Empty(t, ov.ProcessingIDs)
}

func TestLifecycle_Failed(t *testing.T) {
	m := newManager(t, 2, failRunner)
	id := submit(t, m)

	snap := waitForStatus(t, m, id, StatusFailed)
	assert.Nil(t, snap.Artifacts, "failed tasks carry no artifacts")
	assert.Contains(t, snap.Error, "recognition capability unavailable")

	ov := m.Statistics()
	assertInvariant(t, ov.Stats)
	assert.Equal(t, 1, ov.Stats.Failed)
}

func TestStatus_UnknownID(t *testing.T) {
	m := newManager(t, 1, okRunner)
	_, err := m.Status("no-such-task")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdmission_NeverExceedsCapacity(t *testing.T) {
	const capacity = 3
	const tasks = 20

	var active, peak int64
	run := func(ctx context.Context, in, out string, o pipeline.Options) (*pipeline.Result, error) {
		cur := atomic.AddInt64(&active, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&active, -1)
		return okRunner(ctx, in, out, o)
	}

	m := newManager(t, capacity, run)
	for range tasks {
		submit(t, m)
	}
	m.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(capacity))
	ov := m.Statistics()
	assertInvariant(t, ov.Stats)
	assert.Equal(t, tasks, ov.Stats.Completed)
}

func TestStats_InvariantUnderConcurrency(t *testing.T) {
	m := newManager(t, 4, okRunner)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				assertInvariant(t, m.Statistics().Stats)
			}
		}
	}()

	for range 30 {
		submit(t, m)
	}
	m.Wait()
	close(done)
	wg.Wait()

	assertInvariant(t, m.Statistics().Stats)
	assert.Equal(t, 30, m.Statistics().Stats.Total)
}

func TestDelete_RemovesRecordAndArtifacts(t *testing.T) {
	m := newManager(t, 2, okRunner)
	id := submit(t, m)
	snap := waitForStatus(t, m, id, StatusCompleted)

	dir := filepath.Dir(snap.Artifacts.MarkdownPath)
	require.NoError(t, m.Delete(id))

	_, err := m.Status(id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "artifact directory must be removed")

	assert.ErrorIs(t, m.Delete(id), ErrNotFound, "second delete reports NotFound")
}

func TestDelete_WhileQueuedKeepsInvariant(t *testing.T) {
	release := make(chan struct{})
	blocking := func(ctx context.Context, in, out string, o pipeline.Options) (*pipeline.Result, error) {
		<-release
		return okRunner(ctx, in, out, o)
	}
	m := newManager(t, 1, blocking)

	filler := submit(t, m)
	waitForStatus(t, m, filler, StatusProcessing)
	queued := submit(t, m)

	require.NoError(t, m.Delete(queued))
	assertInvariant(t, m.Statistics().Stats)

	close(release)
	m.Wait()
	ov := m.Statistics()
	assertInvariant(t, ov.Stats)
	assert.Equal(t, 1, ov.Stats.Completed, "only the filler ran")
}

func TestArtifactPath_States(t *testing.T) {
	release := make(chan struct{})
	blocking := func(ctx context.Context, in, out string, o pipeline.Options) (*pipeline.Result, error) {
		<-release
		return okRunner(ctx, in, out, o)
	}
	m := newManager(t, 1, blocking)
	id := submit(t, m)

	_, err := m.ArtifactPath(id, ArtifactMarkdown)
	assert.ErrorIs(t, err, ErrNotCompleted)

	close(release)
	waitForStatus(t, m, id, StatusCompleted)

	path, err := m.ArtifactPath(id, ArtifactMarkdown)
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = m.ArtifactPath(id, ArtifactKind("bogus"))
	assert.ErrorIs(t, err, ErrUnknownArtifact)

	// okRunner produces no layout PDF; the task exists and completed.
	_, err = m.ArtifactPath(id, ArtifactLayoutPDF)
	assert.ErrorIs(t, err, ErrArtifactUnavailable)

	_, err = m.ArtifactPath("missing", ArtifactMarkdown)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDir_RequiresCompletion(t *testing.T) {
	m := newManager(t, 1, okRunner)
	id := submit(t, m)
	waitForStatus(t, m, id, StatusCompleted)

	dir, err := m.Dir(id)
	require.NoError(t, err)
	assert.DirExists(t, dir)
}
