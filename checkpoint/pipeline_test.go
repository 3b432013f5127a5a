package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/sessiond/portfolio"
)

func snap(cash float64) Snapshot {
	return Snapshot{
		SessionID: "S1",
		Time:      time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC),
		Portfolio: portfolio.State{Cash: cash},
	}
}

func TestWriteLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.checkpoint")
	require.NoError(t, Write(path, snap(94995)))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, got.Version)
	assert.Equal(t, "S1", got.SessionID)
	assert.InDelta(t, 94995, got.Portfolio.Cash, 1e-9)
}

func TestLoadMissingIsColdStart(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "never-written"))
	assert.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestLoadCorruptFailsLoudly(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.checkpoint")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoCheckpoint)
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.checkpoint")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":99}`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestCrashMidWriteKeepsLastGood(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "session.checkpoint")
	require.NoError(t, Write(path, snap(100)))

	// A crash mid-write leaves a stray temp file; the real path is intact.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".checkpoint-123"), []byte("partial ga"), 0o644))

	got, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 100, got.Portfolio.Cash, 1e-9)
}

func TestPipelineWritesInOrder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.checkpoint")
	p := NewPipeline(path, 8, nil)

	for i := 1; i <= 5; i++ {
		p.SaveAsync(snap(float64(i)))
	}
	require.NoError(t, p.Shutdown(context.Background(), nil))

	got, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 5, got.Portfolio.Cash, 1e-9, "last enqueued snapshot wins (FIFO)")
	assert.Equal(t, Stopped, p.State())
}

func TestPipelineShutdownFinalSave(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.checkpoint")
	p := NewPipeline(path, 8, nil)

	final := snap(777)
	require.NoError(t, p.Shutdown(context.Background(), &final))

	got, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 777, got.Portfolio.Cash, 1e-9)
}

func TestPipelineShutdownIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.checkpoint")
	p := NewPipeline(path, 8, nil)

	require.NoError(t, p.Shutdown(context.Background(), nil))
	// Second call must return promptly, not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx, nil))
}

func TestPipelineSaveAsyncNeverBlocks(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.checkpoint")
	p := NewPipeline(path, 2, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			p.SaveAsync(snap(float64(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("SaveAsync blocked the caller")
	}
	require.NoError(t, p.Shutdown(context.Background(), nil))
}

func TestPipelineIgnoresSavesAfterShutdown(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.checkpoint")
	p := NewPipeline(path, 8, nil)
	final := snap(1)
	require.NoError(t, p.Shutdown(context.Background(), &final))

	p.SaveAsync(snap(999)) // dropped silently, no panic, no write

	got, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 1, got.Portfolio.Cash, 1e-9)
}

func TestPipelineWorkerSurvivesWriteError(t *testing.T) {
	t.Parallel()

	// Point the pipeline at a directory that does not exist so writes fail.
	bad := filepath.Join(t.TempDir(), "missing", "session.checkpoint")
	p := NewPipeline(bad, 4, nil)

	p.SaveAsync(snap(1))
	p.SaveAsync(snap(2))

	// Drain must complete even though every write failed: the worker logs,
	// acks, and moves on instead of dying and hanging the drain.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx, nil))
	assert.Zero(t, p.Writes())

	// A final save against the bad path does surface the failure.
	p2 := NewPipeline(bad, 4, nil)
	final := snap(1)
	assert.Error(t, p2.Shutdown(context.Background(), &final))
}
