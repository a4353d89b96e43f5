package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, dir string) *FSWatcher {
	t.Helper()
	w, err := New(Options{DebounceWindow: 20 * time.Millisecond})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
	})
	require.NoError(t, w.Start(ctx, dir))
	return w
}

// waitFor gathers events until one for path arrives.
func waitFor(t *testing.T, w *FSWatcher, path string) FileEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case batch, ok := <-w.Events():
			require.True(t, ok, "events channel closed")
			for _, ev := range batch {
				if ev.Path == path {
					return ev
				}
			}
		case err := <-w.Errors():
			t.Fatalf("watcher error: %v", err)
		case <-deadline:
			t.Fatalf("no event for %s", path)
		}
	}
}

func TestFSWatcher_DetectsCreation(t *testing.T) {
	// Given: a watched directory
	dir := t.TempDir()
	w := startWatcher(t, dir)

	// When: a file is created
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte("{}"), 0o644))

	// Then: a rooted create event arrives
	ev := waitFor(t, w, "/a.json")
	assert.Contains(t, []Operation{OpCreate, OpModify}, ev.Operation)
}

func TestFSWatcher_DetectsDeletion(t *testing.T) {
	// Given: a watched directory with a file
	dir := t.TempDir()
	file := filepath.Join(dir, "gone.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o644))
	w := startWatcher(t, dir)

	// When: the file is removed
	require.NoError(t, os.Remove(file))

	// Then: a delete event arrives
	ev := waitFor(t, w, "/gone.json")
	assert.Equal(t, OpDelete, ev.Operation)
}

func TestFSWatcher_NewSubdirectory_IsWatched(t *testing.T) {
	// Given: a watched directory
	dir := t.TempDir()
	w := startWatcher(t, dir)

	// When: a subdirectory appears and a file is written into it
	sub := filepath.Join(dir, "posts")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "1.json"), []byte("{}"), 0o644))

	// Then: the nested file is reported
	waitFor(t, w, "/posts/1.json")
}

func TestFSWatcher_IgnoresMetadataDirectory(t *testing.T) {
	// Given: a watched directory with a .mapview directory
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".mapview"), 0o755))
	w := startWatcher(t, dir)

	// When: files change inside and outside it
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".mapview", "catalog.db"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seen.json"), []byte("{}"), 0o644))

	// Then: only the outside file is reported
	deadline := time.After(2 * time.Second)
	for {
		select {
		case batch := <-w.Events():
			for _, ev := range batch {
				assert.NotContains(t, ev.Path, ".mapview")
				if ev.Path == "/seen.json" {
					return
				}
			}
		case <-deadline:
			t.Fatal("no event for /seen.json")
		}
	}
}

func TestFSWatcher_Start_InvalidRoot(t *testing.T) {
	w, err := New(DefaultOptions())
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	err = w.Start(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestFSWatcher_Stop_ClosesChannels(t *testing.T) {
	// Given: a running watcher
	w, err := New(DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background(), t.TempDir()))

	// When: stopped twice
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	// Then: both channels are closed
	_, ok := <-w.Events()
	assert.False(t, ok)
	_, ok = <-w.Errors()
	assert.False(t, ok)
}

func TestFSWatcher_ContextCancel_Stops(t *testing.T) {
	w, err := New(DefaultOptions())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx, t.TempDir()))

	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-w.Events():
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
