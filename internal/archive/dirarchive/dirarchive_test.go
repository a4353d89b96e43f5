package dirarchive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mapview/internal/archive"
	"github.com/Aman-CERP/mapview/internal/errors"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func openDir(t *testing.T, root string, opts Options) *Archive {
	t.Helper()
	a, err := Open(context.Background(), root, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestOpen_InitialSync_RecordsCreates(t *testing.T) {
	// Given: a directory with two files
	root := t.TempDir()
	writeFile(t, root, "a.json", `{"n":1}`)
	writeFile(t, root, "posts/b.json", `{"n":2}`)
	ctx := context.Background()

	// When: it is opened
	a := openDir(t, root, Options{})

	// Then: both files are in history as creates and the version is 2
	info, err := a.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Version)
	assert.Regexp(t, `^dir://[0-9a-f-]{36}$`, info.URL)

	hist, err := a.History(ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	for _, c := range hist {
		assert.Equal(t, archive.ChangeCreate, c.Type)
	}

	files, err := a.ListFiles(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"/a.json", "/posts/b.json"}, files)
}

func TestOpen_CatalogIsNotArchived(t *testing.T) {
	// Given: a fresh directory
	root := t.TempDir()
	writeFile(t, root, "a.json", "1")

	// When: it is opened and synced again
	a := openDir(t, root, Options{})
	changes, err := a.Sync(context.Background())
	require.NoError(t, err)

	// Then: the .mapview catalog never shows up
	assert.Empty(t, changes)
	files, err := a.ListFiles(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"/a.json"}, files)
}

func TestSync_UpdateAndDelete(t *testing.T) {
	// Given: an opened archive
	root := t.TempDir()
	writeFile(t, root, "a.json", "1")
	writeFile(t, root, "b.json", "2")
	a := openDir(t, root, Options{})
	ctx := context.Background()

	// When: one file changes and another is removed
	writeFile(t, root, "a.json", "100")
	require.NoError(t, os.Remove(filepath.Join(root, "b.json")))
	changes, err := a.Sync(ctx)

	// Then: an update and a delete are recorded at new versions
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, archive.Change{Path: "/a.json", Type: archive.ChangeUpdate, Version: 3}, changes[0])
	assert.Equal(t, archive.Change{Path: "/b.json", Type: archive.ChangeDelete, Version: 4}, changes[1])

	hist, err := a.History(ctx, 3, 5)
	require.NoError(t, err)
	assert.Equal(t, changes, hist)
}

func TestSync_TouchWithoutContentChange_NoHistory(t *testing.T) {
	// Given: an opened archive
	root := t.TempDir()
	writeFile(t, root, "a.json", "same")
	a := openDir(t, root, Options{})

	// When: only the mtime moves
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "a.json"), future, future))
	changes, err := a.Sync(context.Background())

	// Then: nothing is recorded
	require.NoError(t, err)
	assert.Empty(t, changes)
	info, err := a.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Version)
}

func TestOpen_Reopen_KeepsIDAndVersion(t *testing.T) {
	// Given: an archive opened and closed once
	root := t.TempDir()
	writeFile(t, root, "a.json", "1")
	first, err := Open(context.Background(), root, Options{})
	require.NoError(t, err)
	url := first.URL()
	require.NoError(t, first.Close())

	// When: a file is added offline and the archive reopened
	writeFile(t, root, "b.json", "2")
	second := openDir(t, root, Options{})

	// Then: the URL is stable and the offline change was picked up
	assert.Equal(t, url, second.URL())
	info, err := second.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Version)
}

func TestReadFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "posts/1.json", `{"title":"x"}`)
	a := openDir(t, root, Options{})
	ctx := context.Background()

	got, err := a.ReadFile(ctx, "/posts/1.json")
	require.NoError(t, err)
	assert.Equal(t, `{"title":"x"}`, string(got))

	_, err = a.ReadFile(ctx, "/missing.json")
	assert.True(t, errors.IsNotFound(err))

	_, err = a.ReadFile(ctx, "/../outside")
	require.Error(t, err)
}

func TestListFiles_Subtree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "x/1", "1")
	writeFile(t, root, "x/y/2", "2")
	writeFile(t, root, "xz", "3")
	a := openDir(t, root, Options{})

	files, err := a.ListFiles(context.Background(), "/x")
	require.NoError(t, err)
	assert.Equal(t, []string{"/x/1", "/x/y/2"}, files)
}

func TestSync_PublishesChanged(t *testing.T) {
	// Given: a subscription for json files
	root := t.TempDir()
	a := openDir(t, root, Options{})
	sub, err := a.Subscribe([]string{"**/*.json"})
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	// When: a json and a text file appear and Sync runs
	writeFile(t, root, "a.json", "{}")
	writeFile(t, root, "a.txt", "x")
	_, err = a.Sync(context.Background())
	require.NoError(t, err)

	// Then: only the json file is announced
	select {
	case ev := <-sub.Events():
		assert.Equal(t, archive.Event{Kind: archive.Changed, Path: "/a.json"}, ev)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %v", ev)
	default:
	}
}

func TestWatch_SyncsOnFileChange(t *testing.T) {
	// Given: a watched archive
	root := t.TempDir()
	a := openDir(t, root, Options{Watch: true, Debounce: 20 * time.Millisecond})
	sub, err := a.Subscribe([]string{"**"})
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	// When: a file is written
	writeFile(t, root, "live.json", "{}")

	// Then: the archive syncs by itself and announces it
	select {
	case ev := <-sub.Events():
		assert.Equal(t, "/live.json", ev.Path)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not sync")
	}
	info, err := a.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Version)
}

func TestOpener(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.json", "1")
	open := Opener(Options{})

	a, err := open(context.Background(), "dir://"+filepath.ToSlash(root))
	require.NoError(t, err)
	defer func() { _ = a.(*Archive).Close() }()
	assert.Equal(t, root, a.(*Archive).Root())

	_, err = open(context.Background(), "dir://0b1e2c1e-0000-4000-8000-000000000000")
	assert.True(t, errors.IsNotFound(err))
}

func TestOpen_NotADirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "file", "x")

	_, err := Open(context.Background(), filepath.Join(root, "file"), Options{})
	assert.Error(t, err)

	_, err = Open(context.Background(), filepath.Join(root, "missing"), Options{})
	assert.Error(t, err)
}
