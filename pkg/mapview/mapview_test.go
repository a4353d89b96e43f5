package mapview_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mapview/pkg/mapview"
)

func byType(_ context.Context, content []byte, meta mapview.Meta, emit mapview.Emit) error {
	var doc struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(content, &doc); err != nil {
		return err
	}
	return emit(doc.Type, meta.Pathname)
}

func Example() {
	ctx := context.Background()
	db, err := mapview.Open(ctx, mapview.WithBackend("memory"))
	if err != nil {
		panic(err)
	}
	defer func() { _ = db.Close() }()

	_ = db.Define(ctx, "types", mapview.Definition{
		Paths:  []string{"/*.json"},
		Map:    mapview.MapperFunc(byType),
		Reduce: mapview.Count,
	})

	a := mapview.NewMemoryArchive("posts")
	a.WriteFile("/1.json", []byte(`{"type":"post"}`))
	a.WriteFile("/2.json", []byte(`{"type":"post"}`))
	a.WriteFile("/3.json", []byte(`{"type":"comment"}`))
	_ = db.Index(ctx, a, mapview.IndexOptions{})

	rows, _ := db.List(ctx, "types", mapview.ListOptions{})
	for _, r := range rows {
		fmt.Println(r.Key, r.Value)
	}
	// Output:
	// comment 1
	// post 2
}

func TestOpen_DirArchiveWithCELView(t *testing.T) {
	// Given: a sqlite-backed DB with a CEL view and a directory of documents
	ctx := context.Background()
	db, err := mapview.Open(ctx, mapview.WithBackend("sqlite"), mapview.WithPath(t.TempDir()))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	def, err := mapview.Build(mapview.ViewConfig{
		Name:   "tags",
		Paths:  []string{"/**/*.json"},
		Map:    mapview.MapConfig{Each: "doc.tags", Key: "item"},
		Reduce: "count",
	})
	require.NoError(t, err)
	require.NoError(t, db.Define(ctx, "tags", def))

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "posts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "posts", "a.json"), []byte(`{"tags":["go","db"]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "posts", "b.json"), []byte(`{"tags":["go"]}`), 0o644))

	dir, err := mapview.OpenDir(ctx, root, false)
	require.NoError(t, err)
	defer func() { _ = dir.Close() }()

	// When: indexing the directory
	require.NoError(t, db.Index(ctx, dir, mapview.IndexOptions{}))

	// Then: tags are counted across files
	row, err := db.Get(ctx, "tags", "go")
	require.NoError(t, err)
	assert.Equal(t, float64(2), row.Value)
	assert.True(t, db.IsIndexed(dir.URL()))
}

func TestNew_DefaultsToBadger(t *testing.T) {
	db := mapview.New(mapview.WithPath(t.TempDir()))
	require.NoError(t, db.Open(context.Background()))
	assert.True(t, db.IsOpen())
	require.NoError(t, db.Close())
	assert.False(t, db.IsOpen())
}
