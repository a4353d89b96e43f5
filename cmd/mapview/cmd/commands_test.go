package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mapview/internal/errors"
	"github.com/Aman-CERP/mapview/internal/ui"
)

const testConfig = `store:
  backend: sqlite
  path: data
views:
  - name: types
    paths: ["/*.json"]
    map:
      key: doc.type
      value: meta.pathname
  - name: counts
    paths: ["/*.json"]
    map:
      key: doc.type
    reduce: count
`

// newProject creates a project dir with a config and a docs directory
// holding two posts and a comment.
func newProject(t *testing.T) (root, docs string) {
	t.Helper()
	root = t.TempDir()
	docs = filepath.Join(root, "docs")
	require.NoError(t, os.MkdirAll(docs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".mapview.yaml"), []byte(testConfig), 0o644))
	for name, body := range map[string]string{
		"a.json": `{"type":"post"}`,
		"b.json": `{"type":"post"}`,
		"c.json": `{"type":"comment"}`,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(docs, name), []byte(body), 0o644))
	}
	return root, docs
}

func synced(t *testing.T) (root, docs string) {
	t.Helper()
	root, docs = newProject(t)
	out, err := run(t, "-C", root, "sync", docs, "--plain")
	require.NoError(t, err, out)
	return root, docs
}

func TestSyncCmd_PlainOutput(t *testing.T) {
	// Given: a project with two views and three documents
	root, docs := newProject(t)

	// When: syncing
	out, err := run(t, "-C", root, "sync", docs, "--plain")

	// Then: both views report completion
	require.NoError(t, err)
	assert.Contains(t, out, "types 3/3")
	assert.Contains(t, out, "[DONE]")
	assert.Contains(t, out, "Complete: 1 archive(s), 2 view(s), 6 update(s)")
}

func TestSyncCmd_NoViews(t *testing.T) {
	root := t.TempDir()
	_, err := run(t, "-C", root, "sync", root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no views configured")
}

func TestGetCmd(t *testing.T) {
	root, _ := synced(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"reduced", []string{"get", "counts", "post"}, `"post"  2`},
		{"quoted key", []string{"get", "counts", `"comment"`}, `"comment"  1`},
		{"entries", []string{"get", "types", "post"}, `["/a.json","/b.json"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, append([]string{"-C", root}, tt.args...)...)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestGetCmd_Errors(t *testing.T) {
	root, _ := synced(t)

	_, err := run(t, "-C", root, "get", "counts", "missing")
	assert.True(t, errors.IsNotFound(err), "got %v", err)

	_, err = run(t, "-C", root, "get", "nope", "post")
	assert.Equal(t, errors.ErrCodeViewNotFound, errors.GetCode(err))

	_, err = run(t, "-C", root, "get", "counts", `{"a":1}`)
	assert.Error(t, err)
}

func TestListCmd(t *testing.T) {
	root, _ := synced(t)

	// When: listing the reduced view as JSON lines
	out, err := run(t, "-C", root, "list", "counts", "--json")

	// Then: rows arrive in key order
	require.NoError(t, err)
	assert.Equal(t, "{\"key\":\"comment\",\"value\":1}\n{\"key\":\"post\",\"value\":2}\n", out)
}

func TestListCmd_BoundsAndReverse(t *testing.T) {
	root, _ := synced(t)

	out, err := run(t, "-C", root, "list", "types", "--gt", "comment", "--reverse", "--limit", "1", "--json")
	require.NoError(t, err)

	var row struct {
		Key   string `json:"key"`
		Value string `json:"value"`
		File  string `json:"file"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &row))
	assert.Equal(t, "post", row.Key)
	assert.Equal(t, "/b.json", row.Value)
	assert.True(t, strings.HasPrefix(row.File, "dir://"))
	assert.True(t, strings.HasSuffix(row.File, "/b.json"))
}

func TestViewsCmd(t *testing.T) {
	root, _ := newProject(t)

	out, err := run(t, "-C", root, "views")

	require.NoError(t, err)
	assert.Contains(t, out, "types (entries) /*.json")
	assert.Contains(t, out, "counts (reduced) /*.json")
}

func TestStatusCmd_JSON(t *testing.T) {
	root, docs := synced(t)

	out, err := run(t, "-C", root, "status", docs, "--json")
	require.NoError(t, err)

	var info ui.StatusInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "sqlite", info.Backend)
	assert.Equal(t, []string{"types", "counts"}, info.Views)
	require.Len(t, info.Archives, 1)
	assert.Greater(t, info.Archives[0].Checkpoints["types"], int64(0))
	assert.Equal(t, info.Archives[0].Checkpoints["types"], info.Archives[0].Checkpoints["counts"])
}

func TestResetCmd(t *testing.T) {
	root, docs := synced(t)

	out, err := run(t, "-C", root, "reset", "counts")
	require.NoError(t, err)
	assert.Contains(t, out, "Reset counts")

	_, err = run(t, "-C", root, "get", "counts", "post")
	assert.True(t, errors.IsNotFound(err))

	// A later sync rebuilds only the reset view.
	_, err = run(t, "-C", root, "sync", docs, "--plain")
	require.NoError(t, err)
	out, err = run(t, "-C", root, "get", "counts", "post")
	require.NoError(t, err)
	assert.Contains(t, out, `"post"  2`)
}

func TestSyncCmd_Incremental(t *testing.T) {
	// Given: a synced project where one post becomes a comment
	root, docs := synced(t)
	require.NoError(t, os.WriteFile(filepath.Join(docs, "a.json"), []byte(`{"type":"comment"}`), 0o644))

	// When: syncing again
	out, err := run(t, "-C", root, "sync", docs, "--plain")

	// Then: only the changed file is re-mapped and counts move
	require.NoError(t, err)
	assert.Contains(t, out, "counts 1/1")
	out, err = run(t, "-C", root, "list", "counts", "--json")
	require.NoError(t, err)
	assert.Equal(t, "{\"key\":\"comment\",\"value\":2}\n{\"key\":\"post\",\"value\":1}\n", out)
}

func TestUnindexCmd(t *testing.T) {
	root, docs := synced(t)

	out, err := run(t, "-C", root, "unindex", docs)
	require.NoError(t, err)
	assert.Contains(t, out, "Unindexed")

	out, err = run(t, "-C", root, "list", "types", "--json")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDestroyCmd(t *testing.T) {
	root, _ := synced(t)

	out, err := run(t, "-C", root, "destroy")
	require.NoError(t, err)
	assert.Contains(t, out, "--yes")
	assert.FileExists(t, filepath.Join(root, "data", "mapview.db"))

	out, err = run(t, "-C", root, "destroy", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Destroyed")
	assert.NoFileExists(t, filepath.Join(root, "data", "mapview.db"))
}

func TestServeCmd_UnknownTransport(t *testing.T) {
	root, _ := newProject(t)
	_, err := run(t, "-C", root, "serve", "--transport", "sse")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func TestConfigCmd_InitAndShow(t *testing.T) {
	// Given: an empty project
	root := t.TempDir()

	// When: creating and then showing the config
	out, err := run(t, "-C", root, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Created")
	assert.FileExists(t, filepath.Join(root, ".mapview.yaml"))

	out, err = run(t, "-C", root, "config", "show", "--json")
	require.NoError(t, err)

	// Then: the example views load and validate
	var cfg struct {
		Views []struct {
			Name string `json:"name"`
		} `json:"views"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	require.Len(t, cfg.Views, 2)
	assert.Equal(t, "types", cfg.Views[0].Name)

	out, err = run(t, "-C", root, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
}

func TestConfigCmd_ExampleViewsCompile(t *testing.T) {
	root := t.TempDir()
	_, err := run(t, "-C", root, "config", "init")
	require.NoError(t, err)

	out, err := run(t, "-C", root, "views")
	require.NoError(t, err, out)
	assert.Contains(t, out, "type-counts (reduced)")
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"post", "post"},
		{`"post"`, "post"},
		{"3", 3.0},
		{`["a",1]`, []any{"a", 1.0}},
		{"true", true},
	}
	for _, tt := range tests {
		got, err := parseKey(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseKey(`{"a":1}`)
	assert.Error(t, err)
}

func TestLogsCmd_Tail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapview.log")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"time":"2026-01-02T10:00:00Z","level":"INFO","msg":"list completed"}`+"\n"+
			`{"time":"2026-01-02T10:00:01Z","level":"ERROR","msg":"initial sync failed"}`+"\n"), 0o644))

	out, err := run(t, "logs", "--file", path, "--level", "error", "--no-color")

	require.NoError(t, err)
	assert.Equal(t, "10:00:01.000 ERROR initial sync failed\n", out)
}

func TestLogsCmd_BadFilter(t *testing.T) {
	_, err := run(t, "logs", "--file", "x", "--filter", "(")
	assert.Error(t, err)
}
