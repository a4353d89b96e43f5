package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mapview/internal/view"
)

func TestWriter_Status(t *testing.T) {
	tests := []struct {
		name string
		fn   func(w *Writer)
		want string
	}{
		{"icon", func(w *Writer) { w.Status("→", "syncing") }, "→ syncing\n"},
		{"no icon", func(w *Writer) { w.Status("", "detail") }, "  detail\n"},
		{"success", func(w *Writer) { w.Successf("%d views", 2) }, "✓ 2 views\n"},
		{"warning", func(w *Writer) { w.Warningf("slow") }, "⚠ slow\n"},
		{"error", func(w *Writer) { w.Errorf("failed: %s", "x") }, "✗ failed: x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.fn(New(buf))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriter_Rows_WithFiles(t *testing.T) {
	// Given: entry rows carrying their source file
	buf := &bytes.Buffer{}
	rows := []view.Row{
		{Key: "post", Value: map[string]any{"n": 1.0}, File: "mem://a/1.json"},
		{Key: []any{"a", 2.0}, Value: nil, File: "mem://a/2.json"},
	}

	// When: rendering
	require.NoError(t, New(buf).Rows(rows))

	// Then: cells are JSON and columns are aligned
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "KEY"))
	assert.Contains(t, lines[0], "FILE")
	assert.Contains(t, lines[1], `"post"`)
	assert.Contains(t, lines[1], `{"n":1}`)
	assert.Contains(t, lines[2], `["a",2]`)
	assert.Contains(t, lines[2], "null")
	assert.Equal(t, strings.Index(lines[1], "mem://"), strings.Index(lines[2], "mem://"))
}

func TestWriter_Rows_Reduced(t *testing.T) {
	buf := &bytes.Buffer{}

	require.NoError(t, New(buf).Rows([]view.Row{{Key: "post", Value: 2.0}}))

	assert.NotContains(t, buf.String(), "FILE")
	assert.Contains(t, buf.String(), `"post"  2`)
}

func TestWriter_Rows_Unencodable(t *testing.T) {
	err := New(&bytes.Buffer{}).Rows([]view.Row{{Key: "k", Value: make(chan int)}})
	assert.Error(t, err)
}

func TestWriter_JSONLines(t *testing.T) {
	buf := &bytes.Buffer{}

	require.NoError(t, New(buf).JSONLines([]view.Row{{Key: "a", Value: 1.0}, {Key: "b", Value: 2.0, File: "f"}}))

	assert.Equal(t, "{\"key\":\"a\",\"value\":1}\n{\"key\":\"b\",\"value\":2,\"file\":\"f\"}\n", buf.String())
}

func TestWriter_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, New(buf).JSON(map[string]int{"a": 1}))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", buf.String())
}
