package ui

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mapview/internal/mapreduce"
)

func testStatus() StatusInfo {
	return StatusInfo{
		StorePath: ".mapview/data",
		Backend:   "badger",
		Views:     []string{"types", "counts"},
		Archives: []mapreduce.Status{
			{URL: "mem://a", Watching: true, Checkpoints: map[string]int64{"types": 3, "counts": 2}},
			{URL: "mem://b", Retrying: true, Checkpoints: map[string]int64{}},
		},
	}
}

func TestStatusRenderer_Render(t *testing.T) {
	// Given: a status with one watched and one unreachable archive
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	// When: rendering
	require.NoError(t, r.Render(testStatus()))

	// Then: store, archives and sorted checkpoints are shown
	out := buf.String()
	assert.Contains(t, out, ".mapview/data (badger)")
	assert.Contains(t, out, "Indexed: 2 archive(s)")
	assert.Contains(t, out, "mem://a  watching")
	assert.Contains(t, out, "mem://b  unreachable")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("counts")), bytes.Index(buf.Bytes(), []byte("types ")))
	assert.Contains(t, out, "v3")
}

func TestStatusRenderer_RenderJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	require.NoError(t, r.RenderJSON(testStatus()))

	var got StatusInfo
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, testStatus(), got)
}
