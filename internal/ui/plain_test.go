package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/mapview/internal/events"
)

func TestPlainRenderer_Handle_OutputFormat(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: a view pass is reported
	r.Handle(events.Event{Kind: events.ArchiveIndexing, Archive: "mem://a", View: "types", Start: 0, End: 3})
	r.Handle(events.Event{Kind: events.ArchiveIndexProgress, Archive: "mem://a", View: "types", Current: 1, Total: 2})
	r.Handle(events.Event{Kind: events.ArchiveIndexed, Archive: "mem://a", View: "types", Version: 3})

	// Then: one line per event
	assert.Equal(t, "[SYNC] mem://a types 0..3\n[SYNC] mem://a types 1/2\n[DONE] mem://a types v3\n", buf.String())
}

func TestPlainRenderer_Handle_SkipsUpToDateViews(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Handle(events.Event{Kind: events.ArchiveIndexing, Archive: "mem://a", View: "types", Start: 3, End: 3})
	r.Handle(events.Event{Kind: events.IndexesUpdated, Archive: "mem://a", Version: 3})

	assert.Empty(t, buf.String())
}

func TestPlainRenderer_Handle_Failures(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Handle(events.Event{Kind: events.ArchiveMissing, Archive: "mem://a"})
	r.Handle(events.Event{Kind: events.ArchiveError, Archive: "mem://b", Err: errors.New("boom")})

	out := buf.String()
	assert.Contains(t, out, "WARN: mem://a: unreachable")
	assert.Contains(t, out, "ERROR: mem://b: boom")
}

func TestPlainRenderer_NoANSICodes(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Handle(events.Event{Kind: events.ArchiveIndexProgress, Archive: "mem://a", View: "v", Current: 1, Total: 1})
	r.Handle(events.Event{Kind: events.ViewReset, View: "v"})
	r.Complete(Summary{Archives: 1, Views: 1, Updates: 1})

	assert.False(t, strings.Contains(buf.String(), "\x1b["), "plain output must not contain ANSI escape codes")
}

func TestPlainRenderer_Complete(t *testing.T) {
	tests := []struct {
		name    string
		summary Summary
		want    string
	}{
		{
			name:    "clean",
			summary: Summary{Archives: 2, Views: 3, Updates: 10, Duration: 1500 * time.Millisecond},
			want:    "Complete: 2 archive(s), 3 view(s), 10 update(s) in 1.5s\n",
		},
		{
			name:    "with errors",
			summary: Summary{Archives: 1, Views: 1, Errors: 2},
			want:    "Complete: 1 archive(s), 1 view(s), 0 update(s) in 0s (2 errors)\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			r := NewPlainRenderer(NewConfig(buf))
			r.Complete(tt.summary)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}
