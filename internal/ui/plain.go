package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Aman-CERP/mapview/internal/events"
)

// PlainRenderer outputs one line per event (for CI/pipes).
type PlainRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// Handle implements Renderer.
func (r *PlainRenderer) Handle(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case events.ArchiveIndexing:
		if ev.Start < ev.End {
			_, _ = fmt.Fprintf(r.out, "[SYNC] %s %s %d..%d\n", ev.Archive, ev.View, ev.Start, ev.End)
		}
	case events.ArchiveIndexProgress:
		_, _ = fmt.Fprintf(r.out, "[SYNC] %s %s %d/%d\n", ev.Archive, ev.View, ev.Current, ev.Total)
	case events.ArchiveIndexed:
		_, _ = fmt.Fprintf(r.out, "[DONE] %s %s v%d\n", ev.Archive, ev.View, ev.Version)
	case events.ArchiveMissing:
		_, _ = fmt.Fprintf(r.out, "WARN: %s: unreachable, retrying\n", ev.Archive)
	case events.ArchiveFound:
		_, _ = fmt.Fprintf(r.out, "[FOUND] %s\n", ev.Archive)
	case events.ArchiveError:
		_, _ = fmt.Fprintf(r.out, "ERROR: %s: %v\n", ev.Archive, ev.Err)
	case events.ViewReset:
		_, _ = fmt.Fprintf(r.out, "[RESET] %s\n", ev.View)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d archive(s), %d view(s), %d update(s) in %s",
		s.Archives, s.Views, s.Updates, s.Duration.Round(100*time.Millisecond))
	if s.Errors > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors)", s.Errors)
	}
	_, _ = fmt.Fprintln(r.out)
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}
