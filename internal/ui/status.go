package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/Aman-CERP/mapview/internal/mapreduce"
)

// StatusInfo is the index status shown by the status command.
type StatusInfo struct {
	StorePath string             `json:"store_path"`
	Backend   string             `json:"backend"`
	Views     []string           `json:"views"`
	Archives  []mapreduce.Status `json:"archives"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Index Status"))
	_, _ = fmt.Fprintf(r.out, "  Store:   %s (%s)\n", info.StorePath, info.Backend)
	_, _ = fmt.Fprintf(r.out, "  Views:   %d\n", len(info.Views))
	_, _ = fmt.Fprintf(r.out, "  Indexed: %d archive(s)\n", len(info.Archives))

	for _, a := range info.Archives {
		_, _ = fmt.Fprintf(r.out, "\n  %s  %s\n", a.URL, r.renderState(a))
		names := make([]string, 0, len(a.Checkpoints))
		for name := range a.Checkpoints {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			_, _ = fmt.Fprintf(r.out, "    %-20s v%d\n", name, a.Checkpoints[name])
		}
	}
	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderState(s mapreduce.Status) string {
	switch {
	case s.Retrying:
		return r.styles.Warning.Render("unreachable")
	case s.Watching:
		return r.styles.Success.Render("watching")
	default:
		return r.styles.Label.Render("idle")
	}
}
