// Package output formats CLI messages and query results.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Aman-CERP/mapview/internal/view"
)

// Writer provides formatted output for CLI.
type Writer struct {
	out io.Writer
}

// New creates a new output Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints a message with an icon. Write errors are ignored.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "  %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Status("✓", fmt.Sprintf(format, args...))
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Status("⚠", fmt.Sprintf(format, args...))
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Status("✗", fmt.Sprintf(format, args...))
}

// JSON writes v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// JSONLines writes one compact JSON object per row.
func (w *Writer) JSONLines(rows []view.Row) error {
	enc := json.NewEncoder(w.out)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// Rows writes rows as aligned KEY VALUE [FILE] columns with JSON cells.
func (w *Writer) Rows(rows []view.Row) error {
	withFile := false
	for _, r := range rows {
		if r.File != "" {
			withFile = true
			break
		}
	}

	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	if withFile {
		_, _ = fmt.Fprintln(tw, "KEY\tVALUE\tFILE")
	} else {
		_, _ = fmt.Fprintln(tw, "KEY\tVALUE")
	}
	for _, r := range rows {
		key, err := compact(r.Key)
		if err != nil {
			return err
		}
		val, err := compact(r.Value)
		if err != nil {
			return err
		}
		if withFile {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", key, val, r.File)
		} else {
			_, _ = fmt.Fprintf(tw, "%s\t%s\n", key, val)
		}
	}
	return tw.Flush()
}

func compact(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode cell: %w", err)
	}
	return string(b), nil
}
