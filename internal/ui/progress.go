package ui

import (
	"sort"
	"sync"
	"time"

	"github.com/Aman-CERP/mapview/internal/events"
)

// ViewProgress is the state of one view catching up on one archive.
type ViewProgress struct {
	Archive string
	View    string
	From    int64
	To      int64
	Current int
	Total   int
	Done    bool
}

// Fraction returns the completed share in [0, 1].
func (p ViewProgress) Fraction() float64 {
	switch {
	case p.Done:
		return 1
	case p.Total == 0:
		return 0
	default:
		return float64(p.Current) / float64(p.Total)
	}
}

// ArchiveError is a failure reported for an archive.
type ArchiveError struct {
	Archive string
	Err     error
	Missing bool
}

// ProgressTracker folds indexing events into per-view progress.
// It is safe for concurrent use.
type ProgressTracker struct {
	mu      sync.RWMutex
	start   time.Time
	rows    map[[2]string]*ViewProgress
	errors  []ArchiveError
	updates int
	passes  int
}

// NewProgressTracker creates a new progress tracker.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		start: time.Now(),
		rows:  make(map[[2]string]*ViewProgress),
	}
}

// Handle applies one event.
func (p *ProgressTracker) Handle(ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := [2]string{ev.Archive, ev.View}
	switch ev.Kind {
	case events.ArchiveIndexing:
		p.rows[key] = &ViewProgress{Archive: ev.Archive, View: ev.View, From: ev.Start, To: ev.End}
	case events.ArchiveIndexProgress:
		row := p.row(key)
		row.Current, row.Total = ev.Current, ev.Total
		p.updates++
	case events.ArchiveIndexed:
		row := p.row(key)
		row.Done = true
		row.To = ev.Version
	case events.IndexesUpdated:
		p.passes++
	case events.ArchiveMissing:
		p.errors = append(p.errors, ArchiveError{Archive: ev.Archive, Missing: true})
	case events.ArchiveError:
		p.errors = append(p.errors, ArchiveError{Archive: ev.Archive, Err: ev.Err})
	}
}

func (p *ProgressTracker) row(key [2]string) *ViewProgress {
	row, ok := p.rows[key]
	if !ok {
		row = &ViewProgress{Archive: key[0], View: key[1]}
		p.rows[key] = row
	}
	return row
}

// Rows returns a snapshot ordered by archive then view.
func (p *ProgressTracker) Rows() []ViewProgress {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]ViewProgress, 0, len(p.rows))
	for _, r := range p.rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Archive != out[j].Archive {
			return out[i].Archive < out[j].Archive
		}
		return out[i].View < out[j].View
	})
	return out
}

// Errors returns the failures seen so far.
func (p *ProgressTracker) Errors() []ArchiveError {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ArchiveError(nil), p.errors...)
}

// Overall returns the completed share across all rows.
func (p *ProgressTracker) Overall() float64 {
	rows := p.Rows()
	if len(rows) == 0 {
		return 0
	}
	var sum float64
	for _, r := range rows {
		sum += r.Fraction()
	}
	return sum / float64(len(rows))
}

// Summary derives a Summary from what was tracked.
func (p *ProgressTracker) Summary() Summary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	archives := make(map[string]struct{})
	views := make(map[string]struct{})
	for k := range p.rows {
		archives[k[0]] = struct{}{}
		views[k[1]] = struct{}{}
	}
	return Summary{
		Archives: len(archives),
		Views:    len(views),
		Updates:  p.updates,
		Errors:   len(p.errors),
		Duration: time.Since(p.start),
	}
}
