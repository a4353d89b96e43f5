// Package archive defines the versioned file source that views are built from.
//
// An archive is a file tree with a monotonically increasing version. Every
// change to a path is recorded in its history at the version it produced.
// Paths are absolute within the archive and start with "/".
package archive

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Aman-CERP/mapview/internal/errors"
)

// ChangeType classifies a history record.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Change is one path-level history record.
type Change struct {
	Path    string     `json:"path"`
	Type    ChangeType `json:"type"`
	Version int64      `json:"version"`
}

// Info is the archive's current metadata.
type Info struct {
	URL     string `json:"url"`
	Version int64  `json:"version"`
}

// EventKind distinguishes live change signals.
type EventKind int

const (
	// Invalidated means newer content for Path exists upstream and should be fetched.
	Invalidated EventKind = iota
	// Changed means Path changed and the archive version moved.
	Changed
)

func (k EventKind) String() string {
	switch k {
	case Invalidated:
		return "invalidated"
	case Changed:
		return "changed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one live change signal.
type Event struct {
	Kind EventKind
	Path string
}

// Subscription is a live change stream. Events is closed after Close.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Archive is a versioned file tree.
type Archive interface {
	// URL identifies the archive. It is stable across processes.
	URL() string
	// Info returns current metadata.
	Info(ctx context.Context) (Info, error)
	// History returns changes with start <= version < end, ordered by version.
	History(ctx context.Context, start, end int64) ([]Change, error)
	// ReadFile returns the current content of path. A missing file yields
	// an error for which errors.IsNotFound is true.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// ListFiles returns every file under root, recursively.
	ListFiles(ctx context.Context, root string) ([]string, error)
	// Subscribe streams change events for paths matching patterns.
	Subscribe(patterns []string) (Subscription, error)
	// Download eagerly fetches path so later reads are local.
	Download(ctx context.Context, path string) error
}

// Opener builds an archive from a URL with a given scheme.
type Opener func(ctx context.Context, url string) (Archive, error)

// Resolver maps archive URLs to archives. Resolved archives are cached so
// each URL has one live instance.
type Resolver struct {
	mu      sync.Mutex
	openers map[string]Opener
	open    map[string]Archive
}

// NewResolver returns an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{
		openers: make(map[string]Opener),
		open:    make(map[string]Archive),
	}
}

// Handle registers an opener for a URL scheme such as "dir".
func (r *Resolver) Handle(scheme string, open Opener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openers[scheme] = open
}

// Add registers an already open archive under its URL.
func (r *Resolver) Add(a Archive) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[a.URL()] = a
}

// Resolve returns the archive for url, opening it on first use.
func (r *Resolver) Resolve(ctx context.Context, url string) (Archive, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.open[url]; ok {
		return a, nil
	}

	scheme, _, ok := strings.Cut(url, "://")
	if !ok {
		return nil, errors.ValidationError(fmt.Sprintf("archive URL %q has no scheme", url), nil)
	}
	open, ok := r.openers[scheme]
	if !ok {
		return nil, errors.ValidationError(fmt.Sprintf("no archive handler for scheme %q", scheme), nil).
			WithDetail("url", url)
	}

	a, err := open(ctx, url)
	if err != nil {
		return nil, err
	}
	r.open[url] = a
	return a, nil
}

// Forget drops a cached archive.
func (r *Resolver) Forget(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.open, url)
}

// Collapse keeps only the latest change per path among those accepted by
// keep, ordered by ascending version. Ties keep history order.
func Collapse(changes []Change, keep func(path string) bool) []Change {
	latest := make(map[string]int, len(changes))
	var out []Change
	for _, c := range changes {
		if keep != nil && !keep(c.Path) {
			continue
		}
		if i, ok := latest[c.Path]; ok {
			if c.Version >= out[i].Version {
				out[i] = c
			}
			continue
		}
		latest[c.Path] = len(out)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// FileURL joins an archive URL and a path.
func FileURL(archiveURL, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimSuffix(archiveURL, "/") + path
}
