// Package memarchive is an in-memory, writable archive.
//
// Every WriteFile or DeleteFile bumps the version by one and appends a
// history record. SetOffline makes every read block until its context ends,
// which is how an unreachable source looks to the indexer.
package memarchive

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Aman-CERP/mapview/internal/archive"
	"github.com/Aman-CERP/mapview/internal/errors"
	"github.com/Aman-CERP/mapview/internal/pathmatch"
)

// Scheme is the URL scheme of in-memory archives.
const Scheme = "mem"

// Archive is an in-memory versioned file tree.
type Archive struct {
	url  string
	feed archive.Feed

	mu        sync.RWMutex
	version   int64
	files     map[string][]byte
	history   []archive.Change
	offline   bool
	failure   error
	downloads map[string]int
}

var _ archive.Archive = (*Archive)(nil)

// New creates an empty archive. An empty name gets a random one.
func New(name string) *Archive {
	if name == "" {
		name = uuid.NewString()
	}
	return &Archive{
		url:       Scheme + "://" + name,
		files:     make(map[string][]byte),
		downloads: make(map[string]int),
	}
}

// URL implements archive.Archive.
func (a *Archive) URL() string { return a.url }

// WriteFile creates or replaces path and returns the new version.
func (a *Archive) WriteFile(path string, content []byte) int64 {
	path = pathmatch.Clean(path)

	a.mu.Lock()
	typ := archive.ChangeCreate
	if _, ok := a.files[path]; ok {
		typ = archive.ChangeUpdate
	}
	a.version++
	a.files[path] = append([]byte(nil), content...)
	a.history = append(a.history, archive.Change{Path: path, Type: typ, Version: a.version})
	v := a.version
	a.mu.Unlock()

	a.feed.Publish(archive.Event{Kind: archive.Changed, Path: path})
	return v
}

// DeleteFile removes path and returns the new version. Deleting a missing
// file is a no-op that returns the current version.
func (a *Archive) DeleteFile(path string) int64 {
	path = pathmatch.Clean(path)

	a.mu.Lock()
	if _, ok := a.files[path]; !ok {
		v := a.version
		a.mu.Unlock()
		return v
	}
	a.version++
	delete(a.files, path)
	a.history = append(a.history, archive.Change{Path: path, Type: archive.ChangeDelete, Version: a.version})
	v := a.version
	a.mu.Unlock()

	a.feed.Publish(archive.Event{Kind: archive.Changed, Path: path})
	return v
}

// Invalidate announces that newer content for path is available upstream.
func (a *Archive) Invalidate(path string) {
	a.feed.Publish(archive.Event{Kind: archive.Invalidated, Path: pathmatch.Clean(path)})
}

// SetOffline makes reads block until their context is done.
func (a *Archive) SetOffline(offline bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.offline = offline
}

// SetFailure makes every read fail with err. Nil clears it.
func (a *Archive) SetFailure(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failure = err
}

// Downloads returns how many times path was downloaded.
func (a *Archive) Downloads(path string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.downloads[pathmatch.Clean(path)]
}

// Subscribers returns the number of live subscriptions.
func (a *Archive) Subscribers() int { return a.feed.Len() }

// reachable blocks while the archive is offline.
func (a *Archive) reachable(ctx context.Context) error {
	a.mu.RLock()
	offline, failure := a.offline, a.failure
	a.mu.RUnlock()

	if failure != nil {
		return failure
	}
	if offline {
		<-ctx.Done()
		return ctx.Err()
	}
	return ctx.Err()
}

// Info implements archive.Archive.
func (a *Archive) Info(ctx context.Context) (archive.Info, error) {
	if err := a.reachable(ctx); err != nil {
		return archive.Info{}, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return archive.Info{URL: a.url, Version: a.version}, nil
}

// History implements archive.Archive.
func (a *Archive) History(ctx context.Context, start, end int64) ([]archive.Change, error) {
	if err := a.reachable(ctx); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []archive.Change
	for _, c := range a.history {
		if c.Version >= start && c.Version < end {
			out = append(out, c)
		}
	}
	return out, nil
}

// ReadFile implements archive.Archive.
func (a *Archive) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := a.reachable(ctx); err != nil {
		return nil, err
	}
	path = pathmatch.Clean(path)

	a.mu.RLock()
	defer a.mu.RUnlock()
	content, ok := a.files[path]
	if !ok {
		return nil, errors.NotFoundError("file not found: "+path).WithDetail("archive", a.url)
	}
	return append([]byte(nil), content...), nil
}

// ListFiles implements archive.Archive.
func (a *Archive) ListFiles(ctx context.Context, root string) ([]string, error) {
	if err := a.reachable(ctx); err != nil {
		return nil, err
	}
	root = pathmatch.Clean(root)
	prefix := strings.TrimSuffix(root, "/") + "/"

	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []string
	for p := range a.files {
		if p == root || strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Subscribe implements archive.Archive.
func (a *Archive) Subscribe(patterns []string) (archive.Subscription, error) {
	return a.feed.Subscribe(patterns)
}

// Download implements archive.Archive.
func (a *Archive) Download(ctx context.Context, path string) error {
	if err := a.reachable(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.downloads[pathmatch.Clean(path)]++
	return nil
}

// Close ends all subscriptions.
func (a *Archive) Close() error {
	a.feed.Close()
	return nil
}
