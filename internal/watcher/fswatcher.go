package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/mapview/internal/errors"
	"github.com/Aman-CERP/mapview/internal/pathmatch"
)

// FSWatcher watches a directory tree with fsnotify and emits debounced batches.
type FSWatcher struct {
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	ignore    *pathmatch.Matcher
	events    chan []FileEvent
	errors    chan error
	stopCh    chan struct{}
	opts      Options

	mu             sync.RWMutex
	root           string
	started        bool
	stopped        bool
	droppedBatches atomic.Uint64
}

// New creates a watcher. It does not watch anything until Start.
func New(opts Options) (*FSWatcher, error) {
	opts = opts.WithDefaults()

	patterns := append(append([]string(nil), DefaultIgnorePatterns...), opts.IgnorePatterns...)
	ignore, err := pathmatch.Compile(patterns...)
	if err != nil {
		return nil, errors.ConfigError("invalid watcher ignore pattern", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "create file system watcher", err)
	}

	return &FSWatcher{
		fsw:       fsw,
		debouncer: NewDebouncer(opts.DebounceWindow),
		ignore:    ignore,
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}, nil
}

// Start registers every directory under root and begins delivering events
// in the background. It returns once the tree is registered. The watcher
// runs until Stop is called or ctx is cancelled.
func (w *FSWatcher) Start(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return errors.ValidationError("resolve watch root", err).WithDetail("path", root)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return errors.New(errors.ErrCodeFileNotFound, "watch root is not accessible", err).WithDetail("path", abs)
	}
	if !info.IsDir() {
		return errors.ValidationError("watch root is not a directory", nil).WithDetail("path", abs)
	}

	w.mu.Lock()
	if w.stopped || w.started {
		w.mu.Unlock()
		return errors.ValidationError("watcher already started or stopped", nil)
	}
	w.started = true
	w.root = abs
	w.mu.Unlock()

	if err := w.addRecursive(abs); err != nil {
		return errors.New(errors.ErrCodeInternal, "add directories to watcher", err).WithDetail("path", abs)
	}

	go w.forward(ctx)
	go w.loop(ctx)
	return nil
}

func (w *FSWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.emitError(err)
		}
	}
}

// handle converts one fsnotify event and feeds the debouncer.
func (w *FSWatcher) handle(ev fsnotify.Event) {
	rel := w.rel(ev.Name)
	if rel == "/" {
		return
	}

	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}
	if w.ignore.Match(rel) {
		return
	}

	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir {
			// Files written before the directory is registered are missed
			// by fsnotify, so announce whatever is already there.
			if err := w.addRecursive(ev.Name); err != nil {
				w.emitError(err)
			}
			w.announce(ev.Name)
		}
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return
	}

	w.debouncer.Add(FileEvent{Path: rel, Operation: op, IsDir: isDir, Timestamp: time.Now()})
}

// announce queues a create event for every file below dir.
func (w *FSWatcher) announce(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel := w.rel(p)
		if w.ignore.Match(rel) {
			return nil
		}
		w.debouncer.Add(FileEvent{Path: rel, Operation: OpCreate, Timestamp: time.Now()})
		return nil
	})
}

func (w *FSWatcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			w.emitEvents(batch)
		}
	}
}

// addRecursive registers dir and every non-ignored directory below it.
func (w *FSWatcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Vanished or unreadable entries are skipped.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel := w.rel(p)
		if rel != "/" && w.ignore.Match(rel) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

// rel maps an absolute OS path to a rooted slash path.
func (w *FSWatcher) rel(name string) string {
	w.mu.RLock()
	root := w.root
	w.mu.RUnlock()

	r, err := filepath.Rel(root, name)
	if err != nil {
		r = name
	}
	if r == "." {
		return "/"
	}
	return pathmatch.Clean(filepath.ToSlash(r))
}

func (w *FSWatcher) emitEvents(batch []FileEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return
	}

	select {
	case w.events <- batch:
	default:
		count := w.droppedBatches.Add(1)
		slog.Warn("event buffer full, dropping batch",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("total_dropped_batches", count))
	}
}

func (w *FSWatcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return
	}

	select {
	case w.errors <- err:
	default:
	}
}

// DroppedBatches returns the number of batches dropped because the consumer
// fell behind.
func (w *FSWatcher) DroppedBatches() uint64 {
	return w.droppedBatches.Load()
}

// Stop stops watching and closes Events and Errors. Safe to call more than once.
func (w *FSWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	err := w.fsw.Close()
	close(w.events)
	close(w.errors)
	return err
}

// Events returns the channel of debounced batches.
func (w *FSWatcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns non-fatal watcher errors.
func (w *FSWatcher) Errors() <-chan error {
	return w.errors
}

// Root returns the absolute directory being watched.
func (w *FSWatcher) Root() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.root
}
