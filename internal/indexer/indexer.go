// Package indexer keeps views in sync with archives.
//
// A pass over one archive reads each view's checkpoint, fetches the
// archive history since then, keeps the latest change per matching path
// and applies those changes in version order, advancing the checkpoint
// after every one. Passes for the same archive are serialized by a keyed
// lock; different archives proceed concurrently.
package indexer

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/mapview/internal/archive"
	"github.com/Aman-CERP/mapview/internal/errors"
	"github.com/Aman-CERP/mapview/internal/events"
	"github.com/Aman-CERP/mapview/internal/metrics"
	"github.com/Aman-CERP/mapview/internal/view"
)

// Registry is what the indexer needs to know about its owner.
type Registry interface {
	// IsOpen reports whether the database accepts work.
	IsOpen() bool
	// Views returns the registered views in definition order.
	Views() []*view.View
	// IsIndexed reports whether url is in the active archive set.
	IsIndexed(url string) bool
}

// Config tunes timing.
type Config struct {
	// ReadTimeout bounds each archive metadata, history and file read.
	ReadTimeout time.Duration
	// RetryInterval is the fixed delay between attempts on an unreachable archive.
	RetryInterval time.Duration
	// Debounce coalesces bursts of change events into one pass.
	Debounce time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the default timing.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:   30 * time.Second,
		RetryInterval: 30 * time.Second,
		Debounce:      500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.Debounce <= 0 {
		c.Debounce = d.Debounce
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Indexer synchronizes archives into the registry's views.
type Indexer struct {
	reg    Registry
	bus    *events.Bus
	cfg    Config
	logger *slog.Logger
	locks  *keyedMutex

	// ctx scopes background work: retry loops and watch-triggered passes.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	watches map[string]*watch
	retries map[string]context.CancelFunc
}

// New creates an indexer. bus may be nil.
func New(reg Registry, bus *events.Bus, cfg Config) *Indexer {
	cfg = cfg.withDefaults()
	if bus == nil {
		bus = events.NewBus(cfg.Logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Indexer{
		reg:     reg,
		bus:     bus,
		cfg:     cfg,
		logger:  cfg.Logger,
		locks:   newKeyedMutex(),
		ctx:     ctx,
		cancel:  cancel,
		watches: make(map[string]*watch),
		retries: make(map[string]context.CancelFunc),
	}
}

// enter registers work that Shutdown waits for. It reports false once
// shutdown has begun; otherwise the caller must call ix.wg.Done.
func (ix *Indexer) enter() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return false
	}
	ix.wg.Add(1)
	return true
}

// track runs fn as work that Shutdown waits for. It returns false without
// running fn once shutdown has begun.
func (ix *Indexer) track(fn func()) bool {
	if !ix.enter() {
		return false
	}
	defer ix.wg.Done()
	fn()
	return true
}

// spawn is track on a new goroutine.
func (ix *Indexer) spawn(fn func()) bool {
	if !ix.enter() {
		return false
	}
	go func() {
		defer ix.wg.Done()
		fn()
	}()
	return true
}

// IndexArchive runs one synchronization pass over a. It is a no-op when
// the registry is closed. A map failure stops that view's pass, the other
// views still run, and the first such failure is returned. Timeouts and
// store failures abort the pass.
func (ix *Indexer) IndexArchive(ctx context.Context, a archive.Archive) error {
	if !ix.enter() {
		return nil
	}
	defer ix.wg.Done()

	url := a.URL()
	unlock, err := ix.locks.Lock(ctx, url)
	if err != nil {
		return err
	}
	defer unlock()

	if !ix.reg.IsOpen() {
		ix.logger.Debug("index pass skipped, database closed", slog.String("archive", url))
		return nil
	}

	start := time.Now()
	err = ix.pass(ctx, a)
	metrics.PassDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PassErrors.WithLabelValues(errorClass(err)).Inc()
	}
	return err
}

func (ix *Indexer) pass(ctx context.Context, a archive.Archive) error {
	url := a.URL()

	var info archive.Info
	err := ix.read(ctx, "archive info", func(ctx context.Context) (err error) {
		info, err = a.Info(ctx)
		return err
	})
	if err != nil {
		return err
	}

	var firstErr error
	for _, v := range ix.reg.Views() {
		err := ix.indexView(ctx, v, a, info.Version)
		if err == nil {
			continue
		}
		if !recoverable(err) {
			return err
		}
		ix.logger.Warn("view pass stopped at failing file",
			append([]any{slog.String("archive", url), slog.String("view", v.Name())}, errors.LogAttrs(err)...)...)
		if firstErr == nil {
			firstErr = err
		}
	}

	ix.bus.Publish(events.Event{Kind: events.IndexesUpdated, Archive: url, Version: info.Version})
	return firstErr
}

// indexView brings one view up to version.
func (ix *Indexer) indexView(ctx context.Context, v *view.View, a archive.Archive, version int64) error {
	release := v.BeginUpdate()
	defer release()

	url := a.URL()
	checkpoint, err := v.Checkpoint(ctx, url)
	if err != nil {
		return err
	}
	ix.bus.Publish(events.Event{Kind: events.ArchiveIndexing, Archive: url, View: v.Name(), Start: checkpoint, End: version})

	var history []archive.Change
	if checkpoint < version {
		err = ix.read(ctx, "archive history", func(ctx context.Context) (err error) {
			history, err = a.History(ctx, checkpoint+1, version+1)
			return err
		})
		if err != nil {
			return err
		}
	}
	updates := archive.Collapse(history, v.Match)

	ix.logger.Debug("applying updates",
		slog.String("archive", url),
		slog.String("view", v.Name()),
		slog.Int64("from", checkpoint),
		slog.Int64("to", version),
		slog.Int("updates", len(updates)))

	for i, u := range updates {
		if u.Type == archive.ChangeDelete {
			err = ix.unindexFile(ctx, v, a, u.Path)
		} else {
			err = ix.indexFile(ctx, v, a, u.Path)
		}
		if err != nil {
			return err
		}
		if err := v.PutCheckpoint(ctx, url, u.Version); err != nil {
			return err
		}
		checkpoint = u.Version
		metrics.UpdatesApplied.WithLabelValues(v.Name(), string(u.Type)).Inc()
		ix.bus.Publish(events.Event{
			Kind:    events.ArchiveIndexProgress,
			Archive: url,
			View:    v.Name(),
			Current: i + 1,
			Total:   len(updates),
		})
	}

	// History past the last matching change holds nothing for this view.
	if checkpoint < version {
		if err := v.PutCheckpoint(ctx, url, version); err != nil {
			return err
		}
	}

	ix.bus.Publish(events.Event{Kind: events.ArchiveIndexed, Archive: url, View: v.Name(), Version: version})
	return nil
}

// indexFile re-maps path into v. A file that is gone by the time it is
// read is unindexed instead.
func (ix *Indexer) indexFile(ctx context.Context, v *view.View, a archive.Archive, path string) error {
	content, err := ix.readFile(ctx, a, path)
	if errors.IsNotFound(err) {
		return ix.unindexFile(ctx, v, a, path)
	}
	if err != nil {
		return err
	}
	return ix.apply(ctx, v, a, path, content)
}

// apply replaces the entries of one file in v with the output of map.
// When map fails the file's entries are removed and the map error returned.
func (ix *Indexer) apply(ctx context.Context, v *view.View, a archive.Archive, path string, content []byte) error {
	fileURL := archive.FileURL(a.URL(), path)
	entries, mapErr := v.MapFile(ctx, content, view.Meta{Origin: a.URL(), URL: fileURL, Pathname: path})
	if mapErr != nil {
		if err := v.ReplaceFileEntries(ctx, fileURL, nil); err != nil {
			return err
		}
		return mapErr
	}
	return v.ReplaceFileEntries(ctx, fileURL, entries)
}

// unindexFile drops the entries of one file from v.
func (ix *Indexer) unindexFile(ctx context.Context, v *view.View, a archive.Archive, path string) error {
	return v.ReplaceFileEntries(ctx, archive.FileURL(a.URL(), path), nil)
}

// UnindexArchive removes every entry a contributed to any view and clears
// the checkpoints, without consulting history.
func (ix *Indexer) UnindexArchive(ctx context.Context, a archive.Archive) error {
	if !ix.enter() {
		return errors.ErrNotOpen
	}
	defer ix.wg.Done()

	url := a.URL()
	unlock, err := ix.locks.Lock(ctx, url)
	if err != nil {
		return err
	}
	defer unlock()

	var files []string
	err = ix.read(ctx, "archive listing", func(ctx context.Context) (err error) {
		files, err = a.ListFiles(ctx, "/")
		return err
	})
	if err != nil {
		return err
	}

	for _, v := range ix.reg.Views() {
		if err := ix.unindexView(ctx, v, a, files); err != nil {
			return err
		}
	}
	ix.logger.Debug("archive unindexed", slog.String("archive", url), slog.Int("files", len(files)))
	return nil
}

func (ix *Indexer) unindexView(ctx context.Context, v *view.View, a archive.Archive, files []string) error {
	release := v.BeginUpdate()
	defer release()

	for _, path := range files {
		if !v.Match(path) {
			continue
		}
		if err := ix.unindexFile(ctx, v, a, path); err != nil {
			return err
		}
	}
	return v.DeleteCheckpoint(ctx, a.URL())
}

// ReadAndIndexFile maps path into every view, whether or not the view's
// patterns select it. Checkpoints are not touched.
func (ix *Indexer) ReadAndIndexFile(ctx context.Context, a archive.Archive, path string) error {
	if !ix.enter() {
		return errors.ErrNotOpen
	}
	defer ix.wg.Done()

	unlock, err := ix.locks.Lock(ctx, a.URL())
	if err != nil {
		return err
	}
	defer unlock()

	content, err := ix.readFile(ctx, a, path)
	if err != nil {
		return err
	}

	var firstErr error
	for _, v := range ix.reg.Views() {
		release := v.BeginUpdate()
		err := ix.apply(ctx, v, a, path, content)
		release()
		if err == nil {
			continue
		}
		if !recoverable(err) {
			return err
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// UnindexFile removes path's entries from every view. Checkpoints are not
// touched.
func (ix *Indexer) UnindexFile(ctx context.Context, a archive.Archive, path string) error {
	if !ix.enter() {
		return errors.ErrNotOpen
	}
	defer ix.wg.Done()

	unlock, err := ix.locks.Lock(ctx, a.URL())
	if err != nil {
		return err
	}
	defer unlock()

	for _, v := range ix.reg.Views() {
		release := v.BeginUpdate()
		err := ix.unindexFile(ctx, v, a, path)
		release()
		if err != nil {
			return err
		}
	}
	return nil
}

// ResetView clears v once no pass is updating it. A pass that starts
// afterwards rebuilds v from version 0.
func (ix *Indexer) ResetView(ctx context.Context, v *view.View) error {
	if !ix.enter() {
		return errors.ErrNotOpen
	}
	defer ix.wg.Done()
	return v.ClearData(ctx)
}

func (ix *Indexer) readFile(ctx context.Context, a archive.Archive, path string) (content []byte, err error) {
	err = ix.read(ctx, "file read", func(ctx context.Context) (err error) {
		content, err = a.ReadFile(ctx, path)
		return err
	})
	return content, err
}

// read runs an archive read under ReadTimeout. Running out of time is a
// TimeoutError unless the caller's own context ended.
func (ix *Indexer) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	rctx, cancel := context.WithTimeout(ctx, ix.cfg.ReadTimeout)
	defer cancel()

	err := fn(rctx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && (stderrors.Is(err, context.DeadlineExceeded) || rctx.Err() == context.DeadlineExceeded) {
		return errors.TimeoutError(op, err)
	}
	return err
}

// recoverable reports failures confined to one file of one view.
func recoverable(err error) bool {
	code := errors.GetCode(err)
	return code == errors.ErrCodeMapFailed || code == errors.ErrCodeReduceFailed
}

func errorClass(err error) string {
	switch {
	case errors.IsTimeout(err):
		return "timeout"
	case errors.IsMap(err):
		return "map"
	case errors.GetCode(err) == errors.ErrCodeStoreIO:
		return "store"
	default:
		return "other"
	}
}
