package indexer

import (
	"context"
	"log/slog"
	"time"

	"github.com/Aman-CERP/mapview/internal/archive"
	"github.com/Aman-CERP/mapview/internal/errors"
	"github.com/Aman-CERP/mapview/internal/events"
	"github.com/Aman-CERP/mapview/internal/metrics"
	"github.com/Aman-CERP/mapview/internal/watcher"
)

// watch is the live subscription of one archive.
type watch struct {
	sub     archive.Subscription
	trigger *watcher.Trigger
	done    chan struct{}
}

// errStopRetry ends a retry loop whose archive or database went away.
var errStopRetry = errors.New(errors.ErrCodeNotOpen, "archive no longer indexed", nil)

// AddArchive runs the first pass over a and, if watch is set, subscribes
// to its changes. When the archive cannot be reached in time the pass is
// retried in the background at RetryInterval and AddArchive returns nil;
// archive-missing and later archive-found or archive-error report the
// outcome. Any other failure is published as archive-error and returned.
// A failure confined to single files still wires the watch.
func (ix *Indexer) AddArchive(ctx context.Context, a archive.Archive, watch bool) error {
	url := a.URL()
	err := ix.IndexArchive(ctx, a)
	switch {
	case err == nil:
	case errors.IsTimeout(err):
		ix.logger.Info("archive unreachable, retrying in background",
			slog.String("archive", url),
			slog.Duration("interval", ix.cfg.RetryInterval))
		ix.bus.Publish(events.Event{Kind: events.ArchiveMissing, Archive: url})
		ix.startRetry(a, watch)
		return nil
	default:
		ix.bus.Publish(events.Event{Kind: events.ArchiveError, Archive: url, Err: err})
		if !recoverable(err) {
			return err
		}
	}

	if watch {
		if werr := ix.Watch(a); werr != nil {
			return werr
		}
	}
	return err
}

func (ix *Indexer) startRetry(a archive.Archive, watch bool) {
	url := a.URL()

	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return
	}
	if _, ok := ix.retries[url]; ok {
		ix.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ix.ctx)
	ix.retries[url] = cancel
	ix.wg.Add(1)
	ix.mu.Unlock()

	metrics.RetryLoops.Inc()
	go func() {
		defer ix.wg.Done()
		defer metrics.RetryLoops.Dec()
		defer func() {
			ix.mu.Lock()
			delete(ix.retries, url)
			ix.mu.Unlock()
			cancel()
		}()

		err := ix.retry(ctx, a)
		switch {
		case err == nil:
			ix.logger.Info("archive reachable again", slog.String("archive", url))
			ix.bus.Publish(events.Event{Kind: events.ArchiveFound, Archive: url})
			if watch {
				if err := ix.Watch(a); err != nil {
					ix.logger.Warn("watch failed", append([]any{slog.String("archive", url)}, errors.LogAttrs(err)...)...)
				}
			}
		case err == errStopRetry || ctx.Err() != nil:
			ix.logger.Debug("retry loop stopped", slog.String("archive", url))
		default:
			ix.logger.Warn("archive retry gave up", append([]any{slog.String("archive", url)}, errors.LogAttrs(err)...)...)
			ix.bus.Publish(events.Event{Kind: events.ArchiveError, Archive: url, Err: err})
		}
	}()
}

// retry waits one interval, then re-runs the pass at that interval while
// it keeps timing out.
func (ix *Indexer) retry(ctx context.Context, a archive.Archive) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(ix.cfg.RetryInterval):
	}

	cfg := errors.FixedIntervalConfig(ix.cfg.RetryInterval, errors.IsTimeout)
	return errors.Retry(ctx, cfg, func() error {
		if !ix.reg.IsOpen() || !ix.reg.IsIndexed(a.URL()) {
			return errStopRetry
		}
		ix.logger.Debug("retrying archive", slog.String("archive", a.URL()))
		return ix.IndexArchive(ctx, a)
	})
}

// StopRetry cancels the retry loop of url, if any.
func (ix *Indexer) StopRetry(url string) {
	ix.mu.Lock()
	cancel, ok := ix.retries[url]
	ix.mu.Unlock()
	if ok {
		cancel()
	}
}

// Retrying reports whether url is waiting to become reachable.
func (ix *Indexer) Retrying(url string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, ok := ix.retries[url]
	return ok
}

// Watch subscribes to a's changes over the union of all view patterns.
// Invalidated paths are downloaded; bursts of changes trigger one pass.
// Watching an already watched archive is a no-op.
func (ix *Indexer) Watch(a archive.Archive) error {
	url := a.URL()

	var patterns []string
	for _, v := range ix.reg.Views() {
		patterns = append(patterns, v.Patterns()...)
	}
	if len(patterns) == 0 {
		ix.logger.Debug("no views defined, archive not watched", slog.String("archive", url))
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil
	}
	if _, ok := ix.watches[url]; ok {
		ix.logger.Debug("archive already watched", slog.String("archive", url))
		return nil
	}

	sub, err := a.Subscribe(patterns)
	if err != nil {
		return err
	}
	w := &watch{sub: sub, done: make(chan struct{})}
	w.trigger = watcher.NewTrigger(ix.cfg.Debounce, func() {
		ix.track(func() { ix.rescan(a) })
	})
	ix.watches[url] = w

	go ix.watchLoop(a, w)
	ix.logger.Debug("archive watched", slog.String("archive", url), slog.Any("patterns", patterns))
	return nil
}

func (ix *Indexer) watchLoop(a archive.Archive, w *watch) {
	defer close(w.done)
	for ev := range w.sub.Events() {
		switch ev.Kind {
		case archive.Invalidated:
			path := ev.Path
			ix.spawn(func() { ix.download(a, path) })
		case archive.Changed:
			w.trigger.Fire()
		}
	}
}

func (ix *Indexer) download(a archive.Archive, path string) {
	err := ix.read(ix.ctx, "download", func(ctx context.Context) error {
		return a.Download(ctx, path)
	})
	if err != nil && ix.ctx.Err() == nil {
		ix.logger.Warn("download failed",
			append([]any{slog.String("archive", a.URL()), slog.String("path", path)}, errors.LogAttrs(err)...)...)
	}
}

// rescan is the debounced pass run after changes.
func (ix *Indexer) rescan(a archive.Archive) {
	err := ix.IndexArchive(ix.ctx, a)
	if err == nil || ix.ctx.Err() != nil {
		return
	}
	ix.logger.Warn("watch-triggered index pass failed",
		append([]any{slog.String("archive", a.URL())}, errors.LogAttrs(err)...)...)
	ix.bus.Publish(events.Event{Kind: events.ArchiveError, Archive: a.URL(), Err: err})
}

// Watching reports whether url has a live subscription.
func (ix *Indexer) Watching(url string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, ok := ix.watches[url]
	return ok
}

// Unwatch closes the subscription of url and cancels its pending pass.
func (ix *Indexer) Unwatch(url string) {
	ix.mu.Lock()
	w, ok := ix.watches[url]
	delete(ix.watches, url)
	ix.mu.Unlock()

	if ok {
		w.stop()
	}
}

// UnwatchAll closes every subscription.
func (ix *Indexer) UnwatchAll() {
	ix.mu.Lock()
	ws := ix.watches
	ix.watches = make(map[string]*watch)
	ix.mu.Unlock()

	for _, w := range ws {
		w.stop()
	}
}

func (w *watch) stop() {
	w.trigger.Stop()
	_ = w.sub.Close()
	<-w.done
}

// Shutdown stops watches and retry loops and waits for every pass and
// download in progress to return, including passes started by callers. The indexer does no background work afterwards.
func (ix *Indexer) Shutdown() {
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return
	}
	ix.closed = true
	ix.mu.Unlock()

	ix.cancel()
	ix.UnwatchAll()
	ix.wg.Wait()
}
