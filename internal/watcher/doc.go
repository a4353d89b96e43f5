// Package watcher turns file system notifications into debounced batches.
//
// FSWatcher wraps fsnotify, watches a directory tree recursively and emits
// coalesced batches of FileEvent once writes settle. Paths in events are
// slash separated and rooted at the watched directory ("/a/b.json").
//
// Trigger is the scalar form of the same idea: it runs a function once a
// burst of Fire calls has gone quiet.
//
// Usage:
//
//	w, err := watcher.New(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	if err := w.Start(ctx, "/path/to/tree"); err != nil {
//	    return err
//	}
//
//	for batch := range w.Events() {
//	    for _, ev := range batch {
//	        // ev.Path, ev.Operation
//	    }
//	}
package watcher
