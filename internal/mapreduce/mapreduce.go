// Package mapreduce is the public face of mapview: a database of named
// map/reduce views kept in sync with a set of archives.
//
// Every operation opens the database on first use. Close stops watches
// and retry loops and releases the store without deleting data; a later
// operation reopens it.
package mapreduce

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Aman-CERP/mapview/internal/archive"
	"github.com/Aman-CERP/mapview/internal/errors"
	"github.com/Aman-CERP/mapview/internal/events"
	"github.com/Aman-CERP/mapview/internal/indexer"
	"github.com/Aman-CERP/mapview/internal/metrics"
	"github.com/Aman-CERP/mapview/internal/store"
	"github.com/Aman-CERP/mapview/internal/view"
)

// Options configures a DB.
type Options struct {
	Store   store.Config
	Indexer indexer.Config
	// Resolver turns URLs into archives for IndexURL and friends.
	Resolver *archive.Resolver
	Logger   *slog.Logger
}

// IndexOptions tunes Index.
type IndexOptions struct {
	// Watch keeps the archive in sync after the first pass.
	Watch bool
}

type namedDef struct {
	name string
	def  view.Definition
}

// DB is a set of views over a set of archives.
type DB struct {
	opts     Options
	logger   *slog.Logger
	bus      *events.Bus
	resolver *archive.Resolver
	opening  singleflight.Group

	mu       sync.RWMutex
	isOpen   bool
	store    store.Store
	ix       *indexer.Indexer
	defs     []namedDef
	views    map[string]*view.View
	archives map[string]archive.Archive
}

// New creates a closed DB.
func New(opts Options) *DB {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Store.Logger == nil {
		opts.Store.Logger = opts.Logger
	}
	if opts.Indexer.Logger == nil {
		opts.Indexer.Logger = opts.Logger
	}
	if opts.Resolver == nil {
		opts.Resolver = archive.NewResolver()
	}
	return &DB{
		opts:     opts,
		logger:   opts.Logger,
		bus:      events.NewBus(opts.Logger),
		resolver: opts.Resolver,
		views:    make(map[string]*view.View),
		archives: make(map[string]archive.Archive),
	}
}

// Events returns the notification bus. It outlives Close.
func (db *DB) Events() *events.Bus { return db.bus }

// Resolver returns the archive resolver.
func (db *DB) Resolver() *archive.Resolver { return db.resolver }

// IsOpen reports whether the store is open.
func (db *DB) IsOpen() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.isOpen
}

// Open opens the store. It is idempotent, and concurrent calls share one
// in-flight open.
func (db *DB) Open(ctx context.Context) error {
	if db.IsOpen() {
		return nil
	}
	_, err, _ := db.opening.Do("open", func() (any, error) {
		return nil, db.open(ctx)
	})
	return err
}

func (db *DB) open(ctx context.Context) error {
	if db.IsOpen() {
		return nil
	}

	s, err := store.Open(ctx, db.opts.Store)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	views := make(map[string]*view.View, len(db.defs))
	for _, d := range db.defs {
		v, err := view.New(d.name, d.def, s)
		if err != nil {
			_ = s.Close()
			return err
		}
		views[d.name] = v
	}
	db.store = s
	db.views = views
	db.ix = indexer.New(registry{db}, db.bus, db.opts.Indexer)
	db.isOpen = true

	db.logger.Debug("database opened",
		slog.String("backend", db.opts.Store.Backend),
		slog.String("path", db.opts.Store.Path),
		slog.Int("views", len(views)))
	return nil
}

// Close stops all watches and retry loops, forgets the active archive
// set and closes the store. Stored data is kept.
func (db *DB) Close() error {
	s, ix := db.detach()
	if s == nil {
		return nil
	}
	ix.Shutdown()
	db.logger.Debug("database closed")
	return s.Close()
}

// detach marks the DB closed and hands back what needs tearing down.
func (db *DB) detach() (store.Store, *indexer.Indexer) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.isOpen {
		return nil, nil
	}
	s, ix := db.store, db.ix
	db.isOpen = false
	db.store = nil
	db.ix = nil
	db.archives = make(map[string]archive.Archive)
	metrics.IndexedArchives.Set(0)
	return s, ix
}

// Destroy closes the DB and deletes everything it stored. Stores that
// cannot delete their data fail with an UnsupportedError.
func (db *DB) Destroy(ctx context.Context) error {
	if err := db.Open(ctx); err != nil {
		return err
	}
	s, ix := db.detach()
	if s == nil {
		return errors.New(errors.ErrCodeNotOpen, "database closed during destroy", nil)
	}
	ix.Shutdown()

	d, ok := s.(store.Destroyer)
	if !ok {
		_ = s.Close()
		return errors.UnsupportedError(fmt.Sprintf("store backend %q cannot be destroyed", db.opts.Store.Backend)).
			WithSuggestion("Delete the data directory manually")
	}
	if err := d.Destroy(); err != nil {
		return err
	}
	db.logger.Info("database destroyed", slog.String("path", db.opts.Store.Path))
	return nil
}

// Define registers a view. Names are unique for the life of the DB.
func (db *DB) Define(ctx context.Context, name string, def view.Definition) error {
	if err := db.Open(ctx); err != nil {
		return err
	}
	if err := def.Validate(name); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	for _, d := range db.defs {
		if d.name == name {
			return errors.New(errors.ErrCodeViewExists, fmt.Sprintf("view %q has already been defined", name), nil).
				WithDetail("view", name)
		}
	}
	if !db.isOpen {
		return errors.ErrNotOpen
	}
	v, err := view.New(name, def, db.store)
	if err != nil {
		return err
	}
	db.defs = append(db.defs, namedDef{name: name, def: def})
	db.views[name] = v
	db.logger.Debug("view defined", slog.String("view", name), slog.Any("paths", def.Paths))
	return nil
}

// Views returns the view names in definition order.
func (db *DB) Views() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, len(db.defs))
	for i, d := range db.defs {
		names[i] = d.name
	}
	return names
}

// View returns the named view.
func (db *DB) View(ctx context.Context, name string) (*view.View, error) {
	if err := db.Open(ctx); err != nil {
		return nil, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	v, ok := db.views[name]
	if !ok {
		return nil, errors.New(errors.ErrCodeViewNotFound, fmt.Sprintf("view %q is not defined", name), nil).
			WithDetail("view", name)
	}
	return v, nil
}

// Reset clears the named view's data after any pass updating it returns.
// It does not re-synchronize; index the archives again to rebuild it.
func (db *DB) Reset(ctx context.Context, name string) error {
	v, err := db.View(ctx, name)
	if err != nil {
		return err
	}
	ix, err := db.indexer(ctx)
	if err != nil {
		return err
	}
	if err := ix.ResetView(ctx, v); err != nil {
		return err
	}
	db.logger.Info("view reset", slog.String("view", name))
	db.bus.Publish(events.Event{Kind: events.ViewReset, View: name})
	return nil
}

// Get returns the value stored under key in the named view.
func (db *DB) Get(ctx context.Context, name string, key any) (view.Row, error) {
	v, err := db.View(ctx, name)
	if err != nil {
		return view.Row{}, err
	}
	metrics.Queries.WithLabelValues("get").Inc()
	return v.Get(ctx, key)
}

// List returns rows of the named view in key order.
func (db *DB) List(ctx context.Context, name string, opts view.ListOptions) ([]view.Row, error) {
	v, err := db.View(ctx, name)
	if err != nil {
		return nil, err
	}
	metrics.Queries.WithLabelValues("list").Inc()
	return v.List(ctx, opts)
}

// Index adds a to the active set and synchronizes it. Indexing an archive
// that is already active runs an incremental catch-up pass instead.
func (db *DB) Index(ctx context.Context, a archive.Archive, opts IndexOptions) error {
	ix, err := db.indexer(ctx)
	if err != nil {
		return err
	}

	url := a.URL()
	db.mu.Lock()
	_, active := db.archives[url]
	if !active {
		db.archives[url] = a
		metrics.IndexedArchives.Set(float64(len(db.archives)))
	}
	db.mu.Unlock()

	if active {
		return ix.IndexArchive(ctx, a)
	}
	db.logger.Debug("indexing archive", slog.String("archive", url), slog.Bool("watch", opts.Watch))
	return ix.AddArchive(ctx, a, opts.Watch)
}

// Unindex removes a from the active set and purges everything it
// contributed. Archives that are not active are ignored.
func (db *DB) Unindex(ctx context.Context, a archive.Archive) error {
	ix, err := db.indexer(ctx)
	if err != nil {
		return err
	}

	url := a.URL()
	db.mu.Lock()
	_, active := db.archives[url]
	delete(db.archives, url)
	metrics.IndexedArchives.Set(float64(len(db.archives)))
	db.mu.Unlock()
	if !active {
		return nil
	}

	ix.Unwatch(url)
	ix.StopRetry(url)
	db.logger.Debug("unindexing archive", slog.String("archive", url))
	return ix.UnindexArchive(ctx, a)
}

// IndexFile maps one file into every view, ignoring path patterns and
// checkpoints.
func (db *DB) IndexFile(ctx context.Context, a archive.Archive, path string) error {
	ix, err := db.indexer(ctx)
	if err != nil {
		return err
	}
	return ix.ReadAndIndexFile(ctx, a, path)
}

// UnindexFile removes one file's entries from every view, ignoring path
// patterns and checkpoints.
func (db *DB) UnindexFile(ctx context.Context, a archive.Archive, path string) error {
	ix, err := db.indexer(ctx)
	if err != nil {
		return err
	}
	return ix.UnindexFile(ctx, a, path)
}

// IndexURL resolves url and indexes the archive.
func (db *DB) IndexURL(ctx context.Context, url string, opts IndexOptions) error {
	a, err := db.resolver.Resolve(ctx, url)
	if err != nil {
		return err
	}
	return db.Index(ctx, a, opts)
}

// UnindexURL resolves url and unindexes the archive.
func (db *DB) UnindexURL(ctx context.Context, url string) error {
	db.mu.RLock()
	a, ok := db.archives[url]
	db.mu.RUnlock()
	if !ok {
		var err error
		if a, err = db.resolver.Resolve(ctx, url); err != nil {
			return err
		}
	}
	return db.Unindex(ctx, a)
}

// IndexFileURL indexes the file at fileURL, written scheme://host/path.
func (db *DB) IndexFileURL(ctx context.Context, fileURL string) error {
	a, path, err := db.resolveFile(ctx, fileURL)
	if err != nil {
		return err
	}
	return db.IndexFile(ctx, a, path)
}

// UnindexFileURL unindexes the file at fileURL, written scheme://host/path.
func (db *DB) UnindexFileURL(ctx context.Context, fileURL string) error {
	a, path, err := db.resolveFile(ctx, fileURL)
	if err != nil {
		return err
	}
	return db.UnindexFile(ctx, a, path)
}

func (db *DB) resolveFile(ctx context.Context, fileURL string) (archive.Archive, string, error) {
	scheme, rest, ok := strings.Cut(fileURL, "://")
	if !ok {
		return nil, "", errors.ValidationError(fmt.Sprintf("file URL %q has no scheme", fileURL), nil)
	}
	host, path, _ := strings.Cut(rest, "/")
	if host == "" || path == "" {
		return nil, "", errors.New(errors.ErrCodeInvalidPath, fmt.Sprintf("file URL %q has no archive or path", fileURL), nil)
	}
	a, err := db.resolver.Resolve(ctx, scheme+"://"+host)
	if err != nil {
		return nil, "", err
	}
	return a, "/" + path, nil
}

// ListIndexed returns the URLs of the active archives, sorted. The set
// lives only as long as the process.
func (db *DB) ListIndexed() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	urls := make([]string, 0, len(db.archives))
	for url := range db.archives {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// IsIndexed reports whether url is in the active set.
func (db *DB) IsIndexed(url string) bool {
	if url == "" {
		return false
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.archives[url]
	return ok
}

// Status describes one active archive.
type Status struct {
	URL      string `json:"url"`
	Watching bool   `json:"watching"`
	Retrying bool   `json:"retrying"`
	// Checkpoints maps view name to the last applied version.
	Checkpoints map[string]int64 `json:"checkpoints"`
}

// Status reports checkpoints and watch state for every active archive.
func (db *DB) Status(ctx context.Context) ([]Status, error) {
	ix, err := db.indexer(ctx)
	if err != nil {
		return nil, err
	}
	views := registry{db}.Views()

	var out []Status
	for _, url := range db.ListIndexed() {
		st := Status{
			URL:         url,
			Watching:    ix.Watching(url),
			Retrying:    ix.Retrying(url),
			Checkpoints: make(map[string]int64, len(views)),
		}
		for _, v := range views {
			cp, err := v.Checkpoint(ctx, url)
			if err != nil {
				return nil, err
			}
			st.Checkpoints[v.Name()] = cp
		}
		out = append(out, st)
	}
	return out, nil
}

func (db *DB) indexer(ctx context.Context) (*indexer.Indexer, error) {
	if err := db.Open(ctx); err != nil {
		return nil, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	if !db.isOpen {
		return nil, errors.ErrNotOpen
	}
	return db.ix, nil
}

// registry exposes the DB to its indexer.
type registry struct{ db *DB }

func (r registry) IsOpen() bool { return r.db.IsOpen() }

func (r registry) IsIndexed(url string) bool { return r.db.IsIndexed(url) }

func (r registry) Views() []*view.View {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := make([]*view.View, 0, len(r.db.defs))
	for _, d := range r.db.defs {
		if v, ok := r.db.views[d.name]; ok {
			out = append(out, v)
		}
	}
	return out
}
