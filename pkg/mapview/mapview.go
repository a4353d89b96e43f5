package mapview

import (
	"context"
	"log/slog"
	"time"

	"github.com/Aman-CERP/mapview/internal/archive"
	"github.com/Aman-CERP/mapview/internal/archive/dirarchive"
	"github.com/Aman-CERP/mapview/internal/archive/memarchive"
	"github.com/Aman-CERP/mapview/internal/celview"
	"github.com/Aman-CERP/mapview/internal/config"
	"github.com/Aman-CERP/mapview/internal/events"
	"github.com/Aman-CERP/mapview/internal/mapreduce"
	"github.com/Aman-CERP/mapview/internal/view"
)

type (
	// DB is a set of views over a set of archives.
	DB = mapreduce.DB
	// IndexOptions tunes DB.Index.
	IndexOptions = mapreduce.IndexOptions
	// Status reports one active archive.
	Status = mapreduce.Status

	// Definition declares a view.
	Definition = view.Definition
	// Mapper turns one file into entries.
	Mapper = view.Mapper
	// MapperFunc adapts a function to Mapper.
	MapperFunc = view.MapperFunc
	// Reducer folds the values under one key.
	Reducer = view.Reducer
	// ReducerFunc adapts a function to Reducer.
	ReducerFunc = view.ReducerFunc
	// Emit records one entry from a Mapper.
	Emit = view.Emit
	// Meta describes the file being mapped.
	Meta = view.Meta
	// Row is one query result.
	Row = view.Row
	// ListOptions bounds DB.List.
	ListOptions = view.ListOptions

	// Archive is a versioned file tree.
	Archive = archive.Archive
	// Resolver turns archive URLs into archives.
	Resolver = archive.Resolver

	// Event is one indexing notification.
	Event = events.Event
	// EventKind names a notification.
	EventKind = events.Kind

	// ViewConfig declares a view with CEL expressions.
	ViewConfig = config.ViewConfig
	// MapConfig holds the CEL expressions of a ViewConfig.
	MapConfig = config.MapConfig
)

// Built-in reducers.
var (
	Count = view.Count
	Sum   = view.Sum
)

// Notification kinds.
const (
	ArchiveIndexing      = events.ArchiveIndexing
	ArchiveIndexProgress = events.ArchiveIndexProgress
	ArchiveIndexed       = events.ArchiveIndexed
	IndexesUpdated       = events.IndexesUpdated
	ArchiveMissing       = events.ArchiveMissing
	ArchiveFound         = events.ArchiveFound
	ArchiveError         = events.ArchiveError
	ViewReset            = events.ViewReset
)

// Option configures Open.
type Option func(*mapreduce.Options)

// WithBackend selects the store: "badger" (default), "sqlite" or "memory".
func WithBackend(backend string) Option {
	return func(o *mapreduce.Options) { o.Store.Backend = backend }
}

// WithPath sets the data directory of persistent backends.
func WithPath(path string) Option {
	return func(o *mapreduce.Options) { o.Store.Path = path }
}

// WithReadTimeout bounds every archive read.
func WithReadTimeout(d time.Duration) Option {
	return func(o *mapreduce.Options) { o.Indexer.ReadTimeout = d }
}

// WithRetryInterval sets the delay between attempts on an unreachable archive.
func WithRetryInterval(d time.Duration) Option {
	return func(o *mapreduce.Options) { o.Indexer.RetryInterval = d }
}

// WithDebounce sets how long change notifications settle before a pass.
func WithDebounce(d time.Duration) Option {
	return func(o *mapreduce.Options) { o.Indexer.Debounce = d }
}

// WithResolver sets the resolver used by the URL variants of Index.
func WithResolver(r *Resolver) Option {
	return func(o *mapreduce.Options) { o.Resolver = r }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *mapreduce.Options) { o.Logger = l }
}

// New returns a closed DB. It opens on first use.
func New(opts ...Option) *DB {
	o := mapreduce.Options{}
	o.Store.Backend = config.BackendBadger
	for _, opt := range opts {
		opt(&o)
	}
	return mapreduce.New(o)
}

// Open returns an open DB.
func Open(ctx context.Context, opts ...Option) (*DB, error) {
	db := New(opts...)
	if err := db.Open(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// Build compiles a CEL view declaration into a Definition.
func Build(vc ViewConfig) (Definition, error) {
	return celview.Build(vc)
}

// NewMemoryArchive returns an empty in-memory archive at mem://name.
func NewMemoryArchive(name string) *memarchive.Archive {
	return memarchive.New(name)
}

// OpenDir opens a directory as an archive. With watch set, file changes
// are picked up while the archive stays open.
func OpenDir(ctx context.Context, root string, watch bool) (*dirarchive.Archive, error) {
	return dirarchive.Open(ctx, root, dirarchive.Options{Watch: watch})
}
