// Package mapview is the embedding API for incremental map/reduce views
// over versioned file archives.
//
// A [DB] holds named views over a shared ordered store. Each view maps
// every file whose path matches its patterns to keyed entries and may
// reduce the entries per key. Indexing an archive applies only the
// changes since each view's checkpoint for that archive.
//
// # Architecture
//
//	┌─────────────┐   history, files   ┌──────────────┐
//	│   Archive   │ ─────────────────▶ │   Indexer    │
//	│ (mem, dir)  │ ◀── subscribe ──── │ (per-archive │
//	└─────────────┘                    │   passes)    │
//	                                   └──────┬───────┘
//	                                          │ map / reduce
//	                                   ┌──────▼───────┐
//	                                   │    Views     │
//	                                   │ (badger,     │
//	                                   │  sqlite,     │
//	                                   │  memory)     │
//	                                   └──────────────┘
//
// # Usage
//
//	db, err := mapview.Open(ctx, mapview.WithBackend("badger"), mapview.WithPath(dir))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	err = db.Define(ctx, "types", mapview.Definition{
//	    Paths:  []string{"/*.json"},
//	    Map:    mapview.MapperFunc(byType),
//	    Reduce: mapview.Count,
//	})
//
//	err = db.Index(ctx, archive, mapview.IndexOptions{Watch: true})
//	row, err := db.Get(ctx, "types", "post")
//
// Views can also be declared with CEL expressions through [Build].
//
// # Thread Safety
//
// All DB methods are safe for concurrent use. Passes over the same archive
// are serialized; different archives are indexed concurrently.
package mapview
