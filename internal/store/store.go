// Package store provides the ordered key-value store that backs views.
//
// A Store is split into named tables. Keys within a table are ordered
// bytewise, and scans accept inclusive or exclusive bounds, reverse order
// and a limit. Two backends exist: BadgerDB (default, also used in memory
// for tests) and SQLite through the pure Go modernc driver.
package store

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/mapview/internal/errors"
)

// KV is one key/value pair returned by a scan. Key is relative to the table.
type KV struct {
	Key   []byte
	Value []byte
}

// ScanOptions bounds a range scan. Nil bounds are open.
// When both GT and GTE (or LT and LTE) are set the tighter one wins.
type ScanOptions struct {
	GT      []byte
	GTE     []byte
	LT      []byte
	LTE     []byte
	Reverse bool
	// Limit caps the number of pairs returned. Zero or negative means no limit.
	Limit int
}

// Prefix returns options that scan every key starting with p.
func Prefix(p []byte) ScanOptions {
	opts := ScanOptions{GTE: p}
	if end := prefixEnd(p); end != nil {
		opts.LT = end
	}
	return opts
}

// Table is one namespace of a Store.
type Table interface {
	Name() string
	// Get returns an errors.ErrNotFound-coded error when key is absent.
	Get(ctx context.Context, key []byte) ([]byte, error)
	Put(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
	Scan(ctx context.Context, opts ScanOptions) ([]KV, error)
	// DeleteAll removes every key of the table.
	DeleteAll(ctx context.Context) error
}

// Batch collects mutations applied atomically by Store.Write.
type Batch interface {
	Put(table string, key, value []byte) error
	Delete(table string, key []byte) error
}

// Store is an ordered key-value store split into tables.
type Store interface {
	Table(name string) Table
	// Write applies the mutations recorded by fn in one atomic commit.
	// fn must not call back into the store.
	Write(ctx context.Context, fn func(b Batch) error) error
	Close() error
}

// Destroyer is implemented by stores that can delete their data from disk.
type Destroyer interface {
	// Destroy closes the store and removes everything it persisted.
	Destroy() error
}

// Config selects and tunes a backend.
type Config struct {
	// Backend is "badger", "sqlite" or "memory".
	Backend string
	// Path is the data directory. Ignored by the memory backend.
	Path string
	// SyncWrites fsyncs each badger commit.
	SyncWrites bool
	// GCInterval runs badger value log GC periodically. Zero disables it.
	GCInterval time.Duration
	// GCDiscardRatio is the minimum garbage ratio that triggers GC.
	GCDiscardRatio float64
	// Logger receives backend log output. Nil silences it.
	Logger *slog.Logger
}

// lockRetry governs how long Open waits for another process to release the data dir.
var lockRetry = errors.RetryConfig{
	MaxRetries:   3,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
	ShouldRetry:  errors.IsRetryable,
}

// Open opens the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		s, err := openBadger(badgerConfig{InMemory: true, Logger: cfg.Logger})
		if err != nil {
			return nil, err
		}
		return &memoryStore{s: s}, nil
	case "", "badger", "sqlite":
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unknown store backend %q", cfg.Backend), nil)
	}

	if cfg.Path == "" {
		return nil, errors.ConfigError("store path is required", nil)
	}

	lock := NewFileLock(cfg.Path)
	err := errors.Retry(ctx, lockRetry, func() error {
		ok, err := lock.TryLock()
		if err != nil {
			return errors.StoreError("lock", err)
		}
		if !ok {
			return errors.New(errors.ErrCodeStoreLocked, "data directory is in use by another process", nil).
				WithDetail("path", cfg.Path).
				WithSuggestion("Stop the other mapview process or use a different store path")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var s Store
	if strings.ToLower(cfg.Backend) == "sqlite" {
		s, err = openSQLite(cfg.Path, lock)
	} else {
		s, err = openBadger(badgerConfig{
			Path:           cfg.Path,
			SyncWrites:     cfg.SyncWrites,
			GCInterval:     cfg.GCInterval,
			GCDiscardRatio: cfg.GCDiscardRatio,
			Logger:         cfg.Logger,
			lock:           lock,
		})
	}
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return s, nil
}

// bounds converts options into a half-open [lo, hi) range of table-relative
// keys. A nil hi is unbounded.
func bounds(opts ScanOptions) (lo, hi []byte) {
	lo = opts.GTE
	if opts.GT != nil {
		gt := successor(opts.GT)
		if lo == nil || bytes.Compare(gt, lo) > 0 {
			lo = gt
		}
	}
	hi = opts.LT
	if opts.LTE != nil {
		lte := successor(opts.LTE)
		if hi == nil || bytes.Compare(lte, hi) < 0 {
			hi = lte
		}
	}
	return lo, hi
}

// successor returns the smallest key greater than k.
func successor(k []byte) []byte {
	out := make([]byte, len(k)+1)
	copy(out, k)
	return out
}

func prefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func checkKey(key []byte) error {
	if len(key) == 0 {
		return errors.ValidationError("store keys must not be empty", nil)
	}
	return nil
}

func checkTableName(name string) {
	if name == "" || strings.IndexByte(name, 0) >= 0 {
		panic(fmt.Sprintf("store: invalid table name %q", name))
	}
}

func notFound(table string, key []byte) error {
	return errors.NotFoundError(fmt.Sprintf("key not found in %s", table)).
		WithDetail("key", fmt.Sprintf("%x", key))
}
