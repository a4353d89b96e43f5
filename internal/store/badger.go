package store

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/Aman-CERP/mapview/internal/errors"
)

type badgerConfig struct {
	Path           string
	InMemory       bool
	SyncWrites     bool
	GCInterval     time.Duration
	GCDiscardRatio float64
	Logger         *slog.Logger
	lock           *FileLock
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// badgerStore keeps every table in one keyspace as <table>\x00<key>.
type badgerStore struct {
	db       *badger.DB
	path     string
	inMemory bool
	lock     *FileLock

	closeOnce sync.Once
	closeErr  error
	stopGC    chan struct{}
	gcDone    chan struct{}
	logger    *slog.Logger
}

func openBadger(cfg badgerConfig) (*badgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, errors.StoreError("create directory", err).WithDetail("path", cfg.Path)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.StoreError("open badger", err).WithDetail("path", cfg.Path)
	}

	s := &badgerStore{
		db:       db,
		path:     cfg.Path,
		inMemory: cfg.InMemory,
		lock:     cfg.lock,
		logger:   cfg.Logger,
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, ratio)
	}

	return s, nil
}

func (s *badgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means nothing was worth collecting.
			if err := s.db.RunValueLogGC(ratio); err != nil && !stderrors.Is(err, badger.ErrNoRewrite) && s.logger != nil {
				s.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

func tablePrefix(name string) []byte {
	p := make([]byte, 0, len(name)+1)
	p = append(p, name...)
	return append(p, 0x00)
}

func (s *badgerStore) Table(name string) Table {
	checkTableName(name)
	return &badgerTable{db: s.db, name: name, prefix: tablePrefix(name)}
}

func (s *badgerStore) Write(ctx context.Context, fn func(b Batch) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerBatch{txn: txn})
	})
	if err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) {
			return err
		}
		return errors.StoreError("write", err)
	}
	return nil
}

func (s *badgerStore) Close() error {
	s.closeOnce.Do(func() {
		if s.stopGC != nil {
			close(s.stopGC)
			<-s.gcDone
		}
		if err := s.db.Close(); err != nil {
			s.closeErr = errors.StoreError("close", err)
		}
		if s.lock != nil {
			_ = s.lock.Unlock()
		}
	})
	return s.closeErr
}

// Destroy closes the database and removes its directory.
func (s *badgerStore) Destroy() error {
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.path); err != nil {
		return errors.StoreError("destroy", err).WithDetail("path", s.path)
	}
	return nil
}

type badgerBatch struct {
	txn *badger.Txn
}

func (b *badgerBatch) Put(table string, key, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return b.txn.Set(append(tablePrefix(table), key...), value)
}

func (b *badgerBatch) Delete(table string, key []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return b.txn.Delete(append(tablePrefix(table), key...))
}

type badgerTable struct {
	db     *badger.DB
	name   string
	prefix []byte
}

func (t *badgerTable) Name() string { return t.name }

func (t *badgerTable) abs(key []byte) []byte {
	out := make([]byte, 0, len(t.prefix)+len(key))
	out = append(out, t.prefix...)
	return append(out, key...)
}

func (t *badgerTable) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(t.abs(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound(t.name, key)
	}
	if err != nil {
		return nil, errors.StoreError("get", err)
	}
	return value, nil
}

func (t *badgerTable) Put(ctx context.Context, key, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(t.abs(key), value)
	}); err != nil {
		return errors.StoreError("put", err)
	}
	return nil
}

func (t *badgerTable) Delete(ctx context.Context, key []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(t.abs(key))
	}); err != nil {
		return errors.StoreError("delete", err)
	}
	return nil
}

func (t *badgerTable) Scan(ctx context.Context, opts ScanOptions) ([]KV, error) {
	lo, hi := bounds(opts)
	absLo := t.abs(lo)
	absHi := prefixEnd(t.prefix)
	if hi != nil {
		absHi = t.abs(hi)
	}
	if bytes.Compare(absLo, absHi) >= 0 {
		return nil, nil
	}

	var out []KV
	err := t.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.Reverse = opts.Reverse
		iopts.Prefix = t.prefix
		it := txn.NewIterator(iopts)
		defer it.Close()

		inRange := func(k []byte) bool {
			return bytes.Compare(k, absLo) >= 0 && bytes.Compare(k, absHi) < 0
		}

		if opts.Reverse {
			// Seek lands on the largest key <= absHi; absHi itself is excluded.
			it.Seek(absHi)
		} else {
			it.Seek(absLo)
		}

		for ; it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			k := item.Key()
			if !inRange(k) {
				if opts.Reverse && bytes.Equal(k, absHi) {
					continue
				}
				break
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, KV{Key: append([]byte(nil), k[len(t.prefix):]...), Value: v})
			if opts.Limit > 0 && len(out) >= opts.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.StoreError("scan", err)
	}
	return out, nil
}

func (t *badgerTable) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.db.DropPrefix(t.prefix); err != nil {
		return errors.StoreError("delete all", err).WithDetail("table", t.name)
	}
	return nil
}

// memoryStore is an in-memory badger store. It cannot be destroyed, so it
// does not implement Destroyer.
type memoryStore struct {
	s *badgerStore
}

func (m *memoryStore) Table(name string) Table { return m.s.Table(name) }

func (m *memoryStore) Write(ctx context.Context, fn func(b Batch) error) error {
	return m.s.Write(ctx, fn)
}

func (m *memoryStore) Close() error { return m.s.Close() }
