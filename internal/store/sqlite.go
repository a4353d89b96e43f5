package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/mapview/internal/errors"
)

const sqliteFile = "mapview.db"

// sqliteStore keeps all tables in one WITHOUT ROWID table keyed by (tbl, k).
// BLOB comparison in SQLite is memcmp, which matches badger's key order.
type sqliteStore struct {
	db   *sql.DB
	dir  string
	lock *FileLock

	closeOnce sync.Once
	closeErr  error
}

func openSQLite(dir string, lock *FileLock) (*sqliteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.StoreError("create directory", err).WithDetail("path", dir)
	}

	dsn := filepath.Join(dir, sqliteFile) + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.StoreError("open sqlite", err)
	}

	// Single connection: SQLite has one writer and this keeps transactions simple.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	stmts := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		`CREATE TABLE IF NOT EXISTS kv (
			tbl TEXT NOT NULL,
			k   BLOB NOT NULL,
			v   BLOB NOT NULL,
			PRIMARY KEY (tbl, k)
		) WITHOUT ROWID`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, errors.StoreError("init sqlite", err)
		}
	}

	return &sqliteStore{db: db, dir: dir, lock: lock}, nil
}

func (s *sqliteStore) Table(name string) Table {
	checkTableName(name)
	return &sqliteTable{db: s.db, name: name}
}

func (s *sqliteStore) Write(ctx context.Context, fn func(b Batch) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StoreError("begin", err)
	}
	b := &sqliteBatch{ctx: ctx, tx: tx}
	if err := fn(b); err != nil {
		_ = tx.Rollback()
		return err
	}
	if b.err != nil {
		_ = tx.Rollback()
		return b.err
	}
	if err := tx.Commit(); err != nil {
		return errors.StoreError("commit", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	s.closeOnce.Do(func() {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		if err := s.db.Close(); err != nil {
			s.closeErr = errors.StoreError("close", err)
		}
		if s.lock != nil {
			_ = s.lock.Unlock()
		}
	})
	return s.closeErr
}

// Destroy closes the database and removes its files.
func (s *sqliteStore) Destroy() error {
	if err := s.Close(); err != nil {
		return err
	}
	base := filepath.Join(s.dir, sqliteFile)
	for _, p := range []string{base, base + "-wal", base + "-shm", s.lock.Path()} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.StoreError("destroy", err).WithDetail("path", p)
		}
	}
	return nil
}

type sqliteBatch struct {
	ctx context.Context
	tx  *sql.Tx
	err error
}

func (b *sqliteBatch) Put(table string, key, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err := b.tx.ExecContext(b.ctx, `INSERT INTO kv (tbl, k, v) VALUES (?, ?, ?)
		ON CONFLICT (tbl, k) DO UPDATE SET v = excluded.v`, table, key, value)
	if err != nil {
		b.err = errors.StoreError("put", err)
	}
	return b.err
}

func (b *sqliteBatch) Delete(table string, key []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if _, err := b.tx.ExecContext(b.ctx, `DELETE FROM kv WHERE tbl = ? AND k = ?`, table, key); err != nil {
		b.err = errors.StoreError("delete", err)
	}
	return b.err
}

type sqliteTable struct {
	db   *sql.DB
	name string
}

func (t *sqliteTable) Name() string { return t.name }

func (t *sqliteTable) Get(ctx context.Context, key []byte) ([]byte, error) {
	var v []byte
	err := t.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE tbl = ? AND k = ?`, t.name, key).Scan(&v)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound(t.name, key)
	}
	if err != nil {
		return nil, errors.StoreError("get", err)
	}
	return v, nil
}

func (t *sqliteTable) Put(ctx context.Context, key, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err := t.db.ExecContext(ctx, `INSERT INTO kv (tbl, k, v) VALUES (?, ?, ?)
		ON CONFLICT (tbl, k) DO UPDATE SET v = excluded.v`, t.name, key, value)
	if err != nil {
		return errors.StoreError("put", err)
	}
	return nil
}

func (t *sqliteTable) Delete(ctx context.Context, key []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if _, err := t.db.ExecContext(ctx, `DELETE FROM kv WHERE tbl = ? AND k = ?`, t.name, key); err != nil {
		return errors.StoreError("delete", err)
	}
	return nil
}

func (t *sqliteTable) Scan(ctx context.Context, opts ScanOptions) ([]KV, error) {
	lo, hi := bounds(opts)

	var (
		sb   strings.Builder
		args = []any{t.name}
	)
	sb.WriteString(`SELECT k, v FROM kv WHERE tbl = ?`)
	if len(lo) > 0 {
		sb.WriteString(` AND k >= ?`)
		args = append(args, lo)
	}
	if hi != nil {
		sb.WriteString(` AND k < ?`)
		args = append(args, hi)
	}
	if opts.Reverse {
		sb.WriteString(` ORDER BY k DESC`)
	} else {
		sb.WriteString(` ORDER BY k ASC`)
	}
	if opts.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, opts.Limit)
	}

	rows, err := t.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.StoreError("scan", err)
	}
	defer rows.Close()

	var out []KV
	for rows.Next() {
		var kv KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, errors.StoreError("scan", err)
		}
		out = append(out, kv)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreError("scan", err)
	}
	return out, nil
}

func (t *sqliteTable) DeleteAll(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM kv WHERE tbl = ?`, t.name); err != nil {
		return errors.StoreError("delete all", err).WithDetail("table", t.name)
	}
	return nil
}
