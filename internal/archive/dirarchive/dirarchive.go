// Package dirarchive exposes a local directory as a versioned archive.
//
// A SQLite catalog under <root>/.mapview records every file's size, mtime
// and content hash. Sync reconciles the directory against the catalog and
// appends one history record per changed path, each at a new version. With
// watching enabled, fsnotify batches trigger Sync and subscribers receive
// Changed events for the paths it found.
//
// Archive URLs have the form dir://<uuid>. The id is created on first open
// and stored in the catalog, so it survives renames of the directory.
package dirarchive

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/mapview/internal/archive"
	"github.com/Aman-CERP/mapview/internal/errors"
	"github.com/Aman-CERP/mapview/internal/pathmatch"
	"github.com/Aman-CERP/mapview/internal/watcher"
)

const (
	// Scheme is the URL scheme of directory archives.
	Scheme = "dir"

	// MetaDir holds the catalog inside the archived directory.
	MetaDir = ".mapview"

	catalogFile = "catalog.db"
)

// Options configures Open.
type Options struct {
	// Watch keeps the catalog in sync with the directory while open.
	Watch bool
	// Debounce is how long file writes must settle before a Sync.
	// Default: 500ms
	Debounce time.Duration
	// Ignore lists extra glob patterns that are never archived.
	Ignore []string
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Archive is a directory-backed archive.
type Archive struct {
	root   string
	id     string
	db     *sql.DB
	ignore *pathmatch.Matcher
	logger *slog.Logger
	feed   archive.Feed

	syncMu sync.Mutex
	watch  *watcher.FSWatcher
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

var _ archive.Archive = (*Archive)(nil)

// fileState is one catalog row.
type fileState struct {
	size  int64
	mtime int64
	hash  string
}

// Open opens root as an archive, creating the catalog on first use, and
// runs an initial Sync.
func Open(ctx context.Context, root string, opts Options) (*Archive, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.ValidationError("resolve archive root", err).WithDetail("path", root)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.New(errors.ErrCodeFileNotFound, "archive directory not found", err).WithDetail("path", abs)
	}
	if !info.IsDir() {
		return nil, errors.ValidationError("archive root is not a directory", nil).WithDetail("path", abs)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	patterns := append(append([]string(nil), watcher.DefaultIgnorePatterns...), opts.Ignore...)
	ignore, err := pathmatch.Compile(patterns...)
	if err != nil {
		return nil, errors.ConfigError("invalid archive ignore pattern", err)
	}

	db, err := openCatalog(filepath.Join(abs, MetaDir))
	if err != nil {
		return nil, err
	}

	a := &Archive{root: abs, db: db, ignore: ignore, logger: logger}
	if a.id, err = a.loadID(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := a.Sync(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if opts.Watch {
		if err := a.startWatch(opts); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	logger.Debug("directory archive opened",
		slog.String("url", a.URL()),
		slog.String("root", abs),
		slog.Bool("watch", opts.Watch))
	return a, nil
}

// Opener returns an archive.Opener for dir:///absolute/path URLs. Archives
// addressed by id must be opened by path first and registered with the
// resolver.
func Opener(opts Options) archive.Opener {
	return func(ctx context.Context, url string) (archive.Archive, error) {
		rest := strings.TrimPrefix(url, Scheme+"://")
		if !strings.HasPrefix(rest, "/") {
			return nil, errors.NotFoundError("directory archive is not open: " + url).
				WithSuggestion("Index the directory by path first")
		}
		return Open(ctx, filepath.FromSlash(rest), opts)
	}
}

func openCatalog(dir string) (*sql.DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.StoreError("create catalog directory", err).WithDetail("path", dir)
	}

	dsn := filepath.Join(dir, catalogFile) + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.StoreError("open catalog", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	stmts := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		`CREATE TABLE IF NOT EXISTS meta (
			k TEXT PRIMARY KEY,
			v TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			path  TEXT PRIMARY KEY,
			size  INTEGER NOT NULL,
			mtime INTEGER NOT NULL,
			hash  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS history (
			version INTEGER PRIMARY KEY,
			path    TEXT NOT NULL,
			type    TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, errors.StoreError("init catalog", err)
		}
	}
	return db, nil
}

func (a *Archive) loadID(ctx context.Context) (string, error) {
	var id string
	err := a.db.QueryRowContext(ctx, "SELECT v FROM meta WHERE k = 'id'").Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", errors.StoreError("read archive id", err)
	}
	id = uuid.NewString()
	if _, err := a.db.ExecContext(ctx, "INSERT INTO meta (k, v) VALUES ('id', ?)", id); err != nil {
		return "", errors.StoreError("write archive id", err)
	}
	return id, nil
}

// URL implements archive.Archive.
func (a *Archive) URL() string { return Scheme + "://" + a.id }

// Root returns the archived directory.
func (a *Archive) Root() string { return a.root }

// Info implements archive.Archive.
func (a *Archive) Info(ctx context.Context) (archive.Info, error) {
	v, err := a.version(ctx)
	if err != nil {
		return archive.Info{}, err
	}
	return archive.Info{URL: a.URL(), Version: v}, nil
}

func (a *Archive) version(ctx context.Context) (int64, error) {
	var v sql.NullInt64
	if err := a.db.QueryRowContext(ctx, "SELECT MAX(version) FROM history").Scan(&v); err != nil {
		return 0, errors.StoreError("read version", err)
	}
	return v.Int64, nil
}

// History implements archive.Archive.
func (a *Archive) History(ctx context.Context, start, end int64) ([]archive.Change, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT version, path, type FROM history WHERE version >= ? AND version < ? ORDER BY version",
		start, end)
	if err != nil {
		return nil, errors.StoreError("read history", err)
	}
	defer func() { _ = rows.Close() }()

	var out []archive.Change
	for rows.Next() {
		var c archive.Change
		var typ string
		if err := rows.Scan(&c.Version, &c.Path, &typ); err != nil {
			return nil, errors.StoreError("scan history", err)
		}
		c.Type = archive.ChangeType(typ)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreError("read history", err)
	}
	return out, nil
}

// ReadFile implements archive.Archive.
func (a *Archive) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := a.resolve(path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundError("file not found: "+pathmatch.Clean(path)).WithDetail("archive", a.URL())
		}
		return nil, errors.New(errors.ErrCodeArchiveUnavailable, "read archive file", err).WithDetail("path", path)
	}
	return content, nil
}

// resolve maps an archive path to a file below root.
func (a *Archive) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(pathmatch.Clean(path)))
	full := filepath.Join(a.root, clean)
	if full != a.root && !strings.HasPrefix(full, a.root+string(filepath.Separator)) {
		return "", errors.New(errors.ErrCodeInvalidPath, "path escapes archive root", nil).WithDetail("path", path)
	}
	return full, nil
}

// ListFiles implements archive.Archive. It reports the catalog, so files
// written since the last Sync are not listed.
func (a *Archive) ListFiles(ctx context.Context, root string) ([]string, error) {
	root = pathmatch.Clean(root)
	prefix := strings.TrimSuffix(root, "/") + "/"

	rows, err := a.db.QueryContext(ctx,
		"SELECT path FROM files WHERE path = ? OR substr(path, 1, ?) = ? ORDER BY path",
		root, len(prefix), prefix)
	if err != nil {
		return nil, errors.StoreError("list files", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, errors.StoreError("scan files", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreError("list files", err)
	}
	return out, nil
}

// Subscribe implements archive.Archive.
func (a *Archive) Subscribe(patterns []string) (archive.Subscription, error) {
	return a.feed.Subscribe(patterns)
}

// Download implements archive.Archive. Content is already local.
func (a *Archive) Download(ctx context.Context, _ string) error {
	return ctx.Err()
}

// Sync reconciles the directory with the catalog and records what changed.
// Unchanged files are detected by size and mtime; files whose metadata moved
// but whose content hash did not are refreshed without a history record.
func (a *Archive) Sync(ctx context.Context) ([]archive.Change, error) {
	a.syncMu.Lock()
	defer a.syncMu.Unlock()

	known, err := a.catalog(ctx)
	if err != nil {
		return nil, err
	}

	var (
		changes []archive.Change
		upserts = make(map[string]fileState)
		seen    = make(map[string]bool, len(known))
	)

	err = filepath.WalkDir(a.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			a.logger.Debug("skipping unreadable path", slog.String("path", p), slog.String("error", err.Error()))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, _ := filepath.Rel(a.root, p)
		if rel == "." {
			return nil
		}
		rel = pathmatch.Clean(filepath.ToSlash(rel))
		if a.ignore.Match(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		seen[rel] = true
		cur := fileState{size: info.Size(), mtime: info.ModTime().UnixNano()}
		prev, ok := known[rel]
		if ok && prev.size == cur.size && prev.mtime == cur.mtime {
			return nil
		}

		content, err := os.ReadFile(p)
		if err != nil {
			a.logger.Debug("skipping unreadable file", slog.String("path", p), slog.String("error", err.Error()))
			delete(seen, rel)
			return nil
		}
		cur.hash = hashContent(content)
		upserts[rel] = cur

		switch {
		case !ok:
			changes = append(changes, archive.Change{Path: rel, Type: archive.ChangeCreate})
		case prev.hash != cur.hash:
			changes = append(changes, archive.Change{Path: rel, Type: archive.ChangeUpdate})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var deletes []string
	for p := range known {
		if !seen[p] {
			deletes = append(deletes, p)
		}
	}
	sort.Strings(deletes)
	for _, p := range deletes {
		changes = append(changes, archive.Change{Path: p, Type: archive.ChangeDelete})
	}

	if len(upserts) == 0 && len(deletes) == 0 {
		return nil, nil
	}
	if err := a.commit(ctx, changes, upserts, deletes); err != nil {
		return nil, err
	}

	for _, c := range changes {
		a.feed.Publish(archive.Event{Kind: archive.Changed, Path: c.Path})
	}
	if len(changes) > 0 {
		a.logger.Debug("directory archive synced",
			slog.String("url", a.URL()),
			slog.Int("changes", len(changes)),
			slog.Int64("version", changes[len(changes)-1].Version))
	}
	return changes, nil
}

// commit assigns versions to changes and writes them with the catalog
// updates in one transaction.
func (a *Archive) commit(ctx context.Context, changes []archive.Change, upserts map[string]fileState, deletes []string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StoreError("begin catalog update", err)
	}
	defer func() { _ = tx.Rollback() }()

	var v sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(version) FROM history").Scan(&v); err != nil {
		return errors.StoreError("read version", err)
	}
	version := v.Int64

	for i := range changes {
		version++
		changes[i].Version = version
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO history (version, path, type) VALUES (?, ?, ?)",
			version, changes[i].Path, string(changes[i].Type)); err != nil {
			return errors.StoreError("append history", err)
		}
	}
	for p, st := range upserts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO files (path, size, mtime, hash) VALUES (?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET size = excluded.size, mtime = excluded.mtime, hash = excluded.hash`,
			p, st.size, st.mtime, st.hash); err != nil {
			return errors.StoreError("update catalog", err)
		}
	}
	for _, p := range deletes {
		if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE path = ?", p); err != nil {
			return errors.StoreError("update catalog", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO meta (k, v) VALUES ('synced_at', ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v",
		strconv.FormatInt(time.Now().Unix(), 10)); err != nil {
		return errors.StoreError("update catalog", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.StoreError("commit catalog update", err)
	}
	return nil
}

func (a *Archive) catalog(ctx context.Context) (map[string]fileState, error) {
	rows, err := a.db.QueryContext(ctx, "SELECT path, size, mtime, hash FROM files")
	if err != nil {
		return nil, errors.StoreError("read catalog", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]fileState)
	for rows.Next() {
		var p string
		var st fileState
		if err := rows.Scan(&p, &st.size, &st.mtime, &st.hash); err != nil {
			return nil, errors.StoreError("scan catalog", err)
		}
		out[p] = st
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreError("read catalog", err)
	}
	return out, nil
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (a *Archive) startWatch(opts Options) error {
	w, err := watcher.New(watcher.Options{DebounceWindow: opts.Debounce, IgnorePatterns: opts.Ignore})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx, a.root); err != nil {
		cancel()
		_ = w.Stop()
		return err
	}

	a.watch = w
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.watchLoop(ctx)
	return nil
}

func (a *Archive) watchLoop(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-a.watch.Events():
			if !ok {
				return
			}
			if _, err := a.Sync(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn("directory sync failed",
					append([]any{slog.String("url", a.URL())}, errors.LogAttrs(err)...)...)
			}
		case err, ok := <-a.watch.Errors():
			if !ok {
				return
			}
			a.logger.Warn("directory watcher error",
				slog.String("url", a.URL()),
				slog.String("error", err.Error()))
		}
	}
}

// Close stops watching, ends subscriptions and closes the catalog.
func (a *Archive) Close() error {
	a.closeOnce.Do(func() {
		if a.watch != nil {
			a.cancel()
			_ = a.watch.Stop()
			<-a.done
		}
		a.feed.Close()
		if err := a.db.Close(); err != nil {
			a.closeErr = errors.StoreError("close catalog", err)
		}
	})
	return a.closeErr
}
