package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/mapview/internal/archive"
	"github.com/Aman-CERP/mapview/internal/archive/dirarchive"
	"github.com/Aman-CERP/mapview/internal/celview"
	"github.com/Aman-CERP/mapview/internal/config"
	"github.com/Aman-CERP/mapview/internal/indexer"
	"github.com/Aman-CERP/mapview/internal/mapreduce"
	"github.com/Aman-CERP/mapview/internal/store"
)

// env is an open database with the configured views defined, plus the
// directory archives a command opened.
type env struct {
	cfg      *config.Config
	db       *mapreduce.DB
	logger   *slog.Logger
	archives []*dirarchive.Archive
}

// openEnv loads configuration, opens the store and defines every
// configured view.
func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load(projectDir, configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	resolver := archive.NewResolver()
	resolver.Handle(dirarchive.Scheme, dirarchive.Opener(dirOptions(cfg, logger, false)))

	db := mapreduce.New(mapreduce.Options{
		Store: store.Config{
			Backend:    cfg.Store.Backend,
			Path:       cfg.Store.Path,
			SyncWrites: cfg.Store.SyncWrites,
			GCInterval: cfg.GCInterval(),
		},
		Indexer: indexer.Config{
			ReadTimeout:   cfg.ReadTimeout(),
			RetryInterval: cfg.RetryInterval(),
			Debounce:      cfg.Debounce(),
		},
		Resolver: resolver,
		Logger:   logger,
	})

	e := &env{cfg: cfg, db: db, logger: logger}
	for _, vc := range cfg.Views {
		def, err := celview.Build(vc)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		if err := db.Define(ctx, vc.Name, def); err != nil {
			_ = e.Close()
			return nil, err
		}
	}
	return e, nil
}

func dirOptions(cfg *config.Config, logger *slog.Logger, watch bool) dirarchive.Options {
	return dirarchive.Options{
		Watch:    watch,
		Debounce: cfg.Debounce(),
		Logger:   logger,
	}
}

// openDirs opens each directory as an archive, concurrently.
func (e *env) openDirs(ctx context.Context, dirs []string, watch bool) ([]*dirarchive.Archive, error) {
	out := make([]*dirarchive.Archive, len(dirs))
	g, gctx := errgroup.WithContext(ctx)
	for i, dir := range dirs {
		g.Go(func() error {
			a, err := dirarchive.Open(gctx, dir, dirOptions(e.cfg, e.logger, watch))
			if err != nil {
				return err
			}
			out[i] = a
			return nil
		})
	}
	err := g.Wait()
	for _, a := range out {
		if a != nil {
			e.archives = append(e.archives, a)
			e.db.Resolver().Add(a)
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// indexAll indexes archives concurrently and returns the first failure.
func (e *env) indexAll(ctx context.Context, archives []*dirarchive.Archive, watch bool) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range archives {
		g.Go(func() error {
			return e.db.Index(gctx, a, mapreduce.IndexOptions{Watch: watch})
		})
	}
	return g.Wait()
}

// Close closes the database and then the archives.
func (e *env) Close() error {
	err := e.db.Close()
	for _, a := range e.archives {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// parseKey reads a key argument as JSON, falling back to a plain string so
// that `get types post` works without quoting.
func parseKey(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s, nil
	}
	switch v.(type) {
	case map[string]any:
		return nil, fmt.Errorf("key %s: objects are not valid keys", s)
	}
	return v, nil
}

// noColorWanted reports whether NO_COLOR is set.
func noColorWanted() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}
