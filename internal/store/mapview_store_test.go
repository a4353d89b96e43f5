package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mapview/internal/errors"
)

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"badger": func(t *testing.T) Store {
			s, err := Open(context.Background(), Config{Backend: "badger", Path: t.TempDir()})
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := Open(context.Background(), Config{Backend: "sqlite", Path: t.TempDir()})
			require.NoError(t, err)
			return s
		},
		"memory": func(t *testing.T) Store {
			s, err := Open(context.Background(), Config{Backend: "memory"})
			require.NoError(t, err)
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			fn(t, s)
		})
	}
}

func fill(t *testing.T, tbl Table, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		require.NoError(t, tbl.Put(ctx, []byte(fmt.Sprintf("k%02d", i)), []byte(fmt.Sprintf("v%02d", i))))
	}
}

func keysOf(kvs []KV) []string {
	out := make([]string, len(kvs))
	for i, kv := range kvs {
		out[i] = string(kv.Key)
	}
	return out
}

func TestStore_GetPutDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		tbl := s.Table("view/entries")

		// Given: a stored key
		require.NoError(t, tbl.Put(ctx, []byte("a"), []byte("1")))

		// When/Then: it can be read, overwritten and deleted
		v, err := tbl.Get(ctx, []byte("a"))
		require.NoError(t, err)
		assert.Equal(t, []byte("1"), v)

		require.NoError(t, tbl.Put(ctx, []byte("a"), []byte("2")))
		v, err = tbl.Get(ctx, []byte("a"))
		require.NoError(t, err)
		assert.Equal(t, []byte("2"), v)

		require.NoError(t, tbl.Delete(ctx, []byte("a")))
		_, err = tbl.Get(ctx, []byte("a"))
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestStore_TablesAreIsolated(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		// Given: tables whose names prefix each other
		a := s.Table("a")
		ab := s.Table("ab")
		require.NoError(t, a.Put(ctx, []byte("x"), []byte("from a")))
		require.NoError(t, ab.Put(ctx, []byte("x"), []byte("from ab")))

		// Then: scans and deletes stay in their table
		kvs, err := a.Scan(ctx, ScanOptions{})
		require.NoError(t, err)
		require.Len(t, kvs, 1)
		assert.Equal(t, []byte("from a"), kvs[0].Value)

		require.NoError(t, a.DeleteAll(ctx))
		kvs, err = a.Scan(ctx, ScanOptions{})
		require.NoError(t, err)
		assert.Empty(t, kvs)

		v, err := ab.Get(ctx, []byte("x"))
		require.NoError(t, err)
		assert.Equal(t, []byte("from ab"), v)
	})
}

func TestStore_ScanBounds(t *testing.T) {
	tests := []struct {
		name string
		opts ScanOptions
		want []string
	}{
		{"all", ScanOptions{}, []string{"k00", "k01", "k02", "k03", "k04"}},
		{"gt", ScanOptions{GT: []byte("k02")}, []string{"k03", "k04"}},
		{"gte", ScanOptions{GTE: []byte("k02")}, []string{"k02", "k03", "k04"}},
		{"lt", ScanOptions{LT: []byte("k02")}, []string{"k00", "k01"}},
		{"lte", ScanOptions{LTE: []byte("k02")}, []string{"k00", "k01", "k02"}},
		{"range", ScanOptions{GT: []byte("k00"), LTE: []byte("k03")}, []string{"k01", "k02", "k03"}},
		{"tighter gt wins", ScanOptions{GT: []byte("k02"), GTE: []byte("k01")}, []string{"k03", "k04"}},
		{"tighter lt wins", ScanOptions{LT: []byte("k02"), LTE: []byte("k03")}, []string{"k00", "k01"}},
		{"reverse", ScanOptions{Reverse: true}, []string{"k04", "k03", "k02", "k01", "k00"}},
		{"reverse lt", ScanOptions{LT: []byte("k03"), Reverse: true}, []string{"k02", "k01", "k00"}},
		{"reverse lte", ScanOptions{LTE: []byte("k03"), Reverse: true}, []string{"k03", "k02", "k01", "k00"}},
		{"reverse range limit", ScanOptions{GTE: []byte("k01"), LT: []byte("k04"), Reverse: true, Limit: 2}, []string{"k03", "k02"}},
		{"limit", ScanOptions{Limit: 2}, []string{"k00", "k01"}},
		{"empty range", ScanOptions{GT: []byte("k03"), LT: []byte("k03")}, []string{}},
		{"prefix", Prefix([]byte("k0")), []string{"k00", "k01", "k02", "k03", "k04"}},
	}

	forEachBackend(t, func(t *testing.T, s Store) {
		tbl := s.Table("scan")
		fill(t, tbl, 5)
		// A neighbouring table must never leak into results.
		fill(t, s.Table("scan2"), 3)

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				kvs, err := tbl.Scan(context.Background(), tt.opts)
				require.NoError(t, err)
				assert.Equal(t, tt.want, keysOf(kvs))
			})
		}
	})
}

func TestStore_WriteIsAtomic(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		tbl := s.Table("atomic")
		require.NoError(t, tbl.Put(ctx, []byte("old"), []byte("1")))

		// Given: a batch that fails half way
		err := s.Write(ctx, func(b Batch) error {
			require.NoError(t, b.Put("atomic", []byte("new"), []byte("2")))
			require.NoError(t, b.Delete("atomic", []byte("old")))
			return errors.InternalError("abort", nil)
		})

		// Then: nothing was applied
		require.Error(t, err)
		kvs, err := tbl.Scan(ctx, ScanOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"old"}, keysOf(kvs))

		// When: the batch succeeds
		require.NoError(t, s.Write(ctx, func(b Batch) error {
			if err := b.Put("atomic", []byte("new"), []byte("2")); err != nil {
				return err
			}
			return b.Delete("atomic", []byte("old"))
		}))

		// Then: both mutations are visible
		kvs, err = tbl.Scan(ctx, ScanOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"new"}, keysOf(kvs))
	})
}

func TestStore_RejectsEmptyKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		err := s.Table("t").Put(context.Background(), nil, []byte("v"))
		assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
	})
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	for _, backend := range []string{"badger", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			// Given: a value written and the store closed
			s, err := Open(ctx, Config{Backend: backend, Path: dir})
			require.NoError(t, err)
			require.NoError(t, s.Table("t").Put(ctx, []byte("k"), []byte("v")))
			require.NoError(t, s.Close())
			require.NoError(t, s.Close())

			// When: reopening
			s, err = Open(ctx, Config{Backend: backend, Path: dir})
			require.NoError(t, err)
			defer s.Close()

			// Then: the value is still there
			v, err := s.Table("t").Get(ctx, []byte("k"))
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), v)
		})
	}
}

func TestStore_Destroy(t *testing.T) {
	for _, backend := range []string{"badger", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			s, err := Open(ctx, Config{Backend: backend, Path: dir})
			require.NoError(t, err)
			require.NoError(t, s.Table("t").Put(ctx, []byte("k"), []byte("v")))

			d, ok := s.(Destroyer)
			require.True(t, ok)
			require.NoError(t, d.Destroy())

			s, err = Open(ctx, Config{Backend: backend, Path: dir})
			require.NoError(t, err)
			defer s.Close()
			_, err = s.Table("t").Get(ctx, []byte("k"))
			assert.True(t, errors.IsNotFound(err))
		})
	}
}

func TestStore_MemoryIsNotDestroyable(t *testing.T) {
	s, err := Open(context.Background(), Config{Backend: "memory"})
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(Destroyer)
	assert.False(t, ok)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "leveldb", Path: t.TempDir()})
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))

	_, err = Open(context.Background(), Config{Backend: "badger"})
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))
}

func TestBounds(t *testing.T) {
	lo, hi := bounds(ScanOptions{GT: []byte("a"), LTE: []byte("c")})
	assert.Equal(t, []byte("a\x00"), lo)
	assert.Equal(t, []byte("c\x00"), hi)

	lo, hi = bounds(ScanOptions{})
	assert.Nil(t, lo)
	assert.Nil(t, hi)
}
