// Package view stores one materialized map/reduce index.
//
// A view owns four tables in the shared store:
//
//	<name>/entries   enc(key) enc(file) seq   -> JSON value
//	<name>/files     enc(file)                -> enc(key)...   (reverse index)
//	<name>/reduced   enc(key)                 -> JSON reduced value
//	<name>/versions  enc(archive URL)         -> checkpoint
//
// Keys are encoded with package keys, so byte order is key order. Entries
// under one key are ordered by file URL, then by emission order.
package view

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/Aman-CERP/mapview/internal/errors"
	"github.com/Aman-CERP/mapview/internal/keys"
	"github.com/Aman-CERP/mapview/internal/pathmatch"
	"github.com/Aman-CERP/mapview/internal/store"
)

// Entry is one map output attributed to a file.
type Entry struct {
	Key   any    `json:"key"`
	Value any    `json:"value"`
	File  string `json:"file,omitempty"`
}

// Row is one query result.
type Row struct {
	Key   any `json:"key"`
	Value any `json:"value"`
	// File is set for rows of views without a reducer.
	File string `json:"file,omitempty"`
}

// ListOptions bounds a List. A nil bound is unset, so null cannot be
// used as a bound.
type ListOptions struct {
	GT      any  `json:"gt,omitempty"`
	GTE     any  `json:"gte,omitempty"`
	LT      any  `json:"lt,omitempty"`
	LTE     any  `json:"lte,omitempty"`
	Reverse bool `json:"reverse,omitempty"`
	// Limit caps the rows returned. Zero means no limit.
	Limit int `json:"limit,omitempty"`
}

// View is a named index over a shared store.
type View struct {
	name    string
	def     Definition
	matcher *pathmatch.Matcher
	db      store.Store

	entries  store.Table
	files    store.Table
	reduced  store.Table
	versions store.Table

	// gate is held shared by updates and exclusively by ClearData.
	gate sync.RWMutex
	// foldMu serializes read-fold-write of reduced values.
	foldMu sync.Mutex
}

// New validates def and binds the view to db.
func New(name string, def Definition, db store.Store) (*View, error) {
	if err := def.Validate(name); err != nil {
		return nil, err
	}
	m, err := pathmatch.Compile(def.Paths...)
	if err != nil {
		return nil, errors.New(errors.ErrCodeSchemaInvalid, "invalid path pattern", err).WithDetail("view", name)
	}
	return &View{
		name:     name,
		def:      def,
		matcher:  m,
		db:       db,
		entries:  db.Table(name + "/entries"),
		files:    db.Table(name + "/files"),
		reduced:  db.Table(name + "/reduced"),
		versions: db.Table(name + "/versions"),
	}, nil
}

// Name returns the view name.
func (v *View) Name() string { return v.name }

// Patterns returns the view's path patterns.
func (v *View) Patterns() []string { return v.matcher.Patterns() }

// Match reports whether the view maps path.
func (v *View) Match(path string) bool { return v.matcher.Match(path) }

// Reducing reports whether the view has a reducer.
func (v *View) Reducing() bool { return v.def.Reduce != nil }

// MapFile runs the map function on one file and returns its entries with
// canonical keys. Failures, including panics, are map errors.
func (v *View) MapFile(ctx context.Context, content []byte, meta Meta) (out []Entry, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = errors.MapError(meta.URL, fmt.Errorf("panic: %v", r)).WithDetail("view", v.name)
		}
	}()

	emit := func(key, value any) error {
		k, err := keys.Normalize(key)
		if err != nil {
			return errors.New(errors.ErrCodeInvalidKey, fmt.Sprintf("invalid key %v", key), err)
		}
		out = append(out, Entry{Key: k, Value: value, File: meta.URL})
		return nil
	}
	if err := v.def.Map.Map(ctx, content, meta, emit); err != nil {
		return nil, errors.MapError(meta.URL, err).WithDetail("view", v.name)
	}
	return out, nil
}

// Get returns the value under key: the ordered entry values, or the
// reduced value for reducing views.
func (v *View) Get(ctx context.Context, key any) (Row, error) {
	k, enc, err := encodeKey(key)
	if err != nil {
		return Row{}, err
	}

	if v.Reducing() {
		raw, err := v.reduced.Get(ctx, enc)
		if err != nil {
			return Row{}, err
		}
		val, err := decodeValue(raw)
		if err != nil {
			return Row{}, err
		}
		return Row{Key: k, Value: val}, nil
	}

	entries, err := v.GetEntries(ctx, k)
	if err != nil {
		return Row{}, err
	}
	if len(entries) == 0 {
		return Row{}, errors.NotFoundError(fmt.Sprintf("no entries for key %v", k)).WithDetail("view", v.name)
	}
	values := make([]any, len(entries))
	for i, e := range entries {
		values[i] = e.Value
	}
	return Row{Key: k, Value: values}, nil
}

// List returns rows in key order within the bounds of opts.
func (v *View) List(ctx context.Context, opts ListOptions) ([]Row, error) {
	scan, err := scanOptions(opts)
	if err != nil {
		return nil, err
	}

	if v.Reducing() {
		kvs, err := v.reduced.Scan(ctx, scan)
		if err != nil {
			return nil, err
		}
		rows := make([]Row, 0, len(kvs))
		for _, kv := range kvs {
			k, _, err := keys.Decode(kv.Key)
			if err != nil {
				return nil, corrupt(v.name, err)
			}
			val, err := decodeValue(kv.Value)
			if err != nil {
				return nil, err
			}
			rows = append(rows, Row{Key: k, Value: val})
		}
		return rows, nil
	}

	kvs, err := v.entries.Scan(ctx, scan)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(kvs))
	for _, kv := range kvs {
		e, err := decodeEntry(kv)
		if err != nil {
			return nil, corrupt(v.name, err)
		}
		rows = append(rows, Row(e))
	}
	return rows, nil
}

// scanOptions maps key bounds onto encoded byte bounds. Every stored key
// for logical key k starts with enc(k), and encodings are prefix-free, so
// "greater than k" is "at or after the end of the enc(k) prefix".
func scanOptions(opts ListOptions) (store.ScanOptions, error) {
	var lo, hi []byte
	raise := func(b []byte) {
		if lo == nil || bytes.Compare(b, lo) > 0 {
			lo = b
		}
	}
	lower := func(b []byte) {
		if hi == nil || bytes.Compare(b, hi) < 0 {
			hi = b
		}
	}

	for _, b := range []struct {
		key   any
		apply func(enc []byte)
	}{
		{opts.GT, func(enc []byte) { raise(keys.PrefixEnd(enc)) }},
		{opts.GTE, func(enc []byte) { raise(enc) }},
		{opts.LT, func(enc []byte) { lower(enc) }},
		{opts.LTE, func(enc []byte) { lower(keys.PrefixEnd(enc)) }},
	} {
		if b.key == nil {
			continue
		}
		_, enc, err := encodeKey(b.key)
		if err != nil {
			return store.ScanOptions{}, err
		}
		b.apply(enc)
	}

	limit := opts.Limit
	if limit < 0 {
		limit = 0
	}
	return store.ScanOptions{GTE: lo, LT: hi, Reverse: opts.Reverse, Limit: limit}, nil
}

// AddEntries stores entries for file and sets its reverse index to exactly
// their key set. Existing entries of file are not removed; call
// ClearEntriesByFile first.
func (v *View) AddEntries(ctx context.Context, file string, entries []Entry) error {
	fileEnc := keys.EncodeString(file)

	var keyList []byte
	seen := make(map[string]bool, len(entries))
	return v.db.Write(ctx, func(b store.Batch) error {
		for i, e := range entries {
			_, enc, err := encodeKey(e.Key)
			if err != nil {
				return err
			}
			val, err := json.Marshal(e.Value)
			if err != nil {
				return errors.New(errors.ErrCodeMapFailed, "value is not JSON encodable", err).
					WithDetail("view", v.name).
					WithDetail("file", file)
			}
			if err := b.Put(v.entries.Name(), entryKey(enc, fileEnc, uint32(i)), val); err != nil {
				return err
			}
			if !seen[string(enc)] {
				seen[string(enc)] = true
				keyList = append(keyList, enc...)
			}
		}
		if len(keyList) == 0 {
			return b.Delete(v.files.Name(), fileEnc)
		}
		return b.Put(v.files.Name(), fileEnc, keyList)
	})
}

// GetEntryKeysByFile returns the keys file currently contributes.
func (v *View) GetEntryKeysByFile(ctx context.Context, file string) ([]any, error) {
	encs, err := v.fileKeys(ctx, keys.EncodeString(file))
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(encs))
	for _, enc := range encs {
		k, _, err := keys.Decode(enc)
		if err != nil {
			return nil, corrupt(v.name, err)
		}
		out = append(out, k)
	}
	return out, nil
}

func (v *View) fileKeys(ctx context.Context, fileEnc []byte) ([][]byte, error) {
	raw, err := v.files.Get(ctx, fileEnc)
	if errors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out [][]byte
	for rest := raw; len(rest) > 0; {
		_, next, err := keys.Decode(rest)
		if err != nil {
			return nil, corrupt(v.name, err)
		}
		out = append(out, rest[:len(rest)-len(next)])
		rest = next
	}
	return out, nil
}

// ClearEntriesByFile removes every entry of file and its reverse index
// record. It returns the keys that file contributed.
func (v *View) ClearEntriesByFile(ctx context.Context, file string) ([]any, error) {
	fileEnc := keys.EncodeString(file)
	encs, err := v.fileKeys(ctx, fileEnc)
	if err != nil {
		return nil, err
	}

	var doomed [][]byte
	old := make([]any, 0, len(encs))
	for _, enc := range encs {
		k, _, err := keys.Decode(enc)
		if err != nil {
			return nil, corrupt(v.name, err)
		}
		old = append(old, k)

		prefix := append(append([]byte(nil), enc...), fileEnc...)
		kvs, err := v.entries.Scan(ctx, store.Prefix(prefix))
		if err != nil {
			return nil, err
		}
		for _, kv := range kvs {
			doomed = append(doomed, kv.Key)
		}
	}

	err = v.db.Write(ctx, func(b store.Batch) error {
		for _, k := range doomed {
			if err := b.Delete(v.entries.Name(), k); err != nil {
				return err
			}
		}
		return b.Delete(v.files.Name(), fileEnc)
	})
	if err != nil {
		return nil, err
	}
	return old, nil
}

// GetEntries returns the entries under key in file, then emission order.
func (v *View) GetEntries(ctx context.Context, key any) ([]Entry, error) {
	_, enc, err := encodeKey(key)
	if err != nil {
		return nil, err
	}
	kvs, err := v.entries.Scan(ctx, store.Prefix(enc))
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(kvs))
	for _, kv := range kvs {
		e, err := decodeEntry(kv)
		if err != nil {
			return nil, corrupt(v.name, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// PutReducedValue stores the reduced value for key.
func (v *View) PutReducedValue(ctx context.Context, key, value any) error {
	_, enc, err := encodeKey(key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.New(errors.ErrCodeReduceFailed, "reduced value is not JSON encodable", err).WithDetail("view", v.name)
	}
	return v.reduced.Put(ctx, enc, raw)
}

// DeleteReducedValue removes the reduced value for key.
func (v *View) DeleteReducedValue(ctx context.Context, key any) error {
	_, enc, err := encodeKey(key)
	if err != nil {
		return err
	}
	return v.reduced.Delete(ctx, enc)
}

// Recompute refolds the reduced value of every key from its current
// entries, deleting it when none remain. It is a no-op for views without
// a reducer.
func (v *View) Recompute(ctx context.Context, ks []any) error {
	if !v.Reducing() {
		return nil
	}
	v.foldMu.Lock()
	defer v.foldMu.Unlock()

	done := make(map[string]bool, len(ks))
	for _, k := range ks {
		_, enc, err := encodeKey(k)
		if err != nil {
			return err
		}
		if done[string(enc)] {
			continue
		}
		done[string(enc)] = true

		entries, err := v.GetEntries(ctx, k)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			if err := v.DeleteReducedValue(ctx, k); err != nil {
				return err
			}
			continue
		}
		acc, err := v.fold(k, entries)
		if err != nil {
			return err
		}
		if err := v.PutReducedValue(ctx, k, acc); err != nil {
			return err
		}
	}
	return nil
}

func (v *View) fold(k any, entries []Entry) (any, error) {
	var acc any
	var err error
	for _, e := range entries {
		if acc, err = v.def.Reduce.Reduce(acc, e.Value, e.Key); err != nil {
			return nil, errors.New(errors.ErrCodeReduceFailed, fmt.Sprintf("reduce failed for key %v", k), err).
				WithDetail("view", v.name)
		}
	}
	return acc, nil
}

// ReplaceFileEntries swaps the entries of file for entries and refolds
// every key either set touches, in one commit. When map output cannot be
// stored or reduce fails, nothing is written. A nil entries removes file.
func (v *View) ReplaceFileEntries(ctx context.Context, file string, entries []Entry) error {
	v.foldMu.Lock()
	defer v.foldMu.Unlock()

	fileEnc := keys.EncodeString(file)
	oldEncs, err := v.fileKeys(ctx, fileEnc)
	if err != nil {
		return err
	}

	var touched [][]byte
	seen := make(map[string]bool)
	touch := func(enc []byte) bool {
		if seen[string(enc)] {
			return false
		}
		seen[string(enc)] = true
		touched = append(touched, enc)
		return true
	}

	var doomed [][]byte
	for _, enc := range oldEncs {
		touch(enc)
		kvs, err := v.entries.Scan(ctx, store.Prefix(append(append([]byte(nil), enc...), fileEnc...)))
		if err != nil {
			return err
		}
		for _, kv := range kvs {
			doomed = append(doomed, kv.Key)
		}
	}

	var keyList []byte
	added := make(map[string][]store.KV)
	newKeys := make(map[string]bool)
	for i, e := range entries {
		_, enc, err := encodeKey(e.Key)
		if err != nil {
			return err
		}
		val, err := json.Marshal(e.Value)
		if err != nil {
			return errors.New(errors.ErrCodeMapFailed, "value is not JSON encodable", err).
				WithDetail("view", v.name).
				WithDetail("file", file)
		}
		added[string(enc)] = append(added[string(enc)], store.KV{Key: entryKey(enc, fileEnc, uint32(i)), Value: val})
		touch(enc)
		if !newKeys[string(enc)] {
			newKeys[string(enc)] = true
			keyList = append(keyList, enc...)
		}
	}

	reduced := make(map[string][]byte, len(touched))
	if v.Reducing() {
		for _, enc := range touched {
			acc, ok, err := v.foldAfter(ctx, enc, fileEnc, added[string(enc)])
			if err != nil {
				return err
			}
			if !ok {
				reduced[string(enc)] = nil
				continue
			}
			raw, err := json.Marshal(acc)
			if err != nil {
				return errors.New(errors.ErrCodeReduceFailed, "reduced value is not JSON encodable", err).WithDetail("view", v.name)
			}
			reduced[string(enc)] = raw
		}
	}

	return v.db.Write(ctx, func(b store.Batch) error {
		for _, k := range doomed {
			if err := b.Delete(v.entries.Name(), k); err != nil {
				return err
			}
		}
		for _, kvs := range added {
			for _, kv := range kvs {
				if err := b.Put(v.entries.Name(), kv.Key, kv.Value); err != nil {
					return err
				}
			}
		}
		if len(keyList) == 0 {
			if err := b.Delete(v.files.Name(), fileEnc); err != nil {
				return err
			}
		} else if err := b.Put(v.files.Name(), fileEnc, keyList); err != nil {
			return err
		}
		for enc, raw := range reduced {
			if raw == nil {
				if err := b.Delete(v.reduced.Name(), []byte(enc)); err != nil {
					return err
				}
				continue
			}
			if err := b.Put(v.reduced.Name(), []byte(enc), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

// foldAfter folds the entries under enc as they will be once file's
// entries are replaced by added. ok is false when none would remain.
func (v *View) foldAfter(ctx context.Context, enc, fileEnc []byte, added []store.KV) (acc any, ok bool, err error) {
	kvs, err := v.entries.Scan(ctx, store.Prefix(enc))
	if err != nil {
		return nil, false, err
	}
	own := append(append([]byte(nil), enc...), fileEnc...)
	merged := make([]store.KV, 0, len(kvs)+len(added))
	for _, kv := range kvs {
		if !bytes.HasPrefix(kv.Key, own) {
			merged = append(merged, kv)
		}
	}
	merged = append(merged, added...)
	if len(merged) == 0 {
		return nil, false, nil
	}
	sort.Slice(merged, func(i, j int) bool { return bytes.Compare(merged[i].Key, merged[j].Key) < 0 })

	entries := make([]Entry, 0, len(merged))
	for _, kv := range merged {
		e, err := decodeEntry(kv)
		if err != nil {
			return nil, false, corrupt(v.name, err)
		}
		entries = append(entries, e)
	}
	acc, err = v.fold(entries[0].Key, entries)
	if err != nil {
		return nil, false, err
	}
	return acc, true, nil
}

// BeginUpdate marks an update of the view in progress until release is
// called. ClearData waits for every update in progress.
func (v *View) BeginUpdate() (release func()) {
	v.gate.RLock()
	return v.gate.RUnlock
}

// Checkpoint returns the last archive version applied to the view, or 0.
func (v *View) Checkpoint(ctx context.Context, archiveURL string) (int64, error) {
	raw, err := v.versions.Get(ctx, keys.EncodeString(archiveURL))
	if errors.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, corrupt(v.name, err)
	}
	return n, nil
}

// PutCheckpoint records version as applied for archiveURL.
func (v *View) PutCheckpoint(ctx context.Context, archiveURL string, version int64) error {
	return v.versions.Put(ctx, keys.EncodeString(archiveURL), []byte(strconv.FormatInt(version, 10)))
}

// DeleteCheckpoint forgets archiveURL.
func (v *View) DeleteCheckpoint(ctx context.Context, archiveURL string) error {
	return v.versions.Delete(ctx, keys.EncodeString(archiveURL))
}

// ClearData drops entries, reverse index, reduced values and checkpoints
// once no update is in progress.
func (v *View) ClearData(ctx context.Context) error {
	v.gate.Lock()
	defer v.gate.Unlock()

	for _, t := range []store.Table{v.entries, v.files, v.reduced, v.versions} {
		if err := t.DeleteAll(ctx); err != nil {
			return err
		}
	}
	slog.Debug("view data cleared", slog.String("view", v.name))
	return nil
}

func encodeKey(key any) (any, []byte, error) {
	k, err := keys.Normalize(key)
	if err != nil {
		return nil, nil, errors.New(errors.ErrCodeInvalidKey, fmt.Sprintf("invalid key %v", key), err)
	}
	enc, err := keys.Encode(k)
	if err != nil {
		return nil, nil, errors.New(errors.ErrCodeInvalidKey, fmt.Sprintf("invalid key %v", key), err)
	}
	return k, enc, nil
}

func entryKey(keyEnc, fileEnc []byte, seq uint32) []byte {
	out := make([]byte, 0, len(keyEnc)+len(fileEnc)+4)
	out = append(out, keyEnc...)
	out = append(out, fileEnc...)
	return binary.BigEndian.AppendUint32(out, seq)
}

func decodeEntry(kv store.KV) (Entry, error) {
	k, rest, err := keys.Decode(kv.Key)
	if err != nil {
		return Entry{}, err
	}
	file, _, err := keys.DecodeString(rest)
	if err != nil {
		return Entry{}, err
	}
	val, err := decodeValue(kv.Value)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Key: k, Value: val, File: file}, nil
}

func decodeValue(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.New(errors.ErrCodeCorruptIndex, "stored value is not valid JSON", err)
	}
	return v, nil
}

func corrupt(view string, err error) error {
	return errors.New(errors.ErrCodeCorruptIndex, "view storage is corrupt", err).WithDetail("view", view)
}
