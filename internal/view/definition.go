package view

import (
	"context"
	"fmt"
	"strings"

	"github.com/Aman-CERP/mapview/internal/errors"
)

// Meta describes the file a map function is running on.
type Meta struct {
	// Origin is the archive URL.
	Origin string `json:"origin"`
	// URL is Origin joined with Pathname.
	URL string `json:"url"`
	// Pathname is the file path inside the archive.
	Pathname string `json:"pathname"`
}

// Emit records one entry. Keys must be nil, bool, a number, a string or a
// slice of those (nested slices allowed).
type Emit func(key, value any) error

// Mapper turns one file's content into entries.
type Mapper interface {
	Map(ctx context.Context, content []byte, meta Meta, emit Emit) error
}

// MapperFunc adapts a function to Mapper.
type MapperFunc func(ctx context.Context, content []byte, meta Meta, emit Emit) error

// Map implements Mapper.
func (f MapperFunc) Map(ctx context.Context, content []byte, meta Meta, emit Emit) error {
	return f(ctx, content, meta, emit)
}

// Reducer folds the values stored under one key. acc is nil on the first call.
type Reducer interface {
	Reduce(acc, value, key any) (any, error)
}

// ReducerFunc adapts a function to Reducer.
type ReducerFunc func(acc, value, key any) (any, error)

// Reduce implements Reducer.
func (f ReducerFunc) Reduce(acc, value, key any) (any, error) {
	return f(acc, value, key)
}

// Definition declares a view.
type Definition struct {
	// Paths are glob patterns selecting the files the view maps.
	Paths []string
	// Map is required.
	Map Mapper
	// Reduce is optional. Views without one store every entry.
	Reduce Reducer
}

// Validate reports structural problems as schema errors.
func (d Definition) Validate(name string) error {
	switch {
	case name == "":
		return errors.SchemaError("view name is required")
	case strings.ContainsRune(name, 0):
		return errors.SchemaError("view name must not contain NUL").WithDetail("view", name)
	case len(d.Paths) == 0:
		return errors.SchemaError("view needs at least one path pattern").WithDetail("view", name)
	case d.Map == nil:
		return errors.SchemaError("view needs a map function").WithDetail("view", name)
	}
	for i, p := range d.Paths {
		if strings.TrimSpace(p) == "" {
			return errors.SchemaError(fmt.Sprintf("path pattern %d is empty", i)).WithDetail("view", name)
		}
	}
	if f, ok := d.Map.(MapperFunc); ok && f == nil {
		return errors.SchemaError("view map function is nil").WithDetail("view", name)
	}
	if f, ok := d.Reduce.(ReducerFunc); ok && f == nil {
		return errors.SchemaError("view reduce is not a function").WithDetail("view", name)
	}
	return nil
}

// Count is the reducer that counts entries per key.
var Count = ReducerFunc(func(acc, _, _ any) (any, error) {
	n, _ := acc.(float64)
	return n + 1, nil
})

// Sum adds numeric values per key. Non-numeric values count as zero.
var Sum = ReducerFunc(func(acc, value, _ any) (any, error) {
	n, _ := acc.(float64)
	v, _ := value.(float64)
	return n + v, nil
})
