// Package celview builds view definitions from CEL expressions, so views
// can be declared in configuration.
//
// Map expressions see four variables:
//
//	doc      the file parsed as JSON, or null when it is not JSON
//	content  the raw file content as a string
//	meta     {"origin", "url", "pathname"}
//	item     the current element when Each is set, else null
//
// JSON numbers are doubles, so arithmetic against literals needs double
// literals (1.0, not 1). Reduce expressions see acc (null on the first
// entry of a key), value and key.
package celview

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Aman-CERP/mapview/internal/config"
	"github.com/Aman-CERP/mapview/internal/errors"
	"github.com/Aman-CERP/mapview/internal/view"
)

var celNewEnv = cel.NewEnv

var jsonValueType = reflect.TypeOf(&structpb.Value{})

// Builtin reducers selectable by name.
var builtins = map[string]view.Reducer{
	"count": view.Count,
	"sum":   view.Sum,
}

// Build compiles vc into a view definition.
func Build(vc config.ViewConfig) (view.Definition, error) {
	m, err := NewMapper(vc.Map)
	if err != nil {
		return view.Definition{}, schemaErr(vc.Name, err)
	}
	def := view.Definition{Paths: vc.Paths, Map: m}

	switch {
	case vc.ReduceExpr != "":
		r, err := NewReducer(vc.ReduceExpr)
		if err != nil {
			return view.Definition{}, schemaErr(vc.Name, err)
		}
		def.Reduce = r
	case vc.Reduce != "":
		r, ok := builtins[strings.ToLower(vc.Reduce)]
		if !ok {
			return view.Definition{}, errors.SchemaError(fmt.Sprintf("unknown reduce %q", vc.Reduce)).
				WithDetail("view", vc.Name).
				WithSuggestion("Use count, sum, or a reduce_expr")
		}
		def.Reduce = r
	}

	if err := def.Validate(vc.Name); err != nil {
		return view.Definition{}, err
	}
	return def, nil
}

func schemaErr(name string, err error) error {
	return errors.New(errors.ErrCodeSchemaInvalid, "invalid view expression", err).WithDetail("view", name)
}

// Mapper evaluates CEL map expressions.
type Mapper struct {
	filter cel.Program
	each   cel.Program
	key    cel.Program
	value  cel.Program
}

var _ view.Mapper = (*Mapper)(nil)

// NewMapper compiles mc. Key is required; Filter, Each and Value are
// optional. Without Value the emitted value is null.
func NewMapper(mc config.MapConfig) (*Mapper, error) {
	if strings.TrimSpace(mc.Key) == "" {
		return nil, fmt.Errorf("map.key is required")
	}
	env, err := celNewEnv(
		cel.Variable("doc", cel.DynType),
		cel.Variable("content", cel.StringType),
		cel.Variable("meta", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("item", cel.DynType),
	)
	if err != nil {
		return nil, err
	}

	m := &Mapper{}
	if m.key, err = compile(env, "key", mc.Key); err != nil {
		return nil, err
	}
	if m.filter, err = compile(env, "filter", mc.Filter); err != nil {
		return nil, err
	}
	if m.each, err = compile(env, "each", mc.Each); err != nil {
		return nil, err
	}
	if m.value, err = compile(env, "value", mc.Value); err != nil {
		return nil, err
	}
	return m, nil
}

// compile returns a nil program for an empty expression.
func compile(env *cel.Env, field, expr string) (cel.Program, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%s: CEL compile error: %w", field, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%s: CEL program creation error: %w", field, err)
	}
	return prg, nil
}

// Map implements view.Mapper.
func (m *Mapper) Map(ctx context.Context, content []byte, meta view.Meta, emit view.Emit) error {
	var doc any
	if err := json.Unmarshal(content, &doc); err != nil {
		doc = nil
	}
	vars := map[string]any{
		"doc":     doc,
		"content": string(content),
		"meta": map[string]string{
			"origin":   meta.Origin,
			"url":      meta.URL,
			"pathname": meta.Pathname,
		},
		"item": nil,
	}

	if m.filter != nil {
		out, err := eval(ctx, m.filter, vars)
		if err != nil {
			return fmt.Errorf("filter: %w", err)
		}
		keep, ok := out.(bool)
		if !ok {
			return fmt.Errorf("filter must return bool, got %T", out)
		}
		if !keep {
			return nil
		}
	}

	if m.each == nil {
		return m.emitOne(ctx, vars, emit)
	}
	out, err := eval(ctx, m.each, vars)
	if err != nil {
		return fmt.Errorf("each: %w", err)
	}
	if out == nil {
		return nil
	}
	items, ok := out.([]any)
	if !ok {
		return fmt.Errorf("each must return a list, got %T", out)
	}
	for _, it := range items {
		vars["item"] = it
		if err := m.emitOne(ctx, vars, emit); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mapper) emitOne(ctx context.Context, vars map[string]any, emit view.Emit) error {
	key, err := eval(ctx, m.key, vars)
	if err != nil {
		return fmt.Errorf("key: %w", err)
	}
	var value any
	if m.value != nil {
		if value, err = eval(ctx, m.value, vars); err != nil {
			return fmt.Errorf("value: %w", err)
		}
	}
	return emit(key, value)
}

// Reducer folds entries with a CEL expression over acc, value and key.
type Reducer struct {
	prg cel.Program
}

var _ view.Reducer = (*Reducer)(nil)

// NewReducer compiles expr.
func NewReducer(expr string) (*Reducer, error) {
	env, err := celNewEnv(
		cel.Variable("acc", cel.DynType),
		cel.Variable("value", cel.DynType),
		cel.Variable("key", cel.DynType),
	)
	if err != nil {
		return nil, err
	}
	prg, err := compile(env, "reduce_expr", expr)
	if err != nil {
		return nil, err
	}
	if prg == nil {
		return nil, fmt.Errorf("reduce_expr is empty")
	}
	return &Reducer{prg: prg}, nil
}

// Reduce implements view.Reducer.
func (r *Reducer) Reduce(acc, value, key any) (any, error) {
	return eval(context.Background(), r.prg, map[string]any{"acc": acc, "value": value, "key": key})
}

// eval runs prg and converts the result to plain JSON values: nil, bool,
// float64, string, []any and map[string]any.
func eval(ctx context.Context, prg cel.Program, vars map[string]any) (any, error) {
	out, _, err := prg.ContextEval(ctx, vars)
	if err != nil {
		return nil, err
	}
	return native(out)
}

func native(v ref.Val) (any, error) {
	if types.IsError(v) {
		return nil, fmt.Errorf("%v", v)
	}
	pb, err := v.ConvertToNative(jsonValueType)
	if err != nil {
		return nil, fmt.Errorf("result of type %s is not JSON: %w", v.Type().TypeName(), err)
	}
	return pb.(*structpb.Value).AsInterface(), nil
}
