package executor

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	language "github.com/hanpama/rexq/internal/language"
)

// Deferred is a value that becomes available later. Resolvers may return one
// anywhere a value is expected, including inside lists.
type Deferred interface {
	Await(ctx context.Context) (any, error)
}

type future struct {
	done chan struct{}
	v    any
	err  error
}

// Async runs fn in its own goroutine and returns its eventual value.
func Async(fn func() (any, error)) Deferred {
	f := &future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = errors.WithStack(fmt.Errorf("panic: %v", r))
			}
		}()
		f.v, f.err = fn()
	}()
	return f
}

func (f *future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.v, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type rawValue struct{ v any }

// Raw marks v as already shaped. It is returned as is, regardless of the
// field's selection.
func Raw(v any) any { return rawValue{v} }

func await(ctx context.Context, v any) (any, error) {
	for {
		d, ok := v.(Deferred)
		if !ok {
			return v, nil
		}
		var err error
		if v, err = d.Await(ctx); err != nil {
			return nil, err
		}
	}
}

// shape projects v onto f's selection. scope holds the resolvers that apply
// to v's fields: a type resolver (Leaf or *Composed), a namespace Map, or
// nil when children are read straight off the value.
func (c *call) shape(ctx context.Context, f *language.Field, scope Entry, v any) (any, error) {
	v, err := await(ctx, v)
	if err != nil {
		return nil, err
	}
	if r, ok := v.(rawValue); ok {
		return r.v, nil
	}
	if f.HasWildcard {
		return v, nil
	}
	if items, ok := sequence(v); ok {
		return c.shapeList(ctx, f, scope, items)
	}
	if isFalsy(v) {
		return v, nil
	}
	if len(f.Children) == 0 {
		if isObjectLike(v) {
			return map[string]any{}, nil
		}
		return v, nil
	}
	switch s := scope.(type) {
	case Leaf:
		return c.shapeTyped(ctx, f, Func(s), v)
	case *Composed:
		return c.shapeTyped(ctx, f, c.engine.composed.get(s), v)
	case Map:
		return c.shapeChildren(ctx, f, s, v)
	}
	return c.shapeChildren(ctx, f, nil, v)
}

func (c *call) shapeList(ctx context.Context, f *language.Field, scope Entry, items []any) (any, error) {
	out := make([]any, len(items))
	var g errgroup.Group
	for i, item := range items {
		g.Go(func() (err error) {
			out[i], err = c.shape(ctx, f, scope, item)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// shapeTyped materializes v with a type resolver and reads the selected
// children off the object it returns.
func (c *call) shapeTyped(ctx context.Context, f *language.Field, resolver Func, v any) (any, error) {
	obj, err := c.invoke(ctx, resolver, v, f)
	if err != nil {
		return nil, err
	}
	if obj, err = await(ctx, obj); err != nil {
		return nil, err
	}
	if r, ok := obj.(rawValue); ok {
		obj = r.v
	}
	return c.collect(ctx, f, func(ctx context.Context, child *language.Field) (any, error) {
		return c.shape(ctx, child, nil, readField(obj, child.Name))
	})
}

// shapeChildren resolves every child of f against parent. Children with an
// entry in ns go through their resolver; the rest are read off parent.
func (c *call) shapeChildren(ctx context.Context, f *language.Field, ns Map, parent any) (any, error) {
	return c.collect(ctx, f, func(ctx context.Context, child *language.Field) (any, error) {
		if entry := ns[child.Name]; entry != nil {
			return c.resolveEntry(ctx, child, entry, parent)
		}
		return c.shape(ctx, child, nil, readField(parent, child.Name))
	})
}

// collect runs fn for each child of f in parallel and keys the values by
// alias. The first error fails the whole object.
func (c *call) collect(ctx context.Context, f *language.Field, fn func(context.Context, *language.Field) (any, error)) (any, error) {
	vals := make([]any, len(f.Children))
	var g errgroup.Group
	for i, child := range f.Children {
		g.Go(func() (err error) {
			vals[i], err = fn(ctx, child)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(f.Children))
	for i, child := range f.Children {
		out[child.Alias] = vals[i]
	}
	return out, nil
}

// readField reads name off a map with string keys or an exported struct
// field, matching the json tag first.
func readField(v any, name string) any {
	switch m := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return m[name]
	}
	rv := indirect(reflect.ValueOf(v))
	if !rv.IsValid() {
		return nil
	}
	switch rv.Kind() {
	case reflect.Map:
		kt := rv.Type().Key()
		if kt.Kind() != reflect.String {
			return nil
		}
		mv := rv.MapIndex(reflect.ValueOf(name).Convert(kt))
		if !mv.IsValid() {
			return nil
		}
		return mv.Interface()
	case reflect.Struct:
		t := rv.Type()
		for i := range t.NumField() {
			sf := t.Field(i)
			if sf.IsExported() && fieldName(sf) == name {
				return rv.Field(i).Interface()
			}
		}
		for i := range t.NumField() {
			sf := t.Field(i)
			if sf.IsExported() && sf.Name == name {
				return rv.Field(i).Interface()
			}
		}
	}
	return nil
}

func fieldName(sf reflect.StructField) string {
	tag, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
	if tag == "" || tag == "-" {
		return sf.Name
	}
	return tag
}

func indirect(rv reflect.Value) reflect.Value {
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

// sequence returns v's elements when v is a slice or array other than
// []byte.
func sequence(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case nil, []byte, string:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return nil, false
		}
	case reflect.Array:
	default:
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func isSequence(v any) bool {
	_, ok := sequence(v)
	return ok
}

func isObjectLike(v any) bool {
	rv := indirect(reflect.ValueOf(v))
	if !rv.IsValid() {
		return false
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Struct:
		return true
	}
	return false
}

// isFalsy reports nil, typed nil, false, zero numbers and the empty string.
func isFalsy(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return rv.IsZero()
	}
	return false
}

func isTruthy(v any) bool { return !isFalsy(v) }
