package executor

import (
	"context"
	"sort"
	"strings"

	language "github.com/hanpama/rexq/internal/language"
)

// Func resolves one field. parent is the value the field is read from (the
// root value for top-level fields) and args holds the bound arguments.
type Func func(ctx context.Context, parent any, args map[string]any, info *Info) (any, error)

// Info describes the field being resolved and the call it belongs to.
type Info struct {
	Field *language.Field
	// Context is the per-call user context from WithContext/WithContextFunc.
	Context   any
	Variables map[string]any
	Root      any
	Resolvers Map
	// Execute runs another query against the same engine and resolver scope
	// as the current call.
	Execute func(ctx context.Context, query string, variables map[string]any) *Result
}

// Entry is one slot of a resolver Map. It is one of Leaf, *Composed, Map or
// Alias.
type Entry interface {
	entry()
}

// Leaf is a plain resolver function. Registered under a type name it acts as
// a type resolver: it materializes the object whose fields are then read.
type Leaf Func

// Composed is an ordered step chain with an optional result type. See
// Compose for the step protocol. The effective resolver is built once per
// *Composed and memoized by the engine.
type Composed struct {
	// Type names the resolvers (dot separated path into the top-level map)
	// that post-process the chain's value. Empty means none.
	Type  string
	Steps []Func
}

// Map is the resolver registry keyed by field name or result type name. A
// Map nested inside a Map is a namespace.
type Map map[string]Entry

// Alias redirects to the entry at a dot separated path of the top-level Map.
type Alias string

func (Leaf) entry()      {}
func (*Composed) entry() {}
func (Map) entry()       {}
func (Alias) entry()     {}

// Chain builds a *Composed from a result type and steps.
func Chain(resultType string, steps ...Func) *Composed {
	return &Composed{Type: resultType, Steps: steps}
}

// Lookup walks a dot separated path through nested maps.
func (m Map) Lookup(path string) Entry {
	var cur Entry = m
	for _, part := range strings.Split(path, ".") {
		ns, ok := cur.(Map)
		if !ok {
			return nil
		}
		cur = ns[part]
		if cur == nil {
			return nil
		}
	}
	return cur
}

// ResolverTag is the value every resolver takes in a resolver tree.
const ResolverTag = "resolver"

// Tree projects m into nested maps whose leaves are ResolverTag.
func (m Map) Tree() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch e := v.(type) {
		case Map:
			out[k] = e.Tree()
		case nil:
			out[k] = "unknown"
		default:
			out[k] = ResolverTag
		}
	}
	return out
}

// Names returns the sorted top-level keys of m.
func (m Map) Names() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
