package executor

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	language "github.com/hanpama/rexq/internal/language"
)

// Engine resolves rexq queries against a resolver Map. It is safe for
// concurrent use; every Resolve call gets its own state.
type Engine struct {
	resolvers Map
	opts      *Options
	parser    *language.Parser
	invoke    invoker
	composed  composedCache

	treeOnce sync.Once
	tree     map[string]any
}

// New creates an engine over resolvers. Link resolvers from WithLinks are
// merged in after resolvers, so local entries win on a name clash.
func New(resolvers Map, opts ...Option) (*Engine, error) {
	return NewFromModules([]*Module{{Resolvers: resolvers}}, opts...)
}

// NewFromModules merges modules with MergeModules and creates an engine over
// the result.
func NewFromModules(modules []*Module, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	e := &Engine{
		opts:   o,
		parser: language.NewParser(o.parseStore()),
		invoke: composeMiddleware(o.Middleware),
	}
	linked := make([]*Module, 0, len(o.Links))
	for i, l := range o.Links {
		m, err := e.linkModule(i, l)
		if err != nil {
			return nil, err
		}
		linked = append(linked, m)
	}
	e.resolvers = MergeModules(append(modules[:len(modules):len(modules)], linked...)...)
	return e, nil
}

// Resolve runs query against the engine's resolvers. It never returns nil;
// every failure is reported in Result.Errors.
func (e *Engine) Resolve(ctx context.Context, query string, variables map[string]any) *Result {
	return e.resolve(ctx, e.resolvers, query, variables)
}

// Execute adapts Resolve to ExecuteFunc so an engine can serve as a link
// target or fallback of another engine.
func (e *Engine) Execute(ctx context.Context, query string, variables map[string]any) (*Result, error) {
	return e.Resolve(ctx, query, variables), nil
}

// Namespace returns a resolve function whose top-level map is the namespace
// registered under name. Result type and alias paths are looked up in the
// namespace too.
func (e *Engine) Namespace(name string) ExecuteFunc {
	scope, _ := e.resolvers[name].(Map)
	if scope == nil {
		scope = Map{}
	}
	return func(ctx context.Context, query string, variables map[string]any) (*Result, error) {
		return e.resolve(ctx, scope, query, variables), nil
	}
}

// Parse parses query through the engine's cache.
func (e *Engine) Parse(query string) (*language.Field, error) {
	r := e.parser.Parse(query)
	return r.Root, r.Err
}

// Build serializes fields back into query text with fresh variable keys.
func (e *Engine) Build(fields []*language.Field, variables map[string]any) (string, map[string]any) {
	return language.Build(fields, variables)
}

// ResolverTree describes the merged resolver map. It is computed once.
func (e *Engine) ResolverTree() map[string]any {
	e.treeOnce.Do(func() { e.tree = e.resolvers.Tree() })
	return e.tree
}

func (e *Engine) resolve(ctx context.Context, scope Map, query string, variables map[string]any) *Result {
	parsed := e.parser.Parse(query)
	if parsed.Err != nil {
		r := newResult()
		r.Errors = append(r.Errors, Error{Path: QueryPath, Message: parsed.Err.Error()})
		return r
	}
	vars := make(map[string]any, len(variables))
	maps.Copy(vars, variables)

	fields := parsed.Root.Children
	if isTruthy(vars["$single"]) && len(fields) > 1 {
		r := newResult()
		r.Errors = append(r.Errors, Error{Path: QueryPath, Message: "Invalid query"})
		return r
	}

	c := e.newCall(ctx, scope, vars)
	local, deferred := e.partition(scope, fields)

	if vars["$execute"] == "serial" {
		for _, f := range local {
			c.resolveRoot(f)
		}
	} else {
		var g errgroup.Group
		for _, f := range local {
			g.Go(func() error {
				c.resolveRoot(f)
				return nil
			})
		}
		_ = g.Wait()
	}

	e.fallback(c, deferred)
	return c.result
}

// partition splits root fields into those resolved here and those handed to
// the fallback. Without a fallback every field is local; unknown ones pass
// the root value through.
func (e *Engine) partition(scope Map, fields []*language.Field) (local, deferred []*language.Field) {
	if e.opts.Fallback == nil && !e.opts.FallbackMarker {
		return fields, nil
	}
	for _, f := range fields {
		if scope[f.Name] == nil {
			deferred = append(deferred, f)
		} else {
			local = append(local, f)
		}
	}
	return local, deferred
}

type callKey struct{}

// call is the state of one Resolve invocation.
type call struct {
	engine *Engine
	ctx    context.Context
	scope  Map
	root   any
	user   any

	mu      sync.Mutex
	vars    map[string]any // replaced, never mutated, once shared
	result  *Result
	batches map[*linkState]*linkBatch
}

func (e *Engine) newCall(ctx context.Context, scope Map, vars map[string]any) *call {
	c := &call{
		engine:  e,
		scope:   scope,
		vars:    vars,
		result:  newResult(),
		batches: make(map[*linkState]*linkBatch),
	}
	if e.opts.Context != nil {
		c.user = e.opts.Context(vars)
	}
	if v, ok := vars["$root"]; ok {
		c.root = v
	} else if e.opts.Root != nil {
		c.root = e.opts.Root(vars)
	}
	c.ctx = context.WithValue(ctx, callKey{}, c)
	return c
}

func callFrom(ctx context.Context) *call {
	c, _ := ctx.Value(callKey{}).(*call)
	return c
}

func (c *call) variables() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vars
}

func (c *call) resolveRoot(f *language.Field) {
	v, err := c.resolveEntry(c.ctx, f, c.scope[f.Name], c.root)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.result.Data[f.Alias] = nil
		c.result.Errors = append(c.result.Errors, fieldError(f.Alias, err))
		return
	}
	c.result.Data[f.Alias] = v
	if f.Out != "" {
		next := make(map[string]any, len(c.vars)+1)
		maps.Copy(next, c.vars)
		next[f.Out] = v
		c.vars = next
	}
}

// resolveEntry resolves f with entry against parent. A nil entry returns the
// parent unchanged.
func (c *call) resolveEntry(ctx context.Context, f *language.Field, entry Entry, parent any) (any, error) {
	if a, ok := entry.(Alias); ok {
		entry = c.scope.Lookup(string(a))
		switch entry.(type) {
		case nil:
			return nil, fmt.Errorf("alias %q does not name a resolver", string(a))
		case Alias:
			return nil, fmt.Errorf("alias %q points to another alias", string(a))
		}
	}
	switch e := entry.(type) {
	case nil:
		return parent, nil
	case Leaf:
		v, err := c.invoke(ctx, Func(e), parent, f)
		if err != nil {
			return nil, err
		}
		return c.shape(ctx, f, nil, v)
	case *Composed:
		v, err := c.invoke(ctx, c.engine.composed.get(e), parent, f)
		if err != nil {
			return nil, err
		}
		var typ Entry
		if e.Type != "" {
			typ = c.scope.Lookup(e.Type)
		}
		return c.shape(ctx, f, typ, v)
	case Map:
		if len(f.Children) == 0 || isSequence(parent) {
			return c.shape(ctx, f, e, parent)
		}
		return c.shapeChildren(ctx, f, e, parent)
	}
	return nil, fmt.Errorf("unsupported resolver entry %T", entry)
}

// invoke calls resolver through the middleware chain. Panics become errors
// carrying the stack of the panicking goroutine.
func (c *call) invoke(ctx context.Context, resolver Func, parent any, f *language.Field) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, errors.WithStack(fmt.Errorf("panic: %v", r))
		}
	}()
	return c.engine.invoke(ctx, resolver, parent, c.args(f), c.info(f))
}

// args binds f's arguments from the current variables. Missing variables
// bind to nil.
func (c *call) args(f *language.Field) map[string]any {
	vars := c.variables()
	args := make(map[string]any, len(f.Args))
	for _, a := range f.Args {
		args[a.Name] = vars[a.Variable]
	}
	return args
}

func (c *call) info(f *language.Field) *Info {
	return &Info{
		Field:     f,
		Context:   c.user,
		Variables: c.variables(),
		Root:      c.root,
		Resolvers: c.scope,
		Execute: func(ctx context.Context, query string, variables map[string]any) *Result {
			return c.engine.resolve(ctx, c.scope, query, variables)
		},
	}
}
