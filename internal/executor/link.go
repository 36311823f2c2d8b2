package executor

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	eventbus "github.com/hanpama/rexq/internal/eventbus"
	events "github.com/hanpama/rexq/internal/events"
	language "github.com/hanpama/rexq/internal/language"
)

// Link exposes fields of another executor as local resolvers. Requests made
// by link resolvers during one resolve call are coalesced into a single
// Execute per link once no new request arrived for Latency.
type Link struct {
	// Name identifies the link in events. Defaults to "link<N>".
	Name      string
	Execute   ExecuteFunc
	Resolvers map[string]LinkResolver
	// Latency overrides the engine's link latency when positive.
	Latency time.Duration
}

// LinkResolver is a Template or a QueryFunc.
type LinkResolver interface {
	linkResolver()
}

// Template is a remote query with one root field. A Placeholder in it is
// replaced by the selection of the field being resolved, and the remote
// value is returned without further shaping. Without a placeholder the
// field's arguments become the remote variables and the value is shaped
// locally.
type Template string

// QueryFunc computes the remote query and variables per invocation. Its
// value is shaped locally.
type QueryFunc func(ctx context.Context, parent any, args map[string]any, info *Info) (query string, variables map[string]any, err error)

func (Template) linkResolver()  {}
func (QueryFunc) linkResolver() {}

// Placeholder marks where a Template takes the local selection.
const Placeholder = "?"

type linkState struct {
	name    string
	execute ExecuteFunc
	latency time.Duration
	parser  *language.Parser
	batches atomic.Uint64
}

func (e *Engine) linkModule(i int, l *Link) (*Module, error) {
	if l == nil || l.Execute == nil {
		return nil, fmt.Errorf("link %d: no executor", i)
	}
	ls := &linkState{
		name:    l.Name,
		execute: l.Execute,
		latency: l.Latency,
		parser:  e.parser,
	}
	if ls.name == "" {
		ls.name = "link" + strconv.Itoa(i+1)
	}
	if ls.latency <= 0 {
		ls.latency = e.opts.LinkLatency
	}
	m := make(Map, len(l.Resolvers))
	for name, lr := range l.Resolvers {
		if lr == nil {
			return nil, fmt.Errorf("link %s: resolver %q is nil", ls.name, name)
		}
		m[name] = Leaf(ls.resolver(lr))
	}
	return &Module{Resolvers: m}, nil
}

func (ls *linkState) resolver(lr LinkResolver) Func {
	return func(ctx context.Context, parent any, args map[string]any, info *Info) (any, error) {
		query, vars, raw, err := ls.request(ctx, lr, parent, args, info)
		if err != nil {
			return nil, err
		}
		parsed := ls.parser.Parse(query)
		if parsed.Err != nil {
			return nil, fmt.Errorf("link %s: %w", ls.name, parsed.Err)
		}
		if len(parsed.Root.Children) != 1 {
			return nil, fmt.Errorf("link %s: query %q must select exactly one field", ls.name, query)
		}
		v, err := ls.enqueue(ctx, parsed.Root.Children[0], vars)
		if err != nil || !raw {
			return v, err
		}
		return Raw(v), nil
	}
}

func (ls *linkState) request(ctx context.Context, lr LinkResolver, parent any, args map[string]any, info *Info) (string, map[string]any, bool, error) {
	switch r := lr.(type) {
	case QueryFunc:
		q, vars, err := r(ctx, parent, args, info)
		return q, vars, false, err
	case Template:
		t := string(r)
		switch strings.Count(t, Placeholder) {
		case 0:
			return t, maps.Clone(args), false, nil
		case 1:
			b := language.NewBuilder()
			b.Reserve(slices.Collect(maps.Keys(args))...)
			sel := b.Selection(info.Field, info.Variables)
			vars := maps.Clone(b.Variables())
			if vars == nil {
				vars = map[string]any{}
			}
			maps.Copy(vars, args)
			return strings.Replace(t, Placeholder, sel, 1), vars, true, nil
		default:
			return "", nil, false, fmt.Errorf("link %s: template %q has more than one placeholder", ls.name, t)
		}
	}
	return "", nil, false, fmt.Errorf("link %s: unsupported resolver %T", ls.name, lr)
}

// enqueue registers field with the batch of the current call and waits for
// the batch to be answered. Outside a resolve call the field is sent alone.
func (ls *linkState) enqueue(ctx context.Context, field *language.Field, vars map[string]any) (any, error) {
	c := callFrom(ctx)
	if c == nil {
		b := &linkBatch{link: ls, done: make(chan struct{})}
		alias := b.add(field, vars)
		b.run(ctx)
		return b.extract(alias)
	}

	c.mu.Lock()
	b := c.batches[ls]
	if b == nil {
		b = &linkBatch{link: ls, done: make(chan struct{})}
		c.batches[ls] = b
	}
	alias := b.add(field, vars)
	if b.timer == nil {
		b.timer = time.AfterFunc(ls.latency, func() { c.flush(b) })
	} else if b.timer.Stop() {
		b.timer.Reset(ls.latency)
	}
	c.mu.Unlock()

	select {
	case <-b.done:
		return b.extract(alias)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *call) flush(b *linkBatch) {
	c.mu.Lock()
	if c.batches[b.link] == b {
		delete(c.batches, b.link)
	}
	c.mu.Unlock()
	b.run(c.ctx)
}

type linkEntry struct {
	field *language.Field
	vars  map[string]any
	alias string
}

// linkBatch accumulates entries until it is run. Entries are only added
// while the batch is registered with its call, which flush ends.
type linkBatch struct {
	link    *linkState
	entries []linkEntry
	timer   *time.Timer

	once   sync.Once
	done   chan struct{}
	result *Result
	err    error
}

func (b *linkBatch) add(field *language.Field, vars map[string]any) string {
	alias := "result" + strconv.Itoa(len(b.entries)+1)
	b.entries = append(b.entries, linkEntry{field: field, vars: vars, alias: alias})
	return alias
}

// run sends every entry in one query, each under its own alias.
func (b *linkBatch) run(ctx context.Context) {
	b.once.Do(func() {
		defer close(b.done)
		bld := language.NewBuilder()
		parts := make([]string, len(b.entries))
		for i, en := range b.entries {
			parts[i] = bld.Field(en.field, en.alias, en.vars)
		}
		query := strings.Join(parts, ",")
		id := b.link.batches.Add(1)

		eventbus.Publish(ctx, events.LinkFlushStart{Link: b.link.name, BatchID: id, Query: query, Fields: len(parts)})
		start := time.Now()
		b.result, b.err = b.execute(ctx, query, bld.Variables())
		eventbus.Publish(ctx, events.LinkFlushFinish{
			Link:     b.link.name,
			BatchID:  id,
			Fields:   len(parts),
			Err:      b.err,
			Duration: time.Since(start),
		})
	})
}

func (b *linkBatch) execute(ctx context.Context, query string, vars map[string]any) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, errors.WithStack(fmt.Errorf("panic: %v", r))
		}
	}()
	return b.link.execute(ctx, query, vars)
}

// extract picks the value for alias out of the batch result. An error at
// alias, or at the query level, fails the entry.
func (b *linkBatch) extract(alias string) (any, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.result == nil {
		return nil, nil
	}
	for _, e := range b.result.Errors {
		if e.Path == alias || e.Path == QueryPath {
			return nil, e
		}
	}
	return b.result.Data[alias], nil
}
