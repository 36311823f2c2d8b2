package executor

import (
	"context"
	"time"

	language "github.com/hanpama/rexq/internal/language"
)

// ExecuteFunc runs a query and returns its result. Engine.Execute, link
// transports and fallback handlers all share this contract.
type ExecuteFunc func(ctx context.Context, query string, variables map[string]any) (*Result, error)

// Options configures an Engine.
//
// Defaults:
//   - CacheSize:   1000 parsed queries, first seen kept (0 unbounded, <0 disabled)
//   - LinkLatency: 10ms
type Options struct {
	// Context returns the per-call user context exposed as Info.Context.
	Context func(variables map[string]any) any
	// Root returns the value top-level fields are resolved against.
	Root func(variables map[string]any) any

	// Fallback receives fields with no local resolver. FallbackMarker
	// attaches them to the Result instead. Neither set disables fallback.
	Fallback       ExecuteFunc
	FallbackMarker bool

	Middleware []Middleware

	Links       []*Link
	LinkLatency time.Duration

	CacheSize int
	// Store overrides the parse cache policy; CacheSize is then ignored.
	Store language.Store
}

type Option func(*Options)

const (
	defaultCacheSize   = 1000
	defaultLinkLatency = 10 * time.Millisecond
)

func defaultOptions() *Options {
	return &Options{CacheSize: defaultCacheSize, LinkLatency: defaultLinkLatency}
}

func WithContext(v any) Option {
	return func(o *Options) { o.Context = func(map[string]any) any { return v } }
}

func WithContextFunc(fn func(variables map[string]any) any) Option {
	return func(o *Options) { o.Context = fn }
}

func WithRoot(v any) Option {
	return func(o *Options) { o.Root = func(map[string]any) any { return v } }
}

func WithRootFunc(fn func(variables map[string]any) any) Option {
	return func(o *Options) { o.Root = fn }
}

func WithFallback(fn ExecuteFunc) Option { return func(o *Options) { o.Fallback = fn } }
func WithFallbackMarker() Option         { return func(o *Options) { o.FallbackMarker = true } }

func WithMiddleware(mws ...Middleware) Option {
	return func(o *Options) { o.Middleware = append(o.Middleware, mws...) }
}

func WithLinks(links ...*Link) Option {
	return func(o *Options) { o.Links = append(o.Links, links...) }
}

func WithLinkLatency(d time.Duration) Option { return func(o *Options) { o.LinkLatency = d } }
func WithCacheSize(n int) Option             { return func(o *Options) { o.CacheSize = n } }
func WithParseStore(s language.Store) Option { return func(o *Options) { o.Store = s } }

func (o *Options) parseStore() language.Store {
	if o.Store != nil {
		return o.Store
	}
	if o.CacheSize < 0 {
		return language.NoStore{}
	}
	return language.NewBoundedStore(o.CacheSize)
}
