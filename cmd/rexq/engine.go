package main

import (
	"context"
	"fmt"

	config "github.com/hanpama/rexq/internal/config"
	executor "github.com/hanpama/rexq/internal/executor"
	grpctp "github.com/hanpama/rexq/internal/grpctp"
)

// newEngine builds the engine described by cfg. Links and the fallback call
// their services through tp.
func newEngine(cfg *config.Config, tp *grpctp.Transport) (*executor.Engine, error) {
	opts := []executor.Option{
		executor.WithCacheSize(cfg.Engine.CacheSize),
		executor.WithLinkLatency(cfg.Engine.LinkLatency),
	}
	if cfg.Root != nil {
		opts = append(opts, executor.WithRoot(cfg.Root))
	}
	for _, l := range cfg.Links {
		resolvers := make(map[string]executor.LinkResolver, len(l.Resolvers))
		for field, tmpl := range l.Resolvers {
			resolvers[field] = executor.Template(tmpl)
		}
		opts = append(opts, executor.WithLinks(&executor.Link{
			Name:      l.Name,
			Execute:   tp.Executor(l.Name),
			Resolvers: resolvers,
			Latency:   l.Latency,
		}))
	}
	switch {
	case cfg.Fallback.Link != "":
		opts = append(opts, executor.WithFallback(tp.Executor(cfg.Fallback.Link)))
	case cfg.Fallback.Marker:
		opts = append(opts, executor.WithFallbackMarker())
	}

	e, err := executor.New(rootResolvers(cfg.Root), opts...)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return e, nil
}

// rootResolvers exposes each top-level key of the configured root as a
// field. They read from the call's root value, so $root still overrides it.
func rootResolvers(root map[string]any) executor.Map {
	m := make(executor.Map, len(root))
	for k := range root {
		m[k] = executor.Leaf(func(_ context.Context, parent any, _ map[string]any, _ *executor.Info) (any, error) {
			if p, ok := parent.(map[string]any); ok {
				return p[k], nil
			}
			return nil, nil
		})
	}
	return m
}
