package executor

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func mustEngine(t *testing.T, m Map, opts ...Option) *Engine {
	t.Helper()
	e, err := New(m, opts...)
	require.NoError(t, err)
	return e
}

// constant returns a resolver that always yields v.
func constant(v any) Leaf {
	return func(context.Context, any, map[string]any, *Info) (any, error) { return v, nil }
}

// failing returns a resolver that always fails with err.
func failing(err error) Leaf {
	return func(context.Context, any, map[string]any, *Info) (any, error) { return nil, err }
}

func requireData(t *testing.T, want map[string]any, res *Result) {
	t.Helper()
	require.Empty(t, res.Errors)
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

// recordingExecutor forwards to an ExecuteFunc and remembers every request.
type recordingExecutor struct {
	next ExecuteFunc

	mu    sync.Mutex
	calls []recordedCall
}

type recordedCall struct {
	Query     string
	Variables map[string]any
}

func (r *recordingExecutor) Execute(ctx context.Context, query string, variables map[string]any) (*Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, recordedCall{Query: query, Variables: variables})
	r.mu.Unlock()
	return r.next(ctx, query, variables)
}

func (r *recordingExecutor) Calls() []recordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedCall(nil), r.calls...)
}

// recorder collects events from concurrently running resolvers.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}
