package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	language "github.com/hanpama/rexq/internal/language"
)

// userService is a remote engine serving user(id).
func userService(t *testing.T) *recordingExecutor {
	t.Helper()
	remote := mustEngine(t, Map{
		"user": Leaf(func(_ context.Context, _ any, args map[string]any, _ *Info) (any, error) {
			id := args["id"]
			if id == 404 {
				return nil, fmt.Errorf("no user %v", id)
			}
			return map[string]any{"id": id, "name": fmt.Sprintf("user%v", id), "email": "hidden"}, nil
		}),
	})
	return &recordingExecutor{next: remote.Execute}
}

func linkedEngine(t *testing.T, exec ExecuteFunc, resolvers map[string]LinkResolver, opts ...Option) *Engine {
	t.Helper()
	opts = append(opts, WithLinks(&Link{Name: "users", Execute: exec, Resolvers: resolvers}))
	return mustEngine(t, Map{"local": constant("here")}, opts...)
}

func TestLink_BatchesFieldsIntoOneCall(t *testing.T) {
	svc := userService(t)
	e := linkedEngine(t, svc.Execute, map[string]LinkResolver{"user": Template("user($id, ?)")})

	res := e.Resolve(context.Background(),
		"user:a($id:x, name), user:b($id:y, id, name), local",
		map[string]any{"x": 1, "y": 2})
	requireData(t, map[string]any{
		"a":     map[string]any{"name": "user1"},
		"b":     map[string]any{"id": 2, "name": "user2"},
		"local": "here",
	}, res)

	calls := svc.Calls()
	require.Len(t, calls, 1)
	combined, err := language.Parse(calls[0].Query)
	require.NoError(t, err)
	require.Len(t, combined.Children, 2)
	require.ElementsMatch(t, []string{"result1", "result2"},
		[]string{combined.Children[0].Alias, combined.Children[1].Alias})
	require.ElementsMatch(t, []any{1, 2}, valuesOf(calls[0].Variables))
}

func valuesOf(m map[string]any) []any {
	out := make([]any, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func TestLink_NestedFieldsShareTheBatch(t *testing.T) {
	svc := userService(t)
	e := mustEngine(t, Map{
		"people": Map{"u": Alias("user")},
	}, WithLinks(&Link{Execute: svc.Execute, Resolvers: map[string]LinkResolver{"user": Template("user($id, ?)")}}))

	res := e.Resolve(context.Background(), "people(u:first($id:x, name)), user:second($id:y, name)",
		map[string]any{"x": 1, "y": 2})
	requireData(t, map[string]any{
		"people": map[string]any{"first": map[string]any{"name": "user1"}},
		"second": map[string]any{"name": "user2"},
	}, res)
	require.Len(t, svc.Calls(), 1)
}

func TestLink_ErrorsGoToTheirOwnField(t *testing.T) {
	svc := userService(t)
	e := linkedEngine(t, svc.Execute, map[string]LinkResolver{"user": Template("user($id, ?)")})

	res := e.Resolve(context.Background(), "user:ok($id:x, name), user:missing($id:y, name)",
		map[string]any{"x": 1, "y": 404})
	require.Equal(t, map[string]any{"ok": map[string]any{"name": "user1"}, "missing": nil}, res.Data)
	require.Equal(t, []Error{{Path: "missing", Message: "no user 404"}}, res.Errors)
	require.Len(t, svc.Calls(), 1)
}

func TestLink_ExecutorFailureFailsEveryEnqueuer(t *testing.T) {
	exec := func(context.Context, string, map[string]any) (*Result, error) {
		return nil, fmt.Errorf("connection refused")
	}
	e := linkedEngine(t, exec, map[string]LinkResolver{"user": Template("user($id, ?)")})
	res := e.Resolve(context.Background(), "user:a($id:x, name), user:b($id:x, name), local", map[string]any{"x": 1})
	require.Equal(t, map[string]any{"a": nil, "b": nil, "local": "here"}, res.Data)
	require.ElementsMatch(t, []Error{
		{Path: "a", Message: "connection refused"},
		{Path: "b", Message: "connection refused"},
	}, res.Errors)
}

func TestLink_TemplateWithoutPlaceholderIsShapedLocally(t *testing.T) {
	svc := userService(t)
	e := linkedEngine(t, svc.Execute, map[string]LinkResolver{"user": Template("user($id, *)")})
	res := e.Resolve(context.Background(), "user($id:x, name)", map[string]any{"x": 3})
	requireData(t, map[string]any{"user": map[string]any{"name": "user3"}}, res)
}

func TestLink_QueryFunc(t *testing.T) {
	svc := userService(t)
	byEmail := QueryFunc(func(_ context.Context, _ any, args map[string]any, _ *Info) (string, map[string]any, error) {
		return "user($id:uid, *)", map[string]any{"uid": args["n"]}, nil
	})
	e := linkedEngine(t, svc.Execute, map[string]LinkResolver{"lookup": byEmail})
	res := e.Resolve(context.Background(), "lookup($n:n, id)", map[string]any{"n": 9})
	requireData(t, map[string]any{"lookup": map[string]any{"id": 9}}, res)
}

func TestLink_RegistrationInsideWindowDelaysFlush(t *testing.T) {
	svc := userService(t)
	slow := QueryFunc(func(_ context.Context, _ any, args map[string]any, _ *Info) (string, map[string]any, error) {
		time.Sleep(time.Duration(args["after"].(int)) * time.Millisecond)
		return "user($id:uid, name)", map[string]any{"uid": args["id"]}, nil
	})
	e := mustEngine(t, nil, WithLinks(&Link{
		Execute:   svc.Execute,
		Resolvers: map[string]LinkResolver{"user": slow},
		Latency:   40 * time.Millisecond,
	}))

	// the last registration lands after a fixed 40ms window would have closed
	res := e.Resolve(context.Background(),
		"user:a($id:x, $after:d0, name), user:b($id:y, $after:d1, name), user:c($id:z, $after:d2, name)",
		map[string]any{"x": 1, "y": 2, "z": 3, "d0": 0, "d1": 25, "d2": 50})
	requireData(t, map[string]any{
		"a": map[string]any{"name": "user1"},
		"b": map[string]any{"name": "user2"},
		"c": map[string]any{"name": "user3"},
	}, res)
	require.Len(t, svc.Calls(), 1)
}

func TestLink_QueryShapeErrors(t *testing.T) {
	svc := userService(t)
	e := linkedEngine(t, svc.Execute, map[string]LinkResolver{
		"twice": Template("user(?, ?)"),
		"many":  Template("user($id, *), user:other($id, *)"),
		"bad":   Template("user(("),
	})
	res := e.Resolve(context.Background(), "twice($id:x, name), many($id:x), bad", map[string]any{"x": 1})
	require.Equal(t, map[string]any{"twice": nil, "many": nil, "bad": nil}, res.Data)
	msgs := map[string]string{}
	for _, err := range res.Errors {
		msgs[err.Path] = err.Message
	}
	require.Contains(t, msgs["twice"], "more than one placeholder")
	require.Contains(t, msgs["many"], "exactly one field")
	require.NotEmpty(t, msgs["bad"])
	require.Empty(t, svc.Calls())
}

func TestLink_LocalResolversWin(t *testing.T) {
	svc := userService(t)
	e := mustEngine(t, Map{"user": constant("local user")},
		WithLinks(&Link{Execute: svc.Execute, Resolvers: map[string]LinkResolver{"user": Template("user($id, ?)")}}))
	res := e.Resolve(context.Background(), "user", nil)
	requireData(t, map[string]any{"user": "local user"}, res)
	require.Empty(t, svc.Calls())
}

func TestLink_CallsDoNotShareBatches(t *testing.T) {
	svc := userService(t)
	e := linkedEngine(t, svc.Execute, map[string]LinkResolver{"user": Template("user($id, ?)")},
		WithLinkLatency(20*time.Millisecond))

	done := make(chan *Result, 2)
	for _, id := range []int{1, 2} {
		go func() {
			done <- e.Resolve(context.Background(), "user($id:x, name)", map[string]any{"x": id})
		}()
	}
	got := []any{}
	for range 2 {
		res := <-done
		require.Empty(t, res.Errors)
		got = append(got, res.Data["user"])
	}
	require.ElementsMatch(t, []any{
		map[string]any{"name": "user1"},
		map[string]any{"name": "user2"},
	}, got)
	require.Len(t, svc.Calls(), 2)
}

func TestLink_OutsideResolveCallExecutesDirectly(t *testing.T) {
	svc := userService(t)
	e := linkedEngine(t, svc.Execute, map[string]LinkResolver{"user": Template("user($id, ?)")})
	root, err := language.Parse("user($id:x, name)")
	require.NoError(t, err)

	leaf := e.resolvers["user"].(Leaf)
	v, err := leaf(context.Background(), nil, map[string]any{"id": 5},
		&Info{Field: root.Children[0], Variables: map[string]any{"x": 5}})
	require.NoError(t, err)
	require.Equal(t, Raw(map[string]any{"name": "user5"}), v)
	require.Len(t, svc.Calls(), 1)
}

func TestLink_Validation(t *testing.T) {
	_, err := New(Map{}, WithLinks(&Link{Resolvers: map[string]LinkResolver{"a": Template("a")}}))
	require.Error(t, err)

	svc := userService(t)
	_, err = New(Map{}, WithLinks(&Link{Execute: svc.Execute, Resolvers: map[string]LinkResolver{"a": nil}}))
	require.Error(t, err)
}
