package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFallback_Marker(t *testing.T) {
	e := mustEngine(t, Map{"known": constant(1)}, WithFallbackMarker())
	res := e.Resolve(context.Background(), "known, unknown:u($x:y)", map[string]any{"y": 5, "unused": true})
	require.Equal(t, &Result{
		Data:     map[string]any{"known": 1},
		Errors:   []Error{},
		Fallback: &Fallback{Query: "unknown:u($x:v1)", Variables: map[string]any{"v1": 5}},
	}, res)
}

func TestFallback_MarkerUnusedWhenEverythingResolves(t *testing.T) {
	e := mustEngine(t, Map{"known": constant(1)}, WithFallbackMarker())
	res := e.Resolve(context.Background(), "known", nil)
	require.Nil(t, res.Fallback)
}

func TestFallback_HandlerResultIsMerged(t *testing.T) {
	var got []recordedCall
	handler := func(_ context.Context, query string, vars map[string]any) (*Result, error) {
		got = append(got, recordedCall{Query: query, Variables: vars})
		return &Result{
			Data:   map[string]any{"u": "remote", "v": nil},
			Errors: []Error{{Path: "v", Message: "bad"}},
		}, nil
	}
	e := mustEngine(t, Map{"known": constant(1)}, WithFallback(handler))
	res := e.Resolve(context.Background(), "known, u, v", nil)
	require.Equal(t, map[string]any{"known": 1, "u": "remote", "v": nil}, res.Data)
	require.Equal(t, []Error{{Path: "v", Message: "bad"}}, res.Errors)
	require.Nil(t, res.Fallback)
	require.Equal(t, []recordedCall{{Query: "u,v", Variables: map[string]any{}}}, got)
}

func TestFallback_HandlerErrorFailsEveryDivertedField(t *testing.T) {
	e := mustEngine(t, Map{"known": constant(1)}, WithFallback(
		func(context.Context, string, map[string]any) (*Result, error) {
			return nil, errors.New("upstream down")
		}))
	res := e.Resolve(context.Background(), "known, u, v", nil)
	require.Equal(t, map[string]any{"known": 1, "u": nil, "v": nil}, res.Data)
	require.ElementsMatch(t, []Error{
		{Path: "u", Message: "upstream down"},
		{Path: "v", Message: "upstream down"},
	}, res.Errors)
}

func TestFallback_EngineAsHandler(t *testing.T) {
	remote := mustEngine(t, Map{"remote": Leaf(func(_ context.Context, _ any, args map[string]any, _ *Info) (any, error) {
		return args["n"], nil
	})})
	e := mustEngine(t, Map{"local": constant("l")}, WithFallback(remote.Execute))
	res := e.Resolve(context.Background(), "local, remote($n:n)", map[string]any{"n": 7})
	requireData(t, map[string]any{"local": "l", "remote": 7}, res)
}

func TestFallback_DisabledPassesThrough(t *testing.T) {
	e := mustEngine(t, Map{"known": constant(1)})
	res := e.Resolve(context.Background(), "known, unknown", nil)
	requireData(t, map[string]any{"known": 1, "unknown": nil}, res)
}
