package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	config "github.com/hanpama/rexq/internal/config"
	grpctp "github.com/hanpama/rexq/internal/grpctp"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		flagOperation, flagVariables, flagForce = "", "", false
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestParseCommand(t *testing.T) {
	out, err := execute(t, "", "parse", "user:me($id, name, *)")
	require.NoError(t, err)
	var tree []fieldTree
	require.NoError(t, json.Unmarshal([]byte(out), &tree))
	require.Equal(t, []fieldTree{{
		Name:     "user",
		Alias:    "me",
		Args:     map[string]string{"id": "id"},
		Children: []fieldTree{{Name: "name"}},
		Wildcard: true,
	}}, tree)

	_, err = execute(t, "a(", "parse")
	require.Error(t, err)
}

func TestGraphQLCommand(t *testing.T) {
	out, err := execute(t, `query($n: Int = 3) { hero { name friends(first: $n) { name } } }`, "graphql")
	require.NoError(t, err)
	var got struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, "hero(name,friends($first:v1,name))", got.Query)
	require.Equal(t, map[string]any{"v1": float64(3)}, got.Variables)
}

func TestInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rexq.yaml")
	_, err := execute(t, "", "init", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, config.DefaultConfigYAML, string(data))

	_, err = execute(t, "", "init", path)
	require.Error(t, err)
	_, err = execute(t, "", "init", "--force", path)
	require.NoError(t, err)
}

func TestNewEngineServesRootValues(t *testing.T) {
	cfg, err := config.Parse([]byte(`
root:
  site:
    name: rexq
    tags: [a, b]
fallback:
  marker: true
`))
	require.NoError(t, err)
	tp := grpctp.New()
	defer tp.Close()

	e, err := newEngine(cfg, tp)
	require.NoError(t, err)
	res := e.Resolve(context.Background(), "site(name, tags), elsewhere", nil)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"site": map[string]any{"name": "rexq", "tags": []any{"a", "b"}}}, res.Data)
	require.NotNil(t, res.Fallback)
	require.Equal(t, "elsewhere", res.Fallback.Query)
}

func TestNewEngineLinksFailWithoutEndpoint(t *testing.T) {
	cfg, err := config.Parse([]byte(`
links:
  - name: users
    endpoints: ["127.0.0.1:1"]
    resolvers:
      user: "user($id, ?)"
`))
	require.NoError(t, err)
	tp := grpctp.New(grpctp.WithEndpoints(map[string][]string{}))
	defer tp.Close()

	e, err := newEngine(cfg, tp)
	require.NoError(t, err)
	res := e.Resolve(context.Background(), "user($id, name)", map[string]any{"id": 1})
	require.Equal(t, map[string]any{"user": nil}, res.Data)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0].Message, "no endpoints")
}
