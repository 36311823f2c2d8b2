package language

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type selected struct {
	Name, Alias string
	Children    []selected
}

func selectedNames(fields []*Field) []selected {
	out := make([]selected, len(fields))
	for i, f := range fields {
		out[i] = selected{Name: f.Name, Alias: f.Alias, Children: selectedNames(f.Children)}
	}
	return out
}

func TestBuild_RoundTrip(t *testing.T) {
	vars := map[string]any{"term": "go", "n": 3}
	root, err := Parse("search:s($term, $limit:n, hits(title, *)), me")
	require.NoError(t, err)

	q, built := Build(root.Children, vars)
	again, err := Parse(q)
	require.NoError(t, err)
	require.Equal(t, selectedNames(root.Children), selectedNames(again.Children))

	// the rebuilt arguments point at the same values under new keys
	args := again.Children[0].Args
	require.Len(t, args, 2)
	require.Equal(t, "term", args[0].Name)
	require.Equal(t, "go", built[args[0].Variable])
	require.Equal(t, 3, built[args[1].Variable])
	require.True(t, again.Children[0].Children[0].HasWildcard)
}

func TestBuild_MissingVariableStaysMissing(t *testing.T) {
	root, err := Parse("a($x)")
	require.NoError(t, err)
	q, vars := Build(root.Children, nil)
	require.Equal(t, "a($x:v1)", q)
	require.Empty(t, vars)
}

func TestBuilder_ReserveAndSelection(t *testing.T) {
	root, err := Parse("parent(child1($value:c1), child2:other($value:c2))")
	require.NoError(t, err)

	b := NewBuilder()
	b.Reserve("v1")
	sel := b.Selection(root.Children[0], map[string]any{"c1": "abc", "c2": "def"})
	require.Equal(t, "child1($value:v2),child2:other($value:v3)", sel)
	require.Equal(t, map[string]any{"v2": "abc", "v3": "def"}, b.Variables())
}

func TestBuilder_FieldAlias(t *testing.T) {
	root, err := Parse("r1($value:x)")
	require.NoError(t, err)
	b := NewBuilder()
	require.Equal(t, "r1:result1($value:v1)", b.Field(root.Children[0], "result1", map[string]any{"x": 1}))
	require.Equal(t, map[string]any{"v1": 1}, b.Variables())
}

func TestBuild_KeepsOutputVariables(t *testing.T) {
	root, err := Parse("create:$user($name), greet($who:user), wrap(inner:$x)")
	require.NoError(t, err)

	q, vars := Build(root.Children, map[string]any{"name": "ann"})
	require.Equal(t, "create:$user($name:v1),greet($who:v2),wrap(inner:$x)", q)
	require.Equal(t, map[string]any{"v1": "ann"}, vars)

	again, err := Parse(q)
	require.NoError(t, err)
	require.Equal(t, "user", again.Children[0].Out)
	require.Equal(t, "x", again.Children[2].Children[0].Out)

	// a renamed field has no slot left for its output variable
	b := NewBuilder()
	require.Equal(t, "create:result1($name:v1)", b.Field(root.Children[0], "result1", nil))
}
