package language

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParse_Selectors(t *testing.T) {
	root, err := Parse(`
		search:result(
			$term: term,  # bound explicitly
			$limit
		),
		user(name, friends:pals(name))
	`)
	require.NoError(t, err)

	want := &Field{Children: []*Field{
		{Name: "search", Alias: "result", Args: []Argument{{Name: "term", Variable: "term"}, {Name: "limit", Variable: "limit"}}},
		{Name: "user", Alias: "user", Children: []*Field{
			{Name: "name", Alias: "name"},
			{Name: "friends", Alias: "pals", Children: []*Field{{Name: "name", Alias: "name"}}},
		}},
	}}
	if diff := cmp.Diff(want, root); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Blank(t *testing.T) {
	for _, q := range []string{"", "   ", "# only a comment\n"} {
		root, err := Parse(q)
		require.NoError(t, err)
		require.Empty(t, root.Children)
	}
}

func TestParse_Wildcard(t *testing.T) {
	root, err := Parse("obj(*),num")
	require.NoError(t, err)
	require.Len(t, root.Children, 2)
	require.True(t, root.Children[0].HasWildcard)
	require.Empty(t, root.Children[0].Children)
	require.False(t, root.Children[1].HasWildcard)
}

func TestParse_OutVariable(t *testing.T) {
	root, err := Parse("createUser:$user($name), greet($who:user)")
	require.NoError(t, err)
	require.Equal(t, "createUser", root.Children[0].Alias)
	require.Equal(t, "user", root.Children[0].Out)
	require.Equal(t, []Argument{{Name: "who", Variable: "user"}}, root.Children[1].Args)
}

func TestParse_GroupBackReference(t *testing.T) {
	// the first parsed group is the argument list of a
	root, err := Parse("a($id, name), b:@1")
	require.NoError(t, err)
	a, b := root.Children[0], root.Children[1]
	require.Equal(t, "b", b.Alias)
	require.Equal(t, a.Args, b.Args)
	require.Equal(t, a.Children, b.Children)

	root, err = Parse("a($id), b:c:@1")
	require.NoError(t, err)
	require.Equal(t, "c", root.Children[1].Alias)
	require.Equal(t, []Argument{{Name: "id", Variable: "id"}}, root.Children[1].Args)
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"private field":        "_secret",
		"private variable":     "a($x:_secret)",
		"variable namespace":   "a($x:$y)",
		"empty argument name":  "a($:x)",
		"unbalanced":           "a(b",
		"unknown group":        "a:@9",
		"too many colons":      "a:b:c:d",
		"argument with group":  "a($x:y:@1)",
		"invalid out variable": "a:$_x",
		"stray parens":         "a)b",
		"missing comma":        "a($term:term $limit)",
		"missing comma short":  "a($term $limit)",
	}
	for name, q := range cases {
		t.Run(name, func(t *testing.T) {
			root, err := Parse(q)
			require.Error(t, err)
			require.Nil(t, root)
			var perr *Error
			require.ErrorAs(t, err, &perr)
		})
	}
}

func TestParse_ErrorMessage(t *testing.T) {
	_, err := Parse("a($x:_secret)")
	require.EqualError(t, err, `Invalid argument value: "_secret"`)
}

func TestParse_Deterministic(t *testing.T) {
	q := "hero(name, friends(name, $first:n), *)"
	a, err := Parse(q)
	require.NoError(t, err)
	b, err := Parse(q)
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("re-parse differs (-first +second):\n%s", diff)
	}
}
