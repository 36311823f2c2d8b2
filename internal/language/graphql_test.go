package language

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromGraphQL(t *testing.T) {
	src := `
		query Hero($ep: String = "JEDI") {
			hero(episode: $ep) {
				name
				__typename
				...Friends
			}
			droid: character(id: 2001) { ... on Droid { primaryFunction } }
		}
		fragment Friends on Character { friends { name } }
	`
	q, vars, err := FromGraphQL(src, "", nil)
	require.NoError(t, err)

	root, err := Parse(q)
	require.NoError(t, err)
	require.Equal(t, []selected{
		{Name: "hero", Alias: "hero", Children: []selected{
			{Name: "name", Alias: "name", Children: []selected{}},
			{Name: "friends", Alias: "friends", Children: []selected{{Name: "name", Alias: "name", Children: []selected{}}}},
		}},
		{Name: "character", Alias: "droid", Children: []selected{{Name: "primaryFunction", Alias: "primaryFunction", Children: []selected{}}}},
	}, selectedNames(root.Children))

	require.Equal(t, "JEDI", vars[root.Children[0].Args[0].Variable])
	require.EqualValues(t, 2001, vars[root.Children[1].Args[0].Variable])
}

func TestFromGraphQL_Errors(t *testing.T) {
	_, _, err := FromGraphQL("{ a ", "", nil)
	require.Error(t, err)

	_, _, err = FromGraphQL("query A { a } query B { b }", "", nil)
	require.Error(t, err)

	_, _, err = FromGraphQL("{ ...Missing }", "", nil)
	require.Error(t, err)
}
