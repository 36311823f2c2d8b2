package language

import (
	"fmt"
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"
	gqlparser "github.com/vektah/gqlparser/v2/parser"
)

// FromGraphQL converts one operation of a GraphQL query document into rexq
// query text and variables. Variable arguments keep their binding; literal
// arguments are lifted into variables. Fragments are inlined without type
// conditions since resolvers carry no static types. Meta fields such as
// __typename are dropped.
func FromGraphQL(source, operationName string, variables map[string]any) (string, map[string]any, error) {
	doc, err := gqlparser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return "", nil, err
	}

	op := doc.Operations.ForName(operationName)
	if op == nil && operationName == "" && len(doc.Operations) == 1 {
		op = doc.Operations[0]
	}
	if op == nil {
		return "", nil, fmt.Errorf("operation %q not found", operationName)
	}

	c := &graphqlConverter{
		doc:     doc,
		vars:    make(map[string]any, len(variables)),
		visited: make(map[string]bool),
	}
	for k, v := range variables {
		c.vars[k] = v
	}
	// variable defaults apply when the caller left them out
	for _, def := range op.VariableDefinitions {
		if _, ok := c.vars[def.Variable]; ok || def.DefaultValue == nil {
			continue
		}
		v, err := def.DefaultValue.Value(nil)
		if err != nil {
			return "", nil, err
		}
		c.vars[def.Variable] = v
	}

	root := &Field{}
	if err := c.selectionSet(root, op.SelectionSet); err != nil {
		return "", nil, err
	}
	q, vars := Build(root.Children, c.vars)
	return q, vars, nil
}

type graphqlConverter struct {
	doc     *ast.QueryDocument
	vars    map[string]any
	visited map[string]bool
	next    int
}

func (c *graphqlConverter) selectionSet(parent *Field, set ast.SelectionSet) error {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if len(s.Name) > 1 && s.Name[:2] == "__" {
				continue
			}
			f := &Field{Name: s.Name, Alias: s.Alias}
			if f.Alias == "" {
				f.Alias = s.Name
			}
			for _, arg := range s.Arguments {
				a, err := c.argument(arg)
				if err != nil {
					return err
				}
				f.Args = append(f.Args, a)
			}
			if err := c.selectionSet(f, s.SelectionSet); err != nil {
				return err
			}
			parent.Children = append(parent.Children, f)
		case *ast.InlineFragment:
			if err := c.selectionSet(parent, s.SelectionSet); err != nil {
				return err
			}
		case *ast.FragmentSpread:
			if c.visited[s.Name] {
				continue
			}
			def := c.doc.Fragments.ForName(s.Name)
			if def == nil {
				return fmt.Errorf("fragment %q not found", s.Name)
			}
			c.visited[s.Name] = true
			if err := c.selectionSet(parent, def.SelectionSet); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *graphqlConverter) argument(arg *ast.Argument) (Argument, error) {
	if arg.Value != nil && arg.Value.Kind == ast.Variable {
		return Argument{Name: arg.Name, Variable: arg.Value.Raw}, nil
	}
	v, err := arg.Value.Value(c.vars)
	if err != nil {
		return Argument{}, err
	}
	key := c.literalKey()
	c.vars[key] = v
	return Argument{Name: arg.Name, Variable: key}, nil
}

func (c *graphqlConverter) literalKey() string {
	for {
		c.next++
		key := "arg" + strconv.Itoa(c.next)
		if _, ok := c.vars[key]; !ok {
			return key
		}
	}
}
