package language

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	commentRE    = regexp.MustCompile(`#[^\n]*`)
	whitespaceRE = regexp.MustCompile(`\s+`)
	innerGroupRE = regexp.MustCompile(`\(([^()]*)\)`)
	identifierRE = regexp.MustCompile(`^[^\s():,]+$`)
)

// groupPrefix starts the token that replaces a parsed group. A selector
// `name:@3` reuses the arguments and children of the third parsed group.
const groupPrefix = "@"

// Normalize trims the query, strips `#` line comments and removes all
// whitespace. The normalized text is the parse cache key.
func Normalize(query string) string {
	query = strings.TrimSpace(query)
	query = commentRE.ReplaceAllString(query, "")
	return whitespaceRE.ReplaceAllString(query, "")
}

// Parse parses query text into a field tree without consulting any cache.
// Blank text yields an empty root and no error.
func Parse(query string) (*Field, error) {
	return parseNormalized(Normalize(query))
}

type parser struct {
	groups map[string]*Field
	next   int
}

// parseNormalized repeatedly replaces innermost parenthesized groups with a
// generated group token until none remain, then parses what is left as the
// root group.
func parseNormalized(query string) (*Field, error) {
	if query == "" {
		return &Field{}, nil
	}
	p := &parser{groups: make(map[string]*Field)}
	var perr error
	for perr == nil {
		found := false
		query = innerGroupRE.ReplaceAllStringFunc(query, func(m string) string {
			if perr != nil {
				return m
			}
			found = true
			id, err := p.group(m[1 : len(m)-1])
			if err != nil {
				perr = err
				return m
			}
			return ":" + id
		})
		if !found {
			break
		}
	}
	if perr != nil {
		return nil, perr
	}
	id, err := p.group(query)
	if err != nil {
		return nil, err
	}
	return p.groups[id], nil
}

func (p *parser) group(text string) (string, error) {
	p.next++
	id := groupPrefix + strconv.Itoa(p.next)
	g := &Field{}

	for _, item := range strings.Split(text, ",") {
		parts := strings.Split(item, ":")
		if len(parts) > 3 {
			return "", errorf("Invalid selector: %q", item)
		}
		var first, second, third string
		first = parts[0]
		if len(parts) > 1 {
			second = parts[1]
		}
		if len(parts) > 2 {
			third = parts[2]
		}

		var err error
		switch {
		case first == "" && second == "" && third == "":
			continue
		case strings.HasPrefix(first, "$"):
			if third != "" {
				return "", errorf("Invalid argument: %q", item)
			}
			err = addArg(g, first[1:], second)
		case strings.HasPrefix(third, groupPrefix):
			err = p.addField(g, first, orDefault(second, first), third)
		case strings.HasPrefix(second, groupPrefix):
			err = p.addField(g, first, first, second)
		case third != "":
			return "", errorf("Invalid selector: %q", item)
		default:
			err = p.addField(g, first, orDefault(second, first), "")
		}
		if err != nil {
			return "", err
		}
	}

	p.groups[id] = g
	return id, nil
}

func (p *parser) addField(parent *Field, name, alias, ref string) error {
	if name == "*" {
		parent.HasWildcard = true
		return nil
	}
	if !identifierRE.MatchString(name) || name[0] == '_' {
		return errorf("Invalid field name: %q", name)
	}
	if !identifierRE.MatchString(alias) {
		return errorf("Invalid field alias: %q", alias)
	}

	f := &Field{Name: name, Alias: alias}
	if alias[0] == '$' {
		out := alias[1:]
		if !isVariableKey(out) {
			return errorf("Invalid output variable: %q", out)
		}
		f.Alias = name
		f.Out = out
	}
	if ref != "" {
		g, ok := p.groups[ref]
		if !ok {
			return errorf("Unknown group reference: %q", ref)
		}
		f.Args = g.Args
		f.Children = g.Children
		f.HasWildcard = g.HasWildcard
	}
	parent.Children = append(parent.Children, f)
	return nil
}

func addArg(parent *Field, name, value string) error {
	if value == "" {
		value = name
	}
	if !identifierRE.MatchString(name) {
		return errorf("Invalid argument name: %q", name)
	}
	// `_` and `$` prefixed keys are private to the server
	if !isVariableKey(value) {
		return errorf("Invalid argument value: %q", value)
	}
	parent.Args = append(parent.Args, Argument{Name: name, Variable: value})
	return nil
}

func isVariableKey(s string) bool {
	return identifierRE.MatchString(s) && s[0] != '_' && !strings.Contains(s, "$")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func errorf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}
