package language

import (
	"strconv"
	"strings"
)

// Builder serializes fields back into query text. Every argument is bound to
// a freshly generated variable key whose value is copied from the variable
// map the field was parsed against, so selections from different queries can
// be combined without their variables colliding.
type Builder struct {
	vars     map[string]any
	reserved map[string]struct{}
	next     int
}

func NewBuilder() *Builder {
	return &Builder{vars: make(map[string]any), reserved: make(map[string]struct{})}
}

// Reserve keeps keys from being generated.
func (b *Builder) Reserve(keys ...string) {
	for _, k := range keys {
		b.reserved[k] = struct{}{}
	}
}

// Variables returns the variables bound so far.
func (b *Builder) Variables() map[string]any { return b.vars }

// Field serializes f under the given alias. An empty alias keeps f's own.
func (b *Builder) Field(f *Field, alias string, variables map[string]any) string {
	var sb strings.Builder
	if alias == "" {
		alias = f.Alias
	}
	b.writeField(&sb, f, alias, variables)
	return sb.String()
}

// Fields serializes a comma separated list of fields.
func (b *Builder) Fields(fields []*Field, variables map[string]any) string {
	var sb strings.Builder
	for i, f := range fields {
		if i > 0 {
			sb.WriteByte(',')
		}
		b.writeField(&sb, f, f.Alias, variables)
	}
	return sb.String()
}

// Selection serializes the children of f (and its wildcard) without f's own
// name or arguments.
func (b *Builder) Selection(f *Field, variables map[string]any) string {
	var sb strings.Builder
	b.writeBody(&sb, f, variables, false)
	return sb.String()
}

func (b *Builder) writeField(sb *strings.Builder, f *Field, alias string, variables map[string]any) {
	sb.WriteString(f.Name)
	switch {
	case alias != "" && alias != f.Name:
		sb.WriteByte(':')
		sb.WriteString(alias)
	case f.Out != "":
		// an output variable takes the alias slot, so a renamed field drops it
		sb.WriteString(":$")
		sb.WriteString(f.Out)
	}
	if len(f.Args) == 0 && f.Empty() {
		return
	}
	sb.WriteByte('(')
	b.writeBody(sb, f, variables, true)
	sb.WriteByte(')')
}

func (b *Builder) writeBody(sb *strings.Builder, f *Field, variables map[string]any, withArgs bool) {
	n := 0
	sep := func() {
		if n > 0 {
			sb.WriteByte(',')
		}
		n++
	}
	if withArgs {
		for _, a := range f.Args {
			sep()
			sb.WriteByte('$')
			sb.WriteString(a.Name)
			sb.WriteByte(':')
			sb.WriteString(b.bind(a.Variable, variables))
		}
	}
	for _, c := range f.Children {
		sep()
		b.writeField(sb, c, c.Alias, variables)
	}
	if f.HasWildcard {
		sep()
		sb.WriteByte('*')
	}
}

// bind allocates a key for the variable. Missing variables stay missing so
// the argument still resolves to nil on the other side.
func (b *Builder) bind(variable string, variables map[string]any) string {
	key := b.generate()
	if v, ok := variables[variable]; ok {
		b.vars[key] = v
	}
	return key
}

func (b *Builder) generate() string {
	for {
		b.next++
		key := "v" + strconv.Itoa(b.next)
		if _, ok := b.reserved[key]; ok {
			continue
		}
		if _, ok := b.vars[key]; ok {
			continue
		}
		return key
	}
}

// Build serializes fields into query text plus the variables it references.
func Build(fields []*Field, variables map[string]any) (string, map[string]any) {
	b := NewBuilder()
	q := b.Fields(fields, variables)
	return q, b.Variables()
}
