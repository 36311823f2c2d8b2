package language

// Field is one selector of a parsed query. The root of a parse is a Field with
// an empty name whose Children are the top-level selectors.
//
// Fields are immutable once parsed: the parse cache hands the same tree to
// every caller, and group back-references share Args and Children slices
// between fields.
type Field struct {
	Name     string
	Alias    string
	Args     []Argument
	Children []*Field
	// HasWildcard is set when the field selects `*`; its value is returned
	// without shaping.
	HasWildcard bool
	// Out names the variable that receives the field's value (`name:$out`).
	Out string
}

// Argument binds a call-site argument name to a key in the variable map.
type Argument struct {
	Name     string
	Variable string
}

// Error is a grammar or validation failure.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

// Result is the cached outcome of parsing one query text. Exactly one of
// Root and Err is set, except for blank queries which yield an empty Root.
type Result struct {
	Root *Field
	Err  error
}

// Empty reports whether the field selects nothing.
func (f *Field) Empty() bool {
	return len(f.Children) == 0 && !f.HasWildcard
}
