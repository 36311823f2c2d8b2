package executor

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error is a failure located at a top-level field alias, or at "query" for
// failures that abort the whole call.
type Error struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

func (e Error) Error() string {
	return e.Message
}

// Result is the outcome of one resolve call. Data holds one entry per
// resolved top-level alias; failed fields are present with a nil value.
type Result struct {
	Data     map[string]any `json:"data"`
	Errors   []Error        `json:"errors"`
	Fallback *Fallback      `json:"fallback,omitempty"`
}

// Fallback carries the serialized fields no local resolver could handle.
type Fallback struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// QueryPath is the error path used for failures that abort the whole call.
const QueryPath = "query"

func newResult() *Result {
	return &Result{Data: map[string]any{}, Errors: []Error{}}
}

// Err joins the result's errors into one error, or returns nil.
func (r *Result) Err() error {
	switch len(r.Errors) {
	case 0:
		return nil
	case 1:
		return r.Errors[0]
	default:
		return fmt.Errorf("%s (and %d more errors)", r.Errors[0].Message, len(r.Errors)-1)
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func fieldError(path string, err error) Error {
	if e, ok := err.(Error); ok {
		return Error{Path: path, Message: e.Message, Stack: e.Stack}
	}
	fe := Error{Path: path, Message: err.Error()}
	var st stackTracer
	if errors.As(err, &st) {
		fe.Stack = fmt.Sprintf("%+v", st.StackTrace())
	}
	return fe
}
