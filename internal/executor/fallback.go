package executor

import (
	"fmt"

	"github.com/pkg/errors"

	language "github.com/hanpama/rexq/internal/language"
)

// fallback hands fields without a local resolver to the fallback handler,
// or attaches them to the result when only the marker is enabled.
func (e *Engine) fallback(c *call, fields []*language.Field) {
	if len(fields) == 0 {
		return
	}
	query, vars := language.Build(fields, c.variables())
	if e.opts.Fallback == nil {
		c.result.Fallback = &Fallback{Query: query, Variables: vars}
		return
	}

	res, err := e.callFallback(c, query, vars)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		for _, f := range fields {
			c.result.Data[f.Alias] = nil
			c.result.Errors = append(c.result.Errors, fieldError(f.Alias, err))
		}
		return
	}
	if res == nil {
		return
	}
	for k, v := range res.Data {
		c.result.Data[k] = v
	}
	c.result.Errors = append(c.result.Errors, res.Errors...)
}

func (e *Engine) callFallback(c *call, query string, vars map[string]any) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, errors.WithStack(fmt.Errorf("panic: %v", r))
		}
	}()
	return e.opts.Fallback(c.ctx, query, vars)
}
