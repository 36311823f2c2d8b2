package executor

import (
	"context"
	"sync"
)

// Continuation is returned by a step that wants the rest of its chain to
// run. It receives next and returns the step's final value.
type Continuation func(next Next) (any, error)

// Invocation is the argument tuple threaded through a step chain.
type Invocation struct {
	Parent any
	Args   map[string]any
	Info   *Info
}

// Next runs the remaining steps of a chain. Without an argument it forwards
// the invocation the current step received. With one, a nil Args or Info is
// taken from the current invocation.
type Next func(ctx context.Context, in ...Invocation) (any, error)

// Compose turns steps into one resolver. Each step either returns a plain
// value, which ends the chain, or a Continuation. Calling next past the last
// step yields nil.
func Compose(steps ...Func) Func {
	if len(steps) == 1 {
		return steps[0]
	}
	chain := Func(func(context.Context, any, map[string]any, *Info) (any, error) { return nil, nil })
	for i := len(steps) - 1; i >= 0; i-- {
		step, rest := steps[i], chain
		chain = func(ctx context.Context, parent any, args map[string]any, info *Info) (any, error) {
			v, err := step(ctx, parent, args, info)
			if err != nil {
				return nil, err
			}
			cont, ok := v.(Continuation)
			if !ok {
				return v, nil
			}
			cur := Invocation{Parent: parent, Args: args, Info: info}
			return cont(func(ctx context.Context, in ...Invocation) (any, error) {
				next := cur
				if len(in) > 0 {
					next = in[0]
					if next.Args == nil {
						next.Args = cur.Args
					}
					if next.Info == nil {
						next.Info = cur.Info
					}
				}
				return rest(ctx, next.Parent, next.Args, next.Info)
			})
		}
	}
	return chain
}

// composedCache memoizes the effective resolver of each *Composed without
// touching the caller's value.
type composedCache struct {
	m sync.Map // *Composed -> Func
}

func (c *composedCache) get(cp *Composed) Func {
	if f, ok := c.m.Load(cp); ok {
		return f.(Func)
	}
	f, _ := c.m.LoadOrStore(cp, Compose(cp.Steps...))
	return f.(Func)
}
