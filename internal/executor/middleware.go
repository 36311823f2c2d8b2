package executor

import "context"

// Middleware wraps every resolver invocation. next runs the remaining
// middleware and then resolver; a middleware may skip it, call it with
// different inputs or post-process its value.
type Middleware func(ctx context.Context, next Func, resolver Func, parent any, args map[string]any, info *Info) (any, error)

// invoker calls resolver through the composed middleware.
type invoker func(ctx context.Context, resolver Func, parent any, args map[string]any, info *Info) (any, error)

func directInvoke(ctx context.Context, resolver Func, parent any, args map[string]any, info *Info) (any, error) {
	return resolver(ctx, parent, args, info)
}

// composeMiddleware folds middleware right to left, so the first one listed
// is the outermost layer.
func composeMiddleware(mws []Middleware) invoker {
	inv := invoker(directInvoke)
	for i := len(mws) - 1; i >= 0; i-- {
		mw, inner := mws[i], inv
		if mw == nil {
			continue
		}
		inv = func(ctx context.Context, resolver Func, parent any, args map[string]any, info *Info) (any, error) {
			next := func(ctx context.Context, parent any, args map[string]any, info *Info) (any, error) {
				return inner(ctx, resolver, parent, args, info)
			}
			return mw(ctx, next, resolver, parent, args, info)
		}
	}
	return inv
}
