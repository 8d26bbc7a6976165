// Package kit holds the small transport-agnostic plumbing shared by adscope
// tool surfaces: the Endpoint function type, middleware chaining, and
// request-scoped context values.
package kit

import "context"

// Endpoint is a transport-agnostic operation: typed request in, typed
// response out. MCP tools and HTTP handlers both decode into an Endpoint.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behaviour.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares left to right: the first middleware is the
// outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
