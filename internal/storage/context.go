package storage

import "context"

// Engines are scoped to a logical execution context (a request chain, a
// test, a tenant) by binding them into a context.Context. Concurrent
// contexts never observe each other's engine, and Detach gives an explicit
// reset for isolation. There is deliberately no package-level default.

type ctxKey struct{}

// WithEngine returns a context carrying the engine.
func WithEngine(ctx context.Context, e *Engine) context.Context {
	return context.WithValue(ctx, ctxKey{}, e)
}

// FromContext returns the engine bound to ctx, if any.
func FromContext(ctx context.Context) (*Engine, bool) {
	e, ok := ctx.Value(ctxKey{}).(*Engine)
	return e, ok && e != nil
}

// Detach returns a context with no engine binding, regardless of what the
// parent carried.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, (*Engine)(nil))
}
