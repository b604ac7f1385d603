package entitymanager

import (
	"context"
)

type entityManagerContextKey struct{}

// WithEntityManager attaches a session to ctx, typically once per request.
func WithEntityManager(ctx context.Context, em *EntityManager) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if em == nil {
		return ctx
	}
	return context.WithValue(ctx, entityManagerContextKey{}, em)
}

// FromContext returns the session attached to ctx.
func FromContext(ctx context.Context) (*EntityManager, bool) {
	if ctx == nil {
		return nil, false
	}
	em, ok := ctx.Value(entityManagerContextKey{}).(*EntityManager)
	return em, ok
}
