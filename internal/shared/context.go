package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the authenticated actor ID in context.
// Authentication happens upstream; the service only carries the identity.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext extracts the actor ID, zero when absent.
func ActorFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(actorContextKey{}).(int64)
	return id
}
