package interceptors

import "context"

type contextKey struct{ name string }

var (
	actorKeyKey = contextKey{"actor_key"}
	actorIDKey  = contextKey{"actor_id"}
)

// WithActor returns a context carrying the authenticated identity's key and
// stable id. Handlers read these via ActorKey and ActorID.
func WithActor(ctx context.Context, key, id string) context.Context {
	ctx = context.WithValue(ctx, actorKeyKey, key)
	ctx = context.WithValue(ctx, actorIDKey, id)
	return ctx
}

// ActorKey returns the authenticated identity key from context and true if
// set; otherwise "", false.
func ActorKey(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(actorKeyKey).(string)
	return v, ok
}

// ActorID returns the authenticated identity id from context and true if set;
// otherwise "", false.
func ActorID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(actorIDKey).(string)
	return v, ok
}
