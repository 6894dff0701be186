// Package privilege implements scoped privilege elevation for identity-store
// mutations that the calling actor may not perform itself (rename, merge,
// force delete). Elevation is carried on the context and ends when the scoped
// function returns, so a failure can never leave the process elevated.
package privilege

import "context"

type contextKey struct{ name string }

var elevatedKey = contextKey{"elevated"}

// RunElevated runs fn with an elevated context. The elevation is visible only
// to code called from fn; it is released on every exit path, including panics
// and errors, because the derived context does not escape the call.
func RunElevated(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(context.WithValue(ctx, elevatedKey, true))
}

// Elevated reports whether ctx carries elevation granted by RunElevated.
func Elevated(ctx context.Context) bool {
	v, ok := ctx.Value(elevatedKey).(bool)
	return ok && v
}
