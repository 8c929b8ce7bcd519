package activitypub

import (
	"context"
	"errors"
)

var (
	// ErrUnresolvable marks an actor or object that cannot be tied to a local row.
	// The enclosing activity is skipped and not retried.
	ErrUnresolvable = errors.New("unresolvable reference")

	// ErrInvariant is a programming error: wrong context, missing account of record,
	// runaway nesting or an attempt to persist a constant actor.
	ErrInvariant = errors.New("invariant violation")
)

type uiContextKey struct{}

// WithUIContext marks ctx as belonging to an interactive caller that must never block on storage.
func WithUIContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, uiContextKey{}, true)
}

func isUIContext(ctx context.Context) bool {
	ui, _ := ctx.Value(uiContextKey{}).(bool)
	return ui
}
