// internal/realm/realm.go
package realm

import (
	"context"
	"encoding/json"
)

// Realm is a live remote evaluation environment (e.g. a frame's JavaScript
// context). A realm can be destroyed and replaced by the browser at any time;
// callers must tolerate an in-flight Evaluate failing with a transient error
// when that happens.
type Realm interface {
	// Evaluate calls fn, which must be function source text, with the given
	// arguments inside the realm and returns a handle to the result. The
	// arguments must be JSON-marshalable. Evaluate awaits promises, so fn may
	// be asynchronous.
	Evaluate(ctx context.Context, fn string, args ...any) (Handle, error)
}

// Handle is a reference to a value living inside a Realm.
type Handle interface {
	// Empty reports whether the handle refers to null or undefined. The
	// remote poll loop signals its own deadline by resolving with undefined,
	// so an empty handle is never a successful wait result.
	Empty() bool

	// JSON serializes the remote value.
	JSON(ctx context.Context) (json.RawMessage, error)

	// Dispose releases the remote-side reference. Safe to call on handles
	// whose realm has already been destroyed.
	Dispose(ctx context.Context) error
}
