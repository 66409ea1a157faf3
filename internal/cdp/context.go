// internal/cdp/context.go
package cdp

import "context"

// CombineContext creates a context canceled when either parent is canceled.
// Every CDP call here must respect both the tab's lifetime and the specific
// operation's deadline.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)

	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
			// Already canceled (likely via primary); nothing to do.
		}
	}()

	return combined, cancel
}
