// internal/realm/polling.go
package realm

import (
	"fmt"
	"time"
)

// Polling selects how the remote poll loop re-evaluates a predicate.
type Polling string

const (
	// PollingRAF re-evaluates on every animation frame.
	PollingRAF Polling = "raf"
	// PollingMutation re-evaluates on DOM mutations (subtree, child list and
	// attribute changes), with one immediate evaluation up front.
	PollingMutation Polling = "mutation"
	// PollingInterval re-evaluates on a fixed timer. Requires a positive
	// interval in the WaitRequest.
	PollingInterval Polling = "interval"
)

// validatePolling rejects unknown strategies and non-positive intervals
// before a task is ever registered.
func validatePolling(p Polling, interval time.Duration) error {
	switch p {
	case PollingRAF, PollingMutation:
		return nil
	case PollingInterval:
		if interval <= 0 {
			return &ConfigurationError{Reason: fmt.Sprintf("interval polling requires a positive interval, got %s", interval)}
		}
		return nil
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown polling strategy %q", p)}
	}
}
