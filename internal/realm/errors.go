// internal/realm/errors.go
package realm

import (
	"errors"
	"fmt"
	"time"
)

// ConfigurationError indicates an invalid wait request (bad polling strategy,
// non-positive interval). It is returned synchronously, before any task is
// registered, and is never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid wait configuration: %s", e.Reason)
}

// TimeoutError indicates the local timer fired before the predicate ever
// succeeded.
type TimeoutError struct {
	Title   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("waiting for %s failed: timeout %s exceeded", e.Title, e.Timeout)
}

// DetachmentError indicates the World was detached (its owning frame removed)
// while an accessor or wait was outstanding. It is terminal: the World accepts
// no further operations.
type DetachmentError struct {
	FrameID string
	Cause   error
}

func (e *DetachmentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("frame %s detached: %v", e.FrameID, e.Cause)
	}
	return fmt.Sprintf("frame %s detached", e.FrameID)
}

func (e *DetachmentError) Unwrap() error { return e.Cause }

// transientError wraps a remote-evaluation failure caused solely by the realm
// having been destroyed mid-call. The scheduler absorbs these and relies on
// the next Bind to rerun the task.
type transientError struct {
	err error
}

func (e *transientError) Error() string   { return e.err.Error() }
func (e *transientError) Unwrap() error   { return e.err }
func (e *transientError) Transient() bool { return true }

// MarkTransient classifies err as a realm-death error. Realm adapters call
// this for failures like "execution context destroyed" or "cannot find
// context with specified id".
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) was marked as a
// realm-death error.
func IsTransient(err error) bool {
	var t interface{ Transient() bool }
	return errors.As(err, &t) && t.Transient()
}
