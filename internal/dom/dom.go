// internal/dom/dom.go

// Package dom provides the selector- and page-level conveniences built on top
// of the realm core. Everything here is a thin call-through: it composes a
// predicate, hands it to World.WaitForPredicate, and classifies nothing
// itself.
package dom

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/lancet/internal/realm"
)

// State describes what a selector wait considers success.
type State string

const (
	// StateAttached succeeds as soon as the node exists in the DOM.
	StateAttached State = "attached"
	// StateVisible additionally requires non-empty client rects and a
	// visibility style other than "hidden".
	StateVisible State = "visible"
	// StateHidden succeeds when the node is missing or not visible.
	StateHidden State = "hidden"
)

// selectorPredicate runs inside the realm. It returns the matched node on
// success and undefined while the condition does not hold yet, so the poll
// loop keeps going. For the hidden state a missing node succeeds with true.
const selectorPredicate = `(selector, state) => {
    const node = document.querySelector(selector);
    if (state === 'attached') {
        return node || undefined;
    }
    const visible = !!node &&
        !!node.getClientRects().length &&
        window.getComputedStyle(node).visibility !== 'hidden';
    if (state === 'visible') {
        return visible ? node : undefined;
    }
    return visible ? undefined : (node || true);
}`

// WaitForSelectorOptions tunes a selector wait. The zero value waits for an
// attached node with mutation polling and no timeout.
type WaitForSelectorOptions struct {
	State    State
	Polling  realm.Polling
	Interval time.Duration
	Timeout  time.Duration
}

// WaitForSelector suspends until an element matching selector reaches the
// requested state. The returned handle refers to the matched node (or a bare
// true for a hidden wait on a missing node); the caller owns it.
func WaitForSelector(ctx context.Context, w *realm.World, selector string, opts WaitForSelectorOptions) (realm.Handle, error) {
	state := opts.State
	if state == "" {
		state = StateAttached
	}
	switch state {
	case StateAttached, StateVisible, StateHidden:
	default:
		return nil, &realm.ConfigurationError{Reason: fmt.Sprintf("unknown selector state %q", state)}
	}

	polling := opts.Polling
	if polling == "" {
		// Attachment is driven by DOM mutations; visibility also depends on
		// style and layout, which mutations alone do not capture.
		if state == StateAttached {
			polling = realm.PollingMutation
		} else {
			polling = realm.PollingRAF
		}
	}

	return w.WaitForPredicate(ctx, realm.WaitRequest{
		Title:     fmt.Sprintf("selector %q to be %s", selector, state),
		Predicate: selectorPredicate,
		Args:      []any{selector, string(state)},
		Polling:   polling,
		Interval:  opts.Interval,
		Timeout:   opts.Timeout,
	})
}

// WaitForFunctionOptions tunes a predicate wait. The zero value polls on
// animation frames with no timeout.
type WaitForFunctionOptions struct {
	Polling    realm.Polling
	Interval   time.Duration
	Timeout    time.Duration
	Expression bool
}

// WaitForFunction suspends until pageFn, evaluated with args inside the
// realm, returns a truthy value.
func WaitForFunction(ctx context.Context, w *realm.World, pageFn string, opts WaitForFunctionOptions, args ...any) (realm.Handle, error) {
	polling := opts.Polling
	if polling == "" {
		polling = realm.PollingRAF
	}

	return w.WaitForPredicate(ctx, realm.WaitRequest{
		Title:      "function to return true",
		Predicate:  pageFn,
		Expression: opts.Expression,
		Args:       args,
		Polling:    polling,
		Interval:   opts.Interval,
		Timeout:    opts.Timeout,
	})
}

// Title returns the document title of the current realm.
func Title(ctx context.Context, w *realm.World) (string, error) {
	var title string
	err := evaluateValue(ctx, w, `() => document.title`, &title)
	return title, err
}

// Content returns the full serialized HTML of the current document.
func Content(ctx context.Context, w *realm.World) (string, error) {
	var content string
	err := evaluateValue(ctx, w, `() => {
        let html = '';
        if (document.doctype) {
            html = new XMLSerializer().serializeToString(document.doctype);
        }
        if (document.documentElement) {
            html += document.documentElement.outerHTML;
        }
        return html;
    }`, &content)
	return content, err
}

// evaluateValue runs a one-shot evaluation and decodes the result by value.
// One transient failure is retried against the replacement realm, matching
// the retry the wait scheduler gets for free via rerun-on-bind.
func evaluateValue(ctx context.Context, w *realm.World, fn string, out any) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		r, err := w.AcquireRealm(ctx)
		if err != nil {
			return err
		}

		h, err := r.Evaluate(ctx, fn)
		if err != nil {
			if realm.IsTransient(err) {
				lastErr = err
				continue
			}
			return err
		}

		raw, err := h.JSON(ctx)
		_ = h.Dispose(ctx)
		if err != nil {
			if realm.IsTransient(err) {
				lastErr = err
				continue
			}
			return err
		}
		return jsoniter.Unmarshal(raw, out)
	}
	return fmt.Errorf("evaluation failed after realm replacement: %w", lastErr)
}
