// internal/dom/dom_test.go
package dom

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/lancet/internal/realm"
)

// recordingRealm captures every evaluate call so tests can assert on the
// composed predicate and its arguments.
type recordingRealm struct {
	mu     sync.Mutex
	fns    []string
	args   [][]any
	result func() (realm.Handle, error)
}

func (r *recordingRealm) Evaluate(ctx context.Context, fn string, args ...any) (realm.Handle, error) {
	r.mu.Lock()
	r.fns = append(r.fns, fn)
	r.args = append(r.args, args)
	r.mu.Unlock()
	return r.result()
}

func (r *recordingRealm) lastCall() (string, []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.fns) == 0 {
		return "", nil
	}
	return r.fns[len(r.fns)-1], r.args[len(r.args)-1]
}

type valueHandle struct {
	value json.RawMessage
	empty bool
}

func (h *valueHandle) Empty() bool { return h.empty }
func (h *valueHandle) JSON(ctx context.Context) (json.RawMessage, error) {
	return h.value, nil
}
func (h *valueHandle) Dispose(ctx context.Context) error { return nil }

func newBoundWorld(t *testing.T, r realm.Realm) *realm.World {
	t.Helper()
	w := realm.NewWorld(context.Background(), "frame-1", zaptest.NewLogger(t))
	t.Cleanup(func() { w.Detach(nil) })
	w.Bind(r)
	return w
}

func TestWaitForSelector(t *testing.T) {
	t.Run("ComposesPredicateAndArgs", func(t *testing.T) {
		element := &valueHandle{value: []byte(`{}`)}
		r := &recordingRealm{result: func() (realm.Handle, error) { return element, nil }}
		w := newBoundWorld(t, r)

		h, err := WaitForSelector(context.Background(), w, "#login", WaitForSelectorOptions{
			State:   StateVisible,
			Timeout: time.Second,
		})
		require.NoError(t, err)
		require.NotNil(t, h)

		_, args := r.lastCall()
		require.GreaterOrEqual(t, len(args), 6)
		body, ok := args[0].(string)
		require.True(t, ok)
		assert.Contains(t, body, "querySelector")
		assert.Contains(t, body, "getClientRects")
		assert.Equal(t, "raf", args[1], "visible waits default to raf polling")
		assert.Equal(t, "#login", args[4])
		assert.Equal(t, "visible", args[5])
	})

	t.Run("AttachedDefaultsToMutationPolling", func(t *testing.T) {
		r := &recordingRealm{result: func() (realm.Handle, error) { return &valueHandle{value: []byte(`{}`)}, nil }}
		w := newBoundWorld(t, r)

		_, err := WaitForSelector(context.Background(), w, "#login", WaitForSelectorOptions{})
		require.NoError(t, err)

		_, args := r.lastCall()
		assert.Equal(t, "mutation", args[1])
		assert.Equal(t, "attached", args[5])
	})

	t.Run("UnknownState", func(t *testing.T) {
		r := &recordingRealm{result: func() (realm.Handle, error) { return nil, errors.New("unreachable") }}
		w := newBoundWorld(t, r)

		_, err := WaitForSelector(context.Background(), w, "#login", WaitForSelectorOptions{State: State("shiny")})
		var cfgErr *realm.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("TimeoutCarriesDescriptiveTitle", func(t *testing.T) {
		// The sentinel response never satisfies the wait, so the local timer
		// fires and the error names the selector.
		r := &recordingRealm{result: func() (realm.Handle, error) { return &valueHandle{empty: true}, nil }}
		w := newBoundWorld(t, r)

		_, err := WaitForSelector(context.Background(), w, "#missing", WaitForSelectorOptions{
			State:   StateVisible,
			Timeout: 50 * time.Millisecond,
		})
		var timeoutErr *realm.TimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.True(t, strings.Contains(timeoutErr.Title, "#missing"))
		assert.True(t, strings.Contains(timeoutErr.Title, "visible"))
	})
}

func TestWaitForFunction(t *testing.T) {
	r := &recordingRealm{result: func() (realm.Handle, error) { return &valueHandle{value: []byte(`42`)}, nil }}
	w := newBoundWorld(t, r)

	h, err := WaitForFunction(context.Background(), w, `(a, b) => a + b === 3`, WaitForFunctionOptions{}, 1, 2)
	require.NoError(t, err)
	require.NotNil(t, h)

	_, args := r.lastCall()
	body, ok := args[0].(string)
	require.True(t, ok)
	assert.Contains(t, body, "(...args)", "function predicates are applied to the forwarded args")
	assert.Equal(t, "raf", args[1])
	assert.Equal(t, 1, args[4])
	assert.Equal(t, 2, args[5])
}

func TestTitleAndContent(t *testing.T) {
	t.Run("Title", func(t *testing.T) {
		r := &recordingRealm{result: func() (realm.Handle, error) {
			return &valueHandle{value: []byte(`"Login - Example"`)}, nil
		}}
		w := newBoundWorld(t, r)

		title, err := Title(context.Background(), w)
		require.NoError(t, err)
		assert.Equal(t, "Login - Example", title)

		fn, _ := r.lastCall()
		assert.Contains(t, fn, "document.title")
	})

	t.Run("Content", func(t *testing.T) {
		r := &recordingRealm{result: func() (realm.Handle, error) {
			return &valueHandle{value: []byte(`"<html><body></body></html>"`)}, nil
		}}
		w := newBoundWorld(t, r)

		content, err := Content(context.Background(), w)
		require.NoError(t, err)
		assert.Equal(t, "<html><body></body></html>", content)
	})

	t.Run("TransientFailureRetriesOnce", func(t *testing.T) {
		var calls int
		var mu sync.Mutex
		r := &recordingRealm{result: func() (realm.Handle, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return nil, realm.MarkTransient(errors.New("Execution context was destroyed"))
			}
			return &valueHandle{value: []byte(`"recovered"`)}, nil
		}}
		w := newBoundWorld(t, r)

		title, err := Title(context.Background(), w)
		require.NoError(t, err)
		assert.Equal(t, "recovered", title)
	})
}
