// internal/cdp/watcher_test.go
package cdp

import (
	"context"
	"testing"
	"time"

	protocdp "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/lancet/internal/realm"
)

const watcherFrameID = protocdp.FrameID("frame-main")

// newTestWatcher wires a Watcher to a fresh World without a live chromedp
// session; events are injected straight into handleEvent.
func newTestWatcher(t *testing.T) (*Watcher, *realm.World) {
	t.Helper()
	world := realm.NewWorld(context.Background(), string(watcherFrameID), zaptest.NewLogger(t))
	t.Cleanup(func() { world.Detach(nil) })
	w := &Watcher{
		tabCtx:  context.Background(),
		world:   world,
		frameID: watcherFrameID,
		logger:  zaptest.NewLogger(t),
	}
	return w, world
}

func contextCreated(id runtime.ExecutionContextID, frameID string, isDefault bool) *runtime.EventExecutionContextCreated {
	aux := `{"frameId":"` + frameID + `","isDefault":false,"type":"default"}`
	if isDefault {
		aux = `{"frameId":"` + frameID + `","isDefault":true,"type":"default"}`
	}
	return &runtime.EventExecutionContextCreated{
		Context: &runtime.ExecutionContextDescription{
			ID:      id,
			Origin:  "https://example.com",
			Name:    "",
			AuxData: jsontext.Value(aux),
		},
	}
}

// boundContextID resolves the world's realm with a short deadline and returns
// the execution context id it is bound to.
func boundContextID(t *testing.T, world *realm.World) runtime.ExecutionContextID {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	r, err := world.AcquireRealm(ctx)
	require.NoError(t, err)
	cdpRealm, ok := r.(*Realm)
	require.True(t, ok)
	return cdpRealm.ContextID()
}

func assertUnbound(t *testing.T, world *realm.World) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := world.AcquireRealm(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWatcherBindsDefaultContext(t *testing.T) {
	w, world := newTestWatcher(t)

	w.handleEvent(contextCreated(7, string(watcherFrameID), true))
	assert.Equal(t, runtime.ExecutionContextID(7), boundContextID(t, world))
}

func TestWatcherIgnoresForeignContexts(t *testing.T) {
	t.Run("OtherFrame", func(t *testing.T) {
		w, world := newTestWatcher(t)
		w.handleEvent(contextCreated(7, "frame-iframe", true))
		assertUnbound(t, world)
	})

	t.Run("NonDefaultContext", func(t *testing.T) {
		// Isolated worlds (extensions, injected scripts) share the frame but
		// are not the page's default context.
		w, world := newTestWatcher(t)
		w.handleEvent(contextCreated(7, string(watcherFrameID), false))
		assertUnbound(t, world)
	})

	t.Run("MissingContext", func(t *testing.T) {
		w, world := newTestWatcher(t)
		w.handleEvent(&runtime.EventExecutionContextCreated{})
		assertUnbound(t, world)
	})
}

func TestWatcherUnbindsOnDestroy(t *testing.T) {
	t.Run("MatchingID", func(t *testing.T) {
		w, world := newTestWatcher(t)
		w.handleEvent(contextCreated(7, string(watcherFrameID), true))
		w.handleEvent(&runtime.EventExecutionContextDestroyed{ExecutionContextID: 7})
		assertUnbound(t, world)
	})

	t.Run("StaleIDIsIgnored", func(t *testing.T) {
		// A destroy notification for the previous context must not tear down
		// the binding a newer create event already replaced it with.
		w, world := newTestWatcher(t)
		w.handleEvent(contextCreated(7, string(watcherFrameID), true))
		w.handleEvent(contextCreated(8, string(watcherFrameID), true))
		w.handleEvent(&runtime.EventExecutionContextDestroyed{ExecutionContextID: 7})
		assert.Equal(t, runtime.ExecutionContextID(8), boundContextID(t, world))
	})
}

func TestWatcherUnbindsOnContextsCleared(t *testing.T) {
	w, world := newTestWatcher(t)
	w.handleEvent(contextCreated(7, string(watcherFrameID), true))
	w.handleEvent(&runtime.EventExecutionContextsCleared{})
	assertUnbound(t, world)
}

func TestWatcherDetachesOnFrameDetached(t *testing.T) {
	t.Run("MatchingFrame", func(t *testing.T) {
		w, world := newTestWatcher(t)
		w.handleEvent(contextCreated(7, string(watcherFrameID), true))
		w.handleEvent(&page.EventFrameDetached{FrameID: watcherFrameID, Reason: page.FrameDetachedReasonRemove})
		assert.True(t, world.Detached())

		_, err := world.AcquireRealm(context.Background())
		var detachErr *realm.DetachmentError
		require.ErrorAs(t, err, &detachErr)
	})

	t.Run("OtherFrame", func(t *testing.T) {
		w, world := newTestWatcher(t)
		w.handleEvent(&page.EventFrameDetached{FrameID: "frame-iframe", Reason: page.FrameDetachedReasonSwap})
		assert.False(t, world.Detached())
	})
}

func TestWatcherFullNavigationSequence(t *testing.T) {
	// Simulates the event order of a cross-document navigation: old context
	// destroyed, contexts cleared, new default context created.
	w, world := newTestWatcher(t)

	w.handleEvent(contextCreated(3, string(watcherFrameID), true))
	assert.Equal(t, runtime.ExecutionContextID(3), boundContextID(t, world))

	w.handleEvent(&runtime.EventExecutionContextDestroyed{ExecutionContextID: 3})
	w.handleEvent(&runtime.EventExecutionContextsCleared{})
	assertUnbound(t, world)

	w.handleEvent(contextCreated(4, string(watcherFrameID), true))
	assert.Equal(t, runtime.ExecutionContextID(4), boundContextID(t, world))
}
