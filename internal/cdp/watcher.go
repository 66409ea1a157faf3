// internal/cdp/watcher.go
package cdp

import (
	"context"
	"fmt"
	"sync"

	protocdp "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/internal/realm"
)

// Watcher translates CDP lifecycle events for one frame into World
// transitions: default execution context created → Bind, destroyed/cleared →
// Unbind, frame detached → Detach.
type Watcher struct {
	tabCtx  context.Context
	world   *realm.World
	frameID protocdp.FrameID
	logger  *zap.Logger

	mu        sync.Mutex
	currentID runtime.ExecutionContextID
}

// Attach subscribes a Watcher to the chromedp target events of tabCtx and
// keeps world's realm binding in sync with the frame's default execution
// context. The subscription lives until tabCtx is canceled.
func Attach(tabCtx context.Context, world *realm.World, frameID protocdp.FrameID, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{
		tabCtx:  tabCtx,
		world:   world,
		frameID: frameID,
		logger:  logger.Named("watcher").With(zap.String("frame_id", string(frameID))),
	}
	chromedp.ListenTarget(tabCtx, w.handleEvent)
	return w
}

// contextAuxData is the auxData blob CDP attaches to execution context
// descriptions.
type contextAuxData struct {
	FrameID   string `json:"frameId"`
	IsDefault bool   `json:"isDefault"`
	Type      string `json:"type"`
}

func (w *Watcher) handleEvent(ev any) {
	switch e := ev.(type) {
	case *runtime.EventExecutionContextCreated:
		w.onContextCreated(e)
	case *runtime.EventExecutionContextDestroyed:
		w.onContextDestroyed(e.ExecutionContextID)
	case *runtime.EventExecutionContextsCleared:
		w.onContextsCleared()
	case *page.EventFrameDetached:
		w.onFrameDetached(e)
	}
}

func (w *Watcher) onContextCreated(e *runtime.EventExecutionContextCreated) {
	if e.Context == nil {
		return
	}

	var aux contextAuxData
	if len(e.Context.AuxData) > 0 {
		if err := jsoniter.Unmarshal([]byte(e.Context.AuxData), &aux); err != nil {
			w.logger.Debug("Failed to decode execution context auxData.", zap.Error(err))
			return
		}
	}
	if !aux.IsDefault || aux.FrameID != string(w.frameID) {
		return
	}

	w.mu.Lock()
	w.currentID = e.Context.ID
	w.mu.Unlock()

	w.logger.Debug("Default execution context created.", zap.Int64("execution_context_id", int64(e.Context.ID)))
	w.world.Bind(NewRealm(w.tabCtx, e.Context.ID, w.logger))
}

func (w *Watcher) onContextDestroyed(id runtime.ExecutionContextID) {
	w.mu.Lock()
	matches := w.currentID != 0 && w.currentID == id
	if matches {
		w.currentID = 0
	}
	w.mu.Unlock()

	if !matches {
		return
	}
	w.logger.Debug("Default execution context destroyed.", zap.Int64("execution_context_id", int64(id)))
	w.world.Unbind()
}

func (w *Watcher) onContextsCleared() {
	w.mu.Lock()
	w.currentID = 0
	w.mu.Unlock()

	w.logger.Debug("Execution contexts cleared.")
	w.world.Unbind()
}

func (w *Watcher) onFrameDetached(e *page.EventFrameDetached) {
	if e.FrameID != w.frameID {
		return
	}
	w.logger.Debug("Frame detached.", zap.String("reason", string(e.Reason)))
	w.world.Detach(fmt.Errorf("frame detached: %s", e.Reason))
}
