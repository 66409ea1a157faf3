// internal/realm/world.go
package realm

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// World tracks the current realm binding for one browsing context (a frame's
// main or isolated JavaScript world) plus every wait registered against it.
//
// Navigation destroys and replaces the realm at arbitrary times. Unbind moves
// the slot to empty so accessors suspend; Bind installs the replacement and
// reruns every registered WaitTask against it. Detach is terminal.
//
// All mutation is serialized by the World's own mutex; concurrency is many
// logical operations in flight (waits, evaluate calls) over that single
// exclusion domain.
type World struct {
	id      string
	frameID string
	log     *zap.Logger

	// ctx bounds every operation issued on behalf of this World. Detach
	// cancels it, aborting in-flight evaluate calls.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	realm     Realm
	realmCh   chan struct{} // closed while a realm is bound, replaced on Unbind
	document  Handle
	docRealm  Realm // realm the cached document handle was obtained from
	detached  bool
	detachErr error
	tasks     map[*WaitTask]struct{}
}

// NewWorld creates a World for the given frame. The World starts with no
// bound realm; accessors suspend until the first Bind.
func NewWorld(parent context.Context, frameID string, logger *zap.Logger) *World {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(parent)

	return &World{
		id:      id,
		frameID: frameID,
		log:     logger.Named("world").With(zap.String("world_id", id), zap.String("frame_id", frameID)),
		ctx:     ctx,
		cancel:  cancel,
		realmCh: make(chan struct{}),
		tasks:   make(map[*WaitTask]struct{}),
	}
}

// ID returns the World's unique identifier.
func (w *World) ID() string { return w.id }

// FrameID returns the identifier of the owning frame.
func (w *World) FrameID() string { return w.frameID }

// Bind installs r as the current realm and reruns every registered WaitTask
// against it. The realm slot is fully updated and the document cache cleared
// before any task or accessor can observe the new realm. Binding over an
// existing realm replaces it. Bind is a no-op after Detach.
func (w *World) Bind(r Realm) {
	w.mu.Lock()
	if w.detached {
		w.mu.Unlock()
		return
	}

	// Rebinding always clears the document cache first so the cache can never
	// pair with a stale realm.
	w.clearDocumentLocked()
	if w.realm == nil {
		close(w.realmCh)
	}
	w.realm = r

	tasks := make([]*WaitTask, 0, len(w.tasks))
	for t := range w.tasks {
		tasks = append(tasks, t)
	}
	w.mu.Unlock()

	w.log.Debug("Realm bound.", zap.Int("rerun_tasks", len(tasks)))
	for _, t := range tasks {
		go t.run()
	}
}

// Unbind moves the realm slot to empty. It is called at the start of a
// navigation, before the replacement realm is known; accessors that begin
// waiting now receive the next Bind's realm. Unbind is a no-op when no realm
// is bound.
func (w *World) Unbind() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.detached || w.realm == nil {
		return
	}
	w.clearDocumentLocked()
	w.realm = nil
	w.realmCh = make(chan struct{})
	w.log.Debug("Realm unbound.")
}

// Detach terminates the World. Every registered WaitTask is terminated with a
// DetachmentError, in-flight evaluate calls are aborted, and all later
// operations fail immediately. reason may be nil.
func (w *World) Detach(reason error) {
	w.mu.Lock()
	if w.detached {
		w.mu.Unlock()
		return
	}
	w.detached = true
	w.detachErr = &DetachmentError{FrameID: w.frameID, Cause: reason}
	w.clearDocumentLocked()
	w.realm = nil

	tasks := make([]*WaitTask, 0, len(w.tasks))
	for t := range w.tasks {
		tasks = append(tasks, t)
	}
	w.tasks = make(map[*WaitTask]struct{})
	err := w.detachErr
	w.mu.Unlock()

	// Cancelling the World context aborts in-flight evaluates.
	w.cancel()

	w.log.Debug("World detached.", zap.Int("terminated_tasks", len(tasks)), zap.Error(reason))
	for _, t := range tasks {
		t.terminate(err)
	}
}

// AcquireRealm resolves immediately if a realm is bound, otherwise suspends
// until the next Bind. It fails with a DetachmentError if the World is
// detached before or while waiting.
func (w *World) AcquireRealm(ctx context.Context) (Realm, error) {
	for {
		w.mu.Lock()
		if w.detached {
			err := w.detachErr
			w.mu.Unlock()
			return nil, err
		}
		if w.realm != nil {
			r := w.realm
			w.mu.Unlock()
			return r, nil
		}
		ready := w.realmCh
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-w.ctx.Done():
			return nil, w.detachmentError()
		case <-ready:
			// A realm was bound; loop to re-check under the lock. It may have
			// been unbound again in the meantime.
		}
	}
}

// DocumentHandle returns a handle to the realm's document, evaluating it on
// first use after a Bind and caching the result until the realm is replaced.
func (w *World) DocumentHandle(ctx context.Context) (Handle, error) {
	for {
		r, err := w.AcquireRealm(ctx)
		if err != nil {
			return nil, err
		}

		w.mu.Lock()
		if w.document != nil && w.docRealm == r {
			h := w.document
			w.mu.Unlock()
			return h, nil
		}
		w.mu.Unlock()

		h, err := r.Evaluate(ctx, `() => document`)
		if err != nil {
			if IsTransient(err) {
				// The realm died mid-call; wait for its replacement.
				continue
			}
			return nil, err
		}

		w.mu.Lock()
		if w.detached {
			w.mu.Unlock()
			w.disposeHandle(h)
			return nil, w.detachmentError()
		}
		if w.realm != r {
			// The realm was swapped while we were evaluating; the handle
			// belongs to the old realm and must not be cached.
			w.mu.Unlock()
			w.disposeHandle(h)
			continue
		}
		w.document = h
		w.docRealm = r
		w.mu.Unlock()
		return h, nil
	}
}

// Detached reports whether the World has been detached.
func (w *World) Detached() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.detached
}

// TaskCount returns the number of registered wait tasks.
func (w *World) TaskCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tasks)
}

// currentRealm returns the bound realm without suspending, or nil.
func (w *World) currentRealm() Realm {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.realm
}

func (w *World) detachmentError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.detachErr != nil {
		return w.detachErr
	}
	return &DetachmentError{FrameID: w.frameID, Cause: w.ctx.Err()}
}

func (w *World) removeTask(t *WaitTask) {
	w.mu.Lock()
	delete(w.tasks, t)
	w.mu.Unlock()
}

// clearDocumentLocked drops the document cache. Callers hold w.mu. The old
// handle is released on a separate goroutine: its realm may already be gone
// and disposal must not block realm swaps.
func (w *World) clearDocumentLocked() {
	if w.document == nil {
		return
	}
	h := w.document
	w.document = nil
	w.docRealm = nil
	go w.disposeHandle(h)
}

func (w *World) disposeHandle(h Handle) {
	if h == nil {
		return
	}
	if err := h.Dispose(w.ctx); err != nil {
		w.log.Debug("Failed to dispose handle.", zap.Error(err))
	}
}
