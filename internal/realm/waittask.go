// internal/realm/waittask.go
package realm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WaitRequest describes one "wait until this predicate holds" request. The
// predicate is function source text shipped to the realm verbatim; the core
// transports it and classifies the response, it never parses it.
type WaitRequest struct {
	// Title is a human-readable description used in timeout errors and logs,
	// e.g. `selector "#login" to be visible`.
	Title string

	// Predicate is the source of the function evaluated inside the realm.
	// When Expression is set it is treated as a bare expression instead.
	Predicate  string
	Expression bool

	// Args are passed to the predicate on every remote evaluation. They must
	// be JSON-marshalable.
	Args []any

	Polling Polling
	// Interval is the re-evaluation period for PollingInterval.
	Interval time.Duration
	// Timeout bounds the wait. Zero means unbounded; the caller's context and
	// the World's detachment remain the only backstops then.
	Timeout time.Duration
}

type taskState int

const (
	taskRunning taskState = iota
	taskSettled
	taskTerminated
)

// WaitTask is one outstanding wait registered on a World. It stays a member
// of the World's task set exactly until it settles or is terminated; every
// realm rebind triggers a fresh run, and stale responses from superseded runs
// are discarded by run-counter comparison, never by arrival order.
type WaitTask struct {
	world *World
	log   *zap.Logger

	title         string
	predicateBody string
	polling       Polling
	interval      time.Duration
	timeout       time.Duration
	args          []any

	mu     sync.Mutex
	runSeq uint64
	state  taskState
	timer  *time.Timer
	result Handle
	err    error
	done   chan struct{}
}

// WaitForPredicate runs req against this World and suspends until the
// predicate holds, the timeout elapses, ctx is cancelled, or the World is
// detached. On success the caller owns the returned handle and must dispose
// it.
//
// The wait survives realm churn: if the realm dies mid-evaluation the failure
// is absorbed and the task reruns when the next realm is bound. A task
// created while no realm is bound issues nothing until the first Bind.
func (w *World) WaitForPredicate(ctx context.Context, req WaitRequest) (Handle, error) {
	if err := validatePolling(req.Polling, req.Interval); err != nil {
		return nil, err
	}

	t := &WaitTask{
		world:         w,
		title:         req.Title,
		predicateBody: predicateBody(req),
		polling:       req.Polling,
		interval:      req.Interval,
		timeout:       req.Timeout,
		args:          req.Args,
		done:          make(chan struct{}),
	}
	t.log = w.log.Named("waittask").With(zap.String("title", t.title))

	w.mu.Lock()
	if w.detached {
		err := w.detachErr
		w.mu.Unlock()
		return nil, err
	}
	w.tasks[t] = struct{}{}
	w.mu.Unlock()

	if req.Timeout > 0 {
		t.mu.Lock()
		if t.state == taskRunning {
			t.timer = time.AfterFunc(req.Timeout, func() {
				t.terminate(&TimeoutError{Title: t.title, Timeout: req.Timeout})
			})
		}
		t.mu.Unlock()
	}

	go t.run()

	select {
	case <-t.done:
	case <-ctx.Done():
		// Caller-initiated cancellation: treated like timeout-termination.
		t.terminate(ctx.Err())
		<-t.done
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

// run issues one evaluate call against the currently bound realm. It is
// invoked once at creation and once per Bind; overlapping runs across rapid
// rebinds cannot corrupt the outcome because only the response matching the
// latest run counter may settle the task.
func (t *WaitTask) run() {
	t.mu.Lock()
	if t.state != taskRunning {
		t.mu.Unlock()
		return
	}
	t.runSeq++
	seq := t.runSeq
	t.mu.Unlock()

	r := t.world.currentRealm()
	if r == nil {
		// No realm bound yet; the next Bind reruns us.
		return
	}

	args := append([]any{t.predicateBody, string(t.polling), t.interval.Milliseconds(), t.timeout.Milliseconds()}, t.args...)
	h, err := r.Evaluate(t.world.ctx, pollLoopSource, args...)

	t.mu.Lock()
	stale := t.state != taskRunning || t.runSeq != seq
	t.mu.Unlock()
	if stale {
		// A newer run superseded this one, or the task already finished.
		t.disposeStale(h)
		return
	}

	if err != nil {
		if IsTransient(err) {
			// The realm died mid-call. Absorb it: the next Bind triggers
			// another run, and the timeout or detachment backstop catches the
			// case where no rebind ever comes.
			t.log.Debug("Realm died during poll; awaiting rebind.", zap.Error(err))
			return
		}
		t.settle(nil, err)
		return
	}

	if h == nil || h.Empty() {
		// The remote copy of the deadline fired before the local timer. Not a
		// success; the local timer terminates us shortly.
		t.disposeStale(h)
		return
	}

	t.settle(h, nil)
}

// settle completes the task with a result or a surfaced evaluation error.
func (t *WaitTask) settle(h Handle, err error) {
	if !t.finish(h, err, taskSettled) && h != nil {
		t.disposeStale(h)
	}
}

// terminate completes the task with err. Driven by the local timeout, caller
// cancellation, or World detachment. Idempotent: a task that already settled
// or terminated ignores it.
func (t *WaitTask) terminate(err error) {
	t.finish(nil, err, taskTerminated)
}

// finish performs the single transition out of Running: records the outcome,
// cancels the timer, removes the task from the World and wakes the caller.
// It reports whether this call won the transition.
func (t *WaitTask) finish(h Handle, err error, next taskState) bool {
	t.mu.Lock()
	if t.state != taskRunning {
		t.mu.Unlock()
		return false
	}
	t.state = next
	t.result = h
	t.err = err
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	t.world.removeTask(t)
	close(t.done)
	return true
}

func (t *WaitTask) disposeStale(h Handle) {
	if h == nil {
		return
	}
	t.world.disposeHandle(h)
}

// predicateBody wraps the request's source so the remote loop can rebuild it
// with new Function. Expressions are returned as-is; function sources are
// applied to the forwarded arguments.
func predicateBody(req WaitRequest) string {
	if req.Expression {
		return "return (" + req.Predicate + ");"
	}
	return "return (" + req.Predicate + ")(...args);"
}
