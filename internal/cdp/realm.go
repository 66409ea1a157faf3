// internal/cdp/realm.go

// Package cdp adapts a chromedp session to the realm abstractions: evaluation
// via Runtime.callFunctionOn against a specific execution context, handles
// over Runtime remote objects, and a lifecycle watcher that maps CDP
// execution-context events onto World bind/unbind/detach.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/go-json-experiment/json/jsontext"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/internal/realm"
)

// Realm evaluates code inside one CDP execution context. Each navigation
// produces a fresh context (and so a fresh Realm); an in-flight call against
// a destroyed context fails with a transient error.
type Realm struct {
	// tabCtx is the chromedp tab context the execution context lives in.
	tabCtx context.Context
	id     runtime.ExecutionContextID
	logger *zap.Logger
}

var _ realm.Realm = (*Realm)(nil)

// NewRealm wraps the execution context identified by id on the given
// chromedp tab context.
func NewRealm(tabCtx context.Context, id runtime.ExecutionContextID, logger *zap.Logger) *Realm {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Realm{
		tabCtx: tabCtx,
		id:     id,
		logger: logger.Named("cdp_realm").With(zap.Int64("execution_context_id", int64(id))),
	}
}

// ContextID returns the CDP execution context id this realm targets.
func (r *Realm) ContextID() runtime.ExecutionContextID { return r.id }

// Evaluate calls fn with args inside the execution context and returns a
// handle to the result. Promises are awaited. Failures caused by the context
// having been destroyed mid-call are classified as transient.
func (r *Realm) Evaluate(ctx context.Context, fn string, args ...any) (realm.Handle, error) {
	callArgs := make([]*runtime.CallArgument, 0, len(args))
	for i, a := range args {
		encoded, err := jsoniter.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("failed to encode argument %d: %w", i, err)
		}
		callArgs = append(callArgs, &runtime.CallArgument{Value: jsontext.Value(encoded)})
	}

	p := runtime.CallFunctionOn(fn).
		WithExecutionContextID(r.id).
		WithArguments(callArgs).
		WithAwaitPromise(true).
		WithReturnByValue(false)

	evalCtx, cancel := CombineContext(r.tabCtx, ctx)
	defer cancel()

	var obj *runtime.RemoteObject
	var exc *runtime.ExceptionDetails
	err := chromedp.Run(evalCtx, chromedp.ActionFunc(func(c context.Context) error {
		var doErr error
		obj, exc, doErr = p.Do(c)
		return doErr
	}))
	if err != nil {
		return nil, classifyError(err)
	}
	if exc != nil {
		return nil, classifyError(exceptionError(exc))
	}

	return &Handle{tabCtx: r.tabCtx, obj: obj, logger: r.logger}, nil
}

// Handle is a reference to a remote object held alive in the browser until
// disposed.
type Handle struct {
	tabCtx context.Context
	obj    *runtime.RemoteObject
	logger *zap.Logger
}

var _ realm.Handle = (*Handle)(nil)

// RemoteObject exposes the underlying CDP object, e.g. for adopting the
// result into DOM operations.
func (h *Handle) RemoteObject() *runtime.RemoteObject { return h.obj }

// Empty reports whether the remote value is null or undefined.
func (h *Handle) Empty() bool {
	if h.obj == nil {
		return true
	}
	return h.obj.Type == runtime.TypeUndefined || h.obj.Subtype == runtime.SubtypeNull
}

// JSON serializes the remote value. Primitives returned by value are decoded
// locally; object handles require a round-trip through the browser.
func (h *Handle) JSON(ctx context.Context) (json.RawMessage, error) {
	if h.obj == nil {
		return json.RawMessage("null"), nil
	}
	if h.obj.ObjectID == "" {
		if len(h.obj.Value) == 0 {
			return json.RawMessage("null"), nil
		}
		return json.RawMessage(h.obj.Value), nil
	}

	p := runtime.CallFunctionOn(`function() { return this; }`).
		WithObjectID(h.obj.ObjectID).
		WithReturnByValue(true)

	evalCtx, cancel := CombineContext(h.tabCtx, ctx)
	defer cancel()

	var obj *runtime.RemoteObject
	var exc *runtime.ExceptionDetails
	err := chromedp.Run(evalCtx, chromedp.ActionFunc(func(c context.Context) error {
		var doErr error
		obj, exc, doErr = p.Do(c)
		return doErr
	}))
	if err != nil {
		return nil, classifyError(err)
	}
	if exc != nil {
		return nil, classifyError(exceptionError(exc))
	}
	if obj == nil || len(obj.Value) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(obj.Value), nil
}

// Dispose releases the remote object. Disposal of a handle whose context has
// already been destroyed is not an error.
func (h *Handle) Dispose(ctx context.Context) error {
	if h.obj == nil || h.obj.ObjectID == "" {
		return nil
	}

	releaseCtx, cancel := CombineContext(h.tabCtx, ctx)
	defer cancel()

	err := chromedp.Run(releaseCtx, chromedp.ActionFunc(func(c context.Context) error {
		return runtime.ReleaseObject(h.obj.ObjectID).Do(c)
	}))
	if err != nil {
		if realm.IsTransient(classifyError(err)) {
			// The context died and took the object with it.
			return nil
		}
		return fmt.Errorf("failed to release remote object: %w", err)
	}
	return nil
}

// transientMarkers are the CDP error texts that indicate the execution
// context died mid-call rather than the evaluated code failing.
var transientMarkers = []string{
	"Cannot find context with specified id",
	"Cannot find default execution context",
	"Execution context was destroyed",
	"Inspected target navigated or closed",
}

// classifyError marks realm-death failures as transient so the scheduler
// absorbs them and waits for the next bind.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return realm.MarkTransient(err)
		}
	}
	return err
}

// exceptionError converts CDP exception details into a plain error carrying
// the remote exception text.
func exceptionError(exc *runtime.ExceptionDetails) error {
	if exc.Exception != nil && exc.Exception.Description != "" {
		return fmt.Errorf("evaluation failed: %s", exc.Exception.Description)
	}
	return fmt.Errorf("evaluation failed: %s", exc.Text)
}
