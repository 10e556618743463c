// internal/browser/session/context_utils.go
package session

import (
	"context"
	"errors"
)

// CombineContext returns a context that carries the values of primary (the tab
// context holding the CDP target) and is canceled when either primary or op
// finishes. When op finishes first, context.Cause on the combined context
// reports op's cause, so an operation deadline stays distinguishable from a
// closed session.
func CombineContext(primary, op context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancelCause(primary)
	stop := context.AfterFunc(op, func() {
		cancel(context.Cause(op))
	})
	return combined, func() {
		stop()
		cancel(context.Canceled)
	}
}

// Detach returns a context that keeps the values of ctx (and with them the CDP
// target) but is never canceled by it. Cleanup work that has to outlive a
// timed-out run uses it.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// timedOut reports whether ctx ended because of a deadline, including a
// deadline inherited through CombineContext.
func timedOut(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), context.DeadlineExceeded)
}
