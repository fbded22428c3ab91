// internal/browser/cdp/context.go
package cdp

import (
	"context"
	"time"
)

// CombineContext creates a new context derived from ctx1 (the session context
// carrying the CDP connection) that is canceled when *either* ctx1 or ctx2
// (the operational context) is canceled. It inherits values from ctx1, which
// is what chromedp needs to route the call to the right target.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}

// valueOnlyContext wraps a parent context to create a "detached" context: it
// inherits all values (the CDP target information) but ignores the parent's
// deadline and cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context that inherits values from ctx but is not canceled
// when ctx is. Teardown runs on a detached context so a canceled operation
// can still close its browser.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
