package browser

import (
	"context"
	"time"
)

// CombineContext returns a context that carries the values of primary and is
// canceled when either primary or secondary is done. chromedp keeps the CDP
// target in the context values, so per-operation deadlines must be layered on
// top of the page context rather than replacing it.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// valueOnlyContext keeps the values of its parent but drops its deadline and
// cancellation.
type valueOnlyContext struct{ context.Context }

func (valueOnlyContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (valueOnlyContext) Done() <-chan struct{}       { return nil }
func (valueOnlyContext) Err() error                  { return nil }

// Detach returns a context with the values of ctx that is never canceled.
// Cleanup that must outlive a canceled operation runs on it.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
