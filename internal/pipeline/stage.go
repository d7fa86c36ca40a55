package pipeline

import (
	"context"
	"fmt"
	"time"
)

// bounded runs fn under its own timeout and converts panics and expiry into
// the fallback value. It returns as soon as ctx is done, leaving fn to finish
// on its own.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) T, fallback func(error) T) T {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ch := make(chan T, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- fallback(fmt.Errorf("panic: %v", r))
			}
		}()
		ch <- fn(ctx)
	}()

	select {
	case res := <-ch:
		return res
	case <-ctx.Done():
		return fallback(ctx.Err())
	}
}
