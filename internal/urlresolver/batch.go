package urlresolver

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

const maxConcurrentResolutions = 8

// ResolveAll resolves urls concurrently under one shared deadline. Results of
// resolutions that did not complete before the deadline are discarded. When it
// returns, no resolution goroutine is still running.
func (r *Resolver) ResolveAll(ctx context.Context, urls []string, timeout time.Duration) map[string]Resolution {
	unique := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		unique = append(unique, u)
	}

	if len(unique) == 0 {
		return map[string]Resolution{}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make([]Resolution, len(unique))
	completed := make([]bool, len(unique))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentResolutions)
	for i, u := range unique {
		g.Go(func() error {
			res := r.Resolve(gctx, u)
			if gctx.Err() == nil {
				results[i] = res
				completed[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]Resolution, len(unique))
	for i, u := range unique {
		if completed[i] {
			out[u] = results[i]
		}
	}
	return out
}
