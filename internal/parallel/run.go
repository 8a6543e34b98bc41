// Package parallel runs independent work items concurrently with a bound
// and collects their results in input order.
package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Run applies fn to every item, at most limit at a time (limit <= 0 means
// all at once), and returns the results in input order. Run always waits
// for every started fn; cancellation is observed by fn through ctx.
func Run[E, D any](ctx context.Context, limit int, items []E, fn func(context.Context, E) D) []D {
	if limit <= 0 {
		limit = len(items)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	out := make([]D, len(items))
	for i, item := range items {
		g.Go(func() error {
			out[i] = fn(gctx, item)
			return nil
		})
	}
	_ = g.Wait() // workers do not return errors
	return out
}
