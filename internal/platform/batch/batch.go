package batch

import (
	"context"
	"fmt"

	"walletsnap/go-backend/internal/platform/apperr"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit is the window size used when callers pass a non-positive limit.
const DefaultLimit = 50

// Run calls op for every item in consecutive windows of at most limit items.
// Items inside a window run concurrently; the next window starts only after
// the current one has fully finished. The first failure in a window cancels
// the window context, is returned as a batch_operation error, and no later
// window is started.
func Run[T any](ctx context.Context, items []T, op func(ctx context.Context, item T) error, limit int) error {
	if op == nil || len(items) == 0 {
		return nil
	}
	return windows(ctx, len(items), limit, func(ctx context.Context, i int) error {
		return op(ctx, items[i])
	})
}

// Map is Run with per-item results. Results keep the order of items.
func Map[T, R any](ctx context.Context, items []T, op func(ctx context.Context, item T) (R, error), limit int) ([]R, error) {
	if op == nil || len(items) == 0 {
		return nil, nil
	}
	out := make([]R, len(items))
	err := windows(ctx, len(items), limit, func(ctx context.Context, i int) error {
		r, err := op(ctx, items[i])
		if err != nil {
			return err
		}
		out[i] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func windows(ctx context.Context, n, limit int, call func(ctx context.Context, i int) error) error {
	if limit <= 0 {
		limit = DefaultLimit
	}
	for start := 0; start < n; start += limit {
		if err := ctx.Err(); err != nil {
			return apperr.BatchOperation(fmt.Sprintf("window at item %d not started", start), err)
		}
		end := min(start+limit, n)

		g, wctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				if err := call(wctx, i); err != nil {
					return apperr.BatchOperation(fmt.Sprintf("item %d", i), err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}
