package notification

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Fanout runs every op concurrently and waits for all of them. errs[i] is
// the result of ops[i]; one failing op does not cancel the rest.
func Fanout(ctx context.Context, ops []func(context.Context) error) []error {
	errs := make([]error, len(ops))
	var g errgroup.Group
	for i, op := range ops {
		g.Go(func() error {
			errs[i] = op(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
