// Package parallel fans index-addressed work out to a bounded number of
// goroutines.
package parallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/YuminosukeSato/scitune/pkg/errors"
)

// ForEach calls fn(i) for i in [0, n) on at most workers goroutines
// (runtime.NumCPU() when workers <= 0). Every index runs even if another
// fails; a panic in fn becomes a PanicError. The error with the lowest index
// is returned, so the result does not depend on scheduling.
func ForEach(n, workers int, op string, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	errs := make([]error, n)
	var g errgroup.Group
	g.SetLimit(min(workers, n))
	for i := 0; i < n; i++ {
		g.Go(func() error {
			errs[i] = errors.SafeExecute(op, func() error { return fn(i) })
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err != nil {
			return errors.Wrapf(err, "%s %d", op, i)
		}
	}
	return nil
}
