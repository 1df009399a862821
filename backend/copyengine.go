package backend

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// AsyncCopyEngine fans each scatter range out to its own goroutine via
// errgroup, matching the spec's "copy N scatter ranges ... then call a
// completion" contract while giving independent ranges genuine
// concurrency, the way the teacher's pipeline code leans on
// golang.org/x/sync for fan-out/fan-in work.
type AsyncCopyEngine struct{}

func NewAsyncCopyEngine() *AsyncCopyEngine { return &AsyncCopyEngine{} }

func (e *AsyncCopyEngine) CopyIn(ctx context.Context, page []byte, ranges []CopyRange, done func(error)) {
	go func() {
		var g errgroup.Group
		for _, r := range ranges {
			r := r
			g.Go(func() error {
				copy(page[r.PageOffset:r.PageOffset+r.Length], r.Buf)
				return nil
			})
		}
		done(g.Wait())
	}()
}

func (e *AsyncCopyEngine) CopyOut(ctx context.Context, page []byte, ranges []CopyRange, done func(error)) {
	go func() {
		var g errgroup.Group
		for _, r := range ranges {
			r := r
			g.Go(func() error {
				copy(r.Buf, page[r.PageOffset:r.PageOffset+r.Length])
				return nil
			})
		}
		done(g.Wait())
	}()
}
