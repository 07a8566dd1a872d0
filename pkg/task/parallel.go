package task

import (
	"context"
	"sync"
)

// ParallelGroup runs child tasks concurrently and succeeds only when all
// of them succeed. On the first child failure the remaining children
// receive exactly one cancellation request, and the group settles only
// after every child has settled, so no child is ever left running.
type ParallelGroup struct {
	base
	children []Task

	cancelSiblings sync.Once
	errOnce        sync.Once
	firstErr       error
}

// NewParallelGroup composes children into a concurrent group.
func NewParallelGroup(name string, children []Task) *ParallelGroup {
	g := &ParallelGroup{base: newBase(name), children: children}
	for _, c := range children {
		c.SetParent(g)
	}
	return g
}

func (g *ParallelGroup) Run(ctx context.Context) error {
	ctx, err := g.begin(ctx)
	if err != nil {
		return err
	}
	defer g.finish()

	var wg sync.WaitGroup
	for i, child := range g.children {
		wg.Add(1)
		go func(i int, child Task) {
			defer wg.Done()
			if err := child.Run(ctx); err != nil {
				// Keep the root cause: siblings canceled because of this
				// failure settle with ErrCanceled, which must not mask it.
				g.errOnce.Do(func() { g.firstErr = err })
				g.cancelOthers(i)
			}
		}(i, child)
	}
	wg.Wait()
	return g.firstErr
}

// Cancel forwards a single cancellation to every child.
func (g *ParallelGroup) Cancel() {
	g.base.Cancel()
	g.cancelOthers(-1)
}

// cancelOthers cancels all children except the one at index skip. The
// sync.Once guarantees each child sees at most one cancellation request
// from this group regardless of how many siblings fail.
func (g *ParallelGroup) cancelOthers(skip int) {
	g.cancelSiblings.Do(func() {
		for i, c := range g.children {
			if i == skip {
				continue
			}
			c.Cancel()
		}
	})
}
