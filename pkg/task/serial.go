package task

import (
	"context"
	"fmt"
	"sync"
)

// SerialGroup runs child tasks strictly in order. The first child failure
// stops the sequence: later children are never started and the error
// propagates. Cancel forwards to the child currently running and
// pre-cancels every child that has not started yet.
type SerialGroup struct {
	base
	children []Task

	runMu   sync.Mutex
	current int // index of running child, -1 when none
}

// NewSerialGroup composes children into a serial pipeline.
func NewSerialGroup(name string, children []Task) *SerialGroup {
	g := &SerialGroup{base: newBase(name), children: children, current: -1}
	for _, c := range children {
		c.SetParent(g)
	}
	return g
}

func (g *SerialGroup) Run(ctx context.Context) error {
	ctx, err := g.begin(ctx)
	if err != nil {
		return err
	}
	defer g.finish()

	for i, child := range g.children {
		if ctx.Err() != nil {
			g.cancelFrom(i)
			return fmt.Errorf("%s: %w", g.Name(), ErrCanceled)
		}
		g.setCurrent(i)
		err := child.Run(ctx)
		g.setCurrent(-1)
		if err != nil {
			g.cancelFrom(i + 1)
			return err
		}
	}
	return nil
}

// Cancel pre-cancels pending children and forwards to the running one.
func (g *SerialGroup) Cancel() {
	g.base.Cancel()
	g.runMu.Lock()
	from := g.current
	g.runMu.Unlock()
	if from < 0 {
		from = 0
	}
	g.cancelFrom(from)
}

func (g *SerialGroup) setCurrent(i int) {
	g.runMu.Lock()
	g.current = i
	g.runMu.Unlock()
}

func (g *SerialGroup) cancelFrom(i int) {
	for ; i < len(g.children); i++ {
		g.children[i].Cancel()
	}
}
