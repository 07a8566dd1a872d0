// Package task provides cancelable units of work and combinators to
// compose them into connection pipelines. A Task runs at most once,
// settles exactly once, and supports cooperative cancellation so that
// enclosing groups and timeouts never leak a running child.
package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// Contract violations. These are programming errors and are never retried.
var (
	// ErrAlreadyRun is returned when Run is invoked a second time on the
	// same task instance.
	ErrAlreadyRun = errors.New("task was already run")

	// ErrCanceled is returned when a task is canceled before or during Run.
	ErrCanceled = errors.New("task canceled")
)

// Task is a unit of work that runs to completion at most once and can be
// canceled cooperatively. Run blocks until the task settles and returns
// nil on success. Cancel is idempotent; canceling a task that already
// settled is a no-op, canceling a task that has not started yet makes the
// subsequent Run fail immediately without performing any work.
type Task interface {
	// Run executes the task. It may be called at most once.
	Run(ctx context.Context) error

	// Cancel requests cooperative cancellation. Safe to call at any time,
	// from any goroutine, any number of times.
	Cancel()

	// Name returns the hierarchical task name (parent/child) used in
	// diagnostics and error messages.
	Name() string

	// SetParent attaches a parent for name composition only. It carries
	// no ownership semantics and is set once by the enclosing combinator.
	SetParent(parent Task)
}

// base carries the bookkeeping shared by every task kind: the single-run
// guard, the cancel flag, and the parent link used for naming. Concrete
// tasks embed it and call begin/finish around their work.
type base struct {
	kind string

	mu       sync.Mutex
	parent   Task
	started  bool
	canceled bool
	cancelFn context.CancelFunc
}

func newBase(kind string) base {
	return base{kind: kind}
}

// Name composes parent/child names for diagnostics.
func (b *base) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nameLocked()
}

func (b *base) nameLocked() string {
	if b.parent != nil {
		return b.parent.Name() + "/" + b.kind
	}
	return b.kind
}

// SetParent attaches the parent used for name composition.
func (b *base) SetParent(parent Task) {
	b.mu.Lock()
	b.parent = parent
	b.mu.Unlock()
}

// begin claims the single Run slot and derives a context that Cancel
// aborts. Returns an error if the task already ran or was pre-canceled.
func (b *base) begin(ctx context.Context) (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil, fmt.Errorf("%s: %w", b.nameLocked(), ErrAlreadyRun)
	}
	b.started = true
	if b.canceled {
		return nil, fmt.Errorf("%s: %w", b.nameLocked(), ErrCanceled)
	}
	ctx, b.cancelFn = context.WithCancel(ctx)
	return ctx, nil
}

// finish releases the cancel context resources after Run settles.
func (b *base) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelFn != nil {
		b.cancelFn()
		b.cancelFn = nil
	}
}

// Cancel marks the task canceled and aborts a pending Run, if any.
func (b *base) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.canceled = true
	if b.cancelFn != nil {
		b.cancelFn()
	}
}

// Canceled reports whether Cancel has been requested.
func (b *base) Canceled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canceled
}

// runFunc adapts a function into a Task. The function receives a context
// that is canceled when the task is canceled and must return promptly
// once the context is done.
type runFunc struct {
	base
	fn func(ctx context.Context) error
}

// New wraps fn into a Task with the given name.
func New(name string, fn func(ctx context.Context) error) Task {
	return &runFunc{base: newBase(name), fn: fn}
}

func (t *runFunc) Run(ctx context.Context) error {
	ctx, err := t.begin(ctx)
	if err != nil {
		return err
	}
	defer t.finish()
	if err := t.fn(ctx); err != nil {
		return errors.Wrap(err, t.Name())
	}
	return nil
}
