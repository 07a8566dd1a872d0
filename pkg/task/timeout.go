package task

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrTimedOut is returned by a timeout wrapper whose child did not settle
// within the configured duration.
var ErrTimedOut = errors.New("task timed out")

// TimeoutTask races a child task against a duration. If the timer fires
// first the child receives exactly one cancellation and the wrapper fails
// with ErrTimedOut; the wrapper still waits for the child to settle so
// nothing keeps running past it. If the child settles first the timer is
// stopped and no cancellation is sent.
type TimeoutTask struct {
	base
	child   Task
	timeout time.Duration
}

// WithTimeout wraps child with a deadline.
func WithTimeout(name string, child Task, timeout time.Duration) *TimeoutTask {
	t := &TimeoutTask{base: newBase(name), child: child, timeout: timeout}
	child.SetParent(t)
	return t
}

func (t *TimeoutTask) Run(ctx context.Context) error {
	ctx, err := t.begin(ctx)
	if err != nil {
		return err
	}
	defer t.finish()

	done := make(chan error, 1)
	go func() {
		done <- t.child.Run(ctx)
	}()

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		t.child.Cancel()
		<-done
		return fmt.Errorf("%s after %v: %w", t.Name(), t.timeout, ErrTimedOut)
	}
}

// Cancel forwards to the child.
func (t *TimeoutTask) Cancel() {
	t.base.Cancel()
	t.child.Cancel()
}
