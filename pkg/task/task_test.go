package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingTask settles only when released or canceled. cancels counts
// cancellation requests so tests can assert exactly-once delivery.
type blockingTask struct {
	base
	release chan struct{}
	cancels int32
	ran     int32
}

func newBlockingTask(name string) *blockingTask {
	return &blockingTask{base: newBase(name), release: make(chan struct{})}
}

func (t *blockingTask) Run(ctx context.Context) error {
	ctx, err := t.begin(ctx)
	if err != nil {
		return err
	}
	defer t.finish()
	atomic.AddInt32(&t.ran, 1)
	select {
	case <-t.release:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ErrCanceled, t.Name())
	}
}

func (t *blockingTask) Cancel() {
	atomic.AddInt32(&t.cancels, 1)
	t.base.Cancel()
}

func (t *blockingTask) didRun() bool { return atomic.LoadInt32(&t.ran) > 0 }

// stubbornTask ignores cancellation entirely and settles only when
// released, to exercise the settle-after-all guarantee. started is
// closed once Run has begun so tests can inject failures only after
// the task is genuinely running.
type stubbornTask struct {
	base
	started chan struct{}
	release chan struct{}
}

func newStubbornTask(name string) *stubbornTask {
	return &stubbornTask{base: newBase(name), started: make(chan struct{}), release: make(chan struct{})}
}

func (t *stubbornTask) Run(ctx context.Context) error {
	if _, err := t.begin(ctx); err != nil {
		return err
	}
	defer t.finish()
	close(t.started)
	<-t.release
	return nil
}

func TestTaskCancelBeforeRunRejectsImmediately(t *testing.T) {
	ran := false
	tk := New("never", func(ctx context.Context) error {
		ran = true
		return nil
	})
	tk.Cancel()

	err := tk.Run(context.Background())
	require.ErrorIs(t, err, ErrCanceled)
	assert.False(t, ran, "canceled task must not perform any work")
}

func TestTaskRunTwiceRejects(t *testing.T) {
	tk := New("once", func(ctx context.Context) error { return nil })
	require.NoError(t, tk.Run(context.Background()))

	err := tk.Run(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRun)
}

func TestTaskRunTwiceRejectsEvenAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	tk := New("once", func(ctx context.Context) error { return boom })
	require.Error(t, tk.Run(context.Background()))
	require.ErrorIs(t, tk.Run(context.Background()), ErrAlreadyRun)
}

func TestTaskCancelAfterCompletionIsNoop(t *testing.T) {
	tk := New("done", func(ctx context.Context) error { return nil })
	require.NoError(t, tk.Run(context.Background()))
	tk.Cancel()
	tk.Cancel()
}

func TestTaskHierarchicalName(t *testing.T) {
	child := New("child", func(ctx context.Context) error { return nil })
	g := NewSerialGroup("parent", []Task{child})
	assert.Equal(t, "parent/child", child.Name())
	assert.Equal(t, "parent", g.Name())
}

func TestSerialGroupRunsInOrder(t *testing.T) {
	var order []string
	mk := func(name string) Task {
		return New(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	g := NewSerialGroup("serial", []Task{mk("a"), mk("b"), mk("c")})
	require.NoError(t, g.Run(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestSerialGroupStopsOnFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	var ranFirst, ranLast bool
	first := New("first", func(ctx context.Context) error {
		ranFirst = true
		return nil
	})
	failing := New("failing", func(ctx context.Context) error { return boom })
	last := New("last", func(ctx context.Context) error {
		ranLast = true
		return nil
	})

	g := NewSerialGroup("serial", []Task{first, failing, last})
	err := g.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.True(t, ranFirst)
	assert.False(t, ranLast, "tasks after the failing one must never start")

	// The never-started tail was pre-canceled, so running it rejects.
	require.ErrorIs(t, last.Run(context.Background()), ErrCanceled)
}

func TestSerialGroupCancelForwardsToRunningChild(t *testing.T) {
	running := newBlockingTask("running")
	tail := newBlockingTask("tail")
	g := NewSerialGroup("serial", []Task{running, tail})

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	require.Eventually(t, running.didRun, time.Second, time.Millisecond)
	g.Cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrCanceled)
	case <-time.After(time.Second):
		t.Fatal("serial group did not settle after cancel")
	}
	assert.False(t, tail.didRun(), "pre-canceled child must not start")
}

func TestParallelGroupAllSucceed(t *testing.T) {
	var n int32
	mk := func(name string) Task {
		return New(name, func(ctx context.Context) error {
			atomic.AddInt32(&n, 1)
			return nil
		})
	}
	g := NewParallelGroup("parallel", []Task{mk("a"), mk("b"), mk("c")})
	require.NoError(t, g.Run(context.Background()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&n))
}

func TestParallelGroupFailureCancelsSiblingsOnce(t *testing.T) {
	boom := errors.New("boom")
	slow := newBlockingTask("slow")
	failing := New("failing", func(ctx context.Context) error { return boom })

	g := NewParallelGroup("parallel", []Task{slow, failing})
	err := g.Run(context.Background())

	require.ErrorIs(t, err, boom, "root cause must not be masked by sibling cancellation")
	assert.Equal(t, int32(1), atomic.LoadInt32(&slow.cancels), "sibling must see exactly one cancellation")
}

func TestParallelGroupSettlesAfterAllChildren(t *testing.T) {
	boom := errors.New("boom")
	stubborn := newStubbornTask("stubborn")
	// Fail only once the stubborn sibling is actually running, so the
	// settle-after-all window is established before the failure.
	failing := New("failing", func(ctx context.Context) error {
		<-stubborn.started
		return boom
	})
	g := NewParallelGroup("parallel", []Task{stubborn, failing})

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	// The group must not settle while a child is still running, even
	// though another child already failed.
	select {
	case <-done:
		t.Fatal("group settled before all children")
	case <-time.After(50 * time.Millisecond):
	}

	close(stubborn.release)
	require.ErrorIs(t, <-done, boom)
}

func TestTimeoutTaskCancelsSlowChild(t *testing.T) {
	slow := newBlockingTask("slow")
	w := WithTimeout("deadline", slow, 20*time.Millisecond)

	err := w.Run(context.Background())
	require.ErrorIs(t, err, ErrTimedOut)
	assert.Equal(t, int32(1), atomic.LoadInt32(&slow.cancels))
}

func TestTimeoutTaskFastChildGetsNoCancellation(t *testing.T) {
	fast := newBlockingTask("fast")
	close(fast.release)
	w := WithTimeout("deadline", fast, time.Second)

	require.NoError(t, w.Run(context.Background()))
	assert.Zero(t, atomic.LoadInt32(&fast.cancels))
}

func TestTimeoutTaskPropagatesChildError(t *testing.T) {
	boom := errors.New("boom")
	w := WithTimeout("deadline", New("failing", func(ctx context.Context) error { return boom }), time.Second)
	require.ErrorIs(t, w.Run(context.Background()), boom)
}
