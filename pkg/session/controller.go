package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/meetkit/pkg/signaling"
	"github.com/arzzra/meetkit/pkg/status"
	"github.com/arzzra/meetkit/pkg/task"
)

// Session lifecycle states.
const (
	StateNotStarted   = "not_started"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateReconnecting = "reconnecting"
	StateDisconnected = "disconnected"
	StateTerminated   = "terminated"
)

// Controller owns the session lifecycle. It runs the connection pipeline,
// classifies every failure into exactly one SessionStatus, and decides
// with the Reconnector whether to retry or stop. At most one pipeline
// attempt is in flight at any time.
type Controller struct {
	cfg         Config
	machine     *fsm.FSM
	reconnector *Reconnector
	presence    *PresenceChannel

	obsMu     sync.Mutex
	observers []Observer

	mu            sync.Mutex
	sc            *Context
	pipeline      task.Task
	attemptCancel context.CancelFunc
	pendingDrop   *status.SessionStatus

	dropCh   chan status.SessionStatus
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	endOnce  sync.Once
}

// NewController creates a controller for one meeting session.
func NewController(cfg Config) *Controller {
	c := &Controller{
		cfg:         cfg,
		reconnector: NewReconnector(cfg.Reconnect, nil),
		presence:    NewPresenceChannel(),
		dropCh:      make(chan status.SessionStatus, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	c.machine = fsm.NewFSM(
		StateNotStarted,
		fsm.Events{
			{Name: "start", Src: []string{StateNotStarted}, Dst: StateConnecting},
			{Name: "connected", Src: []string{StateConnecting}, Dst: StateConnected},
			{Name: "reconnect", Src: []string{StateConnecting, StateConnected}, Dst: StateReconnecting},
			{Name: "retry", Src: []string{StateReconnecting}, Dst: StateConnecting},
			{Name: "disconnect", Src: []string{StateConnecting, StateConnected, StateReconnecting}, Dst: StateDisconnected},
			{Name: "terminate", Src: []string{
				StateNotStarted, StateConnecting, StateConnected,
				StateReconnecting, StateDisconnected,
			}, Dst: StateTerminated},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				c.cfg.Metrics.transition(e.Src, e.Dst)
				c.cfg.logger().Debug("session state transition",
					slog.String("from", e.Src),
					slog.String("to", e.Dst))
			},
		},
	)
	return c
}

// Presence returns the realtime presence channel the host publishes
// attendee events into.
func (c *Controller) Presence() *PresenceChannel { return c.presence }

// State returns the current lifecycle state.
func (c *Controller) State() string { return c.machine.Current() }

// Done is closed once the session reaches a terminal state after Start.
func (c *Controller) Done() <-chan struct{} { return c.doneCh }

// AddObserver registers a lifecycle observer.
func (c *Controller) AddObserver(o Observer) {
	c.obsMu.Lock()
	c.observers = append(c.observers, o)
	c.obsMu.Unlock()
}

// RemoveObserver removes a previously registered observer.
func (c *Controller) RemoveObserver(o Observer) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	for i, cur := range c.observers {
		if cur == o {
			c.observers = append(c.observers[:i], c.observers[i+1:]...)
			return
		}
	}
}

func (c *Controller) eachObserver(fn func(Observer)) {
	c.obsMu.Lock()
	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)
	c.obsMu.Unlock()
	for _, o := range observers {
		fn(o)
	}
}

// Start launches the session. It returns immediately; progress is
// reported through observers. Starting a terminated session is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	if c.machine.Current() == StateTerminated {
		c.cfg.logger().Warn("start requested on terminated session, ignoring")
		return nil
	}
	if err := c.machine.Event(ctx, "start"); err != nil {
		return status.NewError(status.StateMachineTransitionFailed, "Start", err)
	}
	go c.run(ctx)
	return nil
}

// Stop leaves the session: a best-effort cleanup pipeline runs with its
// own short timeout and the session stops with status Left. Stopping a
// terminated session is a no-op.
func (c *Controller) Stop() {
	if c.machine.Current() == StateTerminated {
		c.cfg.logger().Warn("stop requested on terminated session, ignoring")
		return
	}
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.mu.Lock()
		pipeline := c.pipeline
		cancel := c.attemptCancel
		c.mu.Unlock()
		if pipeline != nil {
			pipeline.Cancel()
		}
		if cancel != nil {
			cancel()
		}
	})
}

// Terminate irreversibly ends the controller. Any transition request
// received afterwards is logged and ignored.
func (c *Controller) Terminate() {
	if c.machine.Current() == StateTerminated {
		return
	}
	c.Stop()
	_ = c.machine.Event(context.Background(), "terminate")
}

// ReconnectWithStatus feeds an external fault (e.g. a connection health
// signal) into the controller as if the transport had dropped with that
// status.
func (c *Controller) ReconnectWithStatus(st status.SessionStatus) {
	cur := c.machine.Current()
	if cur != StateConnecting && cur != StateConnected {
		c.cfg.logger().Debug("reconnect request ignored", slog.String("state", cur))
		return
	}
	c.mu.Lock()
	c.pendingDrop = &st
	pipeline := c.pipeline
	c.mu.Unlock()
	c.pushDrop(st)
	if cur == StateConnecting && pipeline != nil {
		pipeline.Cancel()
	}
}

func (c *Controller) pushDrop(st status.SessionStatus) {
	select {
	case c.dropCh <- st:
	default:
	}
}

func (c *Controller) takePendingDrop(fallback status.SessionStatus) status.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingDrop != nil {
		st := *c.pendingDrop
		c.pendingDrop = nil
		return st
	}
	return fallback
}

// run is the session loop: one iteration per connection attempt.
func (c *Controller) run(ctx context.Context) {
	defer close(c.doneCh)
	// A Stop that arrived before Start still wins.
	if c.stopRequested() {
		c.finish(status.Left, true)
		return
	}
	reconnecting := false
	for {
		c.eachObserver(func(o Observer) { o.SessionDidStartConnecting(reconnecting) })
		c.cfg.Metrics.connectAttempt()

		var st status.SessionStatus
		err := c.runPipeline(ctx)
		if err == nil {
			if terr := c.machine.Event(ctx, "connected"); terr != nil {
				st = status.StateMachineTransitionFailed
			} else {
				c.reconnector.Reset()
				c.eachObserver(func(o Observer) { o.SessionDidStart() })

				// A drop parked during the attempt belongs to that attempt,
				// not to the connected period that starts now.
				select {
				case <-c.dropCh:
				default:
				}
				c.watchConnectedSession()

				var stopped bool
				st, stopped = c.waitForDrop(ctx)
				if stopped {
					c.finish(st, true)
					return
				}
				st = c.takePendingDrop(st)
			}
		} else {
			if c.stopRequested() || ctx.Err() != nil {
				c.finish(status.Left, true)
				return
			}
			st = c.takePendingDrop(status.FromError(err))
			c.cfg.logger().Debug("connect attempt failed",
				slog.String("status", st.String()),
				slog.String("error", err.Error()))
		}

		if !st.IsFailure() || st.IsTerminal() {
			c.finish(st, false)
			return
		}
		delay, retry := c.reconnector.ShouldRetry(st)
		if !retry {
			c.cfg.logger().Debug("reconnect budget exhausted", slog.String("status", st.String()))
			c.finish(st, false)
			return
		}

		c.cfg.Metrics.reconnectScheduled()
		_ = c.machine.Event(ctx, "reconnect")
		c.cfg.logger().Debug("reconnect scheduled",
			slog.String("status", st.String()),
			slog.Duration("delay", delay),
			slog.Int("attempt", c.reconnector.Attempt()))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-c.stopCh:
			timer.Stop()
			c.finish(status.Left, true)
			return
		case <-ctx.Done():
			timer.Stop()
			c.finish(status.Left, true)
			return
		}
		_ = c.machine.Event(ctx, "retry")
		reconnecting = true
	}
}

func (c *Controller) stopRequested() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// waitForDrop blocks while the session is connected. It returns the
// status of the fault that ended the connected period, or stopped=true
// when the caller left.
func (c *Controller) waitForDrop(ctx context.Context) (status.SessionStatus, bool) {
	select {
	case st := <-c.dropCh:
		return st, false
	case <-c.stopCh:
		return status.Left, true
	case <-ctx.Done():
		return status.Left, true
	}
}

// watchConnectedSession maps mid-session signaling faults (remote close,
// failing audio status frames) into drops. Every close initiated by the
// peer ends the connected period, even a normal closure: the transport
// is gone either way, and the mapped status decides between reconnect
// and a clean stop. A close dispatched by the local teardown carries no
// read error and is not a drop.
func (c *Controller) watchConnectedSession() {
	c.mu.Lock()
	sc := c.sc
	c.mu.Unlock()
	if sc == nil || sc.SignalingClient == nil {
		return
	}
	sc.SignalingClient.Subscribe(func(ev signaling.Event) {
		switch ev.Type {
		case signaling.EventClosed:
			if ev.Err == nil && !ev.Status.IsFailure() && !ev.Status.IsTerminal() {
				return
			}
			c.pushDrop(ev.Status)
		case signaling.EventFrameReceived:
			if ev.Frame.Type != signaling.FrameAudioStatus {
				return
			}
			st := status.FromAudioStatus(ev.Frame.AudioStatus.AudioStatus)
			if st.IsFailure() || st.IsTerminal() {
				c.pushDrop(st)
			}
		}
	})
}

// runPipeline enforces single-attempt exclusivity, rebuilds the session
// context, and runs the connect pipeline to completion.
func (c *Controller) runPipeline(ctx context.Context) error {
	c.mu.Lock()
	if c.pipeline != nil {
		// Never two attempts in flight: cancel the old pipeline first.
		c.pipeline.Cancel()
	}
	prev := c.sc
	c.sc = nil
	c.mu.Unlock()

	// Partial state from the previous attempt never leaks into this one,
	// except the offer: the next attempt checks its new offer against it
	// for synchronization-source compatibility.
	var previousOffer string
	if prev != nil {
		previousOffer = prev.LocalOffer
		c.cleanupContext(prev, false)
	}

	sc := newContext(&c.cfg, c.presence)
	sc.PreviousOffer = previousOffer
	attemptCtx, cancel := context.WithCancel(ctx)
	pipeline := c.buildPipeline(sc)

	c.mu.Lock()
	c.sc = sc
	c.pipeline = pipeline
	c.attemptCancel = cancel
	c.mu.Unlock()
	defer cancel()

	err := pipeline.Run(attemptCtx)

	c.mu.Lock()
	c.pipeline = nil
	c.attemptCancel = nil
	c.mu.Unlock()
	return err
}

// buildPipeline composes the connection-establishment tasks: serial
// where order matters, parallel where steps are independent, each
// network step wrapped with a timeout, and the whole attempt bounded by
// the connection timeout.
func (c *Controller) buildPipeline(sc *Context) task.Task {
	step := c.cfg.StepTimeout
	if step == 0 {
		step = 5 * time.Second
	}
	ice := c.cfg.ICEGatheringTimeout
	if ice == 0 {
		ice = 10 * time.Second
	}
	total := c.cfg.ConnectionTimeout
	if total == 0 {
		total = 15 * time.Second
	}

	serial := task.NewSerialGroup("Connect", []task.Task{
		task.WithTimeout("ReceiveTURNCredentialsTimeout", newReceiveTURNCredentialsTask(sc), step),
		task.WithTimeout("OpenSignalingConnectionTimeout", newOpenSignalingConnectionTask(sc), step),
		newCreatePeerConnectionTask(sc),
		newCreateSDPTask(sc),
		task.WithTimeout("SetLocalDescriptionTimeout", newSetLocalDescriptionTask(sc), step),
		task.NewParallelGroup("GatherAndJoin", []task.Task{
			task.WithTimeout("FinishGatheringICECandidatesTimeout", newFinishGatheringICECandidatesTask(sc), ice),
			task.WithTimeout("JoinAndReceiveIndexTimeout", newJoinAndReceiveIndexTask(sc), step),
		}),
		task.WithTimeout("SubscribeAckTimeout", newSubscribeAndReceiveAckTask(sc), step),
		task.WithTimeout("SetRemoteDescriptionTimeout", newSetRemoteDescriptionTask(sc), step),
		newWaitForAttendeePresenceTask(sc),
	})
	return task.WithTimeout("AudioVideoStart", serial, total)
}

// cleanupContext runs the best-effort teardown pipeline. Cleanup never
// fails the caller.
func (c *Controller) cleanupContext(sc *Context, leave bool) {
	timeout := c.cfg.CleanupTimeout
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	cleanup := task.WithTimeout("CleanupTimeout", newCleanupTask(sc, leave), timeout)
	if err := cleanup.Run(context.Background()); err != nil {
		c.cfg.logger().Debug("cleanup did not finish", slog.String("error", err.Error()))
	}
}

// finish moves the session to Disconnected with exactly one status and
// notifies observers exactly once.
func (c *Controller) finish(st status.SessionStatus, leave bool) {
	c.endOnce.Do(func() {
		c.mu.Lock()
		sc := c.sc
		c.sc = nil
		c.mu.Unlock()
		if sc != nil {
			c.cleanupContext(sc, leave)
		}
		_ = c.machine.Event(context.Background(), "disconnect")
		c.cfg.Metrics.stopped(st.String())
		c.cfg.logger().Debug("session stopped", slog.String("status", st.String()))
		c.eachObserver(func(o Observer) { o.SessionDidStopWithStatus(st) })
	})
}
