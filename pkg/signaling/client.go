package signaling

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"

	"github.com/arzzra/meetkit/pkg/status"
)

// Client connection states.
const (
	StateIdle    = "idle"
	StateOpening = "opening"
	StateOpen    = "open"
	StateClosing = "closing"
	StateClosed  = "closed"
)

// ErrNotOpen is returned when a frame that requires an open connection is
// sent after the connection closed.
var ErrNotOpen = errors.New("signaling connection is not open")

// Config configures a signaling Client.
type Config struct {
	// URL is the websocket endpoint, including any session parameters.
	URL string

	// JoinToken authorizes the connection.
	JoinToken string

	// DialTimeout bounds the websocket handshake. Zero means 10s.
	DialTimeout time.Duration

	Dialer  *websocket.Dialer
	Logger  *slog.Logger
	Metrics *Metrics
}

// Client is a framed signaling connection. A Client is used for exactly
// one connection: the session controller builds a fresh one per attempt.
//
// Lifecycle: Idle -> Opening -> Open -> Closing -> Closed. Sends that
// require Open (join, subscribe) wait for it; leave is best-effort and
// tolerates Closed. Unrecognized inbound frame types are ignored.
type Client struct {
	cfg       Config
	machine   *fsm.FSM
	observers *observerRegistry

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu sync.Mutex

	openCh    chan struct{}
	closedCh  chan struct{}
	closeOnce sync.Once
}

// NewClient creates an idle client.
func NewClient(cfg Config) *Client {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	c := &Client{
		cfg:       cfg,
		observers: newObserverRegistry(),
		openCh:    make(chan struct{}),
		closedCh:  make(chan struct{}),
	}
	c.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: "open", Src: []string{StateIdle}, Dst: StateOpening},
			{Name: "opened", Src: []string{StateOpening}, Dst: StateOpen},
			{Name: "fail", Src: []string{StateOpening, StateOpen}, Dst: StateClosed},
			{Name: "close", Src: []string{StateOpening, StateOpen}, Dst: StateClosing},
			{Name: "closed", Src: []string{StateOpening, StateOpen, StateClosing}, Dst: StateClosed},
		},
		fsm.Callbacks{},
	)
	return c
}

func (c *Client) logger() *slog.Logger {
	if c.cfg.Logger != nil {
		return c.cfg.Logger
	}
	return slog.Default()
}

// State returns the current lifecycle state.
func (c *Client) State() string {
	return c.machine.Current()
}

// Subscribe registers a handler for client events. The returned
// subscription may be removed from within the handler itself.
func (c *Client) Subscribe(h Handler) *Subscription {
	return c.observers.subscribe(h)
}

// Unsubscribe removes a previously registered handler.
func (c *Client) Unsubscribe(s *Subscription) {
	c.observers.unsubscribe(s)
}

// Connect dials the signaling endpoint and starts the reader.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.machine.Event(ctx, "open"); err != nil {
		return errors.Wrap(err, "signaling connect")
	}

	dialer := c.cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	}
	header := http.Header{}
	if c.cfg.JoinToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.JoinToken)
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header) //nolint:bodyclose
	if err != nil {
		_ = c.machine.Event(ctx, "fail")
		c.markClosed()
		c.observers.dispatch(Event{
			Type:   EventFailed,
			Status: status.SignalingRequestFailed,
			Err:    err,
		})
		return status.NewError(status.SignalingRequestFailed, "OpenSignalingConnection", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	_ = c.machine.Event(ctx, "opened")
	close(c.openCh)
	c.cfg.Metrics.connected()
	c.logger().Debug("signaling connection open", slog.String("url", c.cfg.URL))
	c.observers.dispatch(Event{Type: EventConnected})

	go c.readLoop(conn)
	return nil
}

// readLoop decodes inbound frames until the connection dies.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		frame, derr := Decode(data)
		if derr != nil {
			c.logger().Warn("dropping malformed signaling frame", slog.String("error", derr.Error()))
			continue
		}
		if !frame.Type.Known() {
			// Forward compatible: newer peers may send frame kinds this
			// client does not understand.
			c.logger().Debug("ignoring unrecognized frame type")
			continue
		}
		c.cfg.Metrics.frameReceived(frame.Type)
		c.observers.dispatch(Event{Type: EventFrameReceived, Frame: frame})
	}
}

func (c *Client) handleReadError(err error) {
	closeCode := 0
	st := status.SignalingRequestFailed
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		closeCode = ce.Code
		st = status.FromCloseCode(ce.Code)
	}
	_ = c.machine.Event(context.Background(), "closed")
	c.closeOnce.Do(func() {
		close(c.closedCh)
		c.logger().Debug("signaling connection closed by peer",
			slog.Int("code", closeCode),
			slog.String("status", st.String()))
		c.observers.dispatch(Event{
			Type:      EventClosed,
			CloseCode: closeCode,
			Status:    st,
			Err:       err,
		})
	})
}

// markClosed settles waiters without dispatching a close event; used when
// the connection never opened.
func (c *Client) markClosed() {
	c.closeOnce.Do(func() { close(c.closedCh) })
}

// Close shuts the connection down from the local side. It is safe to
// call in any state and never fails the caller.
func (c *Client) Close(ctx context.Context) {
	if err := c.machine.Event(ctx, "close"); err != nil {
		// Already closing or closed.
		return
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}
	_ = c.machine.Event(ctx, "closed")
	c.closeOnce.Do(func() {
		close(c.closedCh)
		c.observers.dispatch(Event{Type: EventClosed, CloseCode: websocket.CloseNormalClosure, Status: status.OK})
	})
}

// waitOpen blocks until the connection is open, closed, or ctx is done.
func (c *Client) waitOpen(ctx context.Context) error {
	select {
	case <-c.openCh:
		return nil
	case <-c.closedCh:
		return ErrNotOpen
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) send(f *Frame) error {
	data, err := Encode(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		c.cfg.Metrics.sendFailed()
		return errors.Wrapf(err, "failed to send %s", f.Type)
	}
	c.cfg.Metrics.frameSent(f.Type)
	return nil
}

// SendJoin sends a JOIN frame. It waits for the connection to open.
func (c *Client) SendJoin(ctx context.Context, join *JoinFrame) error {
	if err := c.waitOpen(ctx); err != nil {
		return err
	}
	return c.send(&Frame{Type: FrameJoin, Join: join})
}

// SendSubscribe sends a SUBSCRIBE frame. It waits for the connection to
// open.
func (c *Client) SendSubscribe(ctx context.Context, sub *SubscribeFrame) error {
	if err := c.waitOpen(ctx); err != nil {
		return err
	}
	return c.send(&Frame{Type: FrameSubscribe, Subscribe: sub})
}

// SendClientMetrics sends a CLIENT_METRICS frame if the connection is
// open; otherwise the sample is dropped.
func (c *Client) SendClientMetrics(metrics *ClientMetricsFrame) {
	if c.State() != StateOpen {
		return
	}
	if err := c.send(&Frame{Type: FrameClientMetrics, ClientMetrics: metrics}); err != nil {
		c.logger().Debug("dropping client metrics frame", slog.String("error", err.Error()))
	}
}

// SendLeave sends a LEAVE frame best-effort: it tolerates a closed
// connection and never reports failure.
func (c *Client) SendLeave() {
	if err := c.send(&Frame{Type: FrameLeave}); err != nil {
		c.logger().Debug("leave not delivered", slog.String("error", err.Error()))
	}
}
