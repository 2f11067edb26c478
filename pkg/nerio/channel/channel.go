package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// DefaultKeepaliveInterval is how often the liveness probe is sent.
const DefaultKeepaliveInterval = 60 * time.Second

// Handler processes one inbound request and returns the response payload.
// Handler errors never reach the transport layer: the dispatch boundary
// converts them into error frames on the same correlation id.
type Handler func(ctx context.Context, requestID string, payload json.RawMessage) (any, error)

// Channel owns exactly one persistent connection to the orchestrator. It
// drives the connection state machine, dispatches inbound requests to
// registered handlers, reconnects on the fixed backoff ladder, and runs
// the keepalive loop.
type Channel struct {
	transport         Transport
	logger            *slog.Logger
	keepaliveInterval time.Duration

	// handlers maps each request type to exactly one handler. Registered
	// before Start; read-only afterwards.
	handlers map[RequestType]Handler

	// onClosed runs whenever the connection drops; the agent hooks the
	// tracker clear here.
	onClosed func()

	state atomic.Int32

	// mu serializes Start and Stop so overlapping calls never race the
	// transport handle.
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// writeMu allows one writer at a time on the transport.
	writeMu sync.Mutex

	lastKeepaliveAck atomic.Int64 // unix nanos, 0 until first ack
}

// New creates a channel over the given transport. keepaliveInterval falls
// back to DefaultKeepaliveInterval when non-positive.
func New(transport Transport, keepaliveInterval time.Duration, logger *slog.Logger) *Channel {
	if keepaliveInterval <= 0 {
		keepaliveInterval = DefaultKeepaliveInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		transport:         transport,
		logger:            logger.With("component", "channel"),
		keepaliveInterval: keepaliveInterval,
		handlers:          make(map[RequestType]Handler),
	}
}

// Handle registers the handler for a request type. Each type is wired to
// exactly one handler; registering twice is a wiring bug.
func (c *Channel) Handle(t RequestType, h Handler) error {
	if _, exists := c.handlers[t]; exists {
		return fmt.Errorf("handler for %q already registered", t)
	}
	c.handlers[t] = h
	return nil
}

// OnClosed sets the hook invoked when the connection drops.
func (c *Channel) OnClosed(fn func()) {
	c.onClosed = fn
}

// State returns the current connection state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// LastKeepaliveAck returns when the orchestrator last acknowledged a
// keepalive, or the zero time if it never has. Observable but not required
// for liveness.
func (c *Channel) LastKeepaliveAck() time.Time {
	nanos := c.lastKeepaliveAck.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Start connects and launches the listener and keepalive loops. Serialized
// against Stop by the connection mutex.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("channel already started")
	}

	c.state.Store(int32(StateConnecting))
	if err := c.transport.Connect(ctx); err != nil {
		c.state.Store(int32(StateDisconnected))
		return fmt.Errorf("initial connect: %w", err)
	}
	c.state.Store(int32(StateConnected))
	c.logger.Info("connected to orchestrator")

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.listen(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.keepaliveLoop(runCtx)
	}()

	return nil
}

// Stop cancels the listener and keepalive loops cooperatively and closes
// the transport. In-flight command executions are not forcibly cancelled;
// their results may simply fail to deliver.
func (c *Channel) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	c.cancel()
	err := c.transport.Close()
	c.wg.Wait()

	c.running = false
	c.state.Store(int32(StateDisconnected))
	c.logger.Info("channel stopped")
	return err
}

// listen reads frames until the run context is cancelled, reconnecting on
// the backoff ladder whenever the connection drops. No replay happens on
// reconnect; the orchestrator re-sends anything still pending.
func (c *Channel) listen(ctx context.Context) {
	for {
		data, err := c.transport.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			c.logger.Warn("connection lost", "error", err)
			if c.onClosed != nil {
				c.onClosed()
			}

			if !c.reconnect(ctx) {
				c.state.Store(int32(StateDisconnected))
				return
			}
			continue
		}

		c.dispatch(ctx, data)
	}
}

// reconnect retries the transport on the fixed ladder until it connects or
// the context is cancelled. Transport failures are never fatal to the
// process.
func (c *Channel) reconnect(ctx context.Context) bool {
	c.state.Store(int32(StateReconnecting))

	for attempt := 0; ; attempt++ {
		delay := ReconnectDelay(attempt)
		c.logger.Info("reconnecting", "attempt", attempt, "delay", delay.String())

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return false
			case <-timer.C:
			}
		}

		if err := c.transport.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return false
			}
			c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		c.state.Store(int32(StateConnected))
		c.logger.Info("reconnected to orchestrator", "attempts", attempt+1)
		return true
	}
}

// dispatch routes one inbound frame. Frames are dispatched in the order
// received; handlers run on their own goroutines, so completion order is
// unconstrained.
func (c *Channel) dispatch(ctx context.Context, data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn("discarding malformed frame", "error", err)
		return
	}

	if frame.Type == RequestKeepaliveAck {
		c.lastKeepaliveAck.Store(time.Now().UnixNano())
		c.logger.Debug("keepalive acknowledged")
		return
	}

	handler, ok := c.handlers[frame.Type]
	if !ok {
		c.logger.Warn("no handler for request type", "type", frame.Type, "request_id", frame.RequestID)
		c.respondError(ctx, frame.RequestID, "Unknown request type")
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runHandler(ctx, handler, frame)
	}()
}

// runHandler executes one handler and answers on the same correlation id.
// Panics and errors are contained here; they must never kill the
// connection.
func (c *Channel) runHandler(ctx context.Context, handler Handler, frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panicked",
				"type", frame.Type,
				"request_id", frame.RequestID,
				"panic", r,
			)
			c.respondError(ctx, frame.RequestID, UserFacingMessage(nil))
		}
	}()

	payload, err := handler(ctx, frame.RequestID, frame.Payload)
	if err != nil {
		c.logger.Error("handler failed",
			"type", frame.Type,
			"request_id", frame.RequestID,
			"error", err,
		)
		c.respondError(ctx, frame.RequestID, UserFacingMessage(err))
		return
	}

	// Command results travel the delivery path, not the channel; the
	// command handler returns no payload.
	if frame.Type == RequestCommand && payload == nil {
		return
	}

	c.respond(ctx, ResponseFrame{
		Type:      "response",
		RequestID: frame.RequestID,
		Success:   true,
		Payload:   payload,
	})
}

func (c *Channel) respondError(ctx context.Context, requestID, message string) {
	c.respond(ctx, ResponseFrame{
		Type:      "response",
		RequestID: requestID,
		Success:   false,
		Error:     message,
	})
}

func (c *Channel) respond(ctx context.Context, frame ResponseFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("marshal response frame", "request_id", frame.RequestID, "error", err)
		return
	}
	if err := c.write(ctx, data); err != nil {
		c.logger.Warn("send response frame", "request_id", frame.RequestID, "error", err)
	}
}

func (c *Channel) write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.Write(ctx, data)
}

// keepaliveLoop sends the sentinel correlation id on a fixed interval. The
// matching acknowledgement is observable via LastKeepaliveAck but not
// required for liveness.
func (c *Channel) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(c.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if c.State() != StateConnected {
			continue
		}

		data, err := json.Marshal(KeepaliveFrame{Type: "keepalive", CommandSyncID: KeepaliveSyncID})
		if err != nil {
			continue
		}
		if err := c.write(ctx, data); err != nil {
			c.logger.Debug("keepalive send failed", "error", err)
		}
	}
}
