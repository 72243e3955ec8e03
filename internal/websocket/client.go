package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"lexidraft-realtime/internal/auth"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrClientClosed  = errors.New("client closed")
	ErrSendQueueFull = errors.New("client send queue full")
)

// Conn is the subset of *websocket.Conn the client needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// ConnState is the lifecycle state of a client.
type ConnState int32

const (
	StateUnauthenticated ConnState = iota
	StateAuthenticated
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Client is one live websocket connection. It starts unauthenticated,
// becomes authenticated after a verified "authenticate" frame and ends
// closed. Closed is terminal.
type Client struct {
	id   string
	hub  *Hub
	conn Conn
	opts Options
	send chan []byte

	// mu serializes state transitions with registry membership.
	mu       sync.Mutex
	state    atomic.Int32
	identity *auth.Identity

	closeCode   int
	closeReason string

	// only touched by the read goroutine
	authFailures int

	authTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc

	connectedAt  time.Time
	lastActivity atomic.Int64
}

// NewClient wraps conn. The client is not tracked by the hub and its pumps
// are not running until the hub attaches it.
func NewClient(hub *Hub, conn Conn) *Client {
	opts := DefaultOptions()
	if hub != nil {
		opts = hub.opts
	}
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	c := &Client{
		id:          uuid.New().String(),
		hub:         hub,
		conn:        conn,
		opts:        opts,
		send:        make(chan []byte, opts.SendBufferSize),
		ctx:         ctx,
		cancel:      cancel,
		connectedAt: now,
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Client) IsAuthenticated() bool {
	return c.State() == StateAuthenticated
}

func (c *Client) IsClosed() bool {
	return c.State() == StateClosed
}

// Identity returns the verified identity, or nil before authentication.
func (c *Client) Identity() *auth.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// UserID returns the authenticated subject, or "" before authentication.
func (c *Client) UserID() string {
	if id := c.Identity(); id != nil {
		return id.SubjectID
	}
	return ""
}

func (c *Client) ConnectedAt() time.Time {
	return c.connectedAt
}

func (c *Client) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Context is cancelled when the client closes.
func (c *Client) Context() context.Context {
	return c.ctx
}

// Enqueue hands a serialized frame to the write pump without blocking.
// A full queue marks the client as a slow consumer and closes it.
func (c *Client) Enqueue(data []byte) error {
	if c.IsClosed() {
		return ErrClientClosed
	}
	select {
	case <-c.ctx.Done():
		return ErrClientClosed
	case c.send <- data:
		return nil
	default:
		slog.Warn("Send queue full, closing client", "clientID", c.id, "userID", c.UserID())
		go c.Close(websocket.CloseTryAgainLater, "send queue full")
		return ErrSendQueueFull
	}
}

// SendMessage serializes msg and enqueues it.
func (c *Client) SendMessage(msg *OutboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}
	return c.Enqueue(data)
}

// Close moves the client to the closed state. If it was authenticated it is
// removed from the registry before the state changes. Calling Close more
// than once is a no-op. A zero code closes with CloseNormalClosure.
func (c *Client) Close(code int, reason string) {
	c.closeIf(nil, code, reason)
}

func (c *Client) closeIf(cond func() bool, code int, reason string) bool {
	c.mu.Lock()
	if c.State() == StateClosed || (cond != nil && !cond()) {
		c.mu.Unlock()
		return false
	}
	identity := c.identity
	if identity != nil && c.hub != nil {
		c.hub.registry.Remove(identity.SubjectID, c)
	}
	if code == 0 {
		code = websocket.CloseNormalClosure
	}
	c.closeCode = code
	c.closeReason = reason
	c.state.Store(int32(StateClosed))
	c.mu.Unlock()

	c.stopAuthTimer()
	c.cancel()
	if c.hub != nil {
		c.hub.untrack(c)
	}

	userID := ""
	if identity != nil {
		userID = identity.SubjectID
	}
	slog.Info("Client closed", "clientID", c.id, "userID", userID, "code", code, "reason", reason)
	return true
}

// bind performs the unauthenticated to authenticated transition.
func (c *Client) bind(identity *auth.Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != StateUnauthenticated {
		return false
	}
	c.identity = identity
	if c.hub != nil {
		c.hub.registry.Add(identity.SubjectID, c)
	}
	c.state.Store(int32(StateAuthenticated))
	return true
}

func (c *Client) armAuthTimer(grace time.Duration) {
	if grace <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authTimer = time.AfterFunc(grace, func() {
		closed := c.closeIf(func() bool {
			return c.State() == StateUnauthenticated
		}, websocket.ClosePolicyViolation, "authentication timeout")
		if closed {
			slog.Info("Closed unauthenticated client after grace period", "clientID", c.id, "grace", grace)
		}
	})
}

func (c *Client) stopAuthTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authTimer != nil {
		c.authTimer.Stop()
	}
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// readPump processes inbound frames in arrival order until the transport fails.
func (c *Client) readPump() {
	defer c.Close(0, "")

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && !c.IsClosed() {
				slog.Warn("WebSocket read error", "clientID", c.id, "userID", c.UserID(), "error", err)
			} else {
				slog.Debug("WebSocket connection closed", "clientID", c.id, "userID", c.UserID(), "error", err)
			}
			return
		}
		c.touch()
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		c.handleFrame(data)
	}
}

// writePump owns every write to the socket. On close it flushes what is
// already queued, sends the close frame and closes the transport.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.flushAndClose()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("Error writing message", "clientID", c.id, "userID", c.UserID(), "error", err)
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("Error sending ping", "clientID", c.id, "userID", c.UserID(), "error", err)
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) flushAndClose() {
	deadline := time.Now().Add(c.opts.WriteWait)
	_ = c.conn.SetWriteDeadline(deadline)
	for drained := false; !drained; {
		select {
		case data := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				drained = true
			}
		default:
			drained = true
		}
	}

	c.mu.Lock()
	code, reason := c.closeCode, c.closeReason
	c.mu.Unlock()
	if code != websocket.CloseAbnormalClosure {
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	}
	_ = c.conn.Close()
}

func (c *Client) handleFrame(data []byte) {
	msg, err := ParseInbound(data)
	if err != nil {
		slog.Warn("Dropping malformed message", "clientID", c.id, "userID", c.UserID(), "error", err)
		return
	}

	switch msg.Type {
	case MessageTypeHeartbeat:
		c.reply(NewHeartbeatMessage())
	case MessageTypePing:
		c.reply(NewPongMessage())
	case MessageTypeAuthenticate:
		c.handleAuthenticate(msg)
	default:
		if !c.IsAuthenticated() {
			c.reply(NewErrorMessage(ErrorCodeUnauthenticated, "authenticate before sending "+msg.Type.String()))
			return
		}
		if c.hub != nil {
			c.hub.dispatch(c, msg)
		}
	}
}

func (c *Client) handleAuthenticate(msg *InboundMessage) {
	if c.IsAuthenticated() {
		c.reply(NewAuthErrorMessage("already authenticated"))
		return
	}

	var payload AuthenticatePayload
	if err := msg.Decode(&payload); err != nil {
		c.authFailed(err)
		return
	}
	if c.hub == nil || c.hub.verifier == nil {
		c.authFailed(errors.New("no credential verifier configured"))
		return
	}

	identity, err := c.hub.verifier.Verify(payload.Token)
	if err != nil {
		c.authFailed(err)
		return
	}
	if !c.bind(identity) {
		return
	}
	c.stopAuthTimer()

	slog.Info("Client authenticated", "clientID", c.id, "userID", identity.SubjectID, "role", identity.Role)
	c.reply(NewAuthSuccessMessage(identity.SubjectID, identity.Role))
}

// authFailed reports the failure and leaves the client unauthenticated so it
// can retry, unless the attempt budget is exhausted.
func (c *Client) authFailed(err error) {
	c.authFailures++
	slog.Info("Authentication failed", "clientID", c.id, "attempt", c.authFailures, "error", err)
	c.reply(NewAuthErrorMessage(authFailureMessage(err)))

	if limit := c.opts.MaxAuthAttempts; limit > 0 && c.authFailures >= limit {
		c.Close(websocket.ClosePolicyViolation, "too many authentication attempts")
	}
}

func (c *Client) reply(msg *OutboundMessage) {
	if err := c.SendMessage(msg); err != nil {
		slog.Debug("Reply dropped", "clientID", c.id, "type", msg.Type, "error", err)
	}
}

func authFailureMessage(err error) string {
	var verr *auth.VerificationError
	if !errors.As(err, &verr) {
		if errors.Is(err, ErrInvalidPayload) {
			return "invalid authenticate payload"
		}
		return "authentication failed"
	}
	switch verr.Reason {
	case auth.ReasonExpired:
		return "token expired"
	case auth.ReasonNotYetValid:
		return "token not valid yet"
	case auth.ReasonSignature:
		return "invalid token signature"
	case auth.ReasonMissingSubject:
		return "token has no subject"
	default:
		return "malformed token"
	}
}
