package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"lexidraft-realtime/internal/auth"

	"github.com/gorilla/websocket"
)

var (
	ErrHubClosed          = errors.New("websocket hub closed")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// CredentialVerifier validates the token carried by an "authenticate" frame.
type CredentialVerifier interface {
	Verify(token string) (*auth.Identity, error)
}

// MessageHandler handles one domain message type sent by an authenticated client.
type MessageHandler interface {
	HandleMessage(ctx context.Context, client *Client, msg *InboundMessage) error
}

// HandlerFunc adapts a function to MessageHandler.
type HandlerFunc func(ctx context.Context, client *Client, msg *InboundMessage) error

func (f HandlerFunc) HandleMessage(ctx context.Context, client *Client, msg *InboundMessage) error {
	return f(ctx, client, msg)
}

// Options tunes connection handling.
type Options struct {
	// AuthGracePeriod bounds how long a connection may stay unauthenticated.
	AuthGracePeriod time.Duration
	// MaxAuthAttempts closes the connection after this many failed
	// authenticate frames. Zero means unlimited.
	MaxAuthAttempts int
	SendBufferSize  int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	// PingPeriod must be less than PongWait.
	PingPeriod     time.Duration
	AllowedOrigins []string
}

func DefaultOptions() Options {
	pongWait := 60 * time.Second
	return Options{
		AuthGracePeriod: 10 * time.Second,
		MaxAuthAttempts: 5,
		SendBufferSize:  256,
		MaxMessageSize:  64 * 1024,
		WriteWait:       10 * time.Second,
		PongWait:        pongWait,
		PingPeriod:      (pongWait * 9) / 10,
		AllowedOrigins:  DefaultAllowedOrigins,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.AuthGracePeriod == 0 {
		o.AuthGracePeriod = d.AuthGracePeriod
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = d.SendBufferSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.AllowedOrigins == nil {
		o.AllowedOrigins = d.AllowedOrigins
	}
	return o
}

// Hub owns the registry and the router and accepts new connections.
type Hub struct {
	opts     Options
	verifier CredentialVerifier
	registry *Registry
	router   *Router
	metrics  *ConnectionMetrics
	presence *presenceQueue
	upgrader websocket.Upgrader

	handlersMu sync.RWMutex
	handlers   map[MessageType]MessageHandler

	clientsMu sync.Mutex
	clients   map[*Client]struct{}
	closed    bool

	wg sync.WaitGroup
}

// NewHub builds a hub. presence may be nil.
func NewHub(verifier CredentialVerifier, opts Options, presence PresenceTracker) *Hub {
	opts = opts.withDefaults()
	registry := NewRegistry()
	metrics := NewConnectionMetrics(100)

	h := &Hub{
		opts:     opts,
		verifier: verifier,
		registry: registry,
		router:   NewRouter(registry, metrics),
		metrics:  metrics,
		upgrader: NewUpgrader(opts.AllowedOrigins),
		handlers: make(map[MessageType]MessageHandler),
		clients:  make(map[*Client]struct{}),
	}
	if presence != nil {
		h.presence = newPresenceQueue(presence)
		registry.OnTransition(h.presence.enqueue)
	}
	return h
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

func (h *Hub) Router() *Router {
	return h.router
}

func (h *Hub) Metrics() *ConnectionMetrics {
	return h.metrics
}

func (h *Hub) Stats() Stats {
	return h.registry.Count()
}

// PendingConnections counts connections that have not authenticated yet.
func (h *Hub) PendingConnections() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	n := 0
	for c := range h.clients {
		if c.State() == StateUnauthenticated {
			n++
		}
	}
	return n
}

// Handle registers the handler for a domain message type. Control types
// (authenticate, heartbeat, ping) are handled by the connection itself.
func (h *Hub) Handle(msgType MessageType, handler MessageHandler) {
	if msgType.IsControl() {
		panic(fmt.Sprintf("websocket: %s is a control message type", msgType))
	}
	if handler == nil {
		panic("websocket: nil handler for " + msgType.String())
	}
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.handlers[msgType] = handler
}

func (h *Hub) HandleFunc(msgType MessageType, fn func(ctx context.Context, client *Client, msg *InboundMessage) error) {
	h.Handle(msgType, HandlerFunc(fn))
}

func (h *Hub) dispatch(c *Client, msg *InboundMessage) {
	h.handlersMu.RLock()
	handler, ok := h.handlers[msg.Type]
	h.handlersMu.RUnlock()

	if !ok {
		slog.Debug("Unsupported message type", "clientID", c.ID(), "userID", c.UserID(), "type", msg.Type)
		c.reply(NewErrorMessage(ErrorCodeUnsupported, fmt.Sprintf("%s: %s", ErrUnknownMessageType, msg.Type)))
		return
	}

	if err := handler.HandleMessage(c.Context(), c, msg); err != nil {
		code := ErrorCodeHandlerFailed
		switch {
		case errors.Is(err, ErrInvalidPayload):
			code = ErrorCodeInvalidPayload
		case errors.Is(err, ErrForbidden):
			code = ErrorCodeForbidden
		}
		slog.Warn("Message handler failed", "clientID", c.ID(), "userID", c.UserID(), "type", msg.Type, "error", err)
		c.reply(NewErrorMessage(code, err.Error()))
	}
}

// ServeWS upgrades the request and attaches the connection. Authentication
// happens in-band afterwards.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade WebSocket connection", "remote", r.RemoteAddr, "error", err)
		return
	}
	if _, err := h.Attach(conn); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.opts.WriteWait))
		_ = conn.Close()
	}
}

// Attach starts the lifecycle of an already established connection: it
// sends the "connected" frame, starts the pumps and arms the auth timer.
func (h *Hub) Attach(conn Conn) (*Client, error) {
	client := NewClient(h, conn)

	h.clientsMu.Lock()
	if h.closed {
		h.clientsMu.Unlock()
		return nil, ErrHubClosed
	}
	h.clients[client] = struct{}{}
	h.wg.Add(2)
	h.clientsMu.Unlock()

	client.reply(NewConnectedMessage(client.ID()))
	client.armAuthTimer(h.opts.AuthGracePeriod)

	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()

	slog.Info("New WebSocket connection established", "clientID", client.ID())
	return client, nil
}

func (h *Hub) untrack(c *Client) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	delete(h.clients, c)
}

// Shutdown closes every connection with CloseGoingAway and waits for their
// goroutines and pending presence updates, bounded by ctx.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.clientsMu.Lock()
	if h.closed {
		h.clientsMu.Unlock()
		return nil
	}
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.Unlock()

	slog.Info("WebSocket hub shutting down", "connections", len(clients))
	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for websocket clients: %w", ctx.Err())
	}

	if h.presence != nil {
		h.presence.stop(ctx)
	}
	return err
}
