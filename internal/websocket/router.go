package websocket

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Deliverer is what producers elsewhere in the service use to push events.
type Deliverer interface {
	SendToUser(subject string, msg *OutboundMessage) bool
	SendToUsers(subjects []string, msg *OutboundMessage) bool
	Broadcast(msg *OutboundMessage) int
}

// Router fans outbound messages out to live connections. It only reads the
// registry. Writes are non-blocking enqueues, so one slow or dead connection
// never holds up the others in the same call.
type Router struct {
	registry *Registry
	metrics  *ConnectionMetrics
}

var _ Deliverer = (*Router)(nil)

func NewRouter(registry *Registry, metrics *ConnectionMetrics) *Router {
	return &Router{registry: registry, metrics: metrics}
}

// SendToUser pushes msg to every open connection of subject. It returns
// false when the subject has no live connection.
func (r *Router) SendToUser(subject string, msg *OutboundMessage) bool {
	start := time.Now()
	clients := r.registry.Get(subject)
	if len(clients) == 0 {
		return false
	}
	data, ok := marshalOutbound(msg)
	if !ok {
		return false
	}

	res := deliver(clients, data)
	r.record(OperationSendToUser, start, res, len(data))
	return res.attempted > 0
}

// SendToUsers pushes msg to every open connection of each distinct subject.
// It returns true if at least one subject had a live connection.
func (r *Router) SendToUsers(subjects []string, msg *OutboundMessage) bool {
	start := time.Now()
	seen := make(map[string]struct{}, len(subjects))
	var clients []*Client
	for _, subject := range subjects {
		if _, dup := seen[subject]; dup {
			continue
		}
		seen[subject] = struct{}{}
		clients = append(clients, r.registry.Get(subject)...)
	}
	if len(clients) == 0 {
		return false
	}
	data, ok := marshalOutbound(msg)
	if !ok {
		return false
	}

	res := deliver(clients, data)
	r.record(OperationSendToUsers, start, res, len(data))
	return res.attempted > 0
}

// Broadcast pushes msg to every open connection and returns how many
// accepted it.
func (r *Router) Broadcast(msg *OutboundMessage) int {
	start := time.Now()
	clients := r.registry.All()
	if len(clients) == 0 {
		return 0
	}
	data, ok := marshalOutbound(msg)
	if !ok {
		return 0
	}

	res := deliver(clients, data)
	r.record(OperationBroadcast, start, res, len(data))
	return res.delivered
}

type deliveryResult struct {
	attempted int
	delivered int
	failed    int
}

func deliver(clients []*Client, data []byte) deliveryResult {
	var res deliveryResult
	for _, c := range clients {
		if c.IsClosed() {
			continue
		}
		res.attempted++
		if err := c.Enqueue(data); err != nil {
			res.failed++
			slog.Debug("Delivery skipped", "clientID", c.ID(), "userID", c.UserID(), "error", err)
			continue
		}
		res.delivered++
	}
	return res
}

func marshalOutbound(msg *OutboundMessage) ([]byte, bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal outbound message", "type", msg.Type, "error", err)
		return nil, false
	}
	return data, true
}

func (r *Router) record(op string, start time.Time, res deliveryResult, size int) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordDeliveryMetric(op, time.Since(start), res.delivered, res.failed, size)
}
