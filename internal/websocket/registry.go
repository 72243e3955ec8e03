package websocket

import (
	"sync"
)

// Stats is the registry introspection used by the health endpoint.
type Stats struct {
	Connections int `json:"connections"`
	UniqueUsers int `json:"uniqueUsers"`
}

// TransitionFunc is called when a subject gains its first connection
// (online=true) or loses its last one (online=false). It runs under the
// registry lock and must not block.
type TransitionFunc func(subject string, online bool)

// Registry maps a subject to the set of its authenticated, open clients.
// A subject is present only while it has at least one client.
//
// Only the connection lifecycle mutates the registry; the router reads it.
type Registry struct {
	mu         sync.RWMutex
	subjects   map[string]map[*Client]struct{}
	total      int
	transition TransitionFunc
}

func NewRegistry() *Registry {
	return &Registry{
		subjects: make(map[string]map[*Client]struct{}),
	}
}

// OnTransition installs the presence callback. Call before the registry is shared.
func (r *Registry) OnTransition(fn TransitionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transition = fn
}

// Add associates client with subject. Adding the same pair twice is a no-op;
// it reports whether the association is new.
func (r *Registry) Add(subject string, client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients, ok := r.subjects[subject]
	if !ok {
		clients = make(map[*Client]struct{})
		r.subjects[subject] = clients
	}
	if _, exists := clients[client]; exists {
		return false
	}
	clients[client] = struct{}{}
	r.total++

	if len(clients) == 1 && r.transition != nil {
		r.transition(subject, true)
	}
	return true
}

// Remove drops the association and prunes the subject once it has no
// clients left. Removing an absent pair is a no-op.
func (r *Registry) Remove(subject string, client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients, ok := r.subjects[subject]
	if !ok {
		return false
	}
	if _, exists := clients[client]; !exists {
		return false
	}
	delete(clients, client)
	r.total--

	if len(clients) == 0 {
		delete(r.subjects, subject)
		if r.transition != nil {
			r.transition(subject, false)
		}
	}
	return true
}

// Get returns a snapshot of the subject's clients, or nil when it has none.
func (r *Registry) Get(subject string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := r.subjects[subject]
	if len(clients) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(clients))
	for c := range clients {
		out = append(out, c)
	}
	return out
}

// All returns a snapshot of every registered client.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, r.total)
	for _, clients := range r.subjects {
		for c := range clients {
			out = append(out, c)
		}
	}
	return out
}

// IsOnline reports whether subject has at least one registered client.
func (r *Registry) IsOnline(subject string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subjects[subject]
	return ok
}

// Subjects lists every subject currently online.
func (r *Registry) Subjects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.subjects))
	for subject := range r.subjects {
		out = append(out, subject)
	}
	return out
}

func (r *Registry) Count() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Connections: r.total, UniqueUsers: len(r.subjects)}
}
