package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PresenceTracker records when a subject comes online or goes offline.
// The Redis service implements it.
type PresenceTracker interface {
	SetUserOnline(ctx context.Context, userID string) error
	SetUserOffline(ctx context.Context, userID string) error
}

type presenceEvent struct {
	subject string
	online  bool
}

// presenceQueue applies registry transitions to the tracker on a single
// goroutine. Pending updates are coalesced per subject: only the latest
// state is kept, so the queue never drops a final offline and its size is
// bounded by the number of distinct subjects.
type presenceQueue struct {
	tracker PresenceTracker
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]bool
	order   []string // subjects in pending, first transition first
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func newPresenceQueue(tracker PresenceTracker) *presenceQueue {
	q := &presenceQueue{
		tracker: tracker,
		timeout: 3 * time.Second,
		pending: make(map[string]bool),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// enqueue never blocks; it runs under the registry lock.
func (q *presenceQueue) enqueue(subject string, online bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if _, ok := q.pending[subject]; !ok {
		q.order = append(q.order, subject)
	}
	q.pending[subject] = online
	q.mu.Unlock()

	q.signal()
}

func (q *presenceQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest pending subject with its latest state.
func (q *presenceQueue) next() (ev presenceEvent, ok, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		return presenceEvent{}, false, q.closed
	}
	subject := q.order[0]
	q.order = q.order[1:]
	online := q.pending[subject]
	delete(q.pending, subject)
	return presenceEvent{subject: subject, online: online}, true, q.closed
}

func (q *presenceQueue) run() {
	defer close(q.done)
	for {
		ev, ok, closed := q.next()
		if ok {
			q.apply(ev)
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}

func (q *presenceQueue) apply(ev presenceEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	var err error
	if ev.online {
		err = q.tracker.SetUserOnline(ctx, ev.subject)
	} else {
		err = q.tracker.SetUserOffline(ctx, ev.subject)
	}
	if err != nil {
		slog.Error("Failed to update presence", "userID", ev.subject, "online", ev.online, "error", err)
	}
}

// stop drains pending updates, bounded by ctx.
func (q *presenceQueue) stop(ctx context.Context) {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()

	select {
	case <-q.done:
	case <-ctx.Done():
		slog.Warn("Timeout draining presence queue")
	}
}
