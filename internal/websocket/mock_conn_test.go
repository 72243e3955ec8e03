package websocket

import (
	"errors"
	"sync"
	"time"
)

var errMockConnClosed = errors.New("mock connection closed")

// mockConn is an in-memory Conn. ReadMessage blocks until a frame is pushed
// or the connection is closed.
type mockConn struct {
	mu       sync.Mutex
	messages [][]byte
	controls []int
	closed   bool

	inbound chan []byte
	done    chan struct{}
	once    sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{
		inbound: make(chan []byte, 16),
		done:    make(chan struct{}),
	}
}

func (m *mockConn) push(data string) {
	m.inbound <- []byte(data)
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-m.inbound:
		return 1, data, nil
	case <-m.done:
		return 0, nil, errMockConnClosed
	}
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errMockConnClosed
	}
	m.messages = append(m.messages, data)
	return nil
}

func (m *mockConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errMockConnClosed
	}
	m.controls = append(m.controls, messageType)
	return nil
}

func (m *mockConn) SetReadLimit(int64) {}
func (m *mockConn) SetReadDeadline(time.Time) error { return nil }
func (m *mockConn) SetWriteDeadline(time.Time) error { return nil }
func (m *mockConn) SetPongHandler(func(string) error) {}

func (m *mockConn) Close() error {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.done)
	})
	return nil
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) getMessages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([][]byte, len(m.messages))
	copy(result, m.messages)
	return result
}

// createTestClient builds a detached client: no pumps run, frames stay in
// the send queue where tests can inspect them.
func createTestClient(hub *Hub) *Client {
	return NewClient(hub, newMockConn())
}

// drain pops every queued frame.
func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case data := <-c.send:
			out = append(out, data)
		default:
			return out
		}
	}
}
