package websocket

import (
	"errors"
	"sync"
	"time"
)

var errConnClosed = errors.New("connection closed")

// MockMessage is a frame written to or read from a MockConnection
type MockMessage struct {
	Type int
	Data []byte
}

// MockConnection implements Connection in memory. ReadMessage blocks until a
// message is queued with AddReadMessage or the connection is closed.
type MockConnection struct {
	mu      sync.Mutex
	written []MockMessage
	closed  bool

	reads     chan MockMessage
	closedCh  chan struct{}
	writeErr  error
	readLimit int64

	pongHandler   func(string) error
	remoteAddress string
}

// NewMockConnection creates an open mock connection
func NewMockConnection() *MockConnection {
	return &MockConnection{
		reads:         make(chan MockMessage, 16),
		closedCh:      make(chan struct{}),
		remoteAddress: "127.0.0.1:50000",
	}
}

func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errConnClosed
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	m.written = append(m.written, MockMessage{Type: messageType, Data: data})
	return nil
}

func (m *MockConnection) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-m.reads:
		return msg.Type, msg.Data, nil
	case <-m.closedCh:
		return 0, nil, errConnClosed
	}
}

func (m *MockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closedCh)
	}
	return nil
}

func (m *MockConnection) SetReadDeadline(time.Time) error  { return nil }
func (m *MockConnection) SetWriteDeadline(time.Time) error { return nil }

func (m *MockConnection) SetReadLimit(limit int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readLimit = limit
}

func (m *MockConnection) SetPongHandler(h func(string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pongHandler = h
}

func (m *MockConnection) RemoteAddr() string {
	return m.remoteAddress
}

// AddReadMessage queues a message for ReadMessage
func (m *MockConnection) AddReadMessage(messageType int, data []byte) {
	m.reads <- MockMessage{Type: messageType, Data: data}
}

// SetWriteError makes every later write fail with err
func (m *MockConnection) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Written returns a copy of every frame written so far
func (m *MockConnection) Written() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockMessage, len(m.written))
	copy(out, m.written)
	return out
}

// IsClosed reports whether Close was called
func (m *MockConnection) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
