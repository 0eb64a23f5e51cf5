package websocket

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"entitle/pkg/contracts/domain"
)

// Connection is the part of a WebSocket connection the client pumps use.
// It lets tests drive a Client without a network socket.
type Connection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
	RemoteAddr() string
}

// StatusProvider returns the entitlement as clients see it
type StatusProvider interface {
	GetStatus(ctx context.Context) (*domain.LicenseStatus, error)
}

// ChangeNotifier delivers a coalesced signal after every entitlement change
type ChangeNotifier interface {
	SubscribeChan() (<-chan struct{}, func())
}

// gorillaConn adapts *websocket.Conn to Connection
type gorillaConn struct {
	*websocket.Conn
}

func wrapConn(conn *websocket.Conn) Connection {
	return gorillaConn{Conn: conn}
}

func (c gorillaConn) RemoteAddr() string {
	if addr := c.Conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
