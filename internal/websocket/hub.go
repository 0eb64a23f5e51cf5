package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"entitle/internal/infrastructure"
	"entitle/pkg/contracts/domain"
	"entitle/pkg/contracts/events"
)

const broadcastQueueSize = 16

// SnapshotFunc returns the entitlement sent to a client right after it connects
type SnapshotFunc func(ctx context.Context) (*domain.LicenseStatus, error)

// HubOption configures a Hub
type HubOption func(*Hub)

// WithSnapshot makes the hub greet every new client with the current state
func WithSnapshot(fn SnapshotFunc) HubOption {
	return func(h *Hub) { h.snapshot = fn }
}

// WithMetrics records hub activity on m
func WithMetrics(m *OTelMetrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger *slog.Logger

	snapshot SnapshotFunc
	metrics  *OTelMetrics

	totalConnections int64
	messagesSent     int64

	quit     chan struct{}
	done     chan struct{}
	running  bool
	stopOnce sync.Once
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastQueueSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start runs the hub loop in its own goroutine. Calling it twice is a no-op.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("Hub shutting down")
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client, "normal")

		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.totalConnections++
	h.mu.Unlock()

	ctx := client.context()
	h.logger.InfoContext(ctx, "Client registered",
		slog.Int("total_clients", count),
		slog.String("client_id", client.id),
		slog.String("remote_addr", client.remoteAddr))
	h.metrics.RecordConnection(ctx)

	connect := events.WebSocketMessage{
		BaseMessage: events.BaseMessage{
			Type:      events.MessageTypeConnect,
			Timestamp: time.Now().UTC(),
			TraceID:   client.traceID,
		},
		Data: map[string]string{"client_id": client.id},
	}
	if data, err := json.Marshal(connect); err == nil {
		h.deliver(ctx, client, data)
	}

	if h.snapshot == nil {
		return
	}
	status, err := h.snapshot(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "Failed to load entitlement for new client",
			slog.String("client_id", client.id),
			slog.String("error", err.Error()))
		return
	}
	if data, err := EncodeLicenseState(status, client.traceID); err == nil {
		h.deliver(ctx, client, data)
	}
}

// deliver queues data for one client without blocking the hub
func (h *Hub) deliver(ctx context.Context, client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.metrics.RecordDroppedMessage(ctx, "buffer_full")
		h.logger.WarnContext(ctx, "Client send buffer full, message dropped",
			slog.String("client_id", client.id))
	}
}

func (h *Hub) removeClient(client *Client, reason string) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	count := len(h.clients)
	h.mu.Unlock()

	ctx := client.context()
	h.logger.InfoContext(ctx, "Client unregistered",
		slog.Int("total_clients", count),
		slog.String("client_id", client.id),
		slog.String("reason", reason),
		slog.Duration("connection_duration", time.Since(client.connectedAt)))
	h.metrics.RecordDisconnection(ctx, time.Since(client.connectedAt), reason)
}

func (h *Hub) fanOut(message []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	ctx := context.Background()
	failCount := 0
	for _, client := range clients {
		select {
		case client.send <- message:
			h.mu.Lock()
			h.messagesSent++
			h.mu.Unlock()
		default:
			// A client that cannot keep up is disconnected so it reloads state on reconnect
			failCount++
			h.metrics.RecordDroppedMessage(ctx, "slow_client")
			h.removeClient(client, "slow_client")
		}
	}

	h.logger.Debug("Broadcast delivered",
		slog.Int("client_count", len(clients)),
		slog.Int("fail_count", failCount),
		slog.Int("message_size", len(message)))
	h.metrics.RecordBroadcast(ctx, len(clients), failCount)
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
		close(client.send)
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// Broadcast queues an encoded message for every connected client
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.quit:
	}
}

// BroadcastLicenseState pushes a license:state message to every client
func (h *Hub) BroadcastLicenseState(ctx context.Context, status *domain.LicenseStatus) error {
	data, err := EncodeLicenseState(status, infrastructure.GetTraceID(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "Error marshaling license state",
			slog.String("error", err.Error()))
		return err
	}
	h.Broadcast(data)
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns counters for diagnostics
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]interface{}{
		"active_clients":    len(h.clients),
		"total_connections": h.totalConnections,
		"messages_sent":     h.messagesSent,
	}
}

// Stop closes every client and waits for the hub loop to exit
func (h *Hub) Stop() {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()

	h.stopOnce.Do(func() {
		close(h.quit)
	})
	if running {
		<-h.done
	}
}

// EncodeLicenseState builds the license:state wire message
func EncodeLicenseState(status *domain.LicenseStatus, traceID string) ([]byte, error) {
	msg := events.LicenseStateEvent{
		BaseMessage: events.BaseMessage{
			Type:      events.MessageTypeLicenseState,
			Timestamp: time.Now().UTC(),
			TraceID:   traceID,
		},
	}
	if status != nil {
		msg.Data = *status
	}
	return json.Marshal(msg)
}
