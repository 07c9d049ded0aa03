// Package channel implements the per-kind WebSocket broadcast fabric:
// connection lifecycle, client registration and ordered event delivery
// (spec.md §4.2).
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/realtime-resource-server/infrastructure/logging"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/metrics"
)

// sendQueueDepth bounds each client's outbound buffer. Overflow drops the
// oldest pending frame rather than disconnecting the client (spec.md §5's
// back-pressure policy).
const sendQueueDepth = 256

// closeFrameWriteWait bounds how long ServeWS waits for a rejection close
// frame to flush before giving up on the connection.
const closeFrameWriteWait = 5 * time.Second

// Envelope is the frame shape sent to every WebSocket client.
type Envelope struct {
	Type      string      `json:"type"`
	Model     string      `json:"model,omitempty"`
	Channel   string      `json:"channel,omitempty"`
	Message   string      `json:"message,omitempty"`
	ClientID  string      `json:"client_id,omitempty"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

func newEnvelope(eventType, channelName string, data interface{}) Envelope {
	return Envelope{
		Type:      eventType,
		Model:     channelName,
		Channel:   channelName,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	}
}

// Client is a single registered WebSocket connection within one channel.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	channel *Channel
	mu      sync.Mutex
	closed  bool
}

func (c *Client) enqueue(frame []byte, fabric *Fabric) {
	select {
	case c.send <- frame:
		return
	default:
	}
	// Buffer full: drop the oldest queued frame and retry once.
	select {
	case <-c.send:
		if fabric != nil && fabric.metrics != nil {
			fabric.metrics.RecordBroadcastDropped(c.channel.name)
		}
	default:
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	c.conn.Close()
}

// Channel is one named broadcast group (one per registered kind, plus the
// reserved task-notification forwarding target).
type Channel struct {
	name    string
	fabric  *Fabric
	mu      sync.RWMutex
	clients map[string]*Client
}

// Name returns the channel's kind name.
func (ch *Channel) Name() string { return ch.name }

// ConnectionCount reports the number of currently registered clients.
func (ch *Channel) ConnectionCount() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.clients)
}

func (ch *Channel) register(c *Client) {
	ch.mu.Lock()
	ch.clients[c.id] = c
	count := len(ch.clients)
	ch.mu.Unlock()
	if ch.fabric.metrics != nil {
		ch.fabric.metrics.SetChannelConnections(ch.name, count)
	}
}

func (ch *Channel) unregister(c *Client) {
	ch.mu.Lock()
	_, existed := ch.clients[c.id]
	delete(ch.clients, c.id)
	count := len(ch.clients)
	ch.mu.Unlock()
	if existed {
		c.close()
		if ch.fabric.metrics != nil {
			ch.fabric.metrics.SetChannelConnections(ch.name, count)
		}
	}
}

// uniqueClientID appends a disambiguating suffix on collision, per spec.md's
// "must be unique within the channel" rule.
func (ch *Channel) uniqueClientID(requested string) string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	if _, taken := ch.clients[requested]; !taken {
		return requested
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", requested, i)
		if _, taken := ch.clients[candidate]; !taken {
			return candidate
		}
	}
}

func (ch *Channel) broadcast(ctx context.Context, eventType string, data interface{}, excludeClientID string) {
	env := newEnvelope(eventType, ch.name, data)
	frame, err := json.Marshal(env)
	if err != nil {
		if ch.fabric.logger != nil {
			ch.fabric.logger.LogBroadcastFailure(ctx, ch.name, err)
		}
		return
	}

	ch.mu.RLock()
	clients := make([]*Client, 0, len(ch.clients))
	for id, c := range ch.clients {
		if id == excludeClientID {
			continue
		}
		clients = append(clients, c)
	}
	ch.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(frame, ch.fabric)
	}
	if ch.fabric.metrics != nil {
		ch.fabric.metrics.RecordBroadcastFrame(ch.name, eventType)
	}
}

// BroadcastCreated implements internal/resource.Broadcaster.
func (ch *Channel) BroadcastCreated(ctx context.Context, data interface{}) {
	ch.broadcast(ctx, "created", data, "")
}

// BroadcastUpdated implements internal/resource.Broadcaster.
func (ch *Channel) BroadcastUpdated(ctx context.Context, data interface{}) {
	ch.broadcast(ctx, "updated", data, "")
}

// BroadcastDeleted implements internal/resource.Broadcaster.
func (ch *Channel) BroadcastDeleted(ctx context.Context, id interface{}) {
	ch.broadcast(ctx, "deleted", map[string]interface{}{"id": id}, "")
}

// BroadcastCustom sends an arbitrary named event, used for webhook-adjacent
// notices and job progress forwarding (task_notification frames).
func (ch *Channel) BroadcastCustom(ctx context.Context, eventName string, data interface{}) {
	ch.broadcast(ctx, eventName, data, "")
}

// BroadcastCreatedExcluding is BroadcastCreated with origin suppression: the
// client whose mutation caused this event does not receive its own echo.
func (ch *Channel) BroadcastCreatedExcluding(ctx context.Context, data interface{}, excludeClientID string) {
	ch.broadcast(ctx, "created", data, excludeClientID)
}

// BroadcastUpdatedExcluding is BroadcastUpdated with origin suppression.
func (ch *Channel) BroadcastUpdatedExcluding(ctx context.Context, data interface{}, excludeClientID string) {
	ch.broadcast(ctx, "updated", data, excludeClientID)
}

// BroadcastDeletedExcluding is BroadcastDeleted with origin suppression.
func (ch *Channel) BroadcastDeletedExcluding(ctx context.Context, id interface{}, excludeClientID string) {
	ch.broadcast(ctx, "deleted", map[string]interface{}{"id": id}, excludeClientID)
}

// Fabric multiplexes every registered channel. One instance is constructed
// once at startup and threaded through the HTTP layer and resource engines.
type Fabric struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	logger   *logging.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// NewFabric constructs a Fabric with one Channel pre-created for each kind in
// allowedKinds, per the design notes' "channel handles injected at adapter
// construction" resolution. Upgrades to any other channel name are rejected
// with close code 1008.
func NewFabric(allowedKinds []string, logger *logging.Logger, m *metrics.Metrics) *Fabric {
	f := &Fabric{
		channels: make(map[string]*Channel, len(allowedKinds)),
		logger:   logger,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, kind := range allowedKinds {
		f.channels[kind] = &Channel{name: kind, fabric: f, clients: make(map[string]*Client)}
	}
	return f
}

// Channel returns the pre-registered channel handle for kind, or nil if kind
// was not in the fabric's allow-list.
func (f *Fabric) Channel(kind string) *Channel {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.channels[kind]
}

// Allowed reports whether kind is a registered channel name.
func (f *Fabric) Allowed(kind string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.channels[kind]
	return ok
}

// Stats reports {total_channels, channels:{name->count}, total_connections}
// in O(channels) time.
type Stats struct {
	TotalChannels    int            `json:"total_channels"`
	Channels         map[string]int `json:"channels"`
	TotalConnections int            `json:"total_connections"`
}

// Stats computes the current fabric-wide connection snapshot.
func (f *Fabric) Stats() Stats {
	f.mu.RLock()
	names := make([]*Channel, 0, len(f.channels))
	for _, ch := range f.channels {
		names = append(names, ch)
	}
	f.mu.RUnlock()

	s := Stats{Channels: make(map[string]int, len(names))}
	for _, ch := range names {
		count := ch.ConnectionCount()
		s.Channels[ch.name] = count
		s.TotalChannels++
		s.TotalConnections += count
	}
	return s
}

// BroadcastToAllChannels sends an administrative frame to every connected
// client across every channel (maintenance, shutdown notices).
func (f *Fabric) BroadcastToAllChannels(ctx context.Context, eventName string, data interface{}) {
	f.mu.RLock()
	channels := make([]*Channel, 0, len(f.channels))
	for _, ch := range f.channels {
		channels = append(channels, ch)
	}
	f.mu.RUnlock()

	for _, ch := range channels {
		ch.broadcast(ctx, eventName, data, "")
	}
}

// ForwardTaskNotification routes a job-progress message published on
// task_notifications:<id> to the named kind's channel as a task_notification
// frame, per spec.md §4.3. Unknown kinds are dropped with a warning.
func (f *Fabric) ForwardTaskNotification(ctx context.Context, kind string, payload interface{}) {
	ch := f.Channel(kind)
	if ch == nil {
		if f.logger != nil {
			f.logger.WithContext(ctx).WithFields(map[string]interface{}{
				"subsystem": "channel",
				"kind":      kind,
			}).Warn("task notification for unregistered channel dropped")
		}
		return
	}
	ch.broadcast(ctx, "task_notification", payload, "")
}

// ServeWS upgrades an HTTP request to a WebSocket connection on the channel
// named by kind. An unknown kind is still upgraded, then immediately closed
// with code 1008 (see rejectUnknownChannel) — the allow-list is a protocol-
// level rejection, not a pre-upgrade HTTP error.
func (f *Fabric) ServeWS(w http.ResponseWriter, r *http.Request, kind string) {
	ch := f.Channel(kind)
	if ch == nil {
		f.rejectUnknownChannel(w, r, kind)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if f.logger != nil {
			f.logger.WithError(err).Warn("websocket upgrade failed")
		}
		return
	}

	requested := strings.TrimSpace(r.URL.Query().Get("client_id"))
	if requested == "" {
		requested = generateClientID()
	}
	clientID := ch.uniqueClientID(requested)

	client := &Client{id: clientID, conn: conn, send: make(chan []byte, sendQueueDepth), channel: ch}
	ch.register(client)

	connEnv := Envelope{
		Type:      "connection",
		Message:   "connected",
		Channel:   ch.name,
		ClientID:  clientID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if frame, err := json.Marshal(connEnv); err == nil {
		client.enqueue(frame, f)
	}

	go client.writePump()
	go client.readPump(ch)
}

// rejectUnknownChannel completes the WebSocket handshake for a channel name
// outside the fabric's allow-list and immediately closes it with code 1008
// (policy violation). The rejection happens at the protocol level rather
// than as a pre-upgrade HTTP error so every client sees the same WebSocket
// close semantics regardless of which step of the handshake failed.
func (f *Fabric) rejectUnknownChannel(w http.ResponseWriter, r *http.Request, kind string) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if f.logger != nil {
			f.logger.WithError(err).Warn("websocket upgrade failed")
		}
		return
	}
	defer conn.Close()

	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown channel: "+kind)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeFrameWriteWait))
}

func generateClientID() string {
	return fmt.Sprintf("client-%d", time.Now().UnixNano())
}
