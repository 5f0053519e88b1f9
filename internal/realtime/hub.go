package realtime

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/wolfman30/clinic-queue/internal/observability/metrics"
	"github.com/wolfman30/clinic-queue/internal/queue"
	"github.com/wolfman30/clinic-queue/pkg/logging"
)

const (
	sendBuffer     = 64
	writeTimeout   = 5 * time.Second
	commandTimeout = 10 * time.Second
)

// Commander runs queue commands issued over a socket.
type Commander interface {
	CallNext(ctx context.Context) (*queue.Token, error)
	MarkEmergency(ctx context.Context, tokenID string) (*queue.Token, error)
	Skip(ctx context.Context, tokenID string) (*queue.Token, error)
	MarkInProgress(ctx context.Context, tokenID string) (*queue.Token, error)
	Complete(ctx context.Context, tokenID string) (*queue.Token, error)
}

// InboundMessage is what clients send.
type InboundMessage struct {
	Type      string `json:"type"` // join, leave, ping, or a command name
	Room      string `json:"room,omitempty"`
	PatientID string `json:"patient_id,omitempty"`
	TokenID   string `json:"token_id,omitempty"`
}

// Hub tracks websocket connections by room and fans frames out to them.
// Each connection has its own buffered writer so a slow client never
// blocks Publish; frames that do not fit are dropped.
type Hub struct {
	commander Commander
	metrics   *metrics.QueueMetrics
	logger    *logging.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan Frame
	done chan struct{}

	mu    sync.RWMutex
	rooms map[string]struct{}
}

// NewHub creates a hub. Socket commands are refused until SetCommander.
func NewHub(m *metrics.QueueMetrics, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		metrics: m,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// SetCommander enables socket commands. The service publishes through the
// hub, so the two are joined after both exist.
func (h *Hub) SetCommander(c Commander) {
	h.mu.Lock()
	h.commander = c
	h.mu.Unlock()
}

// HandleWebSocket upgrades to WebSocket. Query parameters room and
// patient_id join a room straight away.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Hub) serveWS(conn *websocket.Conn, r *http.Request) {
	c := &client{
		conn:  conn,
		send:  make(chan Frame, sendBuffer),
		done:  make(chan struct{}),
		rooms: make(map[string]struct{}),
	}
	if !h.register(c) {
		return
	}
	defer h.unregister(c)

	go h.writeLoop(c)

	if room := r.URL.Query().Get("room"); room != "" {
		h.join(c, room, r.URL.Query().Get("patient_id"))
	}

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("realtime: connection closed", "error", err)
			return
		}
		h.handle(r.Context(), c, msg)
	}
}

func (h *Hub) handle(ctx context.Context, c *client, msg InboundMessage) {
	switch msg.Type {
	case "ping":
		h.enqueue(c, Frame{Type: FramePong, At: time.Now().UTC()})
	case "join":
		h.join(c, msg.Room, msg.PatientID)
	case "leave":
		if room, ok := resolveRoom(msg.Room, msg.PatientID); ok {
			c.mu.Lock()
			delete(c.rooms, room)
			c.mu.Unlock()
		}
	case "call-next", "mark-emergency", "skip", "in-progress", "complete":
		h.runCommand(ctx, c, msg)
	default:
		h.sendError(c, msg.Type, "unknown message type")
	}
}

func (h *Hub) join(c *client, room, patientID string) {
	resolved, ok := resolveRoom(room, patientID)
	if !ok {
		h.sendError(c, "join", "unknown room")
		return
	}
	c.mu.Lock()
	c.rooms[resolved] = struct{}{}
	c.mu.Unlock()
	h.enqueue(c, Frame{Type: FrameJoined, Room: resolved, At: time.Now().UTC()})
}

// resolveRoom accepts queue, doctor, user (with patientID) or user:<id>.
func resolveRoom(room, patientID string) (string, bool) {
	switch {
	case room == RoomQueue, room == RoomDoctor:
		return room, true
	case room == "user" && strings.TrimSpace(patientID) != "":
		return UserRoom(patientID), true
	case strings.HasPrefix(room, userPrefix) && len(room) > len(userPrefix):
		return room, true
	default:
		return "", false
	}
}

func (h *Hub) runCommand(ctx context.Context, c *client, msg InboundMessage) {
	h.mu.RLock()
	commander := h.commander
	h.mu.RUnlock()
	if commander == nil {
		h.sendError(c, msg.Type, "commands are not accepted on this connection")
		return
	}
	if msg.Type != "call-next" && msg.TokenID == "" {
		h.sendError(c, msg.Type, "token_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case "call-next":
		_, err = commander.CallNext(ctx)
	case "mark-emergency":
		_, err = commander.MarkEmergency(ctx, msg.TokenID)
	case "skip":
		_, err = commander.Skip(ctx, msg.TokenID)
	case "in-progress":
		_, err = commander.MarkInProgress(ctx, msg.TokenID)
	case "complete":
		_, err = commander.Complete(ctx, msg.TokenID)
	}
	if err != nil {
		h.logger.Info("realtime: command rejected", "command", msg.Type, "token_id", msg.TokenID, "error", err)
		h.sendError(c, msg.Type, err.Error())
	}
}

func (h *Hub) sendError(c *client, command, text string) {
	h.enqueue(c, Frame{Type: FrameError, Command: command, Error: text, At: time.Now().UTC()})
}

// Publish implements queue.Publisher for the connections of this process.
func (h *Hub) Publish(_ context.Context, e queue.Event) {
	for _, d := range Deliveries(e) {
		h.Deliver(d)
	}
}

// Deliver sends one frame to every connection in its room.
func (h *Hub) Deliver(d Delivery) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.in(d.Room) {
			h.enqueue(c, d.Frame)
		}
	}
}

func (h *Hub) enqueue(c *client, f Frame) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- f:
		h.metrics.ObserveDelivery(true)
	default:
		h.metrics.ObserveDelivery(false)
		h.logger.Warn("realtime: dropping frame for slow client", "type", f.Type, "room", f.Room)
	}
}

func (h *Hub) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := websocket.JSON.Send(c.conn, f); err != nil {
				h.logger.Warn("realtime: send failed", "type", f.Type, "error", err)
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.metrics.ConnectionOpened()
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		h.metrics.ConnectionClosed()
	}
	h.mu.Unlock()
	close(c.done)
}

// Connections returns the number of open sockets.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (c *client) in(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}
