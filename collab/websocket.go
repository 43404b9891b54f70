package collab

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jessiecms/collab/internal/slogging"
)

// Protocol names for the two WebSocket endpoints
const (
	// ProtocolPresence is the default protocol: join/leave drive presence
	// through the PresenceHandler.
	ProtocolPresence = "presence"
	// ProtocolRaw is the lower-level variant: a single auth message binds the
	// connection, failures force-close the socket, and no presence is kept.
	ProtocolRaw = "raw"
)

// Upgrader upgrades HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin enforcement happens in the CMS reverse proxy
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub owns all live WebSocket connections and the per-document groups they
// are joined to.
type Hub struct {
	mu sync.RWMutex
	// All open connections, joined or not
	connections map[*Client]bool
	// Joined connections grouped by document id
	groups map[string]*DocumentGroup

	presence *PresenceHandler
	router   *MessageRouter
	rawAuth  *RawAuthenticator
}

// NewHub creates a hub over the given presence handler. rawAuth may be nil if
// the raw endpoint is not exposed.
func NewHub(presence *PresenceHandler, rawAuth *RawAuthenticator) *Hub {
	return &Hub{
		connections: make(map[*Client]bool),
		groups:      make(map[string]*DocumentGroup),
		presence:    presence,
		router:      NewMessageRouter(),
		rawAuth:     rawAuth,
	}
}

// DocumentGroup is the set of live connections currently joined to one
// document. All mutations and broadcast iteration are serialized by the
// group's own mutex, so unrelated documents never contend.
type DocumentGroup struct {
	DocumentID string

	mu      sync.Mutex
	clients map[*Client]bool
}

func newDocumentGroup(documentID string) *DocumentGroup {
	return &DocumentGroup{
		DocumentID: documentID,
		clients:    make(map[*Client]bool),
	}
}

func (g *DocumentGroup) add(client *Client) {
	g.mu.Lock()
	g.clients[client] = true
	g.mu.Unlock()
}

// remove drops a client and reports whether the group is now empty
func (g *DocumentGroup) remove(client *Client) bool {
	g.mu.Lock()
	delete(g.clients, client)
	empty := len(g.clients) == 0
	g.mu.Unlock()
	return empty
}

// broadcast sends a frame to every member, optionally excluding one. A member
// whose send buffer is full has the frame dropped rather than blocking the
// group.
func (g *DocumentGroup) broadcast(messageType string, data []byte, except *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for client := range g.clients {
		if client == except {
			continue
		}
		select {
		case client.send <- data:
		default:
			slogging.Get().Warn("Dropping %s frame for slow connection %s on document %s",
				messageType, client.ID, g.DocumentID)
		}
	}
	metricBroadcasts.WithLabelValues(messageType).Inc()
}

// Client is an ephemeral handle for one open socket. Its identity fields are
// written only by the connection's own read goroutine.
type Client struct {
	ID       uuid.UUID
	hub      *Hub
	conn     *websocket.Conn
	protocol string

	// Set after a successful join (presence protocol) or auth (raw protocol)
	userID     string
	documentID string
	group      *DocumentGroup

	send      chan []byte
	closeOnce sync.Once
}

// joined reports whether the connection is bound to a document
func (c *Client) joined() bool {
	return c.group != nil
}

// HandleWS upgrades and serves a presence-protocol connection
func (h *Hub) HandleWS(c *gin.Context) {
	h.serve(c, ProtocolPresence)
}

// HandleRawWS upgrades and serves a raw-protocol connection
func (h *Hub) HandleRawWS(c *gin.Context) {
	h.serve(c, ProtocolRaw)
}

func (h *Hub) serve(c *gin.Context, protocol string) {
	logger := slogging.Get()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("Failed to upgrade connection: %v", err)
		return
	}

	client := &Client{
		ID:       uuid.New(),
		hub:      h,
		conn:     conn,
		protocol: protocol,
		send:     make(chan []byte, 256),
	}

	h.mu.Lock()
	h.connections[client] = true
	h.mu.Unlock()
	metricOpenConnections.Inc()

	logger.Debug("Connection opened: id=%s protocol=%s", client.ID, protocol)

	go client.writePump()
	go client.readPump()
}

// joinGroup adds a client to a document's group, creating the group lazily.
// Lookup and add happen under the hub lock as one step: a concurrent
// last-leave prune either sees the new member and keeps the group, or has
// already removed it from the map and the joiner gets a fresh one. Fetching
// the pointer and adding separately would let the prune win in between and
// strand the joiner in a group the hub no longer tracks.
func (h *Hub) joinGroup(client *Client, documentID string) *DocumentGroup {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[documentID]
	if !ok {
		group = newDocumentGroup(documentID)
		h.groups[documentID] = group
		metricDocumentGroups.Set(float64(len(h.groups)))
	}
	group.add(client)
	return group
}

// leaveGroup removes a client from its group and prunes the group when it was
// the last member
func (h *Hub) leaveGroup(client *Client) {
	group := client.group
	if group == nil {
		return
	}
	client.group = nil
	client.documentID = ""

	if group.remove(client) {
		h.mu.Lock()
		// Re-check under the hub lock: a concurrent join may have repopulated
		// the group between remove and here.
		group.mu.Lock()
		if len(group.clients) == 0 {
			delete(h.groups, group.DocumentID)
			metricDocumentGroups.Set(float64(len(h.groups)))
		}
		group.mu.Unlock()
		h.mu.Unlock()
	}
}

// removeConnection tears down a connection. Idempotent; safe to call from any
// error path. This deliberately does not call PresenceHandler.HandleLeave:
// the persisted presence row stays until the cleanup sweep reclaims it.
func (h *Hub) removeConnection(client *Client) {
	client.closeOnce.Do(func() {
		h.leaveGroup(client)

		h.mu.Lock()
		delete(h.connections, client)
		h.mu.Unlock()
		metricOpenConnections.Dec()

		close(client.send)
		slogging.Get().Debug("Connection closed: id=%s user_id=%s", client.ID, client.userID)
	})
}

// ConnectionCount returns the number of open connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// GroupSize returns the number of connections joined to a document
func (h *Hub) GroupSize(documentID string) int {
	h.mu.RLock()
	group, ok := h.groups[documentID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	group.mu.Lock()
	defer group.mu.Unlock()
	return len(group.clients)
}

// readPump pumps messages from the socket into the message router. It owns
// all mutation of the client's identity fields.
func (c *Client) readPump() {
	defer func() {
		c.hub.removeConnection(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slogging.Get().Debug("WebSocket read error on %s: %v", c.ID, err)
			}
			return
		}

		c.hub.router.RouteMessage(c, message)
	}
}

// writePump pumps frames from the send channel to the socket and keeps the
// connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendJSON marshals and queues a frame for one connection
func (c *Client) sendJSON(v any) {
	data, err := marshalMessage(v)
	if err != nil {
		slogging.Get().Error("Failed to marshal outbound frame for %s: %v", c.ID, err)
		return
	}
	select {
	case c.send <- data:
	default:
		slogging.Get().Warn("Dropping frame for slow connection %s", c.ID)
	}
}

// forceClose shuts the socket down after queued frames drain. Closing the
// conn unblocks the read pump, whose deferred cleanup deregisters the
// connection.
func (c *Client) forceClose() {
	time.AfterFunc(100*time.Millisecond, func() {
		_ = c.conn.Close()
	})
}
