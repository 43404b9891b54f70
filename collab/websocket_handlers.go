package collab

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	"github.com/jessiecms/collab/internal/slogging"
)

// Inbound message types
const (
	MessageTypeJoin      = "join"
	MessageTypeLeave     = "leave"
	MessageTypeHeartbeat = "heartbeat"
	MessageTypeOperation = "operation"
	MessageTypeAuth      = "auth"
)

// Outbound message types
const (
	MessageTypePresenceUpdate = "presence_update"
	MessageTypeHeartbeatAck   = "heartbeat_ack"
	MessageTypeAuthSuccess    = "auth_success"
	MessageTypeAuthFailure    = "auth_failure"
)

const messageHandleTimeout = 5 * time.Second

type joinMessage struct {
	Type       string `json:"type"`
	Token      string `json:"token"`
	DocumentID string `json:"document_id"`
}

type authMessage struct {
	Type       string `json:"type"`
	Token      string `json:"token"`
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
}

type presenceUpdateMessage struct {
	Type        string   `json:"type"`
	DocumentID  string   `json:"document_id"`
	ActiveUsers []string `json:"active_users"`
	UserID      string   `json:"user_id,omitempty"`
}

type ackMessage struct {
	Type string `json:"type"`
}

type errorMessage struct {
	Error string `json:"error"`
}

func marshalMessage(v any) ([]byte, error) {
	return json.Marshal(v)
}

// MessageHandler handles one inbound WebSocket message type
type MessageHandler interface {
	MessageType() string
	HandleMessage(ctx context.Context, client *Client, message []byte)
}

// MessageRouter routes inbound messages to the handler registered for the
// connection's protocol and message type. Unknown or malformed messages are
// ignored so one buggy client stays harmless to its group.
type MessageRouter struct {
	handlers map[string]map[string]MessageHandler
}

// NewMessageRouter creates a router with the default handlers for both
// protocols
func NewMessageRouter() *MessageRouter {
	router := &MessageRouter{
		handlers: make(map[string]map[string]MessageHandler),
	}

	router.RegisterHandler(ProtocolPresence, &JoinMessageHandler{})
	router.RegisterHandler(ProtocolPresence, &LeaveMessageHandler{})
	router.RegisterHandler(ProtocolPresence, &HeartbeatMessageHandler{})
	router.RegisterHandler(ProtocolPresence, &OperationMessageHandler{})

	router.RegisterHandler(ProtocolRaw, &AuthMessageHandler{})
	router.RegisterHandler(ProtocolRaw, &HeartbeatMessageHandler{})
	router.RegisterHandler(ProtocolRaw, &OperationMessageHandler{})

	return router
}

// RegisterHandler registers a handler for a protocol and message type
func (r *MessageRouter) RegisterHandler(protocol string, handler MessageHandler) {
	if r.handlers[protocol] == nil {
		r.handlers[protocol] = make(map[string]MessageHandler)
	}
	r.handlers[protocol][handler.MessageType()] = handler
}

// RouteMessage dispatches one inbound frame
func (r *MessageRouter) RouteMessage(client *Client, message []byte) {
	logger := slogging.Get()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("PANIC handling WebSocket message - connection=%s user=%s error=%v stack=%s",
				client.ID, client.userID, rec, debug.Stack())
		}
	}()

	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		logger.Debug("Ignoring malformed frame from %s: %s",
			client.ID, slogging.SanitizeLogMessage(string(message)))
		return
	}

	handler, ok := r.handlers[client.protocol][envelope.Type]
	if !ok {
		logger.Debug("Ignoring unsupported message type %q from %s (protocol %s)",
			slogging.SanitizeLogMessage(envelope.Type), client.ID, client.protocol)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), messageHandleTimeout)
	defer cancel()
	handler.HandleMessage(ctx, client, message)
}

// JoinMessageHandler binds a connection to a document after token and
// permission checks
type JoinMessageHandler struct{}

// MessageType returns the message type this handler serves
func (h *JoinMessageHandler) MessageType() string { return MessageTypeJoin }

// HandleMessage processes a join request
func (h *JoinMessageHandler) HandleMessage(ctx context.Context, client *Client, message []byte) {
	var msg joinMessage
	if err := json.Unmarshal(message, &msg); err != nil || msg.Token == "" || msg.DocumentID == "" {
		client.sendJSON(errorMessage{Error: "invalid join message"})
		return
	}

	if client.joined() && client.documentID != msg.DocumentID {
		client.sendJSON(errorMessage{Error: "connection already joined to a document"})
		return
	}

	result, err := client.hub.presence.HandleJoin(ctx, msg.Token, msg.DocumentID)
	if err != nil {
		// Generic denial: the cause stays server-side. The socket remains
		// open in the unjoined state.
		metricAuthFailures.Inc()
		client.sendJSON(errorMessage{Error: "access denied"})
		return
	}

	client.userID = result.UserID
	client.documentID = msg.DocumentID
	group := client.hub.joinGroup(client, msg.DocumentID)
	client.group = group

	client.sendJSON(presenceUpdateMessage{
		Type:        MessageTypePresenceUpdate,
		DocumentID:  msg.DocumentID,
		ActiveUsers: result.ActiveUsers,
		UserID:      result.UserID,
	})

	// Re-fetch so the group sees the set as of broadcast time
	refreshed := client.hub.presence.GetActiveUsers(ctx, msg.DocumentID)
	data, err := marshalMessage(presenceUpdateMessage{
		Type:        MessageTypePresenceUpdate,
		DocumentID:  msg.DocumentID,
		ActiveUsers: refreshed,
		UserID:      result.UserID,
	})
	if err != nil {
		slogging.Get().Error("Failed to marshal presence update: %v", err)
		return
	}
	group.broadcast(MessageTypePresenceUpdate, data, nil)
}

// LeaveMessageHandler unbinds a connection from its document
type LeaveMessageHandler struct{}

// MessageType returns the message type this handler serves
func (h *LeaveMessageHandler) MessageType() string { return MessageTypeLeave }

// HandleMessage processes a leave request
func (h *LeaveMessageHandler) HandleMessage(ctx context.Context, client *Client, message []byte) {
	var msg joinMessage
	if err := json.Unmarshal(message, &msg); err != nil || msg.DocumentID == "" {
		return
	}

	client.hub.presence.HandleLeave(ctx, msg.Token, msg.DocumentID)

	if !client.joined() || client.documentID != msg.DocumentID {
		return
	}

	group := client.group
	client.hub.leaveGroup(client)

	refreshed := client.hub.presence.GetActiveUsers(ctx, msg.DocumentID)
	data, err := marshalMessage(presenceUpdateMessage{
		Type:        MessageTypePresenceUpdate,
		DocumentID:  msg.DocumentID,
		ActiveUsers: refreshed,
	})
	if err != nil {
		slogging.Get().Error("Failed to marshal presence update: %v", err)
		return
	}
	group.broadcast(MessageTypePresenceUpdate, data, nil)
}

// HeartbeatMessageHandler acknowledges keep-alives. Heartbeats keep the
// socket alive but deliberately do not refresh presence timestamps: "active
// editor" bookkeeping is refreshed only on join.
type HeartbeatMessageHandler struct{}

// MessageType returns the message type this handler serves
func (h *HeartbeatMessageHandler) MessageType() string { return MessageTypeHeartbeat }

// HandleMessage replies with an ack
func (h *HeartbeatMessageHandler) HandleMessage(ctx context.Context, client *Client, message []byte) {
	client.sendJSON(ackMessage{Type: MessageTypeHeartbeatAck})
}

// OperationMessageHandler relays edit operations to group peers. The payload
// is opaque; only sender and document_id are added, and the sender never
// receives its own operation back.
type OperationMessageHandler struct{}

// MessageType returns the message type this handler serves
func (h *OperationMessageHandler) MessageType() string { return MessageTypeOperation }

// HandleMessage relays the operation to every other group member
func (h *OperationMessageHandler) HandleMessage(ctx context.Context, client *Client, message []byte) {
	if !client.joined() {
		slogging.Get().Debug("Ignoring operation from unjoined connection %s", client.ID)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(message, &payload); err != nil {
		slogging.Get().Debug("Ignoring malformed operation from %s", client.ID)
		return
	}

	// Never relay credentials to peers
	delete(payload, "token")
	payload["type"] = MessageTypeOperation
	payload["sender"] = client.userID
	payload["document_id"] = client.documentID

	data, err := marshalMessage(payload)
	if err != nil {
		slogging.Get().Error("Failed to marshal operation relay: %v", err)
		return
	}
	client.group.broadcast(MessageTypeOperation, data, client)
}

// AuthMessageHandler implements the raw protocol's single authentication
// step. Failure force-closes the socket, unlike the presence protocol's join.
type AuthMessageHandler struct{}

// MessageType returns the message type this handler serves
func (h *AuthMessageHandler) MessageType() string { return MessageTypeAuth }

// HandleMessage processes an auth request
func (h *AuthMessageHandler) HandleMessage(ctx context.Context, client *Client, message []byte) {
	if client.joined() {
		// Already authenticated; duplicate auth frames are ignored
		return
	}

	fail := func() {
		metricAuthFailures.Inc()
		client.sendJSON(ackMessage{Type: MessageTypeAuthFailure})
		client.forceClose()
	}

	if client.hub.rawAuth == nil {
		fail()
		return
	}

	var msg authMessage
	if err := json.Unmarshal(message, &msg); err != nil || msg.Token == "" || msg.DocumentID == "" {
		fail()
		return
	}

	userID, ok := client.hub.rawAuth.Authenticate(ctx, msg.Token, msg.DocumentID, msg.UserID)
	if !ok {
		fail()
		return
	}

	client.userID = userID
	client.documentID = msg.DocumentID
	client.group = client.hub.joinGroup(client, msg.DocumentID)

	client.sendJSON(ackMessage{Type: MessageTypeAuthSuccess})
}
