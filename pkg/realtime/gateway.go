package realtime

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Client-issued event names.
const (
	eventJoinUser          = "join-user"
	eventJoinConversation  = "join-conversation"
	eventLeaveConversation = "leave-conversation"
)

// Server-issued event names.
const (
	EventNewMessage      = "new-message"
	EventMessagesRead    = "messages-read"
	EventMessageReaction = "message-reaction"
)

// Gateway is the single integration point between HTTP-side write
// handlers and the live-connection fan-out. Emission is fire and forget:
// the entry points hand the payload to the router and return without
// waiting for client acknowledgment, and nothing here ever reports an
// error back to the write path. Callers must have durably persisted the
// fact they are announcing before they call an emit method.
type Gateway struct {
	logger   *slog.Logger
	registry *Registry
	router   *Router
}

func NewGateway(logger *slog.Logger, registry *Registry, router *Router) *Gateway {
	// A nil collaborator means the composition root wired the process in
	// the wrong order. That is a programming error, not a runtime
	// condition, so fail loudly.
	if registry == nil || router == nil {
		panic("realtime: NewGateway requires a registry and a router")
	}
	return &Gateway{
		logger:   logger.With(slog.String("component", "gateway")),
		registry: registry,
		router:   router,
	}
}

// HandleConnect registers a freshly accepted transport connection. The
// user id comes from the verified credential presented at upgrade time,
// so the session is identified from its first moment; the client's own
// join-user event then becomes an idempotent no-op.
func (g *Gateway) HandleConnect(t Transport, userID string) *Connection {
	conn := g.registry.Register(t)
	if userID != "" {
		g.registry.Identify(conn.ID, userID)
	}
	return conn
}

// HandleDisconnect tears down all state for a closed connection.
func (g *Gateway) HandleDisconnect(connID uuid.UUID) {
	g.registry.Deregister(connID)
}

// HandleClientMessage processes one inbound frame. Malformed frames and
// unknown events are ignored; none of them can crash the gateway or leak
// an error to the peer.
func (g *Gateway) HandleClientMessage(_ context.Context, connID uuid.UUID, msg []byte) {
	if !gjson.ValidBytes(msg) {
		g.logger.Warn("ignoring malformed frame", slog.String("connID", connID.String()))
		return
	}

	event := gjson.GetBytes(msg, "event").String()
	payload := gjson.GetBytes(msg, "payload").String()

	boundUserID, ok := g.registry.UserID(connID)
	if !ok {
		g.logger.Debug("frame from unknown connection", slog.String("connID", connID.String()))
		return
	}

	switch event {
	case eventJoinUser:
		g.handleJoinUser(connID, boundUserID, payload)
	case eventJoinConversation:
		g.registry.JoinRoom(connID, ConversationKeyFromPair(payload))
	case eventLeaveConversation:
		g.router.Leave(connID, ConversationKeyFromPair(payload))
	default:
		g.logger.Warn("received unknown event", slog.String("event", event), slog.String("connID", connID.String()))
	}
}

// handleJoinUser accepts the client's self-announcement. A session bound
// to a verified user id may not re-identify as someone else. The bound
// id comes from a locked registry read; a connection's frames arrive on
// one goroutine, so it cannot change between the check and Identify.
func (g *Gateway) handleJoinUser(connID uuid.UUID, boundUserID, userID string) {
	if userID == "" {
		g.logger.Warn("ignoring join-user with empty user id", slog.String("connID", connID.String()))
		return
	}
	if boundUserID != "" && boundUserID != userID {
		g.logger.Warn("rejecting join-user for mismatched identity",
			slog.String("connID", connID.String()),
			slog.String("boundUserID", boundUserID),
			slog.String("claimedUserID", userID),
		)
		return
	}
	g.registry.Identify(connID, userID)
}

// EmitNewMessage broadcasts a persisted message to its conversation
// room. Connections that join after the call never see it; backfill is
// the HTTP fetch-on-open path.
func (g *Gateway) EmitNewMessage(key RoomKey, message any) {
	g.router.Emit(key, EventNewMessage, message)
}

// EmitMessagesRead tells every live session of the original sender that
// the reader has marked their messages read. It targets the sender's
// user room so the receipt lands even on sessions sitting on the
// conversation list rather than the open chat.
func (g *Gateway) EmitMessagesRead(senderID, readerID string) {
	g.router.Emit(UserKey(senderID), EventMessagesRead, map[string]string{
		"senderId":   senderID,
		"receiverId": readerID,
	})
}

// EmitMessageReaction broadcasts a reaction change to the conversation
// room. The payload is a hint; authoritative reaction state is whatever
// the store holds.
func (g *Gateway) EmitMessageReaction(key RoomKey, messageID string, reaction any) {
	g.router.Emit(key, EventMessageReaction, map[string]any{
		"messageId": messageID,
		"reaction":  reaction,
	})
}
