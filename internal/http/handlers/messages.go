package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/genz-social/pulse/internal/server/middleware"
	"github.com/genz-social/pulse/internal/store"
	"github.com/genz-social/pulse/pkg/realtime"
)

// MessageStore is the durable side of messaging as the handlers see it.
type MessageStore interface {
	CreateMessage(ctx context.Context, senderID, receiverID, content, imageURL string, replyToID *string) (*store.Message, error)
	MarkMessagesRead(ctx context.Context, senderID, readerID string) (int64, error)
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (*store.ToggleResult, error)
	ConversationMessages(ctx context.Context, userID, partnerID string, limit int) ([]store.Message, error)
	Conversations(ctx context.Context, userID string) ([]store.Conversation, error)
	UnreadSenderCount(ctx context.Context, userID string) (int64, error)
}

// Emitter is the best-effort notification channel into the realtime
// layer. No method returns an error: delivery is fire and forget, and
// the HTTP response must never depend on it.
type Emitter interface {
	EmitNewMessage(key realtime.RoomKey, message any)
	EmitMessagesRead(senderID, readerID string)
	EmitMessageReaction(key realtime.RoomKey, messageID string, reaction any)
}

// MessageHandler serves the messaging write and read endpoints. Every
// write persists first and emits second; a client that misses the
// emission catches up on its next fetch.
type MessageHandler struct {
	Store   MessageStore
	Gateway Emitter
	Logger  *slog.Logger
}

func NewMessageHandler(logger *slog.Logger, st MessageStore, gw Emitter) *MessageHandler {
	if st == nil || gw == nil {
		panic("handlers: NewMessageHandler requires a store and a gateway")
	}
	return &MessageHandler{
		Store:   st,
		Gateway: gw,
		Logger:  logger.With(slog.String("component", "message_handler")),
	}
}

type sendMessageReq struct {
	ReceiverID string  `json:"receiverId" binding:"required"`
	Content    string  `json:"content"`
	ImageURL   string  `json:"imageUrl"`
	ReplyToID  *string `json:"replyToId"`
}

// Send handles POST /api/messages.
func (h *MessageHandler) Send(c *gin.Context) {
	userID := middleware.MustUserID(c)

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	msg, err := h.Store.CreateMessage(c.Request.Context(), userID, req.ReceiverID, req.Content, req.ImageURL, req.ReplyToID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrEmptyMessage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Content or image is required"})
		case errors.Is(err, store.ErrReceiverNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Receiver not found"})
		default:
			h.Logger.Error("message send failed", slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send message"})
		}
		return
	}

	h.Gateway.EmitNewMessage(realtime.ConversationKey(userID, req.ReceiverID), msg)
	c.JSON(http.StatusCreated, msg)
}

type markReadReq struct {
	SenderID string `json:"senderId" binding:"required"`
}

// MarkRead handles POST /api/messages/read.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	userID := middleware.MustUserID(c)

	var req markReadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Sender ID is required"})
		return
	}

	if _, err := h.Store.MarkMessagesRead(c.Request.Context(), req.SenderID, userID); err != nil {
		h.Logger.Error("mark messages read failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark messages as read"})
		return
	}

	h.Gateway.EmitMessagesRead(req.SenderID, userID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type reactionReq struct {
	MessageID string `json:"messageId" binding:"required"`
	Emoji     string `json:"emoji" binding:"required"`
}

// ToggleReaction handles POST /api/messages/reactions.
func (h *MessageHandler) ToggleReaction(c *gin.Context) {
	userID := middleware.MustUserID(c)

	var req reactionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message ID and emoji are required"})
		return
	}

	res, err := h.Store.ToggleReaction(c.Request.Context(), req.MessageID, userID, req.Emoji)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrMessageNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
		default:
			h.Logger.Error("reaction toggle failed", slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add reaction"})
		}
		return
	}

	key := realtime.ConversationKey(res.Message.SenderID, res.Message.ReceiverID)
	h.Gateway.EmitMessageReaction(key, req.MessageID, res.Reaction)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Conversations handles GET /api/messages/conversations.
func (h *MessageHandler) Conversations(c *gin.Context) {
	userID := middleware.MustUserID(c)

	convs, err := h.Store.Conversations(c.Request.Context(), userID)
	if err != nil {
		h.Logger.Error("conversations fetch failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch conversations"})
		return
	}
	c.JSON(http.StatusOK, convs)
}

// ConversationMessages handles GET /api/messages/conversations/:userId.
// Opening a conversation is also the backfill path: it marks the
// partner's messages read and echoes the receipt to their sessions.
func (h *MessageHandler) ConversationMessages(c *gin.Context) {
	userID := middleware.MustUserID(c)
	partnerID := c.Param("userId")

	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	msgs, err := h.Store.ConversationMessages(c.Request.Context(), userID, partnerID, limit)
	if err != nil {
		h.Logger.Error("messages fetch failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch messages"})
		return
	}

	if partnerID != userID {
		n, err := h.Store.MarkMessagesRead(c.Request.Context(), partnerID, userID)
		if err != nil {
			h.Logger.Warn("mark-read on open failed", slog.Any("error", err))
		} else if n > 0 {
			h.Gateway.EmitMessagesRead(partnerID, userID)
		}
	}

	c.JSON(http.StatusOK, msgs)
}

// Unread handles GET /api/messages/unread.
func (h *MessageHandler) Unread(c *gin.Context) {
	userID := middleware.MustUserID(c)

	count, err := h.Store.UnreadSenderCount(c.Request.Context(), userID)
	if err != nil {
		h.Logger.Error("unread count failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get unread messages count"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}
