package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User holds the slice of the account table the messaging layer needs.
// Account creation and profile editing belong to the auth collaborator.
type User struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Username  string    `gorm:"size:60;uniqueIndex;not null" json:"username"`
	Avatar    string    `gorm:"size:255" json:"avatar,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is the durable record of one direct message. The realtime
// layer relays it verbatim and never mutates it.
type Message struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	SenderID   string     `gorm:"size:36;index;not null" json:"senderId"`
	ReceiverID string     `gorm:"size:36;index;not null" json:"receiverId"`
	Content    string     `gorm:"type:text" json:"content"`
	ImageURL   string     `gorm:"size:255" json:"imageUrl,omitempty"`
	ReplyToID  *string    `gorm:"size:36;index" json:"replyToId,omitempty"`
	Delivered  bool       `json:"delivered"`
	Read       bool       `gorm:"index" json:"read"`
	ReadAt     *time.Time `json:"readAt,omitempty"`
	CreatedAt  time.Time  `gorm:"index" json:"createdAt"`

	ReplyTo   *Message          `gorm:"foreignKey:ReplyToID" json:"replyTo,omitempty"`
	Reactions []MessageReaction `gorm:"foreignKey:MessageID" json:"reactions"`
}

// MessageReaction is one user's emoji reaction to one message. The
// unique index makes existence binary per (message, user, emoji);
// toggling the same emoji again removes the row.
type MessageReaction struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	MessageID string    `gorm:"size:36;uniqueIndex:idx_reaction_once;not null" json:"messageId"`
	UserID    string    `gorm:"size:36;uniqueIndex:idx_reaction_once;not null" json:"userId"`
	Emoji     string    `gorm:"size:16;uniqueIndex:idx_reaction_once;not null" json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

func (m *Message) BeforeCreate(_ *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

func (r *MessageReaction) BeforeCreate(_ *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Conversation is the per-partner summary used by the conversation list
// view: the counterpart, the newest message either way, and how many of
// their messages are still unread.
type Conversation struct {
	ID          string   `json:"id"`
	User        User     `json:"user"`
	LastMessage *Message `json:"lastMessage"`
	UnreadCount int64    `json:"unreadCount"`
}
