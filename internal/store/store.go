package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var (
	ErrReceiverNotFound = errors.New("receiver not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrEmptyMessage     = errors.New("message needs content or an image")
)

// Store is the durable side of messaging. Every write here happens
// strictly before the corresponding realtime emission.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects to MySQL and migrates the messaging tables.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&User{}, &Message{}, &MessageReaction{}); err != nil {
		return nil, err
	}
	return New(db), nil
}

// CreateMessage persists a new direct message and returns it loaded with
// its reactions and reply target, ready to relay on the wire.
func (s *Store) CreateMessage(ctx context.Context, senderID, receiverID, content, imageURL string, replyToID *string) (*Message, error) {
	if content == "" && imageURL == "" {
		return nil, ErrEmptyMessage
	}

	var receiver User
	if err := s.db.WithContext(ctx).First(&receiver, "id = ?", receiverID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReceiverNotFound
		}
		return nil, err
	}

	msg := Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		ImageURL:   imageURL,
		ReplyToID:  replyToID,
		Delivered:  true, // delivered the moment it is accepted
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, err
	}

	var loaded Message
	err := s.db.WithContext(ctx).
		Preload("Reactions").
		Preload("ReplyTo").
		First(&loaded, "id = ?", msg.ID).Error
	if err != nil {
		return nil, err
	}
	return &loaded, nil
}

// MarkMessagesRead flags every unread message from senderID to readerID
// as read. Returns the number of messages affected.
func (s *Store) MarkMessagesRead(ctx context.Context, senderID, readerID string) (int64, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&Message{}).
		Where("sender_id = ? AND receiver_id = ? AND `read` = ?", senderID, readerID, false).
		Updates(map[string]any{"read": true, "read_at": now})
	return res.RowsAffected, res.Error
}

// ToggleResult reports what a reaction toggle did. Reaction is nil when
// the toggle removed an existing one.
type ToggleResult struct {
	Message  Message
	Reaction *MessageReaction
	Removed  bool
}

// ToggleReaction adds the (user, emoji) reaction to the message, or
// removes it if it already exists.
func (s *Store) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (*ToggleResult, error) {
	// The toggling user must be a participant of the message.
	var msg Message
	err := s.db.WithContext(ctx).
		Where("id = ? AND (sender_id = ? OR receiver_id = ?)", messageID, userID, userID).
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}

	var existing MessageReaction
	err = s.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		First(&existing).Error
	switch {
	case err == nil:
		if err := s.db.WithContext(ctx).Delete(&existing).Error; err != nil {
			return nil, err
		}
		return &ToggleResult{Message: msg, Removed: true}, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		reaction := MessageReaction{MessageID: messageID, UserID: userID, Emoji: emoji}
		if err := s.db.WithContext(ctx).Create(&reaction).Error; err != nil {
			return nil, err
		}
		return &ToggleResult{Message: msg, Reaction: &reaction}, nil
	default:
		return nil, err
	}
}

// ConversationMessages returns the newest messages between the two users
// in ascending order, loaded with reactions and reply targets.
func (s *Store) ConversationMessages(ctx context.Context, userID, partnerID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var msgs []Message
	err := s.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userID, partnerID, partnerID, userID).
		Order("created_at desc").
		Limit(limit).
		Preload("Reactions").
		Preload("ReplyTo").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}

	// Query is newest-first; the UI wants ascending.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Conversations builds the conversation list for a user: every other
// account with the last message exchanged and the unread count, sorted
// by most recent activity.
func (s *Store) Conversations(ctx context.Context, userID string) ([]Conversation, error) {
	var partners []User
	err := s.db.WithContext(ctx).
		Where("id <> ?", userID).
		Limit(50).
		Find(&partners).Error
	if err != nil {
		return nil, err
	}

	convs := make([]Conversation, 0, len(partners))
	for _, partner := range partners {
		var last Message
		err := s.db.WithContext(ctx).
			Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
				userID, partner.ID, partner.ID, userID).
			Order("created_at desc").
			First(&last).Error
		var lastMessage *Message
		switch {
		case err == nil:
			lastMessage = &last
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return nil, err
		}

		var unread int64
		err = s.db.WithContext(ctx).Model(&Message{}).
			Where("sender_id = ? AND receiver_id = ? AND `read` = ?", partner.ID, userID, false).
			Count(&unread).Error
		if err != nil {
			return nil, err
		}

		convs = append(convs, Conversation{
			ID:          partner.ID,
			User:        partner,
			LastMessage: lastMessage,
			UnreadCount: unread,
		})
	}

	// Conversations with recent messages first, empty ones last.
	ts := func(c Conversation) int64 {
		if c.LastMessage == nil {
			return 0
		}
		return c.LastMessage.CreatedAt.UnixNano()
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return ts(convs[i]) > ts(convs[j])
	})
	return convs, nil
}

// UnreadSenderCount counts the distinct users with unread messages to
// this user, which drives the inbox badge.
func (s *Store) UnreadSenderCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Message{}).
		Where("receiver_id = ? AND `read` = ?", userID, false).
		Distinct("sender_id").
		Count(&count).Error
	return count, err
}
