package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/genz-social/pulse/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&store.User{}, &store.Message{}, &store.MessageReaction{}))

	for _, u := range []store.User{
		{ID: "u1", Username: "alice"},
		{ID: "u2", Username: "bob"},
		{ID: "u3", Username: "carol"},
	} {
		require.NoError(t, db.Create(&u).Error)
	}
	return store.New(db)
}

func TestCreateMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg, err := s.CreateMessage(ctx, "u1", "u2", "hello", "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "u1", msg.SenderID)
	assert.Equal(t, "u2", msg.ReceiverID)
	assert.True(t, msg.Delivered)
	assert.False(t, msg.Read)
	assert.Empty(t, msg.Reactions)
}

func TestCreateMessageReply(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	orig, err := s.CreateMessage(ctx, "u1", "u2", "first", "", nil)
	require.NoError(t, err)

	reply, err := s.CreateMessage(ctx, "u2", "u1", "re: first", "", &orig.ID)
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, orig.ID, reply.ReplyTo.ID)
	assert.Equal(t, "first", reply.ReplyTo.Content)
}

func TestCreateMessageValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateMessage(ctx, "u1", "u2", "", "", nil)
	assert.ErrorIs(t, err, store.ErrEmptyMessage)

	_, err = s.CreateMessage(ctx, "u1", "nobody", "hi", "", nil)
	assert.ErrorIs(t, err, store.ErrReceiverNotFound)

	// Image-only messages are allowed.
	_, err = s.CreateMessage(ctx, "u1", "u2", "", "https://cdn.example/pic.jpg", nil)
	assert.NoError(t, err)
}

func TestMarkMessagesRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.CreateMessage(ctx, "u1", "u2", "msg", "", nil)
		require.NoError(t, err)
	}
	// A message the other way must stay untouched.
	_, err := s.CreateMessage(ctx, "u2", "u1", "reply", "", nil)
	require.NoError(t, err)

	n, err := s.MarkMessagesRead(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	msgs, err := s.ConversationMessages(ctx, "u1", "u2", 10)
	require.NoError(t, err)
	for _, m := range msgs {
		if m.SenderID == "u1" {
			assert.True(t, m.Read)
			assert.NotNil(t, m.ReadAt)
		} else {
			assert.False(t, m.Read, "message %s should be untouched", m.ID)
		}
	}

	// Second pass finds nothing unread.
	n, err = s.MarkMessagesRead(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestToggleReaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg, err := s.CreateMessage(ctx, "u1", "u2", "react to me", "", nil)
	require.NoError(t, err)

	res, err := s.ToggleReaction(ctx, msg.ID, "u2", "❤️")
	require.NoError(t, err)
	require.NotNil(t, res.Reaction)
	assert.False(t, res.Removed)
	assert.Equal(t, "❤️", res.Reaction.Emoji)

	// Same toggle again removes it.
	res, err = s.ToggleReaction(ctx, msg.ID, "u2", "❤️")
	require.NoError(t, err)
	assert.Nil(t, res.Reaction)
	assert.True(t, res.Removed)

	loaded, err := s.ConversationMessages(ctx, "u1", "u2", 10)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Empty(t, loaded[0].Reactions)
}

func TestToggleReactionRequiresParticipant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg, err := s.CreateMessage(ctx, "u1", "u2", "private", "", nil)
	require.NoError(t, err)

	_, err = s.ToggleReaction(ctx, msg.ID, "u3", "👀")
	assert.ErrorIs(t, err, store.ErrMessageNotFound)

	_, err = s.ToggleReaction(ctx, "no-such-message", "u1", "👀")
	assert.ErrorIs(t, err, store.ErrMessageNotFound)
}

func TestConversationMessagesOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		m, err := s.CreateMessage(ctx, "u1", "u2", "m", "", nil)
		require.NoError(t, err)
		ids = append(ids, m.ID)
		time.Sleep(2 * time.Millisecond) // distinct created_at for stable ordering
	}
	// Noise from an unrelated pair.
	_, err := s.CreateMessage(ctx, "u1", "u3", "other", "", nil)
	require.NoError(t, err)

	msgs, err := s.ConversationMessages(ctx, "u2", "u1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	// Newest three, ascending.
	assert.Equal(t, ids[2], msgs[0].ID)
	assert.Equal(t, ids[4], msgs[2].ID)
}

func TestConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateMessage(ctx, "u2", "u1", "hey alice", "", nil)
	require.NoError(t, err)

	convs, err := s.Conversations(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, convs, 2) // bob and carol

	// Bob has activity, so he sorts first.
	assert.Equal(t, "u2", convs[0].ID)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "hey alice", convs[0].LastMessage.Content)
	assert.EqualValues(t, 1, convs[0].UnreadCount)

	assert.Equal(t, "u3", convs[1].ID)
	assert.Nil(t, convs[1].LastMessage)
	assert.EqualValues(t, 0, convs[1].UnreadCount)
}

func TestUnreadSenderCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateMessage(ctx, "u2", "u1", "one", "", nil)
	require.NoError(t, err)
	_, err = s.CreateMessage(ctx, "u2", "u1", "two", "", nil)
	require.NoError(t, err)
	_, err = s.CreateMessage(ctx, "u3", "u1", "three", "", nil)
	require.NoError(t, err)

	// Two distinct senders, three messages.
	count, err := s.UnreadSenderCount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	_, err = s.MarkMessagesRead(ctx, "u2", "u1")
	require.NoError(t, err)

	count, err = s.UnreadSenderCount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
