// Package storetest holds behaviour checks shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/mahaj/presence-chat/pkg/model"
	"github.com/mahaj/presence-chat/pkg/store"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func message(id int64, from, to model.UserID, body string) model.Message {
	return model.Message{
		ID:         model.MessageID(id),
		SenderID:   from,
		ReceiverID: to,
		Body:       body,
		CreatedAt:  base.Add(time.Duration(id) * time.Second),
	}
}

// Run exercises newStore with the behaviour the realtime core relies on.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("history is ordered oldest first and limited to the newest", func(t *testing.T) {
		req := require.New(t)
		s := newStore(t)
		ctx := context.Background()

		req.NoError(s.SaveMessage(ctx, message(3, "alice", "bob", "third")))
		req.NoError(s.SaveMessage(ctx, message(1, "alice", "bob", "first")))
		req.NoError(s.SaveMessage(ctx, message(2, "bob", "alice", "second")))
		req.NoError(s.SaveMessage(ctx, message(4, "alice", "carol", "elsewhere")))

		history, err := s.History(ctx, "bob", "alice", 0)
		req.NoError(err)
		req.Len(history, 3)
		req.Equal([]string{"first", "second", "third"}, bodies(history))

		limited, err := s.History(ctx, "alice", "bob", 2)
		req.NoError(err)
		req.Equal([]string{"second", "third"}, bodies(limited))
	})

	t.Run("mark read only flips the reader's incoming unread messages", func(t *testing.T) {
		req := require.New(t)
		s := newStore(t)
		ctx := context.Background()

		req.NoError(s.SaveMessage(ctx, message(1, "alice", "bob", "hi")))
		req.NoError(s.SaveMessage(ctx, message(2, "alice", "bob", "are you there")))
		req.NoError(s.SaveMessage(ctx, message(3, "bob", "alice", "yes")))

		readAt := base.Add(time.Minute)
		n, err := s.MarkRead(ctx, "bob", "alice", readAt)
		req.NoError(err)
		req.Equal(2, n)

		history, err := s.History(ctx, "bob", "alice", 0)
		req.NoError(err)
		for _, msg := range history {
			if msg.ReceiverID == "bob" {
				req.NotNil(msg.ReadAt)
				req.True(msg.ReadAt.Equal(readAt))
			} else {
				req.Nil(msg.ReadAt)
			}
		}
	})

	t.Run("mark read is idempotent and keeps the first read time", func(t *testing.T) {
		req := require.New(t)
		s := newStore(t)
		ctx := context.Background()

		req.NoError(s.SaveMessage(ctx, message(1, "alice", "bob", "hi")))
		first := base.Add(time.Minute)
		n, err := s.MarkRead(ctx, "bob", "alice", first)
		req.NoError(err)
		req.Equal(1, n)

		n, err = s.MarkRead(ctx, "bob", "alice", base.Add(time.Hour))
		req.NoError(err)
		req.Zero(n)

		history, err := s.History(ctx, "bob", "alice", 0)
		req.NoError(err)
		req.Len(history, 1)
		req.True(history[0].ReadAt.Equal(first))
	})

	t.Run("a message stored after mark read stays unread", func(t *testing.T) {
		req := require.New(t)
		s := newStore(t)
		ctx := context.Background()

		req.NoError(s.SaveMessage(ctx, message(1, "alice", "bob", "hi")))
		_, err := s.MarkRead(ctx, "bob", "alice", base.Add(time.Minute))
		req.NoError(err)
		req.NoError(s.SaveMessage(ctx, message(2, "alice", "bob", "again")))

		conversations, err := s.Conversations(ctx, "bob")
		req.NoError(err)
		req.Len(conversations, 1)
		req.EqualValues(1, conversations[0].UnreadCount)
		req.Equal("again", conversations[0].LastMessage.Body)
	})

	t.Run("ids containing the key separator never see another pair", func(t *testing.T) {
		req := require.New(t)
		s := newStore(t)
		ctx := context.Background()

		// Given a private exchange between "a" and "b:c"
		req.NoError(s.SaveMessage(ctx, message(1, "a", "b:c", "secret")))

		// Then "a:b" and "c" have no shared history
		history, err := s.History(ctx, "a:b", "c", 10)
		req.NoError(err)
		req.Empty(history)
		history, err = s.History(ctx, "c", "a:b", 0)
		req.NoError(err)
		req.Empty(history)

		n, err := s.MarkRead(ctx, "c", "a:b", base.Add(time.Minute))
		req.NoError(err)
		req.Zero(n)

		conversations, err := s.Conversations(ctx, "a:b")
		req.NoError(err)
		req.Empty(conversations)

		history, err = s.History(ctx, "b:c", "a", 0)
		req.NoError(err)
		req.Equal([]string{"secret"}, bodies(history))
	})

	t.Run("conversations summarise each counterpart newest first", func(t *testing.T) {
		req := require.New(t)
		s := newStore(t)
		ctx := context.Background()

		req.NoError(s.SaveMessage(ctx, message(1, "alice", "bob", "to bob")))
		req.NoError(s.SaveMessage(ctx, message(2, "carol", "alice", "from carol")))
		req.NoError(s.SaveMessage(ctx, message(3, "carol", "alice", "carol again")))
		req.NoError(s.SaveMessage(ctx, message(4, "bob", "alice", "from bob")))

		conversations, err := s.Conversations(ctx, "alice")
		req.NoError(err)
		req.Len(conversations, 2)

		req.Equal(model.UserID("bob"), conversations[0].CounterpartID)
		req.Equal("from bob", conversations[0].LastMessage.Body)
		req.EqualValues(1, conversations[0].UnreadCount)

		req.Equal(model.UserID("carol"), conversations[1].CounterpartID)
		req.Equal("carol again", conversations[1].LastMessage.Body)
		req.EqualValues(2, conversations[1].UnreadCount)

		none, err := s.Conversations(ctx, "dave")
		req.NoError(err)
		req.Empty(none)
	})
}

func bodies(messages []model.Message) []string {
	out := make([]string, 0, len(messages))
	for _, msg := range messages {
		out = append(out, msg.Body)
	}
	return out
}
