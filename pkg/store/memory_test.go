package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/mahaj/presence-chat/pkg/model"
	"github.com/mahaj/presence-chat/pkg/store"
	"github.com/mahaj/presence-chat/pkg/store/storetest"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return store.NewMemory() })
}

func TestMemory_Rejects_Duplicate_ID(t *testing.T) {
	req := require.New(t)
	s := store.NewMemory()
	msg := model.Message{ID: 1, SenderID: "alice", ReceiverID: "bob", Body: "hi", CreatedAt: time.Now()}

	req.NoError(s.SaveMessage(context.Background(), msg))
	req.Error(s.SaveMessage(context.Background(), msg))
}

func TestMemory_History_Is_A_Copy(t *testing.T) {
	req := require.New(t)
	s := store.NewMemory()
	ctx := context.Background()
	req.NoError(s.SaveMessage(ctx, model.Message{ID: 1, SenderID: "alice", ReceiverID: "bob", Body: "hi", CreatedAt: time.Now()}))
	_, err := s.MarkRead(ctx, "bob", "alice", time.Now())
	req.NoError(err)

	history, err := s.History(ctx, "bob", "alice", 0)
	req.NoError(err)
	*history[0].ReadAt = time.Time{}

	again, err := s.History(ctx, "bob", "alice", 0)
	req.NoError(err)
	req.False(again[0].ReadAt.IsZero())
}
