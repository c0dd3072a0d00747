package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mahaj/presence-chat/pkg/model"
	"github.com/samber/lo"
)

// Memory keeps messages per conversation in process memory.
type Memory struct {
	mu            sync.RWMutex
	conversations map[string][]model.Message
	byUser        map[model.UserID]map[model.UserID]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string][]model.Message),
		byUser:        make(map[model.UserID]map[model.UserID]struct{}),
	}
}

func (m *Memory) SaveMessage(ctx context.Context, msg model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := msg.ConversationID()
	for _, existing := range m.conversations[key] {
		if existing.ID == msg.ID {
			return fmt.Errorf("message %s already stored", msg.ID)
		}
	}
	msg.ReadAt = nil
	m.conversations[key] = append(m.conversations[key], msg)
	for _, user := range []model.UserID{msg.SenderID, msg.ReceiverID} {
		m.link(user, msg.Counterpart(user))
	}
	return nil
}

func (m *Memory) link(user, counterpart model.UserID) {
	if m.byUser[user] == nil {
		m.byUser[user] = make(map[model.UserID]struct{})
	}
	m.byUser[user][counterpart] = struct{}{}
}

func (m *Memory) MarkRead(ctx context.Context, reader, counterpart model.UserID, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	messages := m.conversations[model.ConversationID(reader, counterpart)]
	changed := 0
	for i := range messages {
		msg := &messages[i]
		if msg.ReceiverID != reader || msg.SenderID != counterpart || msg.ReadAt != nil {
			continue
		}
		readAt := at
		if readAt.Before(msg.CreatedAt) {
			readAt = msg.CreatedAt
		}
		msg.ReadAt = &readAt
		changed++
	}
	return changed, nil
}

func (m *Memory) Conversations(ctx context.Context, user model.UserID) ([]model.ConversationSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]model.ConversationSummary, 0, len(m.byUser[user]))
	for counterpart := range m.byUser[user] {
		messages := lo.Filter(m.conversations[model.ConversationID(user, counterpart)], func(msg model.Message, _ int) bool {
			return between(msg, user, counterpart)
		})
		if len(messages) == 0 {
			continue
		}
		summary := model.ConversationSummary{
			UserID:        user,
			CounterpartID: counterpart,
			LastMessage:   cloneMessage(lo.MaxBy(messages, func(a, b model.Message) bool { return a.ID > b.ID })),
		}
		summary.UnreadCount = int64(lo.CountBy(messages, func(msg model.Message) bool {
			return msg.ReceiverID == user && msg.ReadAt == nil
		}))
		summaries = append(summaries, summary)
	}
	SortConversations(summaries)
	return summaries, nil
}

func (m *Memory) History(ctx context.Context, user, counterpart model.UserID, limit int) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages := lo.FilterMap(m.conversations[model.ConversationID(user, counterpart)], func(msg model.Message, _ int) (model.Message, bool) {
		return cloneMessage(msg), between(msg, user, counterpart)
	})
	slices.SortFunc(messages, func(a, b model.Message) int { return compareIDs(a.ID, b.ID) })
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

// between reports whether msg was exchanged by exactly a and b.
func between(msg model.Message, a, b model.UserID) bool {
	return (msg.SenderID == a && msg.ReceiverID == b) || (msg.SenderID == b && msg.ReceiverID == a)
}

func cloneMessage(msg model.Message) model.Message {
	if msg.ReadAt != nil {
		readAt := *msg.ReadAt
		msg.ReadAt = &readAt
	}
	return msg
}

func compareIDs(a, b model.MessageID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// SortConversations orders by latest message, newest first.
func SortConversations(summaries []model.ConversationSummary) {
	slices.SortFunc(summaries, func(a, b model.ConversationSummary) int {
		return compareIDs(b.LastMessage.ID, a.LastMessage.ID)
	})
}
