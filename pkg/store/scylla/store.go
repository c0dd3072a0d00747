package scylla

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/gocql/gocql"
	"github.com/mahaj/presence-chat/pkg/model"
	"github.com/mahaj/presence-chat/pkg/snowflake"
	"github.com/mahaj/presence-chat/pkg/store"
)

// Store implements store.Store on the tables created by EnsureSchema.
type Store struct {
	db *Session
}

func NewStore(session *Session) *Store {
	return &Store{db: session}
}

// SaveMessage writes the message, its unread marker and both conversation
// index rows in one logged batch. The index rows carry the message time as
// write timestamp so a late write never replaces a newer last_message_id.
func (s *Store) SaveMessage(ctx context.Context, msg model.Message) error {
	writeTS := msg.CreatedAt.UnixMicro()
	batch := s.db.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO messages (conversation_id, id, sender_id, receiver_id, body, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ConversationID(), int64(msg.ID), string(msg.SenderID), string(msg.ReceiverID), msg.Body, msg.CreatedAt)
	batch.Query(`INSERT INTO unread_messages (receiver_id, sender_id, id) VALUES (?, ?, ?)`,
		string(msg.ReceiverID), string(msg.SenderID), int64(msg.ID))
	batch.Query(`INSERT INTO user_conversations (user_id, other_user_id, last_message_id) VALUES (?, ?, ?) USING TIMESTAMP ?`,
		string(msg.SenderID), string(msg.ReceiverID), int64(msg.ID), writeTS)
	batch.Query(`INSERT INTO user_conversations (user_id, other_user_id, last_message_id) VALUES (?, ?, ?) USING TIMESTAMP ?`,
		string(msg.ReceiverID), string(msg.SenderID), int64(msg.ID), writeTS)

	if err := s.db.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("save message %s: %w", msg.ID, err)
	}
	return nil
}

// MarkRead walks the reader's unread partition for counterpart. Each message
// is flipped with a conditional update so read_at is only ever set once, then
// its unread marker is removed. Messages inserted while this runs are either
// seen by the scan or keep their marker for the next call.
func (s *Store) MarkRead(ctx context.Context, reader, counterpart model.UserID, at time.Time) (int, error) {
	iter := s.db.Query(`SELECT id FROM unread_messages WHERE receiver_id = ? AND sender_id = ?`,
		string(reader), string(counterpart)).WithContext(ctx).Iter()
	var (
		ids []int64
		id  int64
	)
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("scan unread: %w", err)
	}

	conversation := model.ConversationID(reader, counterpart)
	changed := 0
	for _, id := range ids {
		readAt := at
		if created := snowflake.Time(model.MessageID(id)); readAt.Before(created) {
			readAt = created
		}
		applied, err := s.db.Query(`UPDATE messages SET read_at = ? WHERE conversation_id = ? AND id = ? IF read_at = null`,
			readAt, conversation, id).WithContext(ctx).MapScanCAS(map[string]any{})
		if err != nil {
			return changed, fmt.Errorf("mark message %d read: %w", id, err)
		}
		if applied {
			changed++
		}
		if err := s.db.Query(`DELETE FROM unread_messages WHERE receiver_id = ? AND sender_id = ? AND id = ?`,
			string(reader), string(counterpart), id).WithContext(ctx).Exec(); err != nil {
			return changed, fmt.Errorf("clear unread marker %d: %w", id, err)
		}
	}
	return changed, nil
}

func (s *Store) Conversations(ctx context.Context, user model.UserID) ([]model.ConversationSummary, error) {
	iter := s.db.Query(`SELECT other_user_id, last_message_id FROM user_conversations WHERE user_id = ?`,
		string(user)).WithContext(ctx).Iter()

	type row struct {
		other  string
		lastID int64
	}
	var (
		rows []row
		r    row
	)
	for iter.Scan(&r.other, &r.lastID) {
		rows = append(rows, r)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}

	summaries := make([]model.ConversationSummary, 0, len(rows))
	for _, r := range rows {
		counterpart := model.UserID(r.other)
		last, err := s.message(ctx, model.ConversationID(user, counterpart), r.lastID)
		if err != nil {
			return nil, err
		}
		var unread int64
		if err := s.db.Query(`SELECT COUNT(*) FROM unread_messages WHERE receiver_id = ? AND sender_id = ?`,
			string(user), r.other).WithContext(ctx).Scan(&unread); err != nil {
			return nil, fmt.Errorf("count unread from %s: %w", r.other, err)
		}
		summaries = append(summaries, model.ConversationSummary{
			UserID:        user,
			CounterpartID: counterpart,
			LastMessage:   last,
			UnreadCount:   unread,
		})
	}
	store.SortConversations(summaries)
	return summaries, nil
}

func (s *Store) History(ctx context.Context, user, counterpart model.UserID, limit int) ([]model.Message, error) {
	stmt := `SELECT id, sender_id, receiver_id, body, created_at, read_at FROM messages WHERE conversation_id = ?`
	args := []any{model.ConversationID(user, counterpart)}
	if limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, limit)
	}
	iter := s.db.Query(stmt, args...).WithContext(ctx).Iter()

	messages := []model.Message{}
	for {
		msg, ok := scanMessage(iter)
		if !ok {
			break
		}
		messages = append(messages, msg)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	slices.Reverse(messages)
	return messages, nil
}

func (s *Store) message(ctx context.Context, conversation string, id int64) (model.Message, error) {
	iter := s.db.Query(`SELECT id, sender_id, receiver_id, body, created_at, read_at FROM messages WHERE conversation_id = ? AND id = ?`,
		conversation, id).WithContext(ctx).Iter()
	msg, ok := scanMessage(iter)
	if err := iter.Close(); err != nil {
		return model.Message{}, fmt.Errorf("load message %d: %w", id, err)
	}
	if !ok {
		return model.Message{}, fmt.Errorf("message %d missing from %s", id, conversation)
	}
	return msg, nil
}

func scanMessage(iter *gocql.Iter) (model.Message, bool) {
	var (
		id               int64
		sender, receiver string
		body             string
		createdAt        time.Time
		readAt           time.Time
	)
	if !iter.Scan(&id, &sender, &receiver, &body, &createdAt, &readAt) {
		return model.Message{}, false
	}
	msg := model.Message{
		ID:         model.MessageID(id),
		SenderID:   model.UserID(sender),
		ReceiverID: model.UserID(receiver),
		Body:       body,
		CreatedAt:  createdAt.UTC(),
	}
	// gocql scans a null timestamp as the zero time
	if !readAt.IsZero() {
		t := readAt.UTC()
		msg.ReadAt = &t
	}
	return msg, true
}
