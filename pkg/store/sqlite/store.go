// Package sqlite provides a SQLite-backed message store for single-node
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/mahaj/presence-chat/pkg/model"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    sender_id TEXT NOT NULL,
    receiver_id TEXT NOT NULL,
    body TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    read_at INTEGER
);
CREATE INDEX IF NOT EXISTS messages_conversation ON messages (conversation_id, id);
CREATE INDEX IF NOT EXISTS messages_unread ON messages (receiver_id, sender_id) WHERE read_at IS NULL;
`

// Store persists messages in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path and creates the schema when missing.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer keeps mark-read updates serialized with inserts
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) SaveMessage(ctx context.Context, msg model.Message) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, receiver_id, body, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		int64(msg.ID), msg.ConversationID(), string(msg.SenderID), string(msg.ReceiverID), msg.Body, toMillis(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *Store) MarkRead(ctx context.Context, reader, counterpart model.UserID, at time.Time) (int, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE messages SET read_at = max(?, created_at) WHERE receiver_id = ? AND sender_id = ? AND read_at IS NULL`,
		toMillis(at), string(reader), string(counterpart),
	)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark read rows: %w", err)
	}
	return int(n), nil
}

func (s *Store) Conversations(ctx context.Context, user model.UserID) ([]model.ConversationSummary, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
WITH mine AS (
    SELECT id, receiver_id, read_at,
           CASE WHEN sender_id = ?1 THEN receiver_id ELSE sender_id END AS counterpart
    FROM messages
    WHERE sender_id = ?1 OR receiver_id = ?1
),
agg AS (
    SELECT counterpart,
           MAX(id) AS last_id,
           SUM(CASE WHEN receiver_id = ?1 AND read_at IS NULL THEN 1 ELSE 0 END) AS unread
    FROM mine
    GROUP BY counterpart
)
SELECT agg.counterpart, agg.unread, m.id, m.sender_id, m.receiver_id, m.body, m.created_at, m.read_at
FROM agg JOIN messages m ON m.id = agg.last_id
ORDER BY m.id DESC`, string(user))
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	summaries := []model.ConversationSummary{}
	for rows.Next() {
		var (
			counterpart string
			unread      int64
		)
		msg, err := scanMessage(rows, &counterpart, &unread)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, model.ConversationSummary{
			UserID:        user,
			CounterpartID: model.UserID(counterpart),
			LastMessage:   msg,
			UnreadCount:   unread,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return summaries, nil
}

func (s *Store) History(ctx context.Context, user, counterpart model.UserID, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, sender_id, receiver_id, body, created_at, read_at FROM messages
WHERE conversation_id = ?1
  AND ((sender_id = ?2 AND receiver_id = ?3) OR (sender_id = ?3 AND receiver_id = ?2))
ORDER BY id DESC LIMIT ?4`,
		model.ConversationID(user, counterpart), string(user), string(counterpart), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	slices.Reverse(messages)
	return messages, nil
}

func scanMessage(rows *sql.Rows, prefix ...any) (model.Message, error) {
	var (
		id               int64
		sender, receiver string
		body             string
		createdAt        int64
		readAt           sql.NullInt64
	)
	dest := append(prefix, &id, &sender, &receiver, &body, &createdAt, &readAt)
	if err := rows.Scan(dest...); err != nil {
		return model.Message{}, fmt.Errorf("scan message: %w", err)
	}
	msg := model.Message{
		ID:         model.MessageID(id),
		SenderID:   model.UserID(sender),
		ReceiverID: model.UserID(receiver),
		Body:       body,
		CreatedAt:  fromMillis(createdAt),
	}
	if readAt.Valid {
		t := fromMillis(readAt.Int64)
		msg.ReadAt = &t
	}
	return msg, nil
}
