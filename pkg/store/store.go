// Package store defines the message store consumed by the realtime core and
// an in-memory implementation of it.
package store

import (
	"context"
	"time"

	"github.com/mahaj/presence-chat/pkg/model"
)

// Store is the single source of truth for message existence and read state.
type Store interface {
	// SaveMessage durably appends msg. The message must not be considered to
	// exist unless this returns nil.
	SaveMessage(ctx context.Context, msg model.Message) error
	// MarkRead sets read_at on every unread message sent by counterpart to
	// reader and returns how many changed. Already-read messages are left
	// untouched.
	MarkRead(ctx context.Context, reader, counterpart model.UserID, at time.Time) (int, error)
	// Conversations returns one summary per counterpart, newest first.
	Conversations(ctx context.Context, user model.UserID) ([]model.ConversationSummary, error)
	// History returns up to limit messages between user and counterpart,
	// oldest first, ending at the newest message.
	History(ctx context.Context, user, counterpart model.UserID, limit int) ([]model.Message, error)
}
