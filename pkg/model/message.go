package model

import (
	"strconv"
	"time"
)

// MessageID is a snowflake id, so ordering by id is ordering by creation time.
type MessageID int64

func (id MessageID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

type Message struct {
	ID         MessageID  `json:"id,string"`
	SenderID   UserID     `json:"sender_id"`
	ReceiverID UserID     `json:"receiver_id"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"created_at"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
}

// ConversationID is the dm channel key shared by both participants.
func (m Message) ConversationID() string {
	return ConversationID(m.SenderID, m.ReceiverID)
}

// Counterpart returns the other participant from the point of view of user.
func (m Message) Counterpart(user UserID) UserID {
	if m.SenderID == user {
		return m.ReceiverID
	}
	return m.SenderID
}

// ConversationID sorts the two ids so both sides resolve the same key. The
// length prefix keeps ids that contain ':' from aliasing another pair.
func ConversationID(a, b UserID) string {
	if a > b {
		a, b = b, a
	}
	return "dm:" + strconv.Itoa(len(a)) + ":" + string(a) + ":" + string(b)
}

// ConversationSummary is derived by the store: latest message and unread count
// per counterpart.
type ConversationSummary struct {
	UserID        UserID  `json:"user_id"`
	CounterpartID UserID  `json:"other_user_id"`
	LastMessage   Message `json:"last_message"`
	UnreadCount   int64   `json:"unread_count"`
}
