package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mahaj/presence-chat/pkg/model"
	"github.com/mahaj/presence-chat/pkg/store"
)

// Router implements the 1:1 protocol: store-then-forward sends, read
// receipts and typing signals.
type Router struct {
	log           *slog.Logger
	store         store.Store
	dir           Directory
	ids           IDGenerator
	maxBodyLength int
	typingTTL     time.Duration
	now           func() time.Time
	pairs         *keyedMutex
}

func NewRouter(log *slog.Logger, st store.Store, dir Directory, ids IDGenerator, maxBodyLength int, typingTTL time.Duration) *Router {
	return &Router{
		log:           log.With("component", "router"),
		store:         st,
		dir:           dir,
		ids:           ids,
		maxBodyLength: maxBodyLength,
		typingTTL:     typingTTL,
		now:           func() time.Time { return time.Now().UTC() },
		pairs:         newKeyedMutex(),
	}
}

// ValidateBody trims body and checks it against the length bound.
func ValidateBody(body string, maxLength int) (string, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return "", &model.ValidationError{Field: "body", Reason: "must not be empty"}
	}
	if n := utf8.RuneCountInString(trimmed); n > maxLength {
		return "", &model.ValidationError{Field: "body", Reason: fmt.Sprintf("length %d exceeds %d", n, maxLength)}
	}
	return trimmed, nil
}

func validatePeer(self model.UserIdentity, peer model.UserID, field string) error {
	if strings.TrimSpace(string(peer)) == "" {
		return &model.ValidationError{Field: field, Reason: "is required"}
	}
	if peer == self.ID {
		return &model.ValidationError{Field: field, Reason: "must not be yourself"}
	}
	return nil
}

// Send validates and persists a message, then pushes receive to every session
// of the receiver and sent to every session of the sender. Nothing is pushed
// unless the store accepted the message. Sends on the same sender->receiver
// pair fan out in the order their persistence completed.
func (r *Router) Send(ctx context.Context, sender model.UserIdentity, receiver model.UserID, body, clientMessageID string) (model.Message, error) {
	if err := validatePeer(sender, receiver, "receiver_id"); err != nil {
		return model.Message{}, err
	}
	body, err := ValidateBody(body, r.maxBodyLength)
	if err != nil {
		return model.Message{}, err
	}

	unlock := r.pairs.Lock(string(sender.ID) + "\x00" + string(receiver))
	defer unlock()

	msg := model.Message{
		ID:         r.ids.Generate(),
		SenderID:   sender.ID,
		ReceiverID: receiver,
		Body:       body,
		CreatedAt:  r.now(),
	}
	if err := r.store.SaveMessage(ctx, msg); err != nil {
		r.log.Error("Failed to persist message", "sender_id", sender.ID, "receiver_id", receiver, "error", err)
		return model.Message{}, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}

	receive, err := model.NewFrame(model.EventReceive, model.ReceivePayload{Message: msg})
	if err != nil {
		return msg, err
	}
	sent, err := model.NewFrame(model.EventSent, model.SentPayload{Message: msg, ClientMessageID: clientMessageID})
	if err != nil {
		return msg, err
	}

	live := deliverAll(r.dir.SinksFor(receiver), receive)
	deliverAll(r.dir.SinksFor(sender.ID), sent)
	r.log.Debug("Message routed", "message_id", msg.ID, "sender_id", sender.ID, "receiver_id", receiver, "live_sessions", live)
	return msg, nil
}

// MarkRead flips every unread message from counterpart to reader and, when
// anything changed, tells counterpart's sessions. Repeating it with no new
// messages changes nothing and emits nothing.
func (r *Router) MarkRead(ctx context.Context, reader model.UserIdentity, counterpart model.UserID) (int, error) {
	if err := validatePeer(reader, counterpart, "sender_id"); err != nil {
		return 0, err
	}

	readAt := r.now()
	n, err := r.store.MarkRead(ctx, reader.ID, counterpart, readAt)
	if err != nil {
		r.log.Error("Failed to mark messages read", "reader_id", reader.ID, "counterpart_id", counterpart, "error", err)
		return 0, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	if n == 0 {
		return 0, nil
	}

	frame, err := model.NewFrame(model.EventMessagesRead, model.MessagesReadPayload{
		ReaderID: reader.ID,
		Count:    n,
		ReadAt:   readAt,
	})
	if err != nil {
		return n, err
	}
	deliverAll(r.dir.SinksFor(counterpart), frame)
	return n, nil
}

// TypingStart forwards a typing signal to the peer's live sessions only.
func (r *Router) TypingStart(from model.UserIdentity, to model.UserID) error {
	if err := validatePeer(from, to, "receiver_id"); err != nil {
		return err
	}
	frame, err := model.NewFrame(model.EventTyping, model.TypingEventPayload{
		UserID: from.ID,
		Name:   from.DisplayName(),
		TTLMs:  r.typingTTL.Milliseconds(),
	})
	if err != nil {
		return err
	}
	deliverAll(r.dir.SinksFor(to), frame)
	return nil
}

func (r *Router) TypingStop(from model.UserIdentity, to model.UserID) error {
	if err := validatePeer(from, to, "receiver_id"); err != nil {
		return err
	}
	frame, err := model.NewFrame(model.EventStopTyping, model.UserPayload{UserID: from.ID})
	if err != nil {
		return err
	}
	deliverAll(r.dir.SinksFor(to), frame)
	return nil
}
