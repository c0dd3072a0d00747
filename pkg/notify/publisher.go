package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/mahaj/presence-chat/pkg/model"
	"github.com/segmentio/kafka-go"
)

var ErrClosed = errors.New("publisher closed")

// Writer is the part of *kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is what booking and complaint services use to raise
// notifications for the gateway.
type Publisher struct {
	writer Writer
	closed atomic.Bool
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
}

func NewPublisher(w Writer) *Publisher {
	return &Publisher{writer: w}
}

// Publish keys the record by target user so one user's notifications stay
// ordered within a partition.
func (p *Publisher) Publish(ctx context.Context, n model.DomainNotification) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if n.TargetUserID == "" {
		return &model.ValidationError{Field: "target_user_id", Reason: "required"}
	}
	if !n.Kind.Valid() {
		return &model.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", n.Kind)}
	}
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(n.TargetUserID), Value: value}); err != nil {
		return fmt.Errorf("publish %s for %s: %w", n.Kind, n.TargetUserID, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.writer.Close()
}
