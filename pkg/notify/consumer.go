// Package notify carries booking and complaint notifications from the domain
// services to the live channel over Kafka.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mahaj/presence-chat/pkg/model"
	"github.com/segmentio/kafka-go"
)

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Notifier interface {
	Notify(n model.DomainNotification) error
}

type Consumer struct {
	log      *slog.Logger
	reader   Reader
	notifier Notifier
	backoff  time.Duration
}

func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
	})
}

func NewConsumer(log *slog.Logger, reader Reader, notifier Notifier) *Consumer {
	return &Consumer{
		log:      log.With("component", "notify-consumer"),
		reader:   reader,
		notifier: notifier,
		backoff:  time.Second,
	}
}

// Run hands every record to the notifier until ctx is done. Delivery is
// best-effort: a record is committed once handed off, whether or not the
// target had a live session.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	c.log.Info("Consuming notifications")
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("Fetch failed, retrying", "error", err, "backoff", c.backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		c.handle(m)

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("Commit failed", "partition", m.Partition, "offset", m.Offset, "error", err)
		}
	}
}

func (c *Consumer) handle(m kafka.Message) {
	n, err := Decode(m.Value)
	if err != nil {
		c.log.Warn("Skipping undecodable notification", "partition", m.Partition, "offset", m.Offset, "error", err)
		return
	}
	if err := c.notifier.Notify(n); err != nil {
		c.log.Warn("Notification not delivered", "user_id", n.TargetUserID, "kind", n.Kind, "error", err)
		return
	}
	c.log.Debug("Notification handed off", "user_id", n.TargetUserID, "kind", n.Kind)
}

// Decode parses one record value into a notification.
func Decode(value []byte) (model.DomainNotification, error) {
	var n model.DomainNotification
	if err := json.Unmarshal(value, &n); err != nil {
		return n, &model.ValidationError{Field: "notification", Reason: err.Error()}
	}
	if n.TargetUserID == "" {
		return n, &model.ValidationError{Field: "target_user_id", Reason: "required"}
	}
	if !n.Kind.Valid() {
		return n, &model.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", n.Kind)}
	}
	return n, nil
}
