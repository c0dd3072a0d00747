// Command notifier publishes one booking or complaint notification to the
// gateway's Kafka topic, the same way the booking and complaint services do.
//
//	notifier -user bob -kind booking:new -payload '{"booking_id":"bk-1"}'
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mahaj/presence-chat/pkg/config"
	"github.com/mahaj/presence-chat/pkg/logging"
	"github.com/mahaj/presence-chat/pkg/model"
	"github.com/mahaj/presence-chat/pkg/notify"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "notifier:", err)
		os.Exit(1)
	}
}

func run() error {
	user := flag.String("user", "", "target user id")
	kind := flag.String("kind", string(model.BookingCreated), "notification kind")
	payload := flag.String("payload", "{}", "JSON payload")
	flag.Parse()

	cfg, err := config.LoadNotifier()
	if err != nil {
		return err
	}
	if !cfg.KafkaEnabled() {
		return fmt.Errorf("KAFKA_BROKERS is not set")
	}
	if !json.Valid([]byte(*payload)) {
		return fmt.Errorf("payload is not valid JSON")
	}
	log := logging.New(cfg.LogLevel)

	pub := notify.NewPublisher(notify.NewWriter(cfg.KafkaBrokers, cfg.KafkaNotificationTopic))
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n := model.DomainNotification{
		TargetUserID: model.UserID(*user),
		Kind:         model.NotificationKind(*kind),
		Payload:      json.RawMessage(*payload),
	}
	if err := pub.Publish(ctx, n); err != nil {
		return err
	}
	log.Info("Notification published", "user_id", n.TargetUserID, "kind", n.Kind, "topic", cfg.KafkaNotificationTopic)
	return nil
}
