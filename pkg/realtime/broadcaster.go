package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/mahaj/presence-chat/pkg/model"
)

// Broadcaster delivers domain notifications to a user's live sessions. It is
// best-effort: offline users and a full queue both drop the notification.
type Broadcaster struct {
	log     *slog.Logger
	dir     Directory
	queue   chan model.DomainNotification
	dropped atomic.Int64
}

func NewBroadcaster(log *slog.Logger, dir Directory, queueSize int) *Broadcaster {
	return &Broadcaster{
		log:   log.With("component", "broadcaster"),
		dir:   dir,
		queue: make(chan model.DomainNotification, queueSize),
	}
}

// Notify hands n to the delivery worker and returns immediately. Only a
// malformed notification is an error.
func (b *Broadcaster) Notify(n model.DomainNotification) error {
	if n.TargetUserID == "" {
		return &model.ValidationError{Field: "target_user_id", Reason: "is required"}
	}
	if !n.Kind.Valid() {
		return &model.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown notification kind %q", n.Kind)}
	}
	select {
	case b.queue <- n:
	default:
		b.dropped.Add(1)
		b.log.Warn("Notification queue full, dropping", "target_user_id", n.TargetUserID, "kind", n.Kind)
	}
	return nil
}

// Run delivers queued notifications until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-b.queue:
			b.deliver(n)
		}
	}
}

func (b *Broadcaster) deliver(n model.DomainNotification) int {
	delivered := deliverAll(b.dir.SinksFor(n.TargetUserID), n.Frame())
	if delivered == 0 {
		b.dropped.Add(1)
		b.log.Debug("Notification target offline, dropped", "target_user_id", n.TargetUserID, "kind", n.Kind)
	}
	return delivered
}

// Dropped counts notifications that reached no session.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}
