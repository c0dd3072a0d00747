package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mahaj/presence-chat/pkg/logging"
	"github.com/mahaj/presence-chat/pkg/model"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

// fakeBroker serves written records back to the consumer, in order.
type fakeBroker struct {
	mu        sync.Mutex
	records   chan kafka.Message
	committed []int64
	fetchErrs int
	next      int64
	closed    bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{records: make(chan kafka.Message, 16)}
}

func (b *fakeBroker) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		b.mu.Lock()
		m.Offset = b.next
		b.next++
		b.mu.Unlock()
		b.records <- m
	}
	return nil
}

func (b *fakeBroker) FetchMessage(ctx context.Context) (kafka.Message, error) {
	b.mu.Lock()
	if b.fetchErrs > 0 {
		b.fetchErrs--
		b.mu.Unlock()
		return kafka.Message{}, errors.New("leader not available")
	}
	b.mu.Unlock()
	select {
	case m := <-b.records:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (b *fakeBroker) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range msgs {
		b.committed = append(b.committed, m.Offset)
	}
	return nil
}

func (b *fakeBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) commits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.committed)
}

type recordingNotifier struct {
	mu   sync.Mutex
	got  []model.DomainNotification
	fail error
}

func (r *recordingNotifier) Notify(n model.DomainNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.got = append(r.got, n)
	return nil
}

func (r *recordingNotifier) all() []model.DomainNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.DomainNotification(nil), r.got...)
}

func TestDecode(t *testing.T) {
	req := require.New(t)

	n, err := Decode([]byte(`{"target_user_id":"bob","kind":"booking:new","payload":{"booking_id":"bk-1"}}`))
	req.NoError(err)
	req.Equal(model.UserID("bob"), n.TargetUserID)
	req.Equal(model.BookingCreated, n.Kind)
	req.JSONEq(`{"booking_id":"bk-1"}`, string(n.Payload))

	for _, raw := range []string{
		`not json`,
		`{"kind":"booking:new"}`,
		`{"target_user_id":"bob","kind":"refund:new"}`,
	} {
		_, err := Decode([]byte(raw))
		req.ErrorIs(err, model.ErrValidation, raw)
	}
}

func TestConsumer_Hands_Off_And_Commits(t *testing.T) {
	req := require.New(t)
	broker := newFakeBroker()
	broker.fetchErrs = 1
	notifier := &recordingNotifier{}
	consumer := NewConsumer(logging.Discard(), broker, notifier)
	consumer.backoff = time.Millisecond

	// Given a publisher and one undecodable record in between
	pub := NewPublisher(broker)
	ctx := context.Background()
	req.NoError(pub.Publish(ctx, model.DomainNotification{TargetUserID: "bob", Kind: model.BookingCreated, Payload: json.RawMessage(`{"n":1}`)}))
	req.NoError(broker.WriteMessages(ctx, kafka.Message{Value: []byte("garbage")}))
	req.NoError(pub.Publish(ctx, model.DomainNotification{TargetUserID: "carol", Kind: model.ComplaintCreated}))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- consumer.Run(runCtx) }()

	// Then valid records reach the notifier in order and every record is committed
	req.Eventually(func() bool { return broker.commits() == 3 }, 2*time.Second, 5*time.Millisecond)
	got := notifier.all()
	req.Len(got, 2)
	req.Equal(model.UserID("bob"), got[0].TargetUserID)
	req.Equal(model.ComplaintCreated, got[1].Kind)

	cancel()
	req.NoError(<-done)
	req.True(broker.closed)
}

func TestConsumer_Commits_Even_When_Notify_Fails(t *testing.T) {
	req := require.New(t)
	broker := newFakeBroker()
	notifier := &recordingNotifier{fail: errors.New("queue full")}
	consumer := NewConsumer(logging.Discard(), broker, notifier)

	req.NoError(NewPublisher(broker).Publish(context.Background(), model.DomainNotification{TargetUserID: "bob", Kind: model.BookingCancelled}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = consumer.Run(ctx) }()
	req.Eventually(func() bool { return broker.commits() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestPublisher_Rejects_Invalid_And_Keys_By_User(t *testing.T) {
	req := require.New(t)
	broker := newFakeBroker()
	pub := NewPublisher(broker)
	ctx := context.Background()

	req.ErrorIs(pub.Publish(ctx, model.DomainNotification{Kind: model.BookingCreated}), model.ErrValidation)
	req.ErrorIs(pub.Publish(ctx, model.DomainNotification{TargetUserID: "bob", Kind: "refund:new"}), model.ErrValidation)

	req.NoError(pub.Publish(ctx, model.DomainNotification{TargetUserID: "bob", Kind: model.ComplaintUpdated}))
	m := <-broker.records
	req.Equal("bob", string(m.Key))

	req.NoError(pub.Close())
	req.NoError(pub.Close())
	req.ErrorIs(pub.Publish(ctx, model.DomainNotification{TargetUserID: "bob", Kind: model.ComplaintUpdated}), ErrClosed)
}
