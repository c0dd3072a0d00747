package typing

import (
	"sync"
	"testing"
	"time"

	"github.com/mahaj/presence-chat/pkg/model"
	"github.com/stretchr/testify/require"
)

type change struct {
	user   model.UserID
	typing bool
}

type recorder struct {
	mu      sync.Mutex
	changes []change
}

func (r *recorder) record(user model.UserID, _ string, typing bool) {
	r.mu.Lock()
	r.changes = append(r.changes, change{user, typing})
	r.mu.Unlock()
}

func (r *recorder) all() []change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]change(nil), r.changes...)
}

func TestTracker_Expires_Without_Stop(t *testing.T) {
	req := require.New(t)
	rec := &recorder{}
	tr := NewTracker(30*time.Millisecond, rec.record)

	// Given alice starts typing and her stop-typing is lost
	tr.Start("alice", "Alice", 0)
	req.True(tr.IsTyping("alice"))

	// Then the indicator clears on its own
	req.Eventually(func() bool { return !tr.IsTyping("alice") }, time.Second, 5*time.Millisecond)
	req.Equal([]change{{"alice", true}, {"alice", false}}, rec.all())
}

func TestTracker_Restart_Rearms_Timer(t *testing.T) {
	req := require.New(t)
	rec := &recorder{}
	tr := NewTracker(time.Hour, rec.record)

	tr.Start("alice", "Alice", 80*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	tr.Start("alice", "Alice", 80*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	// The first timer would have fired by now
	req.True(tr.IsTyping("alice"))
	req.Eventually(func() bool { return !tr.IsTyping("alice") }, time.Second, 5*time.Millisecond)
	req.Equal([]change{{"alice", true}, {"alice", false}}, rec.all())
}

func TestTracker_Stop_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	rec := &recorder{}
	tr := NewTracker(time.Hour, rec.record)

	tr.Start("bob", "Bob", 0)
	tr.Start("alice", "Alice", 0)
	req.Equal([]model.UserID{"alice", "bob"}, tr.Typing())

	tr.Stop("bob")
	tr.Stop("bob")
	tr.Stop("carol")
	req.Equal([]model.UserID{"alice"}, tr.Typing())
	req.Equal([]change{{"bob", true}, {"alice", true}, {"bob", false}}, rec.all())
}

func TestTracker_HandleFrame(t *testing.T) {
	req := require.New(t)
	tr := NewTracker(time.Hour, nil)

	frame, err := model.NewFrame(model.EventTyping, model.TypingEventPayload{UserID: "alice", Name: "Alice", TTLMs: 60_000})
	req.NoError(err)
	req.NoError(tr.HandleFrame(frame))
	req.True(tr.IsTyping("alice"))

	// Unrelated events are ignored
	other, err := model.NewFrame(model.EventUserOnline, model.UserPayload{UserID: "bob"})
	req.NoError(err)
	req.NoError(tr.HandleFrame(other))

	stop, err := model.NewFrame(model.EventStopTyping, model.UserPayload{UserID: "alice"})
	req.NoError(err)
	req.NoError(tr.HandleFrame(stop))
	req.False(tr.IsTyping("alice"))

	req.ErrorIs(tr.HandleFrame(model.Frame{Type: model.EventTyping}), model.ErrValidation)
}
